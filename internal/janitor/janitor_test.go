package janitor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/docconv/internal/janitor"
	"github.com/you-humble/docconv/internal/workspace"
)

type countingCleaner struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *countingCleaner) CleanupOlderThan(context.Context, time.Duration) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func TestSweep_SumsAndReportsErrors(t *testing.T) {
	a := &countingCleaner{n: 2}
	b := &countingCleaner{n: 3}
	j := janitor.New(time.Minute, time.Hour, a, b)

	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	failing := &countingCleaner{n: 1, err: errors.New("disk gone")}
	j = janitor.New(time.Minute, time.Hour, a, failing)
	_, err = j.Sweep(context.Background())
	require.Error(t, err)
}

func TestStart_SweepsImmediatelyAndPeriodically(t *testing.T) {
	c := &countingCleaner{}
	j := janitor.New(10*time.Millisecond, time.Hour, c)

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)

	require.Eventually(t, func() bool { return c.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-j.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestStart_RemovesOrphanedWorkspaceFiles(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.New(filepath.Join(root, "uploads"), filepath.Join(root, "converted"))
	require.NoError(t, err)
	require.NoError(t, ws.EnsureDirectories())

	orphan := filepath.Join(ws.OutputDir(), "converted_crashed.pdf")
	require.NoError(t, os.WriteFile(orphan, []byte("%PDF"), 0o644))
	past := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, past, past))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	janitor.New(time.Hour, time.Hour, ws).Start(ctx)

	require.Eventually(t, func() bool {
		_, err := os.Stat(orphan)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}
