package app

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/docconv/internal/infra/config"
)

func restoreDefaultLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestLogger_FormatAndLevel(t *testing.T) {
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	di := newDI(Options{LogOutput: &buf})
	di.cfg = &config.Config{Log: config.Log{Level: "debug", Format: "json"}}

	di.Logger().Debug("probe", slog.String("job_id", "j-1"))
	assert.Contains(t, buf.String(), `"msg":"probe"`)
	assert.Contains(t, buf.String(), `"job_id":"j-1"`)
}

func TestLogger_FallsBackToInfo(t *testing.T) {
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	di := newDI(Options{LogOutput: &buf})
	di.cfg = &config.Config{Log: config.Log{Level: "loud", Format: "text"}}

	l := di.Logger()
	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestOptionalComponentsDisabled(t *testing.T) {
	restoreDefaultLogger(t)

	di := newDI(Options{LogOutput: &bytes.Buffer{}})
	di.cfg = &config.Config{}

	assert.Nil(t, di.Archive(t.Context()))
	assert.Nil(t, di.Publisher())
	assert.Nil(t, di.GRPC())
}

func TestJanitorUsesWorkspace(t *testing.T) {
	restoreDefaultLogger(t)

	root := t.TempDir()
	di := newDI(Options{LogOutput: &bytes.Buffer{}})
	di.cfg = &config.Config{IntakeDir: root + "/in", OutputDir: root + "/out"}

	j := di.Janitor()
	require.NotNil(t, j)
	n, err := j.Sweep(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}
