package converter_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/docconv/internal/converter"
	"github.com/you-humble/docconv/internal/domain"
)

const fakeInterpreter = `#!/bin/sh
if [ "$1" = "--version" ]; then echo "FakePython 3.13"; exit 0; fi
exec /bin/sh "$@"
`

const fakeOffice = `#!/bin/sh
if [ "$1" = "--version" ]; then echo "FakeOffice 24.2"; exit 0; fi
outdir=""
while [ $# -gt 1 ]; do
  if [ "$1" = "--outdir" ]; then outdir="$2"; shift; fi
  shift
done
base=$(basename "$1")
cp "$1" "$outdir/${base%.*}.pdf"
`

type env struct {
	dir    string
	in     string
	outDir string
	cfg    converter.Config
}

func writeExec(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func newEnv(t *testing.T, script, office string) env {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell based fakes")
	}

	dir := t.TempDir()
	e := env{
		dir:    dir,
		in:     filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
		cfg: converter.Config{
			InterpreterPath: filepath.Join(dir, "python"),
			ScriptPath:      filepath.Join(dir, "convert.sh"),
			OfficePath:      filepath.Join(dir, "soffice"),
		},
	}
	require.NoError(t, os.MkdirAll(e.in, 0o755))
	require.NoError(t, os.MkdirAll(e.outDir, 0o755))

	writeExec(t, e.cfg.InterpreterPath, fakeInterpreter)
	writeExec(t, e.cfg.ScriptPath, script)
	writeExec(t, e.cfg.OfficePath, office)
	return e
}

func (e env) source(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(e.in, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestInvoke_ToDocx_Success(t *testing.T) {
	e := newEnv(t, `cp "$1" "$2"`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{MaxParallel: 2})

	src := e.source(t, "job-1.pdf", "%PDF-1.4")
	out := filepath.Join(e.outDir, "converted_job-1.docx")

	res, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "job-1",
		Strategy:   domain.StrategyToDocx,
		SourcePath: src,
		OutputPath: out,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Positive(t, res.Duration)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestInvoke_ToDocx_Failure(t *testing.T) {
	e := newEnv(t, `echo "pdf2docx: broken xref" >&2; exit 3`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{})

	res, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "job-2",
		Strategy:   domain.StrategyToDocx,
		SourcePath: e.source(t, "job-2.pdf", "x"),
		OutputPath: filepath.Join(e.outDir, "converted_job-2.docx"),
		Timeout:    5 * time.Second,
	})
	require.ErrorIs(t, err, domain.ErrInvocationFailed)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Excerpt, "broken xref")
}

func TestInvoke_ExcerptIsTruncated(t *testing.T) {
	e := newEnv(t, `i=0; while [ $i -lt 500 ]; do echo "line $i of noisy output" >&2; i=$((i+1)); done; exit 1`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{ExcerptBytes: 100})

	res, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "job-3",
		Strategy:   domain.StrategyToDocx,
		SourcePath: e.source(t, "job-3.pdf", "x"),
		OutputPath: filepath.Join(e.outDir, "converted_job-3.docx"),
		Timeout:    5 * time.Second,
	})
	require.Error(t, err)
	assert.LessOrEqual(t, len(res.Excerpt), 103)
	assert.True(t, strings.HasPrefix(res.Excerpt, "..."))
	assert.Contains(t, res.Excerpt, "line 499")
}

func TestInvoke_TimeoutKillsProcessGroup(t *testing.T) {
	e := newEnv(t, `sleep 30 & echo $! > "$2.pid"; wait`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{})

	out := filepath.Join(e.outDir, "converted_job-4.docx")
	start := time.Now()
	res, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "job-4",
		Strategy:   domain.StrategyToDocx,
		SourcePath: e.source(t, "job-4.pdf", "x"),
		OutputPath: out,
		Timeout:    300 * time.Millisecond,
	})
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.NotErrorIs(t, err, domain.ErrInvocationFailed)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Less(t, res.Duration, 10*time.Second)

	if runtime.GOOS != "linux" {
		return
	}
	raw, err := os.ReadFile(out + ".pid")
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return true
		}
		// state follows the parenthesised command name
		fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
		return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
	}, 5*time.Second, 50*time.Millisecond, "child of the converter must be killed")
}

func TestInvoke_CallerCancelKillsProcessGroup(t *testing.T) {
	e := newEnv(t, `sleep 30 & echo $! > "$2.pid"; wait`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{})

	out := filepath.Join(e.outDir, "converted_job-9.docx")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
			if raw, err := os.ReadFile(out + ".pid"); err == nil && strings.HasSuffix(string(raw), "\n") {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	start := time.Now()
	_, err := inv.Invoke(ctx, converter.Request{
		JobID:      "job-9",
		Strategy:   domain.StrategyToDocx,
		SourcePath: e.source(t, "job-9.pdf", "x"),
		OutputPath: out,
		Timeout:    time.Minute,
	})
	require.ErrorIs(t, err, domain.ErrInvocationFailed)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)

	if runtime.GOOS != "linux" {
		return
	}
	raw, err := os.ReadFile(out + ".pid")
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return true
		}
		fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
		return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
	}, 5*time.Second, 50*time.Millisecond, "child of the converter must be killed")
}

func TestInvoke_ToPdf_RenamesSideEffect(t *testing.T) {
	e := newEnv(t, `exit 0`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{})

	src := e.source(t, "job-5.docx", "docx-bytes")
	out := filepath.Join(e.outDir, "converted_job-5.pdf")
	scratch := filepath.Join(e.dir, "scratch")

	_, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "job-5",
		Strategy:   domain.StrategyToPdf,
		SourcePath: src,
		OutputPath: out,
		ScratchDir: scratch,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "docx-bytes", string(data))

	_, err = os.Stat(converter.SideEffectPath(src, e.outDir, domain.FormatPDF))
	assert.True(t, os.IsNotExist(err))
}

func TestInvoke_ToPdf_NoSideEffectLeavesOutputMissing(t *testing.T) {
	e := newEnv(t, `exit 0`, "#!/bin/sh\nexit 0\n")
	inv := converter.New(e.cfg, converter.Options{})

	out := filepath.Join(e.outDir, "converted_job-6.pdf")
	_, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "job-6",
		Strategy:   domain.StrategyToPdf,
		SourcePath: e.source(t, "job-6.docx", "x"),
		OutputPath: out,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestInvoke_ToPdf_FailureRemovesSideEffect(t *testing.T) {
	office := `#!/bin/sh
outdir=""
while [ $# -gt 1 ]; do
  if [ "$1" = "--outdir" ]; then outdir="$2"; shift; fi
  shift
done
base=$(basename "$1")
echo partial > "$outdir/${base%.*}.pdf"
exit 1
`
	e := newEnv(t, `exit 0`, office)
	inv := converter.New(e.cfg, converter.Options{})

	src := e.source(t, "job-7.docx", "x")
	_, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "job-7",
		Strategy:   domain.StrategyToPdf,
		SourcePath: src,
		OutputPath: filepath.Join(e.outDir, "converted_job-7.pdf"),
		Timeout:    5 * time.Second,
	})
	require.ErrorIs(t, err, domain.ErrInvocationFailed)

	entries, err := os.ReadDir(e.outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInvoke_BusyWhenNoSlot(t *testing.T) {
	e := newEnv(t, `touch "$2.started"; sleep 2`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{MaxParallel: 1, AdmissionTimeout: 50 * time.Millisecond})

	first := filepath.Join(e.outDir, "converted_a.docx")
	firstSrc := e.source(t, "a.pdf", "x")
	done := make(chan error, 1)
	go func() {
		_, err := inv.Invoke(context.Background(), converter.Request{
			JobID:      "a",
			Strategy:   domain.StrategyToDocx,
			SourcePath: firstSrc,
			OutputPath: first,
			Timeout:    10 * time.Second,
		})
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(first + ".started")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	_, err := inv.Invoke(context.Background(), converter.Request{
		JobID:      "b",
		Strategy:   domain.StrategyToDocx,
		SourcePath: e.source(t, "b.pdf", "x"),
		OutputPath: filepath.Join(e.outDir, "converted_b.docx"),
		Timeout:    10 * time.Second,
	})
	require.ErrorIs(t, err, domain.ErrConverterBusy)

	require.NoError(t, <-done)
}

func TestInvoke_UnknownStrategy(t *testing.T) {
	e := newEnv(t, `exit 0`, fakeOffice)
	inv := converter.New(e.cfg, converter.Options{})

	_, err := inv.Invoke(context.Background(), converter.Request{Strategy: "to_xml"})
	require.ErrorIs(t, err, domain.ErrInvalidFormat)
}

func TestProbe(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newEnv(t, `exit 0`, fakeOffice)
		v, err := converter.New(e.cfg, converter.Options{}).Probe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "FakePython 3.13", v.Interpreter)
		assert.Equal(t, "FakeOffice 24.2", v.Office)
	})

	t.Run("missing script", func(t *testing.T) {
		e := newEnv(t, `exit 0`, fakeOffice)
		require.NoError(t, os.Remove(e.cfg.ScriptPath))
		_, err := converter.New(e.cfg, converter.Options{}).Probe(context.Background())
		require.ErrorIs(t, err, domain.ErrToolUnavailable)
	})

	t.Run("office not runnable", func(t *testing.T) {
		e := newEnv(t, `exit 0`, "#!/bin/sh\nexit 1\n")
		_, err := converter.New(e.cfg, converter.Options{}).Probe(context.Background())
		require.ErrorIs(t, err, domain.ErrToolUnavailable)
	})

	t.Run("interpreter missing", func(t *testing.T) {
		e := newEnv(t, `exit 0`, fakeOffice)
		e.cfg.InterpreterPath = filepath.Join(e.dir, "nope")
		_, err := converter.New(e.cfg, converter.Options{}).Probe(context.Background())
		require.ErrorIs(t, err, domain.ErrToolUnavailable)
	})
}

func TestSideEffectPath(t *testing.T) {
	got := converter.SideEffectPath("/srv/uploads/1700-ab12.docx", "/srv/converted", domain.FormatPDF)
	assert.Equal(t, filepath.Join("/srv/converted", "1700-ab12.pdf"), got)
}
