package converter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/you-humble/docconv/internal/domain"
)

const (
	defaultExcerptBytes = 2 << 10
	waitDelay           = 2 * time.Second
)

// Config holds the external tool locations. It is resolved once at startup
// and never read from the environment afterwards.
type Config struct {
	InterpreterPath string
	ScriptPath      string
	OfficePath      string
}

type Options struct {
	MaxParallel      int
	AdmissionTimeout time.Duration
	ExcerptBytes     int
}

type Request struct {
	JobID      string
	Strategy   domain.Strategy
	SourcePath string
	OutputPath string
	// ScratchDir holds per-process tool state; only the office strategy uses it.
	ScratchDir string
	Timeout    time.Duration
}

type Result struct {
	Excerpt  string
	Duration time.Duration
	ExitCode int
}

type Invoker struct {
	cfg Config

	sem              chan struct{}
	admissionTimeout time.Duration
	excerptBytes     int
}

func New(cfg Config, opts Options) *Invoker {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.ExcerptBytes <= 0 {
		opts.ExcerptBytes = defaultExcerptBytes
	}

	return &Invoker{
		cfg:              cfg,
		sem:              make(chan struct{}, opts.MaxParallel),
		admissionTimeout: opts.AdmissionTimeout,
		excerptBytes:     opts.ExcerptBytes,
	}
}

// Invoke runs the tool selected by req.Strategy and, for tools that pick
// their own output name, moves the produced file to req.OutputPath.
// Errors wrap domain.ErrConverterBusy, domain.ErrTimeout or
// domain.ErrInvocationFailed. The Result is filled in every case.
func (i *Invoker) Invoke(ctx context.Context, req Request) (Result, error) {
	release, err := i.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	name, args, sideEffect, err := i.command(req)
	if err != nil {
		return Result{}, err
	}

	l := slog.With(
		slog.String("job_id", req.JobID),
		slog.String("strategy", string(req.Strategy)),
	)

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	out := newTailBuffer(i.excerptBytes)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	l.Debug("executing converter", slog.String("cmd", name+" "+strings.Join(args, " ")))

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Excerpt:  out.String(),
		Duration: time.Since(start),
		ExitCode: exitCode(cmd),
	}

	if runErr != nil {
		removeQuietly(sideEffect, l)

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			l.Error("converter timed out",
				slog.Duration("timeout", req.Timeout),
				slog.String("output", res.Excerpt),
			)
			return res, fmt.Errorf("%w after %s", domain.ErrTimeout, req.Timeout)
		}

		l.Error("converter failed",
			slog.Int("exit_code", res.ExitCode),
			slog.String("error", runErr.Error()),
			slog.String("output", res.Excerpt),
		)
		return res, fmt.Errorf("%w: %w", domain.ErrInvocationFailed, runErr)
	}

	if sideEffect != "" {
		if err := os.Rename(sideEffect, req.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			removeQuietly(sideEffect, l)
			return res, fmt.Errorf("%w: rename output: %w", domain.ErrInvocationFailed, err)
		}
	}

	l.Info("converter finished", slog.Duration("duration", res.Duration))
	return res, nil
}

// acquire bounds the number of concurrent external processes. A caller
// waits at most admissionTimeout for a free slot.
func (i *Invoker) acquire(ctx context.Context) (func(), error) {
	release := func() { <-i.sem }

	select {
	case i.sem <- struct{}{}:
		return release, nil
	default:
	}

	var timeout <-chan time.Time
	if i.admissionTimeout > 0 {
		t := time.NewTimer(i.admissionTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case i.sem <- struct{}{}:
		return release, nil
	case <-timeout:
		return nil, fmt.Errorf("%w: no free slot within %s", domain.ErrConverterBusy, i.admissionTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrConverterBusy, ctx.Err())
	}
}

// command returns the executable, its arguments and the path the tool
// writes on its own (empty when the tool honours OutputPath).
func (i *Invoker) command(req Request) (string, []string, string, error) {
	switch req.Strategy {
	case domain.StrategyToDocx:
		return i.cfg.InterpreterPath,
			[]string{i.cfg.ScriptPath, req.SourcePath, req.OutputPath},
			"",
			nil

	case domain.StrategyToPdf:
		outDir := filepath.Dir(req.OutputPath)
		args := make([]string, 0, 7)
		if req.ScratchDir != "" {
			args = append(args, "-env:UserInstallation=file://"+filepath.ToSlash(req.ScratchDir))
		}
		args = append(args,
			"--headless",
			"--convert-to", "pdf",
			"--outdir", outDir,
			req.SourcePath,
		)
		return i.cfg.OfficePath, args, SideEffectPath(req.SourcePath, outDir, domain.FormatPDF), nil

	default:
		return "", nil, "", fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidFormat, req.Strategy)
	}
}

// SideEffectPath is where the office suite writes its result: the input
// basename with the target extension, inside outDir.
func SideEffectPath(sourcePath, outDir string, target domain.Format) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outDir, stem+target.Ext())
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func removeQuietly(path string, l *slog.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.Warn("remove converter side effect", slog.String("error", err.Error()))
	}
}
