package converter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/you-humble/docconv/internal/domain"
)

const probeTimeout = 30 * time.Second

type Versions struct {
	Interpreter string
	Office      string
}

// Probe checks that both tools answer a version query and that the
// conversion script exists. Any failure wraps domain.ErrToolUnavailable.
func (i *Invoker) Probe(ctx context.Context) (Versions, error) {
	var v Versions

	if i.cfg.ScriptPath == "" {
		return v, fmt.Errorf("%w: script path is empty", domain.ErrToolUnavailable)
	}
	info, err := os.Stat(i.cfg.ScriptPath)
	if err != nil {
		return v, fmt.Errorf("%w: script: %w", domain.ErrToolUnavailable, err)
	}
	if info.IsDir() {
		return v, fmt.Errorf("%w: script %s is a directory", domain.ErrToolUnavailable, i.cfg.ScriptPath)
	}

	eg, eCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		out, err := version(eCtx, i.cfg.InterpreterPath)
		if err != nil {
			return fmt.Errorf("%w: interpreter: %w", domain.ErrToolUnavailable, err)
		}
		v.Interpreter = out
		return nil
	})
	eg.Go(func() error {
		out, err := version(eCtx, i.cfg.OfficePath)
		if err != nil {
			return fmt.Errorf("%w: office suite: %w", domain.ErrToolUnavailable, err)
		}
		v.Office = out
		return nil
	})

	if err := eg.Wait(); err != nil {
		return Versions{}, err
	}
	return v, nil
}

func version(ctx context.Context, bin string) (string, error) {
	if bin == "" {
		return "", fmt.Errorf("empty path")
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "--version")
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", bin, err)
	}
	return strings.TrimSpace(string(out)), nil
}
