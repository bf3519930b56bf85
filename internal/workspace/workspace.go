package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/you-humble/docconv/internal/domain"
)

const scratchDirName = ".scratch"

// Manager owns the intake and output areas. Every path it hands out is
// generated from a job ID and lies inside one of the two directories.
type Manager struct {
	intakeDir string
	outputDir string
}

func New(intakeDir, outputDir string) (*Manager, error) {
	if strings.TrimSpace(intakeDir) == "" || strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("workspace: intake and output dirs are required")
	}

	in, err := filepath.Abs(intakeDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: intake dir: %w", err)
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: output dir: %w", err)
	}
	if in == out {
		return nil, fmt.Errorf("workspace: intake and output dirs must differ")
	}

	return &Manager{intakeDir: in, outputDir: out}, nil
}

func (m *Manager) IntakeDir() string { return m.intakeDir }
func (m *Manager) OutputDir() string { return m.outputDir }

// EnsureDirectories creates both areas and checks they are writable.
func (m *Manager) EnsureDirectories() error {
	for _, dir := range []string{m.intakeDir, m.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}

		probe, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return fmt.Errorf("dir %s is not writable: %w", dir, err)
		}
		name := probe.Name()
		_ = probe.Close()
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("remove probe in %s: %w", dir, err)
		}
	}

	return nil
}

func (m *Manager) AllocateIntakePath(jobID string, format domain.Format) (string, error) {
	return m.allocate(m.intakeDir, jobID+format.Ext())
}

func (m *Manager) AllocateOutputPath(jobID string, format domain.Format) (string, error) {
	return m.allocate(m.outputDir, "converted_"+jobID+format.Ext())
}

// SaveIntake writes the upload to an allocated intake path via a temp file
// and rename, so a half-written upload never appears under the final name.
func (m *Manager) SaveIntake(ctx context.Context, path string, reader io.Reader) (int64, string, error) {
	select {
	case <-ctx.Done():
		return 0, "", ctx.Err()
	default:
	}

	if !m.within(m.intakeDir, path) {
		return 0, "", fmt.Errorf("%w: %s", domain.ErrOutsideWorkspace, path)
	}

	tempPath := path + ".tmp-" + fmt.Sprint(time.Now().UnixNano())
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tempPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		return 0, "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return 0, "", fmt.Errorf("rename temp file: %w", err)
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Remove deletes a managed file. A file that is already gone is not an error.
func (m *Manager) Remove(path string) error {
	if path == "" {
		return nil
	}
	if !m.within(m.intakeDir, path) && !m.within(m.outputDir, path) {
		return fmt.Errorf("%w: %s", domain.ErrOutsideWorkspace, path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Scratch creates a per-job directory inside the output area for tool state
// (office profile dirs). The returned release removes it recursively.
func (m *Manager) Scratch(jobID string) (string, func() error, error) {
	dir, err := m.allocate(filepath.Join(m.outputDir, scratchDirName), jobID)
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}

	release := func() error {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove scratch dir: %w", err)
		}
		return nil
	}
	return dir, release, nil
}

// CleanupOlderThan removes entries of both areas not modified within maxAge.
// It returns the number of removed entries.
func (m *Manager) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, dir := range []string{m.intakeDir, m.outputDir, filepath.Join(m.outputDir, scratchDirName)} {
		n, err := cleanupDir(ctx, dir, cutoff)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	return removed, nil
}

func cleanupDir(ctx context.Context, dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}

		if e.Name() == scratchDirName {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}

	return removed, nil
}

func (m *Manager) allocate(dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("empty filename")
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}

	full := filepath.Join(dir, name)
	if !m.within(dir, full) {
		return "", fmt.Errorf("%w: %s", domain.ErrOutsideWorkspace, name)
	}
	return full, nil
}

func (m *Manager) within(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
