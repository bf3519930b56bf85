package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you-humble/docconv/internal/converter"
	"github.com/you-humble/docconv/internal/domain"
)

type Workspace interface {
	AllocateIntakePath(jobID string, format domain.Format) (string, error)
	AllocateOutputPath(jobID string, format domain.Format) (string, error)
	SaveIntake(ctx context.Context, path string, reader io.Reader) (int64, string, error)
	Scratch(jobID string) (string, func() error, error)
	Remove(path string) error
}

type Invoker interface {
	Invoke(ctx context.Context, req converter.Request) (converter.Result, error)
}

type Inspector interface {
	PageCount(path string) (int, error)
}

type HistoryStore interface {
	Save(ctx context.Context, rec domain.ConversionRecord) (domain.ConversionRecord, error)
	List(ctx context.Context) ([]domain.ConversionRecord, error)
	Delete(ctx context.Context, id string) (domain.ConversionRecord, error)
}

type Archiver interface {
	Archive(ctx context.Context, localPath, name string) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
	Remove(ctx context.Context, key string) error
}

type Publisher interface {
	Publish(ev domain.JobEvent) bool
}

type Options struct {
	ConversionTimeout time.Duration
	// VerifyPDF makes an unreadable PDF output fail the job.
	VerifyPDF bool
}

type Upload struct {
	Content      io.Reader
	Filename     string
	MediaType    string
	TargetFormat string
	Size         int64
}

type usecase struct {
	opts      Options
	workspace Workspace
	invoker   Invoker
	inspector Inspector
	history   HistoryStore
	archive   Archiver
	events    Publisher
}

// New wires the coordinator. archive may be nil when archiving is disabled.
func New(
	opts Options,
	workspace Workspace,
	invoker Invoker,
	inspector Inspector,
	history HistoryStore,
	archive Archiver,
	events Publisher,
) *usecase {
	return &usecase{
		opts:      opts,
		workspace: workspace,
		invoker:   invoker,
		inspector: inspector,
		history:   history,
		archive:   archive,
		events:    events,
	}
}

func NewJobID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// RunJob converts one upload. On success the returned Outcome owns the
// output file and both job paths; the caller must Close it. On failure
// every file the job created is already gone.
func (uc *usecase) RunJob(ctx context.Context, up Upload) (*Outcome, error) {
	if up.Content == nil {
		return nil, domain.ErrNoFile
	}
	target, err := domain.ParseTargetFormat(up.TargetFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, up.TargetFormat)
	}
	source, err := domain.SourceFormatOf(up.MediaType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, up.MediaType)
	}
	strategy, err := domain.StrategyFor(target)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &domain.ConversionJob{
		ID:           NewJobID(now),
		OriginalName: up.Filename,
		MediaType:    up.MediaType,
		SourceFormat: source,
		TargetFormat: target,
		Size:         up.Size,
		Status:       domain.StatusPending,
		CreatedAt:    now,
	}

	l := slog.With(
		slog.String("job_id", job.ID),
		slog.String("from", string(source)),
		slog.String("to", string(target)),
	)
	l.Info("job accepted", slog.String("original_name", up.Filename), slog.Int64("size", up.Size))

	released := false
	defer func() {
		if !released {
			uc.removeJobFiles(job, l)
		}
	}()

	if err := uc.prepare(ctx, job, up.Content); err != nil {
		uc.finish(job, domain.StatusFailed, 0, "", l)
		l.Error("job setup failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", domain.ErrSetupFailed, err)
	}

	if err := uc.transition(job, domain.StatusRunning, l); err != nil {
		return nil, err
	}

	res, err := uc.invoke(ctx, job, strategy)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTimeout):
			uc.finish(job, domain.StatusTimedOut, res.Duration, "", l)
			return nil, fmt.Errorf("%w: %w", domain.ErrConversionFailed, err)
		case errors.Is(err, domain.ErrConverterBusy):
			uc.finish(job, domain.StatusFailed, res.Duration, "", l)
			return nil, err
		default:
			uc.finish(job, domain.StatusFailed, res.Duration, "", l)
			return nil, fmt.Errorf("%w: %w", domain.ErrConversionFailed, err)
		}
	}

	out, size, pages, err := uc.verify(job, l)
	if err != nil {
		uc.finish(job, domain.StatusFailed, res.Duration, "", l)
		return nil, err
	}

	rec := domain.ConversionRecord{
		OriginalName:  up.Filename,
		ConvertedName: filepath.Base(job.OutputPath),
		FromType:      up.MediaType,
		ToType:        string(target),
		SizeBytes:     size,
		PageCount:     pages,
		DurationMs:    res.Duration.Milliseconds(),
		CreatedAt:     time.Now(),
	}
	rec.DownloadURL = "/downloads/" + rec.ConvertedName
	rec = uc.persist(ctx, job, rec, l)

	uc.finish(job, domain.StatusSucceeded, res.Duration, rec.ID, l)

	released = true
	return &Outcome{
		Job:          *job,
		Record:       rec,
		File:         out,
		Size:         size,
		DownloadName: downloadName(up.Filename, target),
		ContentType:  target.ContentType(),
		cleanup:      func() { uc.removeJobFiles(job, l) },
	}, nil
}

func (uc *usecase) prepare(ctx context.Context, job *domain.ConversionJob, content io.Reader) error {
	src, err := uc.workspace.AllocateIntakePath(job.ID, job.SourceFormat)
	if err != nil {
		return fmt.Errorf("allocate intake path: %w", err)
	}
	out, err := uc.workspace.AllocateOutputPath(job.ID, job.TargetFormat)
	if err != nil {
		return fmt.Errorf("allocate output path: %w", err)
	}
	job.SourcePath = src
	job.OutputPath = out

	written, hash, err := uc.workspace.SaveIntake(ctx, src, content)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	job.Size = written

	slog.Debug("upload stored",
		slog.String("job_id", job.ID),
		slog.Int64("size", written),
		slog.String("sha256", hash),
	)
	return nil
}

func (uc *usecase) invoke(ctx context.Context, job *domain.ConversionJob, strategy domain.Strategy) (converter.Result, error) {
	req := converter.Request{
		JobID:      job.ID,
		Strategy:   strategy,
		SourcePath: job.SourcePath,
		OutputPath: job.OutputPath,
		Timeout:    uc.opts.ConversionTimeout,
	}

	if strategy == domain.StrategyToPdf {
		dir, release, err := uc.workspace.Scratch(job.ID)
		if err != nil {
			return converter.Result{}, fmt.Errorf("%w: scratch dir: %w", domain.ErrInvocationFailed, err)
		}
		defer func() {
			if err := release(); err != nil {
				slog.Warn("release scratch dir",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
		req.ScratchDir = dir
	}

	return uc.invoker.Invoke(ctx, req)
}

// verify opens the output and checks it is a non-empty regular file. The
// exit code of the tool is not trusted on its own.
func (uc *usecase) verify(job *domain.ConversionJob, l *slog.Logger) (*os.File, int64, int, error) {
	f, err := os.Open(job.OutputPath)
	if err != nil {
		l.Error("converter output not found", slog.String("error", err.Error()))
		return nil, 0, 0, fmt.Errorf("%w: %w", domain.ErrOutputMissing, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, 0, fmt.Errorf("%w: stat: %w", domain.ErrOutputMissing, err)
	}
	if !st.Mode().IsRegular() || st.Size() == 0 {
		f.Close()
		l.Error("converter output is empty")
		return nil, 0, 0, fmt.Errorf("%w: empty output", domain.ErrOutputMissing)
	}

	pages := 0
	if job.TargetFormat == domain.FormatPDF && uc.inspector != nil {
		n, err := uc.inspector.PageCount(job.OutputPath)
		switch {
		case err == nil:
			pages = n
		case uc.opts.VerifyPDF:
			f.Close()
			l.Error("converter output is not a readable pdf", slog.String("error", err.Error()))
			return nil, 0, 0, fmt.Errorf("%w: %w", domain.ErrOutputMissing, err)
		default:
			l.Warn("inspect pdf output", slog.String("error", err.Error()))
		}
	}

	return f, st.Size(), pages, nil
}

// persist archives the artifact and saves the history record. Both steps
// are best effort: the caller gets the file even if they fail.
func (uc *usecase) persist(ctx context.Context, job *domain.ConversionJob, rec domain.ConversionRecord, l *slog.Logger) domain.ConversionRecord {
	if uc.archive != nil {
		key, err := uc.archive.Archive(ctx, job.OutputPath, rec.ConvertedName)
		if err != nil {
			l.Warn("archive artifact", slog.String("error", err.Error()))
		} else {
			rec.ArchiveKey = key
		}
	}

	saved, err := uc.history.Save(ctx, rec)
	if err != nil {
		l.Error("save history record", slog.String("error", err.Error()))
		return rec
	}
	return saved
}

func (uc *usecase) transition(job *domain.ConversionJob, next domain.JobStatus, l *slog.Logger) error {
	prev := job.Status
	if err := job.Transition(next); err != nil {
		l.Error("job transition", slog.String("error", err.Error()))
		return err
	}
	l.Debug("job status changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	return nil
}

func (uc *usecase) finish(job *domain.ConversionJob, status domain.JobStatus, took time.Duration, recordID string, l *slog.Logger) {
	if err := uc.transition(job, status, l); err != nil {
		return
	}

	l.Info("job finished",
		slog.String("status", string(status)),
		slog.Duration("duration", took),
	)

	if uc.events == nil {
		return
	}
	uc.events.Publish(domain.JobEvent{
		JobID:        job.ID,
		Status:       status,
		SourceFormat: job.SourceFormat,
		TargetFormat: job.TargetFormat,
		DurationMs:   took.Milliseconds(),
		RecordID:     recordID,
		OccurredAt:   time.Now(),
	})
}

func (uc *usecase) removeJobFiles(job *domain.ConversionJob, l *slog.Logger) {
	for _, path := range []string{job.SourcePath, job.OutputPath} {
		if err := uc.workspace.Remove(path); err != nil {
			l.Warn("remove job file", slog.String("error", err.Error()))
		}
	}
}

func downloadName(original string, target domain.Format) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		stem = "document"
	}
	return "converted_" + stem + target.Ext()
}
