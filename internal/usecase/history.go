package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/you-humble/docconv/internal/domain"
)

func (uc *usecase) ListHistory(ctx context.Context) ([]domain.ConversionRecord, error) {
	records, err := uc.history.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// SaveHistory stores a record submitted by a client. The ID is always
// assigned by the store.
func (uc *usecase) SaveHistory(ctx context.Context, rec domain.ConversionRecord) (domain.ConversionRecord, error) {
	if strings.TrimSpace(rec.OriginalName) == "" || strings.TrimSpace(rec.ConvertedName) == "" {
		return domain.ConversionRecord{}, fmt.Errorf("%w: originalName and convertedName are required", domain.ErrInvalidRecord)
	}

	rec.ID = ""
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	saved, err := uc.history.Save(ctx, rec)
	if err != nil {
		return domain.ConversionRecord{}, fmt.Errorf("save history: %w", err)
	}
	return saved, nil
}

// DeleteHistory removes a record and, when present, its archived artifact.
func (uc *usecase) DeleteHistory(ctx context.Context, id string) (domain.ConversionRecord, error) {
	if strings.TrimSpace(id) == "" {
		return domain.ConversionRecord{}, domain.ErrRecordNotFound
	}

	rec, err := uc.history.Delete(ctx, id)
	if err != nil {
		return domain.ConversionRecord{}, fmt.Errorf("delete history %s: %w", id, err)
	}

	if rec.ArchiveKey != "" && uc.archive != nil {
		if err := uc.archive.Remove(ctx, rec.ArchiveKey); err != nil {
			slog.Warn("remove archived artifact",
				slog.String("record_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return rec, nil
}

func (uc *usecase) OpenArtifact(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if uc.archive == nil {
		return nil, 0, domain.ErrArtifactNotFound
	}
	return uc.archive.Open(ctx, name)
}
