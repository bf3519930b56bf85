package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/you-humble/docconv/internal/domain"
)

type redisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore keeps one hash per record and a sorted set of record IDs
// scored by creation time.
func NewRedisStore(rdb redis.Cmdable, prefix string) *redisStore {
	if prefix == "" {
		prefix = "docconv"
	}
	return &redisStore{rdb: rdb, prefix: prefix}
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *redisStore) Save(ctx context.Context, rec domain.ConversionRecord) (domain.ConversionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.recordKey(rec.ID), map[string]interface{}{
		"id":             rec.ID,
		"original_name":  rec.OriginalName,
		"converted_name": rec.ConvertedName,
		"from_type":      rec.FromType,
		"to_type":        rec.ToType,
		"download_url":   rec.DownloadURL,
		"size_bytes":     rec.SizeBytes,
		"page_count":     rec.PageCount,
		"duration_ms":    rec.DurationMs,
		"archive_key":    rec.ArchiveKey,
		"created_at":     rec.CreatedAt.UnixNano(),
	})
	pipe.ZAdd(ctx, s.byCreatedKey(), redis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.ConversionRecord{}, fmt.Errorf("redis pipeline Save: %w", err)
	}

	return rec, nil
}

// List returns all records, newest first.
func (s *redisStore) List(ctx context.Context) ([]domain.ConversionRecord, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.byCreatedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRevRange: %w", err)
	}
	if len(ids) == 0 {
		return []domain.ConversionRecord{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline List: %w", err)
	}

	records := make([]domain.ConversionRecord, 0, len(ids))
	for i, cmd := range cmds {
		res := cmd.Val()
		if len(res) == 0 {
			continue
		}
		records = append(records, parseRecord(ids[i], res))
	}

	return records, nil
}

func (s *redisStore) Delete(ctx context.Context, id string) (domain.ConversionRecord, error) {
	res, err := s.rdb.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return domain.ConversionRecord{}, fmt.Errorf("redis HGetAll: %w", err)
	}
	if len(res) == 0 {
		return domain.ConversionRecord{}, domain.ErrRecordNotFound
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.recordKey(id))
	pipe.ZRem(ctx, s.byCreatedKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.ConversionRecord{}, fmt.Errorf("redis pipeline Delete: %w", err)
	}

	return parseRecord(id, res), nil
}

func parseRecord(id string, res map[string]string) domain.ConversionRecord {
	rec := domain.ConversionRecord{
		ID:            id,
		OriginalName:  res["original_name"],
		ConvertedName: res["converted_name"],
		FromType:      res["from_type"],
		ToType:        res["to_type"],
		DownloadURL:   res["download_url"],
		ArchiveKey:    res["archive_key"],
	}

	if n, err := strconv.ParseInt(res["size_bytes"], 10, 64); err == nil {
		rec.SizeBytes = n
	}
	if n, err := strconv.Atoi(res["page_count"]); err == nil {
		rec.PageCount = n
	}
	if n, err := strconv.ParseInt(res["duration_ms"], 10, 64); err == nil {
		rec.DurationMs = n
	}
	if n, err := strconv.ParseInt(res["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(0, n)
	}

	return rec
}

func (s *redisStore) recordKey(id string) string {
	return s.prefix + ":conversion:" + id
}

func (s *redisStore) byCreatedKey() string {
	return s.prefix + ":conversions:by_created"
}
