package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Cleaner interface {
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

// Janitor removes files left behind by jobs that never reached their own
// cleanup, e.g. after the process was killed mid-conversion.
type Janitor struct {
	cleaners []Cleaner
	interval time.Duration
	maxAge   time.Duration

	done chan struct{}
}

func New(interval, maxAge time.Duration, cleaners ...Cleaner) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	return &Janitor{
		cleaners: cleaners,
		interval: interval,
		maxAge:   maxAge,
		done:     make(chan struct{}),
	}
}

// Sweep runs every cleaner once, concurrently, and returns the total number
// of removed entries.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	var total atomic.Int64

	eg, eCtx := errgroup.WithContext(ctx)
	for _, c := range j.cleaners {
		eg.Go(func() error {
			n, err := c.CleanupOlderThan(eCtx, j.maxAge)
			total.Add(int64(n))
			return err
		})
	}

	err := eg.Wait()
	return int(total.Load()), err
}

// Start sweeps once immediately, then every interval until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)

	go func() {
		defer close(j.done)
		defer ticker.Stop()

		j.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.sweep(ctx)
			}
		}
	}()
}

// Done is closed once the loop started by Start has exited.
func (j *Janitor) Done() <-chan struct{} {
	return j.done
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.Sweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cleanup stale files", slog.String("error", err.Error()))
	}
	if n > 0 {
		slog.Info("cleanup", slog.Int("removed_entries", n))
	}
}
