package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/docconv/internal/domain"
	"github.com/you-humble/docconv/internal/infra/events"
)

type fakeSink struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	sent      []domain.JobEvent
	block     chan struct{}
}

func (s *fakeSink) Send(ctx context.Context, ev domain.JobEvent) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *fakeSink) snapshot() ([]domain.JobEvent, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobEvent(nil), s.sent...), s.calls
}

func event(id string) domain.JobEvent {
	return domain.JobEvent{JobID: id, Status: domain.StatusSucceeded, OccurredAt: time.Now()}
}

func TestPublisher_DeliversAndDrainsOnStop(t *testing.T) {
	sink := &fakeSink{}
	p := events.NewPublisher(sink, 10, 2, 0)
	p.Start(context.Background())

	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, p.Publish(event(id)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	sent, _ := sink.snapshot()
	assert.Len(t, sent, 4)
}

func TestPublisher_RetriesFailedSends(t *testing.T) {
	sink := &fakeSink{failFirst: 2}
	p := events.NewPublisher(sink, 10, 1, 3)
	p.Start(context.Background())

	require.True(t, p.Publish(event("job-1")))

	require.Eventually(t, func() bool {
		sent, _ := sink.snapshot()
		return len(sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, calls := sink.snapshot()
	assert.Equal(t, 3, calls)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPublisher_GivesUpAfterMaxRetries(t *testing.T) {
	sink := &fakeSink{failFirst: 100}
	p := events.NewPublisher(sink, 10, 1, 2)
	p.Start(context.Background())

	require.True(t, p.Publish(event("job-1")))

	require.Eventually(t, func() bool {
		_, calls := sink.snapshot()
		return calls == 3
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	sent, calls := sink.snapshot()
	assert.Empty(t, sent)
	assert.Equal(t, 3, calls)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPublisher_FullQueueDropsWithoutBlocking(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	p := events.NewPublisher(sink, 1, 1, 0)
	p.Start(context.Background())

	require.True(t, p.Publish(event("in-flight")))
	require.Eventually(t, func() bool {
		return p.Publish(event("queued"))
	}, time.Second, 5*time.Millisecond)

	assert.False(t, p.Publish(event("dropped")))

	close(sink.block)
	require.NoError(t, p.Stop(context.Background()))

	sent, _ := sink.snapshot()
	require.Len(t, sent, 2)
	assert.Equal(t, "in-flight", sent[0].JobID)
	assert.Equal(t, "queued", sent[1].JobID)
}

func TestPublisher_StopTimesOutAndRejectsLatePublish(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	p := events.NewPublisher(sink, 4, 1, 0)
	p.Start(context.Background())

	require.True(t, p.Publish(event("stuck")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)

	assert.False(t, p.Publish(event("late")))
	require.NoError(t, p.Stop(context.Background()))
}

func TestPublisher_StopWithoutStart(t *testing.T) {
	p := events.NewPublisher(&fakeSink{}, 1, 1, 0)

	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.Publish(event("late")))

	p.Start(context.Background())
	assert.False(t, p.Publish(event("after-start")))
}

func TestPublisher_SecondStartIsIgnored(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	p := events.NewPublisher(sink, 10, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Start(context.Background())

	require.True(t, p.Publish(event("job-1")))
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))

	sent, _ := sink.snapshot()
	assert.Empty(t, sent, "the first context governs the workers")
}

func TestNop(t *testing.T) {
	assert.True(t, events.Nop{}.Publish(event("x")))
}
