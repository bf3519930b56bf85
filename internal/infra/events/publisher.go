package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/you-humble/docconv/internal/domain"
)

type Sink interface {
	Send(ctx context.Context, ev domain.JobEvent) error
}

type envelope struct {
	event   domain.JobEvent
	retries int
}

// Publisher delivers job events in the background. Publish never blocks the
// caller: when the queue is full the event is dropped and logged.
type Publisher struct {
	sink Sink

	queue      chan envelope
	workerNum  int
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(sink Sink, queueSize, workerNum, maxRetries int) *Publisher {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Publisher{
		sink:       sink,
		queue:      make(chan envelope, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
	}
}

// Start launches the workers. Calls after the first one, or after Stop,
// do nothing.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.closed || p.cancel != nil {
		p.mu.Unlock()
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(p.workerNum)
	for i := 0; i < p.workerNum; i++ {
		go p.worker()
	}
}

// Stop closes the queue and waits for the workers to drain it. When ctx
// expires first, in-flight sends are cancelled and ctx.Err() is returned.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	stopWorkers := p.cancel
	p.mu.Unlock()

	if stopWorkers == nil {
		return nil
	}

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		p.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		stopWorkers()
		return ctx.Err()
	case <-doneCh:
		stopWorkers()
	}

	slog.Info("event publisher stopped")
	return nil
}

func (p *Publisher) Publish(ev domain.JobEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- envelope{event: ev}:
		return true
	default:
		slog.Warn("event queue full, dropping event",
			slog.String("job_id", ev.JobID),
			slog.String("status", string(ev.Status)),
		)
		return false
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case env, ok := <-p.queue:
			if !ok {
				return
			}

			p.handle(env)
		}
	}
}

func (p *Publisher) handle(env envelope) {
	err := p.sink.Send(p.ctx, env.event)
	if err == nil {
		return
	}

	l := slog.With(
		slog.String("job_id", env.event.JobID),
		slog.Int("retries", env.retries),
		slog.String("error", err.Error()),
	)

	if env.retries >= p.maxRetries {
		l.Error("event publish failed, max retries exceeded")
		return
	}

	env.retries++

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		l.Error("event publish failed during shutdown, dropping event")
		return
	}

	select {
	case p.queue <- env:
		l.Warn("event publish failed, requeued")
	default:
		l.Error("event publish failed and queue is full, dropping event")
	}
}

// Nop discards events. It stands in for the publisher when events are disabled.
type Nop struct{}

func (Nop) Publish(domain.JobEvent) bool { return true }
