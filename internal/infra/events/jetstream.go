package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/you-humble/docconv/internal/domain"
)

type jetStreamSink struct {
	js      nats.JetStreamContext
	subject string
}

func NewJetStreamSink(js nats.JetStreamContext, subject string) *jetStreamSink {
	return &jetStreamSink{
		js:      js,
		subject: subject,
	}
}

// Send publishes one event and waits for the stream ack. The job ID is used
// as the message ID so a retried publish is deduplicated by the server.
func (s *jetStreamSink) Send(ctx context.Context, ev domain.JobEvent) error {
	if ev.JobID == "" {
		return fmt.Errorf("empty job id")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: s.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, ev.JobID+"."+string(ev.Status))

	ack, err := s.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish event for job %s: %w", ev.JobID, err)
	}

	slog.Debug(
		"job event published",
		slog.String("job_id", ev.JobID),
		slog.String("status", string(ev.Status)),
		slog.String("subject", s.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}
