package nats

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// MsgHandler processes one dequeued job. A nil return acks the message; an
// error naks it for redelivery under the consumer's backoff schedule. After
// MaxDeliver attempts the message parks in the stream for manual
// intervention.
type MsgHandler func(ctx context.Context, subject string, data []byte) error

// Consumer is a durable explicit-ack JetStream consumer feeding one handler.
type Consumer struct {
	js      jetstream.JetStream
	stream  string
	durable string
	handler MsgHandler
	logger  *slog.Logger
}

// NewConsumer creates a Consumer on the given stream.
func NewConsumer(c *Client, stream, durable string, handler MsgHandler, logger *slog.Logger) *Consumer {
	return &Consumer{
		js:      c.JetStream(),
		stream:  stream,
		durable: durable,
		handler: handler,
		logger:  logger.With(slog.String("component", "queue_consumer"), slog.String("durable", durable)),
	}
}

// Run creates (or resumes) the durable consumer and dispatches messages until
// ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       c.durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    6,
		BackOff: []time.Duration{
			1 * time.Second, 5 * time.Second, 30 * time.Second,
			2 * time.Minute, 5 * time.Minute,
		},
	})
	if err != nil {
		return err
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := c.handler(ctx, msg.Subject(), msg.Data()); err != nil {
			c.logger.Error("job failed, scheduling redelivery",
				slog.String("subject", msg.Subject()),
				slog.String("error", err.Error()),
			)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return err
	}
	defer cc.Stop()

	c.logger.Info("consumer running", slog.String("stream", c.stream))
	<-ctx.Done()
	return ctx.Err()
}

// SubjectKind extracts the job kind from a subject like
// "arena.settle.create.{matchId}" -> "create".
func SubjectKind(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
