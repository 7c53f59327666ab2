// Package consumer applies payment signals published on Kafka.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/barberqueue/libs/kafkax"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/inbox"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

const TopicPaymentStatus = "payment.status.v1"

type Handler func(ctx context.Context, msg kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  reader
	logger  *slog.Logger
	inbox   inbox.Inbox
	handler Handler
	budget  time.Duration
	pause   time.Duration
}

type Config struct {
	Brokers []string
	GroupID string
	Topic   string
	// RetryBudget bounds one round of backoff on a transient failure. A
	// message that is still failing is retried in further rounds and its
	// offset is not committed until it has been handled.
	RetryBudget time.Duration
}

func New(logger *slog.Logger, in inbox.Inbox, cfg Config, handler Handler) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = TopicPaymentStatus
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, logger, in, cfg.RetryBudget, handler)
}

func newConsumer(r reader, logger *slog.Logger, in inbox.Inbox, budget time.Duration, handler Handler) *Consumer {
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return &Consumer{reader: r, logger: logger, inbox: in, handler: handler, budget: budget, pause: time.Second}
}

// Run consumes until ctx is done. An offset is committed only after its
// message has been handled, found to be a duplicate or failed permanently.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

// process reports whether msg may be committed. It only returns false when
// ctx ends before the message was handled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	var fresh bool
	err := c.persist(ctxSpan, "inbox record", meta.EventID, func() error {
		var err error
		fresh, err = c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
		return err
	}, func(error) bool { return true })
	if err != nil {
		span.RecordError(err)
		return false
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return true
	}

	err = c.persist(ctxSpan, "handler", meta.EventID, func() error {
		return c.handler(ctxSpan, msg)
	}, storage.IsTransient)
	if err == nil {
		return true
	}
	span.RecordError(err)
	if ctx.Err() != nil {
		// the uncommitted message comes back after a restart
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := c.inbox.Release(rctx, meta.EventID); rerr != nil {
			c.logger.Error("inbox release failed", "err", rerr, "event_id", meta.EventID)
		}
		return false
	}
	c.logger.Error("handler error, event skipped", "err", err, "event_id", meta.EventID)
	return true
}

// persist retries op in rounds of exponential backoff while retryable holds,
// until it succeeds, fails permanently or ctx ends.
func (c *Consumer) persist(ctx context.Context, what, eventID string, op func() error, retryable func(error) bool) error {
	for {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 50 * time.Millisecond
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := op()
			if err != nil && !retryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(c.budget))
		if err == nil || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn(what+" still failing, retrying", "err", err, "event_id", eventID)
		select {
		case <-time.After(c.pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
