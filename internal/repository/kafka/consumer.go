package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Turnstile/internal/obs/retry"
)

type Handler func(ctx context.Context, key, value []byte) error

type ConsumerConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	GroupID           string   `mapstructure:"group_id"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
	FromBeginning     bool     `mapstructure:"from_beginning"`
	// HandlerAttempts bounds redelivery of one message to the handler
	// before it is committed and skipped.
	HandlerAttempts int         `mapstructure:"handler_attempts"`
	Logger          *zap.Logger `mapstructure:"-"`
}

// Consumer reads one topic in a consumer group and commits a message only
// after the handler accepted it, gave up on it, or rejected it permanently.
type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
	cfg    *ConsumerConfig
	policy retry.Policy
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:               cfg.Brokers,
			GroupID:               cfg.GroupID,
			Topic:                 cfg.Topic,
			StartOffset:           start,
			WatchPartitionChanges: true,
			MinBytes:              1,
			MaxBytes:              1 << 20,
			MaxWait:               time.Second,
			SessionTimeout:        10 * time.Second,
			RebalanceTimeout:      15 * time.Second,
			HeartbeatInterval:     3 * time.Second,
		}),
		cfg: cfg,
	}
	return c.WithLogger(cfg.Logger)
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l == nil {
		return c
	}
	cp := *c
	cp.log = l.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
	)
	cp.policy = retry.Policy{
		Name:     "kafka_consume_" + c.cfg.Topic,
		Attempts: max(c.cfg.HandlerAttempts, 1),
		Backoff:  retry.ExpoJitter{Base: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
	}
	return &cp
}

// Consume blocks until ctx is done. Fetch errors back off and retry.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	defer c.log.Info("consumer stopped")

	backoff := retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second}
	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := backoff.Next(failures)
			failures++
			if errors.Is(err, io.EOF) {
				c.log.Debug("fetch EOF", zap.Duration("backoff", wait))
			} else {
				c.log.Warn("fetch failed", zap.Error(err), zap.Duration("backoff", wait))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		if err := c.process(ctx, msg, h); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process runs h under a consumer span parented on the producer's trace
// headers, retrying transient failures.
func (c *Consumer) process(ctx context.Context, msg kafka.Message, h Handler) error {
	parent := otel.GetTextMapPropagator().Extract(ctx, carrierFor(&msg))
	msgCtx, span := otel.Tracer("kafka.consumer").Start(parent, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingOperationReceive,
		),
	)
	defer span.End()

	err := retry.Do(msgCtx, func() error { return h(msgCtx, msg.Key, msg.Value) }, c.policy)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	fields := []zap.Field{zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err)}
	if retry.IsPermanent(err) {
		c.log.Warn("message rejected", fields...)
	} else {
		c.log.Error("message skipped after retries", fields...)
	}
	return err
}

func (c *Consumer) Close() error { return c.reader.Close() }
