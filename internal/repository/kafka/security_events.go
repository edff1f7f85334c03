package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Turnstile/internal/domain/kafka"
	"github.com/NordCoder/Turnstile/internal/domain/outbox"
	"github.com/NordCoder/Turnstile/internal/obs/retry"
)

var _ kafka.SecurityEvents = (*SecurityEventsKafka)(nil)

// SecurityEventsKafka publishes security events as JSON keyed by user id,
// so every event of one principal lands on the same partition.
type SecurityEventsKafka struct {
	p *Producer
}

func NewSecurityEventsKafka(p *Producer) *SecurityEventsKafka { return &SecurityEventsKafka{p: p} }

func (e *SecurityEventsKafka) PublishSecurityEvent(ctx context.Context, ev outbox.SecurityEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal security event: %w", err)
	}
	return e.p.Publish(ctx, KeyFromInt64(ev.UserID), value)
}

// JSONHandler decodes each message value into a fresh M before calling handle.
func JSONHandler[M any](handle func(context.Context, []byte, *M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var msg M
		if err := json.Unmarshal(value, &msg); err != nil {
			return retry.Permanent(fmt.Errorf("decode message: %w", err))
		}
		return handle(ctx, key, &msg)
	}
}
