package kafka

import (
	"context"

	"github.com/NordCoder/Turnstile/internal/domain/outbox"
)

type SecurityEvents interface {
	PublishSecurityEvent(ctx context.Context, ev outbox.SecurityEvent) error
}
