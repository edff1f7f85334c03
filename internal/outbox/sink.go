package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/outbox"
)

var _ domainauth.EventSink = (*EventSink)(nil)

// EventSink writes security events into the outbox table using the
// transaction carried by ctx.
type EventSink struct {
	repo outbox.Repository

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewEventSink(repo outbox.Repository) *EventSink {
	return &EventSink{
		repo:    repo,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *EventSink) ReuseDetected(ctx context.Context, userID int64, revoked int, at time.Time) error {
	return s.enqueue(ctx, outbox.KindReuseDetected, outbox.SecurityEvent{
		UserID:  userID,
		Reason:  string(domainauth.ReasonReuseDetected),
		Revoked: revoked,
		At:      at,
	})
}

func (s *EventSink) SessionsRevoked(ctx context.Context, userID int64, reason domainauth.RevokeReason, revoked int, at time.Time) error {
	return s.enqueue(ctx, outbox.KindSessionsRevoked, outbox.SecurityEvent{
		UserID:  userID,
		Reason:  string(reason),
		Revoked: revoked,
		At:      at,
	})
}

func (s *EventSink) PasswordChanged(ctx context.Context, userID int64, revoked int, at time.Time) error {
	return s.enqueue(ctx, outbox.KindPasswordChanged, outbox.SecurityEvent{
		UserID:  userID,
		Reason:  string(domainauth.ReasonPasswordChange),
		Revoked: revoked,
		At:      at,
	})
}

func (s *EventSink) enqueue(ctx context.Context, kind outbox.Kind, ev outbox.SecurityEvent) error {
	ev.ID = s.newID(ev.At)
	ev.Type = kind.String()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	if err := s.repo.Enqueue(ctx, ev.ID, kind, data); err != nil {
		return fmt.Errorf("enqueue %s event: %w", kind, err)
	}
	return nil
}

func (s *EventSink) newID(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}
