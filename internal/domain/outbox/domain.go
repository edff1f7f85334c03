package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	// StatusFailed is terminal: the message is never claimed again.
	StatusFailed Status = "FAILED"
)

type Kind int

const (
	KindReuseDetected   Kind = 1
	KindSessionsRevoked Kind = 2
	KindPasswordChanged Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindReuseDetected:
		return "reuse_detected"
	case KindSessionsRevoked:
		return "sessions_revoked"
	case KindPasswordChanged:
		return "password_changed"
	default:
		return "unknown"
	}
}

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tracestate     string
	Traceparent    string
	Baggage        string
	// Attempts counts claims, including the current one.
	Attempts int
}

type Repository interface {
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error

	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)

	MarkSuccess(ctx context.Context, keys []string) error

	MarkFailed(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
