package notification

import (
	"context"
	"time"
)

type Notification struct {
	ID      int64     `json:"id"`
	EventID string    `json:"event_id"`
	UserID  int64     `json:"user_id"`
	Type    string    `json:"type"`
	SentAt  time.Time `json:"sent_at"`
	Payload string    `json:"payload"`
}

type Repo interface {
	// Create records a delivered notification. It returns a conflict error
	// when EventID was already recorded.
	Create(ctx context.Context, n *Notification) error
	Delivered(ctx context.Context, eventID string) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*Notification, error)
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
