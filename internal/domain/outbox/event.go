package outbox

import "time"

// SecurityEvent is the payload of every outbox kind and of the Kafka message
// published for it. ID is the outbox idempotency key.
type SecurityEvent struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	UserID  int64     `json:"user_id"`
	Reason  string    `json:"reason,omitempty"`
	Revoked int       `json:"revoked"`
	At      time.Time `json:"at"`
}
