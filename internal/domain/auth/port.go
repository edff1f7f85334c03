package auth

import (
	"context"
	"time"
)

type RefreshTokenRepo interface {
	// LockOwner serialises credential mutations of userID until the
	// transaction carried by ctx ends. Outside a transaction it is a no-op.
	LockOwner(ctx context.Context, userID int64) error
	// OwnerOf returns the owner of the record with the given digest without
	// locking it.
	OwnerOf(ctx context.Context, tokenHash string) (int64, error)
	Create(ctx context.Context, t *RefreshToken) error
	// GetByHashForUpdate loads a record by digest and, inside a transaction,
	// locks it until commit.
	GetByHashForUpdate(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// MarkRotated revokes an active record and stores its successor. It
	// reports false when the record was no longer active.
	MarkRotated(ctx context.Context, id int64, successorHash string, at time.Time) (bool, error)
	RevokeByHash(ctx context.Context, tokenHash string, at time.Time, reason RevokeReason) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time, reason RevokeReason) (int, error)
	// RevokeOldestActive keeps the newest keep active records of the user and
	// revokes the rest.
	RevokeOldestActive(ctx context.Context, userID int64, now time.Time, keep int) (int, error)
	ListByUser(ctx context.Context, userID int64, q SessionQuery, now time.Time) ([]*RefreshToken, error)
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// AfterCommit registers fn to run once the transaction carried by ctx
	// commits. Without a transaction in ctx it runs immediately.
	AfterCommit(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// EventSink records security events in the same transaction as the state
// change that produced them.
type EventSink interface {
	ReuseDetected(ctx context.Context, userID int64, revoked int, at time.Time) error
	SessionsRevoked(ctx context.Context, userID int64, reason RevokeReason, revoked int, at time.Time) error
	PasswordChanged(ctx context.Context, userID int64, revoked int, at time.Time) error
}
