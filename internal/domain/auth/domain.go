package auth

import (
	"time"
)

// Principal is the identity summary embedded into access credentials.
type Principal struct {
	ID       int64
	Email    string
	PersonID *int64
	Roles    []string
}

type RevokeReason string

const (
	ReasonRotation       RevokeReason = "rotation"
	ReasonLogout         RevokeReason = "logout"
	ReasonReuseDetected  RevokeReason = "reuse_detected"
	ReasonCapExceeded    RevokeReason = "cap_exceeded"
	ReasonLogoutAll      RevokeReason = "logout_all"
	ReasonPasswordChange RevokeReason = "password_change"
)

type RefreshToken struct {
	ID            int64
	UserID        int64
	TokenHash     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason RevokeReason
	SuccessorHash *string
}

func NewRefreshToken(userID int64, tokenHash string, now time.Time, ttl time.Duration) *RefreshToken {
	return &RefreshToken{
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the record is past its validity window. Expiry is
// never persisted; it is evaluated at read time.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && !t.Expired(now)
}

// Revoke flips the record to revoked. It reports false when the record was
// already revoked, leaving it untouched.
func (t *RefreshToken) Revoke(at time.Time, reason RevokeReason) bool {
	if t.Revoked {
		return false
	}
	t.Revoked = true
	t.RevokedAt = &at
	t.RevokedReason = reason
	return true
}

// MarkRotated revokes the record and links it to the record that replaced it.
func (t *RefreshToken) MarkRotated(successorHash string, at time.Time) bool {
	if !t.Revoke(at, ReasonRotation) {
		return false
	}
	t.SuccessorHash = &successorHash
	return true
}

// RotatedWithin reports whether the record was revoked by rotation no longer
// than window before now.
func (t *RefreshToken) RotatedWithin(now time.Time, window time.Duration) bool {
	if window <= 0 || t.SuccessorHash == nil || t.RevokedAt == nil {
		return false
	}
	return now.Sub(*t.RevokedAt) <= window
}

// Session is what a successful sign-in or rotation hands to the boundary.
type Session struct {
	UserID           int64
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string
}
