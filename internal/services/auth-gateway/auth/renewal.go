package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	"github.com/NordCoder/Turnstile/internal/clock"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/obs"
)

var (
	mIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_refresh_issued_total",
		Help: "Renewal credentials issued at sign-in.",
	})
	mRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_refresh_rotations_total",
		Help: "Rotation attempts by outcome.",
	}, []string{"outcome"})
	mReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_refresh_reuse_detected_total",
		Help: "Replayed renewal credentials that triggered mass revocation.",
	})
	mRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_refresh_revoked_total",
		Help: "Renewal credentials revoked by reason.",
	}, []string{"reason"})
)

type RenewalConfig struct {
	TTL       time.Duration
	MaxActive int
	// ReuseGrace rejects a credential re-presented this soon after its own
	// rotation without revoking the family. Zero disables it.
	ReuseGrace time.Duration
}

// Renewal is a freshly minted renewal credential. Secret is the only copy of
// the plaintext.
type Renewal struct {
	UserID    int64
	Secret    string
	ExpiresAt time.Time
}

type RenewalManager struct {
	repo   domainauth.RefreshTokenRepo
	tx     domainauth.Transactor
	events domainauth.EventSink
	hasher *creds.Hasher
	gen    creds.SecretGenerator
	clk    clock.Clock
	cfg    RenewalConfig
	log    *zap.Logger
}

func NewRenewalManager(
	repo domainauth.RefreshTokenRepo,
	tx domainauth.Transactor,
	events domainauth.EventSink,
	hasher *creds.Hasher,
	gen creds.SecretGenerator,
	clk clock.Clock,
	cfg RenewalConfig,
	log *zap.Logger,
) (*RenewalManager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("renewal ttl must be positive")
	}
	if cfg.MaxActive <= 0 {
		return nil, errors.New("max active renewal credentials must be positive")
	}
	if gen == nil {
		gen = creds.GenerateRawToken
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RenewalManager{
		repo:   repo,
		tx:     tx,
		events: events,
		hasher: hasher,
		gen:    gen,
		clk:    clk,
		cfg:    cfg,
		log:    log.With(zap.String("component", "auth.renewal")),
	}, nil
}

// Issue persists a new credential for userID and revokes the oldest active
// ones beyond the configured cap, in one transaction.
func (m *RenewalManager) Issue(ctx context.Context, userID int64) (Renewal, error) {
	ctx, span := otel.Tracer("auth.renewal").Start(ctx, "renewal.issue")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	secret, hash, err := m.newSecret()
	if err != nil {
		return Renewal{}, err
	}

	var out Renewal
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := m.repo.LockOwner(ctx, userID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		now := m.clk.Now()
		rec := domainauth.NewRefreshToken(userID, hash, now, m.cfg.TTL)
		if err := m.repo.Create(ctx, rec); err != nil {
			return fmt.Errorf("create renewal: %w", err)
		}
		n, err := m.repo.RevokeOldestActive(ctx, userID, now, m.cfg.MaxActive)
		if err != nil {
			return fmt.Errorf("enforce session cap: %w", err)
		}
		if n > 0 {
			mRevoked.WithLabelValues(string(domainauth.ReasonCapExceeded)).Add(float64(n))
			obs.WithTrace(ctx, m.log).Info("session cap enforced",
				zap.Int64("user_id", userID), zap.Int("revoked", n), zap.Int("cap", m.cfg.MaxActive))
		}
		out = Renewal{UserID: userID, Secret: secret, ExpiresAt: rec.ExpiresAt}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Renewal{}, err
	}
	mIssued.Inc()
	return out, nil
}

// Rotate exchanges a valid secret for a new one. A secret that was already
// revoked is treated as stolen: every active credential of its owner is
// revoked and committed before ErrReusedCredential is returned.
func (m *RenewalManager) Rotate(ctx context.Context, secret string) (Renewal, error) {
	ctx, span := otel.Tracer("auth.renewal").Start(ctx, "renewal.rotate")
	defer span.End()

	if secret == "" {
		mRotations.WithLabelValues("invalid").Inc()
		return Renewal{}, domainauth.ErrInvalidCredential
	}
	presented := m.hasher.Hash(secret)
	next, nextHash, err := m.newSecret()
	if err != nil {
		return Renewal{}, err
	}

	var (
		out         Renewal
		reuseOwner  int64
		reuseCount  = -1
		graceReject bool
	)
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		// The owner lock comes before the row lock, matching Issue and
		// RevokeAll, so a family revocation also sees the successor.
		owner, err := m.repo.OwnerOf(ctx, presented)
		if errors.Is(err, domainauth.ErrNotFound) {
			return domainauth.ErrInvalidCredential
		}
		if err != nil {
			return fmt.Errorf("load renewal owner: %w", err)
		}
		if err := m.repo.LockOwner(ctx, owner); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		rec, err := m.repo.GetByHashForUpdate(ctx, presented)
		if errors.Is(err, domainauth.ErrNotFound) {
			return domainauth.ErrInvalidCredential
		}
		if err != nil {
			return fmt.Errorf("load renewal: %w", err)
		}

		now := m.clk.Now()
		switch {
		case rec.Expired(now):
			return domainauth.ErrExpiredCredential
		case rec.Revoked && rec.RotatedWithin(now, m.cfg.ReuseGrace):
			graceReject = true
			return nil
		case rec.Revoked:
			n, err := m.repo.RevokeAllForUser(ctx, rec.UserID, now, domainauth.ReasonReuseDetected)
			if err != nil {
				return fmt.Errorf("revoke family: %w", err)
			}
			if m.events != nil {
				if err := m.events.ReuseDetected(ctx, rec.UserID, n, now); err != nil {
					return err
				}
			}
			reuseOwner, reuseCount = rec.UserID, n
			return nil
		}

		fresh := domainauth.NewRefreshToken(rec.UserID, nextHash, now, m.cfg.TTL)
		if err := m.repo.Create(ctx, fresh); err != nil {
			return fmt.Errorf("create successor: %w", err)
		}
		ok, err := m.repo.MarkRotated(ctx, rec.ID, nextHash, now)
		if err != nil {
			return fmt.Errorf("revoke rotated: %w", err)
		}
		if !ok {
			return domainauth.ErrInvalidCredential
		}
		out = Renewal{UserID: rec.UserID, Secret: next, ExpiresAt: fresh.ExpiresAt}
		return nil
	})

	switch {
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		mRotations.WithLabelValues(outcome(err)).Inc()
		return Renewal{}, err
	case graceReject:
		mRotations.WithLabelValues("grace").Inc()
		obs.WithTrace(ctx, m.log).Info("duplicate rotation inside grace window rejected")
		return Renewal{}, domainauth.ErrInvalidCredential
	case reuseCount >= 0:
		mRotations.WithLabelValues("reused").Inc()
		mReuse.Inc()
		mRevoked.WithLabelValues(string(domainauth.ReasonReuseDetected)).Add(float64(reuseCount))
		span.SetAttributes(attribute.Int64("user.id", reuseOwner), attribute.Int("revoked", reuseCount))
		span.SetStatus(codes.Error, "renewal credential reuse")
		obs.WithTrace(ctx, m.log).Warn("renewal credential reuse detected, sessions revoked",
			zap.Int64("user_id", reuseOwner), zap.Int("revoked", reuseCount))
		return Renewal{}, domainauth.ErrReusedCredential
	}

	span.SetAttributes(attribute.Int64("user.id", out.UserID))
	mRotations.WithLabelValues("ok").Inc()
	mRevoked.WithLabelValues(string(domainauth.ReasonRotation)).Inc()
	return out, nil
}

// Revoke revokes the credential behind secret. Unknown or already revoked
// secrets are a no-op.
func (m *RenewalManager) Revoke(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}
	ctx, span := otel.Tracer("auth.renewal").Start(ctx, "renewal.revoke")
	defer span.End()

	ok, err := m.repo.RevokeByHash(ctx, m.hasher.Hash(secret), m.clk.Now(), domainauth.ReasonLogout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("revoke renewal: %w", err)
	}
	if ok {
		mRevoked.WithLabelValues(string(domainauth.ReasonLogout)).Inc()
	}
	return nil
}

// RevokeAll revokes every active credential of userID and records the event.
// It joins the transaction carried by ctx.
func (m *RenewalManager) RevokeAll(ctx context.Context, userID int64, reason domainauth.RevokeReason) (int, error) {
	ctx, span := otel.Tracer("auth.renewal").Start(ctx, "renewal.revoke_all")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.String("reason", string(reason)))

	var n int
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := m.repo.LockOwner(ctx, userID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		now := m.clk.Now()
		var err error
		n, err = m.repo.RevokeAllForUser(ctx, userID, now, reason)
		if err != nil {
			return fmt.Errorf("revoke all: %w", err)
		}
		// a password change reports the count in its own event
		if m.events != nil && n > 0 && reason != domainauth.ReasonPasswordChange {
			return m.events.SessionsRevoked(ctx, userID, reason, n, now)
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	mRevoked.WithLabelValues(string(reason)).Add(float64(n))
	return n, nil
}

func (m *RenewalManager) Sessions(ctx context.Context, userID int64, q domainauth.SessionQuery) ([]*domainauth.RefreshToken, error) {
	return m.repo.ListByUser(ctx, userID, q, m.clk.Now())
}

func (m *RenewalManager) newSecret() (string, string, error) {
	secret, err := m.gen(creds.RefreshSecretBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate renewal secret: %w", err)
	}
	return secret, m.hasher.Hash(secret), nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domainauth.ErrExpiredCredential):
		return "expired"
	case errors.Is(err, domainauth.ErrInvalidCredential):
		return "invalid"
	default:
		return "error"
	}
}
