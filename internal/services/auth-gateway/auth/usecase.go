package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	"github.com/NordCoder/Turnstile/internal/clock"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/domain/user"
	"github.com/NordCoder/Turnstile/internal/obs"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password is too weak")
)

const minPasswordLen = 8

// dummyHash keeps sign-in timing flat when the email is unknown.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("turnstile-timing-equalizer"), bcrypt.DefaultCost)

// ContextCache is the part of the authorization cache the session layer needs.
type ContextCache interface {
	Build(ctx context.Context, principalID int64) (*authz.Context, error)
	Invalidate(principalID int64)
}

type Usecase struct {
	users    user.Repo
	renewals *RenewalManager
	issuer   *creds.Issuer
	tx       domainauth.Transactor
	events   domainauth.EventSink
	cache    ContextCache
	gen      creds.SecretGenerator
	clk      clock.Clock
	log      *zap.Logger
}

type Deps struct {
	Users    user.Repo
	Renewals *RenewalManager
	Issuer   *creds.Issuer
	Tx       domainauth.Transactor
	Events   domainauth.EventSink
	Cache    ContextCache
	Gen      creds.SecretGenerator
	Clock    clock.Clock
	Logger   *zap.Logger
}

func NewUseCase(d Deps) *Usecase {
	if d.Gen == nil {
		d.Gen = creds.GenerateRawToken
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Usecase{
		users:    d.Users,
		renewals: d.Renewals,
		issuer:   d.Issuer,
		tx:       d.Tx,
		events:   d.Events,
		cache:    d.Cache,
		gen:      d.Gen,
		clk:      d.Clock,
		log:      d.Logger.With(zap.String("component", "auth.usecase")),
	}
}

func (u *Usecase) SignIn(ctx context.Context, email, password string) (*user.User, domainauth.Session, error) {
	rec, err := u.users.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, domainauth.ErrNotFound) {
			return nil, domainauth.Session{}, fmt.Errorf("load user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, domainauth.Session{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.Password), []byte(password)) != nil || !rec.Active {
		return nil, domainauth.Session{}, ErrInvalidCredentials
	}

	renewal, err := u.renewals.Issue(ctx, rec.ID)
	if err != nil {
		return nil, domainauth.Session{}, err
	}
	sess, err := u.session(ctx, rec, renewal)
	if err != nil {
		return nil, domainauth.Session{}, err
	}
	obs.WithTrace(ctx, u.log).Info("signed in", zap.Int64("user_id", rec.ID))
	return rec, sess, nil
}

// Refresh rotates the renewal credential and signs a new access credential.
// The rotation commits only together with a complete session, so a failure
// after it leaves the presented secret valid. Credential failures commit
// whatever revocation they caused.
func (u *Usecase) Refresh(ctx context.Context, raw string) (domainauth.Session, error) {
	if raw == "" {
		return domainauth.Session{}, domainauth.ErrInvalidCredential
	}
	var (
		sess     domainauth.Session
		rejected error
	)
	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		renewal, err := u.renewals.Rotate(ctx, raw)
		if domainauth.IsCredentialFailure(err) {
			rejected = err
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := u.users.GetByID(ctx, renewal.UserID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if !rec.Active {
			if _, err := u.renewals.RevokeAll(ctx, rec.ID, domainauth.ReasonLogoutAll); err != nil {
				return err
			}
			rejected = domainauth.ErrInvalidCredential
			return nil
		}
		sess, err = u.session(ctx, rec, renewal)
		return err
	})
	switch {
	case err != nil:
		return domainauth.Session{}, err
	case rejected != nil:
		return domainauth.Session{}, rejected
	}
	return sess, nil
}

func (u *Usecase) Logout(ctx context.Context, raw string) error {
	return u.renewals.Revoke(ctx, raw)
}

// LogoutAll revokes every session of userID. The authorization snapshot is
// dropped once the revocation commits.
func (u *Usecase) LogoutAll(ctx context.Context, userID int64) (int, error) {
	var n int
	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = u.renewals.RevokeAll(ctx, userID, domainauth.ReasonLogoutAll)
		if err != nil {
			return err
		}
		u.invalidateAfterCommit(ctx, userID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (u *Usecase) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if len(next) < minPasswordLen {
		return ErrWeakPassword
	}
	rec, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.Password), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return u.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		n, err := u.renewals.RevokeAll(ctx, userID, domainauth.ReasonPasswordChange)
		if err != nil {
			return err
		}
		if u.events != nil {
			if err := u.events.PasswordChanged(ctx, userID, n, u.clk.Now()); err != nil {
				return err
			}
		}
		u.invalidateAfterCommit(ctx, userID)
		return nil
	})
}

func (u *Usecase) ParseAccess(token string) (*creds.AccessClaims, error) {
	return u.issuer.Parse(token)
}

func (u *Usecase) Me(ctx context.Context, userID int64) (*user.User, error) {
	return u.users.GetByID(ctx, userID)
}

func (u *Usecase) Context(ctx context.Context, userID int64) (*authz.Context, error) {
	return u.cache.Build(ctx, userID)
}

func (u *Usecase) Sessions(ctx context.Context, userID int64, q domainauth.SessionQuery) ([]*domainauth.RefreshToken, error) {
	return u.renewals.Sessions(ctx, userID, q)
}

func (u *Usecase) session(ctx context.Context, rec *user.User, renewal Renewal) (domainauth.Session, error) {
	var roles []string
	if u.cache != nil {
		actx, err := u.cache.Build(ctx, rec.ID)
		if err != nil {
			return domainauth.Session{}, fmt.Errorf("build authorization context: %w", err)
		}
		roles = actx.RoleNames
	}
	access, exp, err := u.issuer.Issue(domainauth.Principal{
		ID:       rec.ID,
		Email:    rec.Email,
		PersonID: rec.PersonID,
		Roles:    roles,
	})
	if err != nil {
		return domainauth.Session{}, err
	}
	csrf, err := u.gen(creds.CSRFSecretBytes)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("generate csrf: %w", err)
	}
	return domainauth.Session{
		UserID:           rec.ID,
		AccessToken:      access,
		AccessExpiresAt:  exp,
		RefreshToken:     renewal.Secret,
		RefreshExpiresAt: renewal.ExpiresAt,
		CSRFToken:        csrf,
	}, nil
}

func (u *Usecase) invalidateAfterCommit(ctx context.Context, userID int64) {
	if u.cache == nil {
		return
	}
	u.tx.AfterCommit(ctx, "authz.invalidate", func(context.Context) error {
		u.cache.Invalidate(userID)
		return nil
	})
}

func (u *Usecase) AccessTTL() time.Duration { return u.issuer.TTL() }
