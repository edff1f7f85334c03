package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/NordCoder/Turnstile/internal/clock"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
)

const MinSigningKeyBytes = 32

type AccessClaims struct {
	Email    string   `json:"email"`
	PersonID *int64   `json:"person_id,omitempty"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject.
func (c *AccessClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, domainauth.ErrInvalidCredential
	}
	return id, nil
}

type IssuerConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	// NewID produces the unique token id; uuid.NewString when nil.
	NewID func() string
}

type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	newID    func() string
	clk      clock.Clock
}

// NewIssuer refuses to start with a signing key below MinSigningKeyBytes.
func NewIssuer(cfg IssuerConfig, clk clock.Clock) (*Issuer, error) {
	if len(cfg.Secret) < MinSigningKeyBytes {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", domainauth.ErrWeakSigningKey, len(cfg.Secret), MinSigningKeyBytes)
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("access ttl must be positive")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if clk == nil {
		clk = clock.Real()
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Issuer{
		secret:   secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		newID:    cfg.NewID,
		clk:      clk,
	}, nil
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs an access credential for p and returns it with its expiry.
func (i *Issuer) Issue(p domainauth.Principal) (string, time.Time, error) {
	if p.ID <= 0 {
		return "", time.Time{}, errors.New("principal id is required")
	}
	now := i.clk.Now().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := AccessClaims{
		Email:    p.Email,
		PersonID: p.PersonID,
		Roles:    dedupeRoles(p.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        i.newID(),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry.
func (i *Issuer) Parse(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domainauth.ErrInvalidCredential
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clk.Now),
		jwt.WithLeeway(5 * time.Second),
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", domainauth.ErrExpiredCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", domainauth.ErrInvalidCredential, err)
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, domainauth.ErrInvalidCredential
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
