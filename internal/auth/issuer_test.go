package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Turnstile/internal/clock"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
)

var testKey = []byte(strings.Repeat("k", MinSigningKeyBytes))

func newTestIssuer(t *testing.T, clk clock.Clock) *Issuer {
	t.Helper()
	iss, err := NewIssuer(IssuerConfig{
		Secret:   testKey,
		Issuer:   "turnstile",
		Audience: "backoffice",
		TTL:      15 * time.Minute,
		NewID:    func() string { return "jti-1" },
	}, clk)
	require.NoError(t, err)
	return iss
}

func TestNewIssuerRejectsWeakKey(t *testing.T) {
	_, err := NewIssuer(IssuerConfig{
		Secret: []byte("short"),
		Issuer: "turnstile",
		TTL:    time.Minute,
	}, nil)
	require.ErrorIs(t, err, domainauth.ErrWeakSigningKey)
}

func TestIssueAndParse(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, clk)
	pid := int64(77)

	token, exp, err := iss.Issue(domainauth.Principal{
		ID:       42,
		Email:    "ana@example.com",
		PersonID: &pid,
		Roles:    []string{"Admin", "admin", " clerk "},
	})
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(15*time.Minute), exp)

	claims, err := iss.Parse(token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, []string{"admin", "clerk"}, claims.Roles)
	assert.Equal(t, "jti-1", claims.ID)
	require.NotNil(t, claims.PersonID)
	assert.Equal(t, pid, *claims.PersonID)
}

func TestIssueIsDeterministicForSameClockAndID(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, clk)
	p := domainauth.Principal{ID: 1, Email: "a@b.c"}

	a, _, err := iss.Issue(p)
	require.NoError(t, err)
	b, _, err := iss.Issue(p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseRejectsExpiredAndForeign(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, clk)

	token, _, err := iss.Issue(domainauth.Principal{ID: 1, Email: "a@b.c"})
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	_, err = iss.Parse(token)
	require.ErrorIs(t, err, domainauth.ErrExpiredCredential)

	clk.Advance(-16 * time.Minute)
	other, err := NewIssuer(IssuerConfig{
		Secret:   []byte(strings.Repeat("z", MinSigningKeyBytes)),
		Issuer:   "turnstile",
		Audience: "backoffice",
		TTL:      time.Minute,
	}, clk)
	require.NoError(t, err)
	_, err = other.Parse(token)
	require.ErrorIs(t, err, domainauth.ErrInvalidCredential)

	_, err = iss.Parse("not.a.jwt")
	require.ErrorIs(t, err, domainauth.ErrInvalidCredential)
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, clk)

	claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "turnstile",
		Subject:   "1",
		Audience:  jwt.ClaimStrings{"backoffice"},
		IssuedAt:  jwt.NewNumericDate(clk.Now()),
		ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Minute)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Parse(unsigned)
	require.ErrorIs(t, err, domainauth.ErrInvalidCredential)
}
