package auth

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	"github.com/NordCoder/Turnstile/internal/clock"
	"github.com/NordCoder/Turnstile/internal/domain/user"
	"github.com/NordCoder/Turnstile/internal/outbox"
	"github.com/NordCoder/Turnstile/internal/repository/memory"
	"github.com/NordCoder/Turnstile/internal/services/auth-gateway/authz"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

const testPassword = "correct horse battery"

type fixture struct {
	store   *memory.Store
	tokens  *memory.RefreshTokenRepo
	users   *memory.UserRepo
	authz   *memory.AuthzRepo
	outbox  *memory.OutboxRepo
	hasher  *creds.Hasher
	clk     *clock.Fake
	renewal *RenewalManager
	cache   *authz.Cache
	uc      *Usecase
	userID  int64
}

// sequence yields predictable secrets so tests can address records by hash.
func sequence() creds.SecretGenerator {
	var n atomic.Int64
	return func(int) (string, error) {
		return fmt.Sprintf("secret-%03d", n.Add(1)), nil
	}
}

func newFixture(t *testing.T, cfg RenewalConfig) *fixture {
	t.Helper()
	if cfg.TTL == 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.MaxActive == 0 {
		cfg.MaxActive = 5
	}

	f := &fixture{clk: clock.NewFake(t0)}
	f.store = memory.NewStore(nil)
	f.tokens = memory.NewRefreshTokenRepo(f.store)
	f.users = memory.NewUserRepo(f.store)
	f.authz = memory.NewAuthzRepo(f.store)
	f.outbox = memory.NewOutboxRepo(f.store)

	var err error
	f.hasher, err = creds.NewHasher([]byte("test-pepper-value"))
	require.NoError(t, err)

	gen := sequence()
	sink := outbox.NewEventSink(f.outbox)
	f.renewal, err = NewRenewalManager(f.tokens, f.store, sink, f.hasher, gen, f.clk, cfg, nil)
	require.NoError(t, err)

	f.cache, err = authz.NewCache(f.authz, f.clk, authz.CacheConfig{TTL: 10 * time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(f.cache.Close)

	issuer, err := creds.NewIssuer(creds.IssuerConfig{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:   "turnstile",
		Audience: "turnstile-api",
		TTL:      15 * time.Minute,
	}, f.clk)
	require.NoError(t, err)

	f.uc = NewUseCase(Deps{
		Users:    f.users,
		Renewals: f.renewal,
		Issuer:   issuer,
		Tx:       f.store,
		Events:   sink,
		Cache:    f.cache,
		Gen:      gen,
		Clock:    f.clk,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	f.userID = f.users.Add(user.User{
		Email:    "Alice@Example.com",
		Password: string(hash),
		FullName: "Alice",
		Active:   true,
	})
	return f
}
