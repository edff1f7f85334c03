package authz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Turnstile/internal/clock"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/domain/user"
	"github.com/NordCoder/Turnstile/internal/repository/memory"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	store *memory.Store
	users *memory.UserRepo
	src   *memory.AuthzRepo
	clk   *clock.Fake
	cache *Cache
	uid   int64
	role  int64
	form  int64
	view  int64
	edit  int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{clk: clock.NewFake(t0)}
	e.store = memory.NewStore(nil)
	e.users = memory.NewUserRepo(e.store)
	e.src = memory.NewAuthzRepo(e.store)

	e.uid = e.users.Add(user.User{Email: "bob@example.com", FullName: "Bob", Active: true})
	e.role = e.src.AddRole("clerk")
	e.form = e.src.AddForm("billing", "invoices")
	e.view = e.src.AddPermission(" View ")
	e.edit = e.src.AddPermission("EDIT")
	ctx := context.Background()
	require.NoError(t, e.src.AssignRole(ctx, e.uid, e.role))
	require.NoError(t, e.src.ReplaceGrants(ctx, e.role, []authz.GrantRef{{FormID: e.form, PermissionID: e.view}}))

	var err error
	e.cache, err = NewCache(e.src, e.clk, CacheConfig{TTL: 10 * time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(e.cache.Close)
	return e
}

func TestBuildDerivesMenu(t *testing.T) {
	e := newEnv(t)

	got, err := e.cache.Build(context.Background(), e.uid)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", got.Email)
	assert.Equal(t, []string{"clerk"}, got.RoleNames)
	assert.Equal(t, map[string]map[string][]string{"billing": {"invoices": {"view"}}}, got.Menu)
	assert.True(t, got.Can("billing", "invoices", "VIEW"))
	assert.False(t, got.Can("billing", "invoices", "edit"))
}

func TestBuildServesFromCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	first.RoleNames[0] = "mutated"

	second, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.src.Loads())
	assert.Equal(t, []string{"clerk"}, second.RoleNames, "callers get their own copy")
}

func TestInvalidateThenBuildRereadsSource(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)

	require.NoError(t, e.src.ReplaceGrants(ctx, e.role, []authz.GrantRef{
		{FormID: e.form, PermissionID: e.view},
		{FormID: e.form, PermissionID: e.edit},
	}))
	e.cache.Invalidate(e.uid)

	got, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.src.Loads())
	assert.Equal(t, []string{"edit", "view"}, got.Menu["billing"]["invoices"])
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)

	e.clk.Advance(9 * time.Minute)
	_, err = e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.src.Loads())

	e.clk.Advance(2 * time.Minute)
	_, err = e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.src.Loads())
}

func TestInactiveRolesAndPrincipals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.src.SetRoleState(e.role, true, true)
	got, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Empty(t, got.RoleNames)
	assert.Empty(t, got.Menu)

	require.NoError(t, e.users.SetActive(ctx, e.uid, false))
	e.cache.Invalidate(e.uid)
	_, err = e.cache.Build(ctx, e.uid)
	require.ErrorIs(t, err, authz.ErrInactivePrincipal)

	_, err = e.cache.Build(ctx, 424242)
	require.ErrorIs(t, err, domainauth.ErrNotFound)
}

// blockingSource parks the first load until released so an invalidation can
// land while it is in flight.
type blockingSource struct {
	authz.Source
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) LoadPrincipal(ctx context.Context, id int64) (*authz.Principal, error) {
	p, err := b.Source.LoadPrincipal(ctx, id)
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return p, err
}

func TestLoadRacingInvalidateIsNotStored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := &blockingSource{Source: e.src, entered: make(chan struct{}), release: make(chan struct{})}
	cache, err := NewCache(src, e.clk, CacheConfig{TTL: time.Hour}, nil)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.Build(ctx, e.uid)
	}()
	<-src.entered

	require.NoError(t, e.src.ReplaceGrants(ctx, e.role, nil))
	cache.Invalidate(e.uid)
	close(src.release)
	<-done

	got, err := cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Empty(t, got.Menu, "snapshot loaded before the invalidation must not be served")
	assert.Zero(t, cache.tracked())
}

func TestInvalidateKeepsNoStateForIdlePrincipals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for id := int64(1); id <= 1000; id++ {
		e.cache.Invalidate(id)
	}
	assert.Zero(t, e.cache.tracked())

	_, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	e.cache.Invalidate(e.uid)
	_, err = e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Zero(t, e.cache.tracked())
}

func TestNewCacheRequiresTTL(t *testing.T) {
	_, err := NewCache(nil, nil, CacheConfig{}, nil)
	require.Error(t, err)
}
