package introspect

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	"github.com/NordCoder/Turnstile/internal/clock"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/domain/user"
	"github.com/NordCoder/Turnstile/internal/obs"
	"github.com/NordCoder/Turnstile/internal/repository/memory"
	authzsvc "github.com/NordCoder/Turnstile/internal/services/auth-gateway/authz"
)

const (
	bufSize      = 1024 * 1024
	serviceToken = "svc-token"
)

type fixture struct {
	conn   *grpc.ClientConn
	issuer *creds.Issuer
	userID int64
	clk    *clock.Fake
}

func start(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	issuer, err := creds.NewIssuer(creds.IssuerConfig{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:   "turnstile",
		Audience: "turnstile-api",
		TTL:      15 * time.Minute,
	}, clk)
	require.NoError(t, err)

	store := memory.NewStore(nil)
	users := memory.NewUserRepo(store)
	az := memory.NewAuthzRepo(store)
	uid := users.Add(user.User{Email: "ops@example.com", FullName: "Ops", Active: true})
	role := az.AddRole("auditor")
	form := az.AddForm("security", "sessions")
	perm := az.AddPermission("View")
	require.NoError(t, az.AssignRole(context.Background(), uid, role))
	require.NoError(t, az.ReplaceGrants(context.Background(), role, []authz.GrantRef{{FormID: form, PermissionID: perm}}))

	cache, err := authzsvc.NewCache(az, clk, authzsvc.CacheConfig{TTL: time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	srv, _ := NewGRPCServer(NewServer(issuer.Parse, cache, nil), serviceToken, obs.GRPCServerOpts()...)
	lis := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialOpts := append(obs.GRPCDialOpts(),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	conn, err := grpc.NewClient("passthrough:///bufnet", dialOpts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.GracefulStop()
		_ = conn.Close()
		_ = lis.Close()
	})
	return &fixture{conn: conn, issuer: issuer, userID: uid, clk: clk}
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIntrospectValidToken(t *testing.T) {
	f := start(t)
	token, exp, err := f.issuer.Issue(domainauth.Principal{ID: f.userID, Email: "ops@example.com", Roles: []string{"auditor"}})
	require.NoError(t, err)

	got, err := NewClient(f.conn, serviceToken).Introspect(ctxTimeout(t), token)
	require.NoError(t, err)

	m := got.AsMap()
	assert.Equal(t, "ops@example.com", m["email"])
	assert.Equal(t, []any{"auditor"}, m["roles"])
	assert.Equal(t, float64(exp.Unix()), m["exp"])
}

func TestIntrospectExpiredTokenIsUnauthenticated(t *testing.T) {
	f := start(t)
	token, _, err := f.issuer.Issue(domainauth.Principal{ID: f.userID, Email: "ops@example.com"})
	require.NoError(t, err)
	f.clk.Advance(time.Hour)

	_, err = NewClient(f.conn, serviceToken).Introspect(ctxTimeout(t), token)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthorizationContext(t *testing.T) {
	f := start(t)

	got, err := NewClient(f.conn, serviceToken).AuthorizationContext(ctxTimeout(t), f.userID)
	require.NoError(t, err)

	m := got.AsMap()
	assert.Equal(t, []any{"auditor"}, m["roles"])
	menu := m["menu"].(map[string]any)
	assert.Equal(t, []any{"view"}, menu["security"].(map[string]any)["sessions"])
}

func TestAuthorizationContextUnknownPrincipal(t *testing.T) {
	f := start(t)

	_, err := NewClient(f.conn, serviceToken).AuthorizationContext(ctxTimeout(t), 9999)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServiceTokenRequired(t *testing.T) {
	f := start(t)

	_, err := NewClient(f.conn, "").AuthorizationContext(ctxTimeout(t), f.userID)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = NewClient(f.conn, "wrong").AuthorizationContext(ctxTimeout(t), f.userID)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestHealthIsPublic(t *testing.T) {
	f := start(t)

	resp, err := healthpb.NewHealthClient(f.conn).Check(ctxTimeout(t), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
