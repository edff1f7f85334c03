package introspect

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/obs"
)

type ContextBuilder interface {
	Build(ctx context.Context, principalID int64) (*authz.Context, error)
}

type Server struct {
	log   *zap.Logger
	parse func(token string) (*creds.AccessClaims, error)
	cache ContextBuilder
}

func NewServer(parse func(string) (*creds.AccessClaims, error), cache ContextBuilder, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:   log.With(zap.String("component", "introspect")),
		parse: parse,
		cache: cache,
	}
}

// NewGRPCServer wires the introspection service with health and reflection
// behind the service token. opts are applied first.
func NewGRPCServer(srv *Server, serviceToken string, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryServiceTokenInterceptor(serviceToken)),
		grpc.ChainStreamInterceptor(StreamServiceTokenInterceptor(serviceToken)),
	)
	s := grpc.NewServer(opts...)
	RegisterIntrospectionServer(s, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	reflection.Register(s)
	return s, hs
}

func (s *Server) Introspect(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	cl, err := s.parse(in.GetValue())
	if err != nil {
		obs.WithTrace(ctx, s.log).Debug("introspection rejected", zap.Error(err))
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	return claimsStruct(cl)
}

func (s *Server) AuthorizationContext(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	id := in.GetValue()
	if id <= 0 {
		return nil, status.Error(codes.InvalidArgument, "principal id must be positive")
	}
	actx, err := s.cache.Build(ctx, id)
	switch {
	case errors.Is(err, domainauth.ErrNotFound), errors.Is(err, authz.ErrInactivePrincipal):
		return nil, status.Error(codes.NotFound, "principal not found")
	case err != nil:
		obs.WithTrace(ctx, s.log).Error("build authorization context", zap.Int64("user_id", id), zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return contextStruct(actx)
}

func claimsStruct(cl *creds.AccessClaims) (*structpb.Struct, error) {
	m := map[string]any{
		"sub":   cl.Subject,
		"email": cl.Email,
		"roles": anySlice(cl.Roles),
		"jti":   cl.ID,
		"iss":   cl.Issuer,
		"aud":   anySlice(cl.Audience),
	}
	if cl.PersonID != nil {
		m["person_id"] = *cl.PersonID
	}
	if cl.IssuedAt != nil {
		m["iat"] = cl.IssuedAt.Unix()
	}
	if cl.ExpiresAt != nil {
		m["exp"] = cl.ExpiresAt.Unix()
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode claims")
	}
	return out, nil
}

func contextStruct(c *authz.Context) (*structpb.Struct, error) {
	menu := make(map[string]any, len(c.Menu))
	for module, forms := range c.Menu {
		fm := make(map[string]any, len(forms))
		for form, perms := range forms {
			fm[form] = anySlice(perms)
		}
		menu[module] = fm
	}
	m := map[string]any{
		"id":        c.ID,
		"full_name": c.FullName,
		"email":     c.Email,
		"roles":     anySlice(c.RoleNames),
		"menu":      menu,
	}
	if c.PersonID != nil {
		m["person_id"] = *c.PersonID
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode authorization context")
	}
	return out, nil
}

// anySlice widens ss for structpb, which only accepts []any.
func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
