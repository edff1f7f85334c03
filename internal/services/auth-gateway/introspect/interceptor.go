package introspect

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var publicFullMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// UnaryServiceTokenInterceptor admits callers presenting the shared service
// token as a bearer credential. An empty expected token rejects everything.
func UnaryServiceTokenInterceptor(expected string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if publicFullMethods[info.FullMethod] {
			return next(ctx, req)
		}
		if !validServiceToken(ctx, expected) {
			return nil, status.Error(codes.Unauthenticated, "invalid service token")
		}
		return next(ctx, req)
	}
}

// StreamServiceTokenInterceptor guards streaming methods such as reflection.
func StreamServiceTokenInterceptor(expected string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if publicFullMethods[info.FullMethod] {
			return next(srv, ss)
		}
		if !validServiceToken(ss.Context(), expected) {
			return status.Error(codes.Unauthenticated, "invalid service token")
		}
		return next(srv, ss)
	}
}

func validServiceToken(ctx context.Context, expected string) bool {
	if expected == "" {
		return false
	}
	got := bearer(ctx)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func bearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}
