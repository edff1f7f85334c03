package main

import (
	"net"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	config "github.com/NordCoder/Turnstile/internal/config/auth-gateway"
	"github.com/NordCoder/Turnstile/internal/obs"
	"github.com/NordCoder/Turnstile/internal/services/auth-gateway/introspect"
)

func buildGRPCServer(cfg *config.Config, logger *zap.Logger, a *app) (*grpc.Server, net.Listener, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()

	opts := obs.GRPCServerOpts()
	opts = append(opts,
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	srv := introspect.NewServer(a.issuer.Parse, a.cache, logger)
	grpcServer, _ := introspect.NewGRPCServer(srv, cfg.GRPC.ServiceToken, opts...)
	grpcMetrics.InitializeMetrics(grpcServer)

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, err
	}
	return grpcServer, ln, nil
}

func serveGRPC(s *grpc.Server, ln net.Listener, logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}
