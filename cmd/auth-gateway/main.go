package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	config "github.com/NordCoder/Turnstile/internal/config/auth-gateway"
	"github.com/NordCoder/Turnstile/internal/httpx"
	"github.com/NordCoder/Turnstile/internal/obs"
	"github.com/NordCoder/Turnstile/internal/obs/retry"
	"github.com/NordCoder/Turnstile/internal/outbox"
	kafkarepo "github.com/NordCoder/Turnstile/internal/repository/kafka"
)

func main() {
	configPath := pflag.String("config", "config/auth-gateway.yaml", "path to the YAML config file")
	pflag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting auth-gateway", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelShutdown, err := initOTel(rootCtx, cfg)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := initDB(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	a, err := wire(cfg, db, logger)
	if err != nil {
		logger.Fatal("wiring", zap.Error(err))
	}
	defer a.cache.Close()

	producer := kafkarepo.NewProducer(cfg.Kafka).WithLogger(logger)
	defer func() { _ = producer.Close() }()
	if err := producer.Warmup(rootCtx); err != nil {
		// publishing retries the warmup, the outbox keeps events meanwhile
		logger.Warn("kafka warmup", zap.Error(err))
	}

	runner := outbox.NewOutboxRunner(logger, a.outbox,
		outbox.MakeGlobalOutboxHandler(kafkarepo.NewSecurityEventsKafka(producer), retry.DefaultKafkaPolicy(logger)),
		cfg.Outbox.Workers, cfg.Outbox.BatchSize, cfg.Outbox.WaitTime, cfg.Outbox.InProgressTTL,
	).WithMaxAttempts(cfg.Outbox.MaxAttempts)

	trusted, err := httpx.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}
	limiter := httpx.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst).WithTrustedProxies(trusted)

	var bg sync.WaitGroup
	bgCtx, bgCancel := context.WithCancel(rootCtx)
	bg.Add(2)
	go func() { defer bg.Done(); runner.Run(bgCtx) }()
	go func() { defer bg.Done(); limiter.Run(bgCtx) }()

	grpcServer, grpcLn, err := buildGRPCServer(cfg, logger, a)
	if err != nil {
		logger.Fatal("build grpc", zap.Error(err))
	}
	grpcErrCh := make(chan error, 1)
	go func() { grpcErrCh <- serveGRPC(grpcServer, grpcLn, logger) }()

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsSrv = obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Health, logger)
	}

	httpSrv := buildHTTPServer(cfg, logger, db, a, limiter)
	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- serveHTTP(httpSrv, logger) }()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal")
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	_ = httpSrv.Shutdown(shCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shCtx)
	}
	grpcServer.GracefulStop()
	bgCancel()
	bg.Wait()
	logger.Info("bye")
}
