package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/NordCoder/Turnstile/internal/clock"
	config "github.com/NordCoder/Turnstile/internal/config/security-notifier"
	"github.com/NordCoder/Turnstile/internal/obs"
	"github.com/NordCoder/Turnstile/internal/repository/kafka"
	pg "github.com/NordCoder/Turnstile/internal/repository/postgres"
	notifier "github.com/NordCoder/Turnstile/internal/services/security-notifier"
)

func wiring(db *pg.DB, cfg *config.Config, cons *kafka.Consumer, l *zap.Logger) *notifier.Controller {
	uc := &notifier.Handler{
		Users: pg.NewUserRepo(db),
		Store: pg.NewNotificationRepo(db),
		Out:   notifier.NewMailer(cfg.SMTP).WithLogger(l),
		Clock: clock.Real(),
		Log:   l,
	}
	return &notifier.Controller{Log: l, Sub: cons, UC: uc}
}

func main() {
	configPath := pflag.String("config", "config/security-notifier.yaml", "path to the YAML config file")
	pflag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting security-notifier",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("topic", cfg.In.Topic),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("smtp_addr", cfg.SMTP.Addr),
	)

	otelCloser, err := obs.SetupOTel(rootCtx, &cfg.OTEL)
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	} else {
		defer func() { _ = otelCloser.Shutdown(context.Background()) }()
	}

	db, err := pg.NewDB(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Health, l)

	cons := kafka.BootstrapConsumer(rootCtx, &cfg.In, l).WithLogger(l)
	defer func() { _ = cons.Close() }()

	ctrl := wiring(db, cfg, cons, l)
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(rootCtx) }()

	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("controller error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
