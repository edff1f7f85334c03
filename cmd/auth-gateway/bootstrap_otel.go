package main

import (
	"context"

	config "github.com/NordCoder/Turnstile/internal/config/auth-gateway"
	"github.com/NordCoder/Turnstile/internal/obs"
)

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	otelCfg := cfg.OTEL
	if otelCfg.ServiceName == "" {
		otelCfg.ServiceName = cfg.App.Name
	}
	closer, err := obs.SetupOTel(ctx, &otelCfg)
	if err != nil {
		return nil, err
	}
	return closer.Shutdown, nil
}
