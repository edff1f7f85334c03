package main

import (
	"go.uber.org/zap"

	config "github.com/NordCoder/Turnstile/internal/config/auth-gateway"
	"github.com/NordCoder/Turnstile/internal/obs"
)

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(cfg.LoggerConfig())
}
