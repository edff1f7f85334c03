package main

import (
	"context"

	"go.uber.org/zap"

	config "github.com/NordCoder/Turnstile/internal/config/auth-gateway"
	pg "github.com/NordCoder/Turnstile/internal/repository/postgres"
)

func initDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pg.DB, error) {
	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	stat := db.Pool.Stat()
	logger.Info("db connected", zap.Int32("max_conns", stat.MaxConns()), zap.Duration("query_timeout", db.QueryTimeout))
	return db, nil
}
