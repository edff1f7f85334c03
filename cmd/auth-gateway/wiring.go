package main

import (
	"fmt"

	"go.uber.org/zap"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	"github.com/NordCoder/Turnstile/internal/clock"
	config "github.com/NordCoder/Turnstile/internal/config/auth-gateway"
	"github.com/NordCoder/Turnstile/internal/outbox"
	pg "github.com/NordCoder/Turnstile/internal/repository/postgres"
	"github.com/NordCoder/Turnstile/internal/services/auth-gateway/auth"
	"github.com/NordCoder/Turnstile/internal/services/auth-gateway/authz"
)

// app holds every long-lived component; main owns their lifetimes.
type app struct {
	auth   *auth.Usecase
	admin  *authz.AdminUsecase
	cache  *authz.Cache
	issuer *creds.Issuer
	outbox *pg.OutboxRepo
}

func wire(cfg *config.Config, db *pg.DB, logger *zap.Logger) (*app, error) {
	clk := clock.Real()

	issuer, err := creds.NewIssuer(creds.IssuerConfig{
		Secret:   []byte(cfg.Auth.SigningKey),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.AccessTTL(),
	}, clk)
	if err != nil {
		return nil, fmt.Errorf("access issuer: %w", err)
	}
	hasher, err := creds.NewHasher([]byte(cfg.Auth.Pepper))
	if err != nil {
		return nil, fmt.Errorf("secret hasher: %w", err)
	}

	tx := pg.NewTransactor(db, logger)
	users := pg.NewUserRepo(db)
	tokens := pg.NewRefreshTokenRepo(db)
	authzRepo := pg.NewAuthzRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)
	events := outbox.NewEventSink(outboxRepo)

	renewals, err := auth.NewRenewalManager(tokens, tx, events, hasher, creds.GenerateRawToken, clk, auth.RenewalConfig{
		TTL:        cfg.Auth.RefreshTTL(),
		MaxActive:  cfg.Auth.MaxActiveSessions,
		ReuseGrace: cfg.Auth.ReuseGrace,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("renewal manager: %w", err)
	}

	cache, err := authz.NewCache(authzRepo, clk, authz.CacheConfig{
		TTL:        cfg.Authz.CacheTTL,
		MaxEntries: cfg.Authz.CacheMaxEntries,
	}, logger)
	if err != nil {
		return nil, err
	}

	uc := auth.NewUseCase(auth.Deps{
		Users:    users,
		Renewals: renewals,
		Issuer:   issuer,
		Tx:       tx,
		Events:   events,
		Cache:    cache,
		Gen:      creds.GenerateRawToken,
		Clock:    clk,
		Logger:   logger,
	})

	return &app{
		auth:   uc,
		admin:  authz.NewAdminUsecase(authzRepo, tx, cache, logger),
		cache:  cache,
		issuer: issuer,
		outbox: outboxRepo,
	}, nil
}
