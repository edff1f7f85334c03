package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Turnstile/internal/config/auth-gateway"
	"github.com/NordCoder/Turnstile/internal/httpx"
	"github.com/NordCoder/Turnstile/internal/obs"
	pg "github.com/NordCoder/Turnstile/internal/repository/postgres"
	"github.com/NordCoder/Turnstile/internal/services/auth-gateway/auth"
	"github.com/NordCoder/Turnstile/internal/services/auth-gateway/authz"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, db *pg.DB, a *app, limiter *httpx.RateLimiter) *http.Server {
	mux := http.NewServeMux()
	auth.NewController(a.auth, auth.CookieConfig{
		Domain: cfg.Auth.CookieDomain,
		Secure: cfg.Auth.CookieSecure,
	}, logger).Register(mux, limiter)
	authz.NewController(a.admin, a.cache, a.issuer.Parse, logger).Register(mux)
	obs.RegisterOps(mux, db.Health)

	handler := httpx.SecurityHeaders(httpx.Logging(logger, mux))

	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           obs.HTTPHandler(handler, "turnstile.http"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func serveHTTP(srv *http.Server, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", srv.Addr))
	return srv.ListenAndServe()
}
