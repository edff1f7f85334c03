package auth_gateway_config

import (
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Turnstile/internal/httpx"
	"github.com/NordCoder/Turnstile/internal/obs"
	kafkarepo "github.com/NordCoder/Turnstile/internal/repository/kafka"
	pg "github.com/NordCoder/Turnstile/internal/repository/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (c *Config) LoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    "turnstile/" + c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

type Auth struct {
	SigningKey        string        `mapstructure:"signing_key"`
	Pepper            string        `mapstructure:"pepper"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	AccessTTLMinutes  int           `mapstructure:"access_ttl_minutes"`
	RefreshTTLDays    int           `mapstructure:"refresh_ttl_days"`
	MaxActiveSessions int           `mapstructure:"max_active_sessions"`
	ReuseGrace        time.Duration `mapstructure:"reuse_grace"`
	CookieDomain      string        `mapstructure:"cookie_domain"`
	CookieSecure      bool          `mapstructure:"cookie_secure"`
}

func (a Auth) AccessTTL() time.Duration  { return time.Duration(a.AccessTTLMinutes) * time.Minute }
func (a Auth) RefreshTTL() time.Duration { return time.Duration(a.RefreshTTLDays) * 24 * time.Hour }

type Authz struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries int64         `mapstructure:"cache_max_entries"`
}

type RateLimit struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
	// TrustedProxies lists peers (CIDR or address) whose X-Forwarded-For
	// header is believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type GRPC struct {
	ServiceToken string `mapstructure:"service_token"`
}

type Outbox struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

type Config struct {
	App       App                      `mapstructure:"app"`
	Server    Server                   `mapstructure:"server"`
	DB        pg.Config                `mapstructure:"db"`
	OTEL      obs.OTELConfig           `mapstructure:"otel"`
	Log       Log                      `mapstructure:"log"`
	Auth      Auth                     `mapstructure:"auth"`
	Authz     Authz                    `mapstructure:"authz"`
	RateLimit RateLimit                `mapstructure:"rate_limit"`
	GRPC      GRPC                     `mapstructure:"grpc"`
	Kafka     kafkarepo.ProducerConfig `mapstructure:"kafka"`
	Outbox    Outbox                   `mapstructure:"outbox"`
}

const minSigningKeyBytes = 32

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	var errs []error
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	if len(c.Auth.SigningKey) < minSigningKeyBytes {
		errs = append(errs, fmt.Errorf("auth.signing_key must be at least %d bytes", minSigningKeyBytes))
	}
	if c.Auth.Pepper == "" {
		errs = append(errs, errors.New("auth.pepper is required"))
	} else if c.Auth.Pepper == c.Auth.SigningKey {
		errs = append(errs, errors.New("auth.pepper must differ from auth.signing_key"))
	}
	if c.Auth.Issuer == "" {
		errs = append(errs, errors.New("auth.issuer is required"))
	}
	if c.Auth.AccessTTLMinutes <= 0 {
		errs = append(errs, errors.New("auth.access_ttl_minutes must be positive"))
	}
	if c.Auth.RefreshTTLDays <= 0 {
		errs = append(errs, errors.New("auth.refresh_ttl_days must be positive"))
	}
	if c.Auth.MaxActiveSessions <= 0 {
		errs = append(errs, errors.New("auth.max_active_sessions must be positive"))
	}
	if c.Auth.ReuseGrace < 0 {
		errs = append(errs, errors.New("auth.reuse_grace must not be negative"))
	}
	if c.Authz.CacheTTL <= 0 {
		errs = append(errs, errors.New("authz.cache_ttl must be positive"))
	}
	if _, err := httpx.ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("rate_limit.trusted_proxies: %w", err))
	}
	if c.GRPC.ServiceToken == "" {
		errs = append(errs, errors.New("grpc.service_token is required"))
	}
	if c.Outbox.Workers <= 0 || c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.workers and outbox.batch_size must be positive"))
	}
	return errors.Join(errs...)
}
