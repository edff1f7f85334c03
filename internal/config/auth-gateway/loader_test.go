package auth_gateway_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
auth:
  signing_key: "0123456789abcdef0123456789abcdef"
  pepper: "pepper-distinct-from-key"
grpc:
  service_token: "svc"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL())
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshTTL())
	assert.Equal(t, 5, cfg.Auth.MaxActiveSessions)
	assert.Equal(t, 10*time.Minute, cfg.Authz.CacheTTL)
	assert.Zero(t, cfg.Auth.ReuseGrace)
	assert.True(t, cfg.Auth.CookieSecure)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "turnstile/auth-gateway", cfg.LoggerConfig().App)
	assert.Empty(t, cfg.RateLimit.TrustedProxies)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_MAX_ACTIVE_SESSIONS", "3")
	t.Setenv("AUTHZ_CACHE_TTL", "90s")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Auth.MaxActiveSessions)
	assert.Equal(t, 90*time.Second, cfg.Authz.CacheTTL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validYAML))
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"short signing key": func(c *Config) { c.Auth.SigningKey = "short" },
		"missing pepper":    func(c *Config) { c.Auth.Pepper = "" },
		"pepper equals key": func(c *Config) { c.Auth.Pepper = c.Auth.SigningKey },
		"zero access ttl":   func(c *Config) { c.Auth.AccessTTLMinutes = 0 },
		"zero refresh ttl":  func(c *Config) { c.Auth.RefreshTTLDays = 0 },
		"zero cap":          func(c *Config) { c.Auth.MaxActiveSessions = 0 },
		"zero cache ttl":    func(c *Config) { c.Authz.CacheTTL = 0 },
		"no service token":  func(c *Config) { c.GRPC.ServiceToken = "" },
		"bad proxy":         func(c *Config) { c.RateLimit.TrustedProxies = []string{"proxy.local"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	_, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.Error(t, err)
}
