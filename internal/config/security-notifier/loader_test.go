package security_notifier_config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "turnstile.security.events", cfg.In.Topic)
	assert.Equal(t, "security-notifier", cfg.In.GroupID)
	assert.Equal(t, 5, cfg.In.HandlerAttempts)
	assert.Equal(t, "turnstile/security-notifier", cfg.Log.App)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SMTP_ADDR", "mail.internal:25")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mail.internal:25", cfg.SMTP.Addr)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.SMTP.From = ""
	assert.Error(t, cfg.Validate())
}
