package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
broker:
  type: redis
database:
  redis:
    address: localhost:6379
channels:
  email:
    from: noreply@example.com
    smtp:
      host: smtp.example.com
`

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "notifications", cfg.Broker.QueuePrefix)
	assert.Equal(t, 4, cfg.Broker.Concurrency)
	assert.Equal(t, 300000, cfg.Broker.VisibilityTimeout)
	assert.True(t, cfg.Channels.Email.Enabled)
	assert.True(t, cfg.Channels.Webhook.Enabled)
	assert.True(t, cfg.Channels.SMS.Enabled)
	assert.True(t, cfg.Channels.Push.Enabled)
	assert.Equal(t, 587, cfg.Channels.Email.SMTP.Port)
	assert.Equal(t, 30000, cfg.Channels.Webhook.Timeout)
	assert.Equal(t, []int{429, 500, 502, 503, 504}, cfg.Channels.Webhook.RetryOnStatus)
	assert.False(t, cfg.Database.Postgres.Enabled())

	assert.Nil(t, cfg.Channels.Webhook.MaxRetries)
	policy := cfg.Retry.Policy(cfg.Channels.Webhook.MaxRetries)
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, time.Second, policy.InitialDelay)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)
	assert.InDelta(t, 0.1, policy.JitterFactor, 1e-9)
	assert.True(t, policy.RetryOnTimeout)
	seven := 7
	assert.Equal(t, 7, cfg.Retry.Policy(&seven).MaxRetries)

	breaker := cfg.CircuitBreaker.Breaker()
	assert.Equal(t, 5, breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, breaker.ResetTimeout)
	assert.Equal(t, 1, breaker.HalfOpenMaxCalls)
}

func TestLoadFromFile_EnvironmentSurfaceOverrides(t *testing.T) {
	t.Setenv("SMTP_HOST", "mail.internal")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_SECURE", "true")
	t.Setenv("WEBHOOK_SIGNING_SECRET", "whsec")
	t.Setenv("WEBHOOK_TIMEOUT_MS", "5000")
	t.Setenv("WEBHOOK_MAX_RETRIES", "6")
	t.Setenv("SMS_ENABLED", "false")

	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "mail.internal", cfg.Channels.Email.SMTP.Host)
	assert.Equal(t, 2525, cfg.Channels.Email.SMTP.Port)
	assert.True(t, cfg.Channels.Email.SMTP.Secure)
	assert.Equal(t, "whsec", cfg.Channels.Webhook.SigningSecret)
	assert.Equal(t, 5000, cfg.Channels.Webhook.Timeout)
	require.NotNil(t, cfg.Channels.Webhook.MaxRetries)
	assert.Equal(t, 6, *cfg.Channels.Webhook.MaxRetries)
	assert.False(t, cfg.Channels.SMS.Enabled)
}

func TestLoadFromFile_ZeroChannelRetriesDisablesRetry(t *testing.T) {
	t.Setenv("WEBHOOK_MAX_RETRIES", "0")

	cfg, err := LoadFromFile(writeConfig(t, minimalConfig+`
  sms:
    max_retries: 0
`))
	require.NoError(t, err)

	require.NotNil(t, cfg.Channels.Webhook.MaxRetries)
	assert.Equal(t, 0, cfg.Retry.Policy(cfg.Channels.Webhook.MaxRetries).MaxRetries)
	require.NotNil(t, cfg.Channels.SMS.MaxRetries)
	assert.Equal(t, 0, cfg.Retry.Policy(cfg.Channels.SMS.MaxRetries).MaxRetries)
	assert.Nil(t, cfg.Channels.Email.MaxRetries)
	assert.Equal(t, 3, cfg.Retry.Policy(cfg.Channels.Email.MaxRetries).MaxRetries)
}

func TestRetryConfig_PolicyZeroOverride(t *testing.T) {
	section := RetryConfig{MaxRetries: 3, InitialDelay: 1000, MaxDelay: 30000, BackoffMultiplier: 2}
	zero := 0
	assert.Equal(t, 0, section.Policy(&zero).MaxRetries)
	assert.Equal(t, 3, section.Policy(nil).MaxRetries)
}

func TestLoadFromFile_ExpandsPlaceholders(t *testing.T) {
	t.Setenv("TEST_SMTP_PASSWORD", "hunter2")
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig+`
      password: ${TEST_SMTP_PASSWORD}
`))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Channels.Email.SMTP.Password)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown broker", "broker:\n  type: kafka\n"},
		{"redis broker without address", "broker:\n  type: redis\nchannels:\n  email:\n    enabled: false\n"},
		{"zeebe broker without address", "broker:\n  type: zeebe\nchannels:\n  email:\n    enabled: false\n"},
		{"email without smtp host", "database:\n  redis:\n    address: x:1\nchannels:\n  email:\n    from: a@b.co\n"},
		{"dedupe without postgres", "database:\n  redis:\n    address: x:1\nchannels:\n  email:\n    enabled: false\nworker:\n  dedupe: true\n"},
		{"bad jitter", minimalConfig + "retry:\n  jitter_factor: 3\n"},
		{"visibility within job timeout", strings.Replace(minimalConfig, "  type: redis\n", "  type: redis\n  visibility_timeout: 60000\n", 1) + "worker:\n  job_timeout: 60000\n"},
		{"negative channel retries", minimalConfig + "  push:\n    max_retries: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestGetDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", p.GetDSN())
	assert.True(t, p.Enabled())
}
