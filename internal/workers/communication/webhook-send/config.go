package webhooksend

import (
	"time"

	"notification-workers/internal/common/config"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "notification-workers/1.0"
)

// DefaultRetryOnStatus lists the statuses retried when neither the job nor
// the configuration names any.
var DefaultRetryOnStatus = []int{429, 500, 502, 503, 504}

type Config struct {
	SigningSecret string
	Timeout       time.Duration
	MaxRetries    *int
	UserAgent     string
	RetryOnStatus []int
	// MaxResponseBytes bounds how much of a response body is kept for the result.
	MaxResponseBytes int64
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:          DefaultTimeout,
		UserAgent:        DefaultUserAgent,
		RetryOnStatus:    append([]int(nil), DefaultRetryOnStatus...),
		MaxResponseBytes: 4096,
	}
}

func FromAppConfig(c config.WebhookConfig) *Config {
	cfg := DefaultConfig()
	cfg.SigningSecret = c.SigningSecret
	if c.Timeout > 0 {
		cfg.Timeout = config.GetDuration(c.Timeout)
	}
	cfg.MaxRetries = c.MaxRetries
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	if len(c.RetryOnStatus) > 0 {
		cfg.RetryOnStatus = append([]int(nil), c.RetryOnStatus...)
	}
	return cfg
}
