// internal/workers/application/send-notification/config.go
package sendnotification

import (
	"time"

	"notification-workers/internal/common/config"
)

type Config struct {
	// JobTimeout bounds one execution including every retry. Zero disables it.
	JobTimeout time.Duration
	// Dedupe short-circuits notifications the delivery log already marks delivered.
	Dedupe bool
}

func LoadConfig() *Config {
	return &Config{
		JobTimeout: 5 * time.Minute,
	}
}

func FromAppConfig(c config.WorkerConfig) *Config {
	cfg := LoadConfig()
	if c.JobTimeout > 0 {
		cfg.JobTimeout = config.GetDuration(c.JobTimeout)
	}
	cfg.Dedupe = c.Dedupe
	return cfg
}
