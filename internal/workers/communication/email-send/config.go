package emailsend

import (
	"fmt"
	"time"

	"notification-workers/internal/common/config"
)

type Config struct {
	Transport    string
	From         string
	MaxRetries   *int
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	// Secure selects implicit TLS; otherwise STARTTLS is used when offered.
	Secure   bool
	PoolSize int
	Timeout  time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Transport: config.EmailTransportSMTP,
		SMTPPort:  587,
		PoolSize:  4,
		Timeout:   30 * time.Second,
		From:      "noreply@example.com",
	}
}

// FromAppConfig maps the channels.email section onto the channel config.
func FromAppConfig(c config.EmailConfig) *Config {
	cfg := DefaultConfig()
	if c.Transport != "" {
		cfg.Transport = c.Transport
	}
	if c.From != "" {
		cfg.From = c.From
	}
	cfg.MaxRetries = c.MaxRetries
	cfg.SMTPHost = c.SMTP.Host
	if c.SMTP.Port > 0 {
		cfg.SMTPPort = c.SMTP.Port
	}
	cfg.SMTPUsername = c.SMTP.Username
	cfg.SMTPPassword = c.SMTP.Password
	cfg.Secure = c.SMTP.Secure
	if c.SMTP.PoolSize > 0 {
		cfg.PoolSize = c.SMTP.PoolSize
	}
	if c.SMTP.Timeout > 0 {
		cfg.Timeout = config.GetDuration(c.SMTP.Timeout)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if c.Transport == config.EmailTransportSES {
		return nil
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("smtp port must be between 1 and 65535")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("smtp pool size must be positive")
	}
	return nil
}
