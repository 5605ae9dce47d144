// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBindings maps the flat environment surface onto config keys.
var envBindings = map[string]string{
	"app.environment":                 "APP_ENVIRONMENT",
	"broker.type":                     "BROKER_TYPE",
	"camunda.broker_address":          "ZEEBE_ADDRESS",
	"database.redis.address":          "REDIS_ADDRESS",
	"database.redis.password":         "REDIS_PASSWORD",
	"database.postgres.host":          "DB_HOST",
	"database.postgres.port":          "DB_PORT",
	"database.postgres.database":      "DB_NAME",
	"database.postgres.user":          "DB_USER",
	"database.postgres.password":      "DB_PASSWORD",
	"aws.region":                      "AWS_REGION",
	"channels.email.enabled":          "EMAIL_ENABLED",
	"channels.email.from":             "SMTP_FROM",
	"channels.email.smtp.host":        "SMTP_HOST",
	"channels.email.smtp.port":        "SMTP_PORT",
	"channels.email.smtp.secure":      "SMTP_SECURE",
	"channels.email.smtp.username":    "SMTP_USERNAME",
	"channels.email.smtp.password":    "SMTP_PASSWORD",
	"channels.webhook.enabled":        "WEBHOOK_ENABLED",
	"channels.webhook.signing_secret": "WEBHOOK_SIGNING_SECRET",
	"channels.webhook.timeout":        "WEBHOOK_TIMEOUT_MS",
	"channels.webhook.max_retries":    "WEBHOOK_MAX_RETRIES",
	"channels.sms.enabled":            "SMS_ENABLED",
	"channels.push.enabled":           "PUSH_ENABLED",
	"logging.level":                   "LOG_LEVEL",
	"logging.format":                  "LOG_FORMAT",
	"server.address":                  "SERVER_ADDRESS",
}

func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg, v)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile loads the first .env found walking up from the working directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// applyDefaults sets default values for optional configuration fields.
// Booleans default through viper so an explicit false is respected.
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.App.Name == "" {
		cfg.App.Name = "notification-worker"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	// Broker defaults
	if cfg.Broker.Type == "" {
		cfg.Broker.Type = BrokerRedis
	}
	if cfg.Broker.QueuePrefix == "" {
		cfg.Broker.QueuePrefix = "notifications"
	}
	if cfg.Broker.Concurrency == 0 {
		cfg.Broker.Concurrency = 4
	}
	if cfg.Broker.BlockTimeout == 0 {
		cfg.Broker.BlockTimeout = 5000
	}
	if cfg.Broker.SchedulerInterval == 0 {
		cfg.Broker.SchedulerInterval = 1000
	}
	if cfg.Broker.VisibilityTimeout == 0 {
		cfg.Broker.VisibilityTimeout = 300000
	}
	if cfg.Broker.ConnectMaxRetries == 0 {
		cfg.Broker.ConnectMaxRetries = 5
	}

	// Camunda defaults
	if cfg.Camunda.TaskType == "" {
		cfg.Camunda.TaskType = "send-notification"
	}
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}

	// Channel defaults
	defaultTrue := func(key string, field *bool) {
		if !v.IsSet(key) {
			*field = true
		}
	}
	defaultTrue("channels.email.enabled", &cfg.Channels.Email.Enabled)
	defaultTrue("channels.webhook.enabled", &cfg.Channels.Webhook.Enabled)
	defaultTrue("channels.sms.enabled", &cfg.Channels.SMS.Enabled)
	defaultTrue("channels.push.enabled", &cfg.Channels.Push.Enabled)
	if cfg.Channels.Email.Transport == "" {
		cfg.Channels.Email.Transport = EmailTransportSMTP
	}
	if cfg.Channels.Email.SMTP.Port == 0 {
		cfg.Channels.Email.SMTP.Port = 587
	}
	if cfg.Channels.Email.SMTP.PoolSize == 0 {
		cfg.Channels.Email.SMTP.PoolSize = 5
	}
	if cfg.Channels.Email.SMTP.Timeout == 0 {
		cfg.Channels.Email.SMTP.Timeout = 30000
	}
	if cfg.Channels.Webhook.Timeout == 0 {
		cfg.Channels.Webhook.Timeout = 30000
	}
	if cfg.Channels.Webhook.UserAgent == "" {
		cfg.Channels.Webhook.UserAgent = "notification-worker/1.0"
	}
	if len(cfg.Channels.Webhook.RetryOnStatus) == 0 {
		cfg.Channels.Webhook.RetryOnStatus = []int{429, 500, 502, 503, 504}
	}

	// Resilience defaults
	if !v.IsSet("retry.max_retries") {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 1000
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30000
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2
	}
	if !v.IsSet("retry.jitter_factor") {
		cfg.Retry.JitterFactor = 0.1
	}
	if !v.IsSet("retry.retry_on_timeout") {
		cfg.Retry.RetryOnTimeout = true
	}
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.CircuitBreaker.ResetTimeout == 0 {
		cfg.CircuitBreaker.ResetTimeout = 30000
	}
	if cfg.CircuitBreaker.HalfOpenMaxCalls == 0 {
		cfg.CircuitBreaker.HalfOpenMaxCalls = 1
	}

	// Worker defaults
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = 120000
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = 30000
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.Broker.Type {
	case BrokerRedis:
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis broker")
		}
	case BrokerZeebe:
		if cfg.Camunda.BrokerAddress == "" {
			return fmt.Errorf("camunda.broker_address is required for the zeebe broker")
		}
	default:
		return fmt.Errorf("broker.type must be %q or %q, got %q", BrokerRedis, BrokerZeebe, cfg.Broker.Type)
	}

	if cfg.Broker.Type == BrokerRedis && cfg.Broker.VisibilityTimeout <= cfg.Worker.JobTimeout {
		return fmt.Errorf("broker.visibility_timeout must exceed worker.job_timeout")
	}

	if cfg.Database.Postgres.Enabled() {
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	} else if cfg.Worker.Dedupe {
		return fmt.Errorf("worker.dedupe requires database.postgres")
	}

	email := cfg.Channels.Email
	if email.Enabled {
		if email.From == "" {
			return fmt.Errorf("channels.email.from is required")
		}
		switch email.Transport {
		case EmailTransportSMTP:
			if email.SMTP.Host == "" {
				return fmt.Errorf("channels.email.smtp.host is required")
			}
		case EmailTransportSES:
		default:
			return fmt.Errorf("channels.email.transport must be %q or %q", EmailTransportSMTP, EmailTransportSES)
		}
	}

	if cfg.Channels.Webhook.Timeout < 0 {
		return fmt.Errorf("channels.webhook.timeout must be >= 0")
	}
	if cfg.Channels.SMS.Provider != "" && cfg.Channels.SMS.Provider != "sns" {
		return fmt.Errorf("channels.sms.provider must be empty or \"sns\"")
	}

	for name, n := range map[string]*int{
		"email":   cfg.Channels.Email.MaxRetries,
		"webhook": cfg.Channels.Webhook.MaxRetries,
		"sms":     cfg.Channels.SMS.MaxRetries,
		"push":    cfg.Channels.Push.MaxRetries,
	} {
		if n != nil && *n < 0 {
			return fmt.Errorf("channels.%s.max_retries must be >= 0", name)
		}
	}

	if err := cfg.Retry.Policy(nil).Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := cfg.CircuitBreaker.Breaker().Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}
	return nil
}
