// internal/common/config/config.go
package config

import (
	"fmt"
	"time"

	"notification-workers/internal/common/circuitbreaker"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/retry"
)

// Config is the main application configuration struct.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Camunda        CamundaConfig        `mapstructure:"camunda"`
	Database       DatabaseConfig       `mapstructure:"database"`
	AWS            AWSConfig            `mapstructure:"aws"`
	Channels       ChannelsConfig       `mapstructure:"channels"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

const (
	BrokerRedis = "redis"
	BrokerZeebe = "zeebe"
)

// BrokerConfig selects where jobs are pulled from.
type BrokerConfig struct {
	Type              string `mapstructure:"type"`
	QueuePrefix       string `mapstructure:"queue_prefix"`
	Concurrency       int    `mapstructure:"concurrency"`         // goroutines per channel queue
	BlockTimeout      int    `mapstructure:"block_timeout"`       // milliseconds
	SchedulerInterval int    `mapstructure:"scheduler_interval"`  // milliseconds
	VisibilityTimeout int    `mapstructure:"visibility_timeout"`  // milliseconds an unsettled job stays leased
	ConnectMaxRetries int    `mapstructure:"connect_max_retries"` // startup connection attempts
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	TaskType       string `mapstructure:"task_type"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// Enabled reports whether a delivery log database is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// --- Channel Configuration ---

type ChannelsConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Push    PushConfig    `mapstructure:"push"`
}

const (
	EmailTransportSMTP = "smtp"
	EmailTransportSES  = "ses"
)

type EmailConfig struct {
	Enabled    bool       `mapstructure:"enabled"`
	Transport  string     `mapstructure:"transport"`
	From       string     `mapstructure:"from"`
	MaxRetries *int       `mapstructure:"max_retries"` // nil inherits retry.max_retries
	SMTP       SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Secure   bool   `mapstructure:"secure"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	PoolSize int    `mapstructure:"pool_size"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

type WebhookConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SigningSecret string `mapstructure:"signing_secret"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
	MaxRetries    *int   `mapstructure:"max_retries"`
	UserAgent     string `mapstructure:"user_agent"`
	RetryOnStatus []int  `mapstructure:"retry_on_status"`
}

type SMSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Provider   string `mapstructure:"provider"` // "sns" or empty for the placeholder transport
	SenderID   string `mapstructure:"sender_id"`
	MaxRetries *int   `mapstructure:"max_retries"`
}

type PushConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxRetries *int `mapstructure:"max_retries"`
}

// --- Resilience Configuration ---

type RetryConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialDelay      int     `mapstructure:"initial_delay"` // milliseconds
	MaxDelay          int     `mapstructure:"max_delay"`     // milliseconds
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	JitterFactor      float64 `mapstructure:"jitter_factor"`
	RetryOnTimeout    bool    `mapstructure:"retry_on_timeout"`
	AttemptTimeout    int     `mapstructure:"attempt_timeout"` // milliseconds
	RetryableStatus   []int   `mapstructure:"retryable_status_codes"`
}

// Policy converts the section into a retry policy. A non-nil maxRetries
// replaces the section's MaxRetries, zero included.
func (r RetryConfig) Policy(maxRetries *int) retry.Config {
	p := retry.DefaultConfig()
	p.MaxRetries = r.MaxRetries
	p.InitialDelay = GetDuration(r.InitialDelay)
	p.MaxDelay = GetDuration(r.MaxDelay)
	p.BackoffMultiplier = r.BackoffMultiplier
	p.JitterFactor = r.JitterFactor
	p.RetryOnTimeout = r.RetryOnTimeout
	p.AttemptTimeout = GetDuration(r.AttemptTimeout)
	if len(r.RetryableStatus) > 0 {
		p.RetryableStatusCodes = append([]int(nil), r.RetryableStatus...)
	}
	p.RetryableErrorCodes = []errors.ErrorCode{
		errors.ErrCodeTransientNetwork,
		errors.ErrCodeRateLimited,
		errors.ErrCodeTimeout,
	}
	if maxRetries != nil {
		p.MaxRetries = *maxRetries
	}
	return p
}

type CircuitBreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeout     int `mapstructure:"reset_timeout"` // milliseconds
	HalfOpenMaxCalls int `mapstructure:"half_open_max_calls"`
}

func (c CircuitBreakerConfig) Breaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     GetDuration(c.ResetTimeout),
		HalfOpenMaxCalls: c.HalfOpenMaxCalls,
	}
}

// WorkerConfig holds orchestrator settings.
type WorkerConfig struct {
	JobTimeout      int  `mapstructure:"job_timeout"`      // milliseconds
	ShutdownTimeout int  `mapstructure:"shutdown_timeout"` // milliseconds
	Dedupe          bool `mapstructure:"dedupe"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
