// internal/models/notification.go
package models

import (
	"strings"
	"time"
)

// Channel identifies a delivery channel. The set is closed.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelSMS     Channel = "SMS"
	ChannelWebhook Channel = "WEBHOOK"
	ChannelPush    Channel = "PUSH"
)

// AllChannels lists every supported channel in a stable order.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWebhook, ChannelPush}

// ParseChannel normalizes a channel name; ok is false for unknown values.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllChannels {
		if c == known {
			return c, true
		}
	}
	return c, false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Recipient holds channel-specific addresses. Exactly one primary address is
// required for the job's channel; CC/BCC/ReplyTo only apply to email.
type Recipient struct {
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	WebhookURL  string   `json:"webhookUrl,omitempty"`
	DeviceToken string   `json:"deviceToken,omitempty"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	ReplyTo     string   `json:"replyTo,omitempty"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	// Content is base64 encoded.
	Content string `json:"content"`
}

type Content struct {
	Subject      string                 `json:"subject,omitempty"`
	Body         string                 `json:"body"`
	HTMLBody     string                 `json:"htmlBody,omitempty"`
	TemplateID   string                 `json:"templateId,omitempty"`
	TemplateData map[string]interface{} `json:"templateData,omitempty"`
	Attachments  []Attachment           `json:"attachments,omitempty"`
}

// WebhookOptions tunes a single webhook delivery. Zero values fall back to
// the channel configuration.
type WebhookOptions struct {
	Method        string            `json:"method,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	TimeoutMs     int               `json:"timeoutMs,omitempty"`
	RetryOnStatus []int             `json:"retryOnStatus,omitempty"`
}

// NotificationJob is one unit of work pulled from the broker.
type NotificationJob struct {
	NotificationID string                 `json:"notificationId"`
	TenantID       string                 `json:"tenantId"`
	Channel        Channel                `json:"channel"`
	Priority       Priority               `json:"priority"`
	Recipient      Recipient              `json:"recipient"`
	Content        Content                `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Webhook        *WebhookOptions        `json:"webhook,omitempty"`
	ScheduledAt    *time.Time             `json:"scheduledAt,omitempty"`
	ExpiresAt      *time.Time             `json:"expiresAt,omitempty"`
	RetryCount     int                    `json:"retryCount"`
	MaxRetries     int                    `json:"maxRetries"`
}

// DefaultMaxRetries applies when a job omits maxRetries.
const DefaultMaxRetries = 3

// IsExpired reports whether the job's expiresAt lies strictly before now.
func (j *NotificationJob) IsExpired(now time.Time) bool {
	return j.ExpiresAt != nil && j.ExpiresAt.Before(now)
}

// IsDue reports whether a scheduled job may be delivered at now.
func (j *NotificationJob) IsDue(now time.Time) bool {
	return j.ScheduledAt == nil || !j.ScheduledAt.After(now)
}

// CorrelationID returns metadata.correlationId when it is a non-empty string.
func (j *NotificationJob) CorrelationID() string {
	if j.Metadata == nil {
		return ""
	}
	if v, ok := j.Metadata["correlationId"].(string); ok {
		return v
	}
	return ""
}

// Failure reasons recorded on results that never reached a transport.
const (
	ReasonExpired         = "expired"
	ReasonDuplicate       = "duplicate"
	ReasonChannelDisabled = "channel_disabled"
	ReasonCircuitOpen     = "circuit_open"
)

// DeliveryResult is produced once per job execution and never mutated afterwards.
type DeliveryResult struct {
	NotificationID   string                 `json:"notificationId"`
	Channel          Channel                `json:"channel"`
	Success          bool                   `json:"success"`
	MessageID        string                 `json:"messageId,omitempty"`
	RequestID        string                 `json:"requestId,omitempty"`
	Accepted         []string               `json:"accepted,omitempty"`
	Rejected         []string               `json:"rejected,omitempty"`
	StatusCode       int                    `json:"statusCode,omitempty"`
	Error            string                 `json:"error,omitempty"`
	ErrorCode        string                 `json:"errorCode,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	Retryable        bool                   `json:"retryable"`
	DeliveredAt      *time.Time             `json:"deliveredAt,omitempty"`
	FailedAt         *time.Time             `json:"failedAt,omitempty"`
	DeliveryTimeMs   int64                  `json:"deliveryTimeMs"`
	Attempts         int                    `json:"attempts"`
	ProviderResponse map[string]interface{} `json:"providerResponse,omitempty"`
}

type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerState is a point-in-time copy of one breaker's state.
type CircuitBreakerState struct {
	State             CircuitState `json:"state"`
	FailureCount      int          `json:"failureCount"`
	LastFailureTime   time.Time    `json:"lastFailureTime,omitempty"`
	HalfOpenCallCount int          `json:"halfOpenCallCount"`
}

// ChannelStats are monotonic counters for one channel.
type ChannelStats struct {
	Channel      Channel      `json:"channel"`
	Sent         uint64       `json:"sent"`
	Failed       uint64       `json:"failed"`
	CircuitState CircuitState `json:"circuitState"`
}

type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
)

type ChannelHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message"`
	LastCheck time.Time    `json:"lastCheck"`
	Stats     ChannelStats `json:"stats"`
}

// HealthReport aggregates channel health for an external monitor.
type HealthReport struct {
	Status      HealthStatus              `json:"status"`
	Channels    map[Channel]ChannelHealth `json:"channels"`
	TotalSent   uint64                    `json:"totalSent"`
	TotalFailed uint64                    `json:"totalFailed"`
	CheckedAt   time.Time                 `json:"checkedAt"`
}
