package webhooksend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"notification-workers/internal/models"
)

// Payload is one outbound webhook call, validated before any network I/O.
type Payload struct {
	URL           string
	Method        string
	Body          []byte
	Headers       map[string]string
	Timeout       time.Duration
	RetryOnStatus []int
}

// envelope wraps a non-JSON body so receivers always get a JSON document.
type envelope struct {
	NotificationID string                 `json:"notificationId"`
	TenantID       string                 `json:"tenantId"`
	Priority       models.Priority        `json:"priority,omitempty"`
	Subject        string                 `json:"subject,omitempty"`
	Body           string                 `json:"body"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// PayloadFromJob resolves the job's webhook options against cfg. A body that
// is already a JSON object or array is sent as is.
func PayloadFromJob(job *models.NotificationJob, cfg *Config) (*Payload, error) {
	p := &Payload{
		URL:           job.Recipient.WebhookURL,
		Method:        http.MethodPost,
		Timeout:       cfg.Timeout,
		RetryOnStatus: cfg.RetryOnStatus,
	}
	if opts := job.Webhook; opts != nil {
		if opts.Method != "" {
			p.Method = strings.ToUpper(opts.Method)
		}
		if opts.TimeoutMs > 0 {
			p.Timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
		}
		if len(opts.RetryOnStatus) > 0 {
			p.RetryOnStatus = opts.RetryOnStatus
		}
		p.Headers = opts.Headers
	}
	if len(p.RetryOnStatus) == 0 {
		p.RetryOnStatus = DefaultRetryOnStatus
	}

	if isJSONDocument(job.Content.Body) {
		p.Body = []byte(job.Content.Body)
		return p, nil
	}
	body, err := json.Marshal(envelope{
		NotificationID: job.NotificationID,
		TenantID:       job.TenantID,
		Priority:       job.Priority,
		Subject:        job.Content.Subject,
		Body:           job.Content.Body,
		Data:           job.Content.TemplateData,
		Metadata:       job.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook body: %w", err)
	}
	p.Body = body
	return p, nil
}

func isJSONDocument(s string) bool {
	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid(trimmed)
}

// RetriesOn reports whether status is in the payload's retry list.
func (p *Payload) RetriesOn(status int) bool {
	for _, s := range p.RetryOnStatus {
		if s == status {
			return true
		}
	}
	return false
}
