package emailsend

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"notification-workers/internal/channel"
	"notification-workers/internal/models"

	"github.com/wneessen/go-mail"
)

const (
	HeaderCorrelationID  mail.Header = "X-Correlation-ID"
	HeaderTenantID       mail.Header = "X-Tenant-ID"
	HeaderNotificationID mail.Header = "X-Notification-ID"
)

// BuildMessage assembles the MIME message: a plain text body, an optional
// HTML alternative, attachments and the correlation headers.
func BuildMessage(p *Payload, meta channel.Metadata) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(p.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(p.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	if len(p.CC) > 0 {
		if err := m.Cc(p.CC...); err != nil {
			return nil, fmt.Errorf("invalid cc recipient: %w", err)
		}
	}
	if len(p.BCC) > 0 {
		if err := m.Bcc(p.BCC...); err != nil {
			return nil, fmt.Errorf("invalid bcc recipient: %w", err)
		}
	}
	if p.ReplyTo != "" {
		if err := m.ReplyTo(p.ReplyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to address: %w", err)
		}
	}

	m.Subject(p.Subject)
	m.SetMessageID()
	m.SetDate()
	m.SetImportance(importance(p.Priority))

	m.SetBodyString(mail.TypeTextPlain, p.Body)
	if p.HTMLBody != "" {
		m.AddAlternativeString(mail.TypeTextHTML, p.HTMLBody)
	}

	for _, a := range p.Attachments {
		raw, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return nil, fmt.Errorf("decode attachment %s: %w", a.Filename, err)
		}
		var opts []mail.FileOption
		if a.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(a.ContentType)))
		}
		if err := m.AttachReader(a.Filename, bytes.NewReader(raw), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}

	if meta.CorrelationID != "" {
		m.SetGenHeader(HeaderCorrelationID, meta.CorrelationID)
	}
	if meta.TenantID != "" {
		m.SetGenHeader(HeaderTenantID, meta.TenantID)
	}
	if meta.NotificationID != "" {
		m.SetGenHeader(HeaderNotificationID, meta.NotificationID)
	}
	return m, nil
}

// MessageID returns the Message-ID header set by BuildMessage.
func MessageID(m *mail.Msg) string {
	if ids := m.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func importance(p models.Priority) mail.Importance {
	switch p {
	case models.PriorityUrgent:
		return mail.ImportanceUrgent
	case models.PriorityHigh:
		return mail.ImportanceHigh
	case models.PriorityLow:
		return mail.ImportanceLow
	default:
		return mail.ImportanceNormal
	}
}
