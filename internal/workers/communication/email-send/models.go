package emailsend

import (
	"notification-workers/internal/models"
)

// MaxSubjectLength is the RFC 5322 line limit applied to subjects.
const MaxSubjectLength = 998

// Payload is the email-specific view of a notification job.
type Payload struct {
	From        string
	To          []string
	CC          []string
	BCC         []string
	ReplyTo     string
	Subject     string
	Body        string
	HTMLBody    string
	Priority    models.Priority
	Attachments []models.Attachment
}

// PayloadFromJob builds the payload for job, sending from from.
func PayloadFromJob(job *models.NotificationJob, from string) *Payload {
	p := &Payload{
		From:        from,
		CC:          job.Recipient.CC,
		BCC:         job.Recipient.BCC,
		ReplyTo:     job.Recipient.ReplyTo,
		Subject:     job.Content.Subject,
		Body:        job.Content.Body,
		HTMLBody:    job.Content.HTMLBody,
		Priority:    job.Priority,
		Attachments: job.Content.Attachments,
	}
	if job.Recipient.Email != "" {
		p.To = []string{job.Recipient.Email}
	}
	return p
}

// Recipients lists every envelope recipient.
func (p *Payload) Recipients() []string {
	out := make([]string, 0, len(p.To)+len(p.CC)+len(p.BCC))
	out = append(out, p.To...)
	out = append(out, p.CC...)
	return append(out, p.BCC...)
}
