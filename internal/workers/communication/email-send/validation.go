package emailsend

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/validation"
)

// Validate checks addresses, subject and attachments before any transport
// call. Failures are VALIDATION_FAILED and never retried.
func Validate(p *Payload) error {
	if len(p.To) == 0 {
		return errors.NewValidationError("recipient.email is required")
	}
	if !validation.ValidateEmail(p.From) {
		return errors.NewValidationError(fmt.Sprintf("invalid 'from' email address: %s", p.From))
	}
	if bad := validation.ValidateEmails(p.To); len(bad) > 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid 'to' email address: %s", strings.Join(bad, ", ")))
	}
	if bad := validation.ValidateEmails(p.CC); len(bad) > 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid 'cc' email address: %s", strings.Join(bad, ", ")))
	}
	if bad := validation.ValidateEmails(p.BCC); len(bad) > 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid 'bcc' email address: %s", strings.Join(bad, ", ")))
	}
	if p.ReplyTo != "" && !validation.ValidateEmail(p.ReplyTo) {
		return errors.NewValidationError(fmt.Sprintf("invalid 'replyTo' email address: %s", p.ReplyTo))
	}

	n := utf8.RuneCountInString(p.Subject)
	if n < 1 || n > MaxSubjectLength {
		return errors.NewValidationError(fmt.Sprintf("subject must be between 1 and %d characters, got %d", MaxSubjectLength, n))
	}
	if strings.ContainsAny(p.Subject, "\r\n") {
		return errors.NewValidationError("subject must not contain line breaks")
	}

	for i, a := range p.Attachments {
		if strings.TrimSpace(a.Filename) == "" {
			return errors.NewValidationError(fmt.Sprintf("attachments[%d]: filename is required", i))
		}
		if _, err := base64.StdEncoding.DecodeString(a.Content); err != nil {
			return errors.NewValidationError(fmt.Sprintf("attachments[%d]: content is not valid base64", i))
		}
	}
	return nil
}
