package webhooksend

import (
	"fmt"
	"net/http"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/validation"
)

var allowedMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

func Validate(p *Payload) error {
	if p.URL == "" {
		return errors.NewValidationError("recipient.webhookUrl is required")
	}
	if !validation.ValidateURL(p.URL) {
		return errors.NewValidationError(fmt.Sprintf("webhook url must be an absolute http(s) url: %s", p.URL))
	}
	if !allowedMethods[p.Method] {
		return errors.NewValidationError(fmt.Sprintf("unsupported webhook method %q", p.Method))
	}
	if p.Timeout <= 0 {
		return errors.NewValidationError("webhook timeout must be positive")
	}
	for _, status := range p.RetryOnStatus {
		if status < 100 || status > 599 {
			return errors.NewValidationError(fmt.Sprintf("invalid retryOnStatus entry %d", status))
		}
	}
	return nil
}
