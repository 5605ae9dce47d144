package channel

import (
	"time"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/retry"
	"notification-workers/internal/models"
)

// Succeeded builds a successful result stamped at now.
func Succeeded(job *models.NotificationJob, started, now time.Time, attempts int) *models.DeliveryResult {
	at := now.UTC()
	return &models.DeliveryResult{
		NotificationID: job.NotificationID,
		Channel:        job.Channel,
		Success:        true,
		DeliveredAt:    &at,
		DeliveryTimeMs: now.Sub(started).Milliseconds(),
		Attempts:       attempts,
	}
}

// Failed builds a failed result from the terminal delivery error. The error
// code and reason come from the last attempt's error, not from the
// MAX_RETRIES_EXCEEDED wrapper.
func Failed(job *models.NotificationJob, err error, started, now time.Time, attempts int) *models.DeliveryResult {
	at := now.UTC()
	res := &models.DeliveryResult{
		NotificationID: job.NotificationID,
		Channel:        job.Channel,
		FailedAt:       &at,
		DeliveryTimeMs: now.Sub(started).Milliseconds(),
		Attempts:       attempts,
	}
	if err == nil {
		return res
	}

	cause := retry.LastError(err)
	if cause == nil {
		cause = err
	}
	res.Error = cause.Error()
	code := errors.CodeOf(cause)
	res.ErrorCode = string(code)
	res.Retryable = Requeueable(cause)

	switch code {
	case errors.ErrCodeNotificationExpired:
		res.Reason = models.ReasonExpired
	case errors.ErrCodeCircuitOpen:
		res.Reason = models.ReasonCircuitOpen
	case errors.ErrCodeChannelDisabled:
		res.Reason = models.ReasonChannelDisabled
	}
	if se, ok := errors.As(cause); ok && se.HTTPStatus > 0 && res.StatusCode == 0 {
		res.StatusCode = se.HTTPStatus
	}
	return res
}

// Requeueable reports whether a job that failed with err may be redelivered
// later by the broker. An open circuit fails fast inside one execution but the
// job is worth trying again once the cooldown is over.
func Requeueable(err error) bool {
	se, ok := errors.As(err)
	if !ok {
		return retry.IsRetryable(err, retry.DefaultConfig())
	}
	if se.Code == errors.ErrCodeCircuitOpen {
		return true
	}
	return se.Retryable && !errors.IsPermanent(se.Code)
}
