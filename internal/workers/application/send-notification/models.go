// internal/workers/application/send-notification/models.go
package sendnotification

import "notification-workers/internal/models"

// Output is the variable set a Zeebe job is completed with.
type Output struct {
	NotificationID string                 `json:"notificationId"`
	Status         string                 `json:"status"`
	Result         *models.DeliveryResult `json:"deliveryResult"`
}

// Statuses
const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusDuplicate = "duplicate"
)

// StatusOf summarises a result for process variables and metrics labels.
func StatusOf(res *models.DeliveryResult) string {
	switch {
	case res.Reason == models.ReasonDuplicate:
		return StatusDuplicate
	case res.Success:
		return StatusSent
	case res.Reason == models.ReasonExpired || res.Reason == models.ReasonChannelDisabled:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// ChannelCounts are the orchestrator's own counters for one channel.
type ChannelCounts struct {
	Processed uint64 `json:"processed"`
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Duplicate uint64 `json:"duplicate"`
}

// Stats is a read-only snapshot of the orchestrator counters.
type Stats struct {
	Channels map[models.Channel]ChannelCounts `json:"channels"`
	// Rejected counts jobs that failed before routing (schema, unknown channel).
	Rejected uint64 `json:"rejected"`
	InFlight int64  `json:"inFlight"`
}
