// Package channel defines the delivery contract shared by every notification
// channel together with the guard that wraps each delivery in a retry policy
// and a circuit breaker.
package channel

import (
	"context"

	"notification-workers/internal/models"
)

// Channel is implemented by every delivery transport.
type Channel interface {
	Type() models.Channel
	// Initialize acquires transport resources and verifies connectivity.
	Initialize(ctx context.Context) error
	// Deliver never returns an error: failures are reported on the result.
	Deliver(ctx context.Context, job *models.NotificationJob, meta Metadata) *models.DeliveryResult
	Stats() models.ChannelStats
	// Close is idempotent.
	Close() error
}

// Metadata carries the identifiers propagated to transports as headers.
type Metadata struct {
	NotificationID string
	TenantID       string
	CorrelationID  string
	Priority       models.Priority
}

func MetadataFor(job *models.NotificationJob) Metadata {
	return Metadata{
		NotificationID: job.NotificationID,
		TenantID:       job.TenantID,
		CorrelationID:  job.CorrelationID(),
		Priority:       job.Priority,
	}
}
