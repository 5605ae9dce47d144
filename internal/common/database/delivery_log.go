package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"notification-workers/internal/models"
)

const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusSkipped   = "skipped"
)

const deliveryLogSchema = `
CREATE TABLE IF NOT EXISTS notification_deliveries (
	notification_id   UUID PRIMARY KEY,
	tenant_id         UUID NOT NULL,
	channel           TEXT NOT NULL,
	status            TEXT NOT NULL,
	reason            TEXT,
	error_code        TEXT,
	error_message     TEXT,
	message_id        TEXT,
	status_code       INTEGER,
	attempts          INTEGER NOT NULL DEFAULT 0,
	executions        INTEGER NOT NULL DEFAULT 1,
	delivery_time_ms  BIGINT NOT NULL DEFAULT 0,
	provider_response JSONB,
	delivered_at      TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// A delivered row is never downgraded by a later redelivery of the same job.
const upsertDelivery = `
INSERT INTO notification_deliveries (
	notification_id, tenant_id, channel, status, reason, error_code, error_message,
	message_id, status_code, attempts, delivery_time_ms, provider_response, delivered_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (notification_id) DO UPDATE SET
	status = EXCLUDED.status,
	reason = EXCLUDED.reason,
	error_code = EXCLUDED.error_code,
	error_message = EXCLUDED.error_message,
	message_id = EXCLUDED.message_id,
	status_code = EXCLUDED.status_code,
	attempts = notification_deliveries.attempts + EXCLUDED.attempts,
	executions = notification_deliveries.executions + 1,
	delivery_time_ms = EXCLUDED.delivery_time_ms,
	provider_response = EXCLUDED.provider_response,
	delivered_at = EXCLUDED.delivered_at,
	updated_at = EXCLUDED.updated_at
WHERE notification_deliveries.status <> 'delivered'`

const selectDelivered = `SELECT EXISTS (SELECT 1 FROM notification_deliveries WHERE notification_id = $1 AND status = 'delivered')`

// DeliveryLog persists one row per notification so redelivered jobs can be
// recognised and outcomes audited.
type DeliveryLog struct {
	db  *sql.DB
	now func() time.Time
}

func NewDeliveryLog(db *sql.DB) *DeliveryLog {
	return &DeliveryLog{db: db, now: time.Now}
}

func (l *DeliveryLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, deliveryLogSchema); err != nil {
		return fmt.Errorf("create notification_deliveries: %w", err)
	}
	return nil
}

// Record upserts the outcome of one job execution.
func (l *DeliveryLog) Record(ctx context.Context, job *models.NotificationJob, result *models.DeliveryResult) error {
	var provider interface{}
	if len(result.ProviderResponse) > 0 {
		raw, err := json.Marshal(result.ProviderResponse)
		if err != nil {
			return fmt.Errorf("encode provider response: %w", err)
		}
		provider = raw
	}

	messageID := result.MessageID
	if messageID == "" {
		messageID = result.RequestID
	}

	_, err := l.db.ExecContext(ctx, upsertDelivery,
		job.NotificationID,
		job.TenantID,
		string(job.Channel),
		StatusOf(result),
		nullString(result.Reason),
		nullString(result.ErrorCode),
		nullString(result.Error),
		nullString(messageID),
		nullInt(result.StatusCode),
		result.Attempts,
		result.DeliveryTimeMs,
		provider,
		nullTime(result.DeliveredAt),
		l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record delivery %s: %w", job.NotificationID, err)
	}
	return nil
}

// Delivered reports whether notificationID already has a delivered row.
func (l *DeliveryLog) Delivered(ctx context.Context, notificationID string) (bool, error) {
	var delivered bool
	if err := l.db.QueryRowContext(ctx, selectDelivered, notificationID).Scan(&delivered); err != nil {
		return false, fmt.Errorf("lookup delivery %s: %w", notificationID, err)
	}
	return delivered, nil
}

// StatusOf maps a result onto the delivery log status column.
func StatusOf(result *models.DeliveryResult) string {
	switch {
	case result.Success:
		return DeliveryStatusDelivered
	case result.Reason == models.ReasonExpired || result.Reason == models.ReasonChannelDisabled:
		return DeliveryStatusSkipped
	default:
		return DeliveryStatusFailed
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
