// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notification-workers/internal/models"
)

var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of notification deliveries by outcome",
		},
		[]string{"channel", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Duration of a notification delivery including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"channel"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_attempts_total",
			Help: "Total number of transport attempts",
		},
		[]string{"channel"},
	)

	RetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retry_events_total",
			Help: "Retry lifecycle events per channel",
		},
		[]string{"channel", "event"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_circuit_state",
			Help: "Circuit breaker state per channel (0=closed, 1=half-open, 2=open)",
		},
		[]string{"channel"},
	)

	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_jobs_active",
			Help: "Number of jobs currently being processed per channel",
		},
		[]string{"channel"},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_failed_total",
			Help: "Jobs rejected before reaching a channel",
		},
		[]string{"source", "error_code"},
	)

	BrokerOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_broker_outcomes_total",
			Help: "Broker settlement of processed jobs (ack, requeue, dead)",
		},
		[]string{"queue", "outcome"},
	)
)

// CircuitStateValue maps a breaker state onto the circuit gauge.
func CircuitStateValue(s models.CircuitState) float64 {
	switch s {
	case models.CircuitHalfOpen:
		return 1
	case models.CircuitOpen:
		return 2
	default:
		return 0
	}
}
