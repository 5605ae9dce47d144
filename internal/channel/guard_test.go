package channel

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"notification-workers/internal/common/circuitbreaker"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/retry"
	"notification-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testGuard(t *testing.T, clock circuitbreaker.Clock, breaker circuitbreaker.Config) *Guard {
	t.Helper()
	g := NewGuard(models.ChannelWebhook, retry.DefaultConfig(), breaker, logger.NewTestLogger(t),
		WithGuardClock(clock),
		WithGuardSleep(noSleep),
		WithGuardRandom(func() float64 { return 0 }),
	)
	t.Cleanup(g.Close)
	return g
}

func testJob() *models.NotificationJob {
	return &models.NotificationJob{
		NotificationID: "7d9f0a52-2c1b-4e55-9f0a-1c2b3d4e5f60",
		TenantID:       "0b6c2a1e-8f5d-4a3b-9c7e-2d1f0e9a8b7c",
		Channel:        models.ChannelWebhook,
		MaxRetries:     3,
	}
}

func TestGuardRun_RetriesUntilSuccess(t *testing.T) {
	clock := circuitbreaker.NewManualClock(time.Now())
	g := testGuard(t, clock, circuitbreaker.DefaultConfig())

	calls := 0
	attempts, err := g.Run(context.Background(), testJob(), g.RetryConfig(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.NewTransientError("webhook", stderrors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, models.CircuitClosed, g.Stats().CircuitState)
}

func TestGuardRun_ExpiryCheckedBeforeEveryAttempt(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := circuitbreaker.NewManualClock(start)
	g := testGuard(t, clock, circuitbreaker.DefaultConfig())

	job := testJob()
	expires := start.Add(time.Second)
	job.ExpiresAt = &expires

	calls := 0
	attempts, err := g.Run(context.Background(), job, g.RetryConfig(), func(context.Context) error {
		calls++
		clock.Advance(2 * time.Second)
		return errors.NewTransientError("webhook", stderrors.New("connection reset"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)

	res := Failed(job, err, start, clock.Now(), attempts)
	assert.Equal(t, models.ReasonExpired, res.Reason)
	assert.False(t, res.Retryable)
}

func TestGuardRun_OpenCircuitStopsRetries(t *testing.T) {
	clock := circuitbreaker.NewManualClock(time.Now())
	g := testGuard(t, clock, circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: 30 * time.Second, HalfOpenMaxCalls: 1})

	cfg := g.RetryConfig()
	cfg.MaxRetries = 5
	calls := 0
	attempts, err := g.Run(context.Background(), testJob(), cfg, func(context.Context) error {
		calls++
		return errors.NewTransientError("webhook", stderrors.New("connection refused"))
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "transport must not be called while the circuit is open")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, models.CircuitOpen, g.Stats().CircuitState)

	res := Failed(testJob(), err, clock.Now(), clock.Now(), attempts)
	assert.Equal(t, models.ReasonCircuitOpen, res.Reason)
	assert.Equal(t, string(errors.ErrCodeCircuitOpen), res.ErrorCode)
	assert.True(t, res.Retryable)
}

func TestGuardRun_NonRetryableStopsImmediately(t *testing.T) {
	g := testGuard(t, circuitbreaker.RealClock{}, circuitbreaker.DefaultConfig())

	calls := 0
	attempts, err := g.Run(context.Background(), testJob(), g.RetryConfig(), func(context.Context) error {
		calls++
		return errors.NewHTTPStatusError("webhook", 400, false, "bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)

	res := Failed(testJob(), err, time.Now(), time.Now(), attempts)
	assert.Equal(t, 400, res.StatusCode)
	assert.False(t, res.Retryable)
	assert.Equal(t, models.CircuitClosed, g.Stats().CircuitState, "client errors do not trip the breaker")
}

func TestGuard_RecordAndStats(t *testing.T) {
	g := testGuard(t, circuitbreaker.RealClock{}, circuitbreaker.DefaultConfig())

	g.Record(&models.DeliveryResult{Success: true})
	g.Record(&models.DeliveryResult{Success: true})
	g.Record(&models.DeliveryResult{Success: false})

	stats := g.Stats()
	assert.Equal(t, models.ChannelWebhook, stats.Channel)
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestGuard_CloseIsIdempotent(t *testing.T) {
	g := NewGuard(models.ChannelSMS, retry.DefaultConfig(), circuitbreaker.DefaultConfig(), nil)
	g.Close()
	g.Close()
}

func TestSucceeded(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := Succeeded(testJob(), start, start.Add(250*time.Millisecond), 2)
	assert.True(t, res.Success)
	assert.Equal(t, int64(250), res.DeliveryTimeMs)
	assert.Equal(t, 2, res.Attempts)
	require.NotNil(t, res.DeliveredAt)
	assert.Nil(t, res.FailedAt)
}

func TestRequeueable(t *testing.T) {
	assert.True(t, Requeueable(errors.NewTransientError("smtp", stderrors.New("reset"))))
	assert.True(t, Requeueable(errors.NewCircuitOpenError("EMAIL", time.Second)))
	assert.False(t, Requeueable(errors.NewValidationError("bad address")))
	assert.False(t, Requeueable(errors.NewHTTPStatusError("webhook", 404, false, "")))
	assert.True(t, Requeueable(stderrors.New("read: connection reset by peer")))
}
