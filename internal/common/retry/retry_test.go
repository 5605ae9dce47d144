package retry

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-workers/internal/common/errors"
)

// ==========================
// Test Helpers
// ==========================

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func zeroRandom() float64 { return 0 }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JitterFactor = 0
	return cfg
}

// ==========================
// Backoff
// ==========================

func TestComputeDelay_AlwaysWithinBounds(t *testing.T) {
	configs := []Config{
		DefaultConfig(),
		{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 3, JitterFactor: 1},
		{InitialDelay: 0, MaxDelay: 0, BackoffMultiplier: 1},
		{InitialDelay: time.Second, MaxDelay: time.Hour, BackoffMultiplier: 10, JitterFactor: 0.5},
	}
	for _, cfg := range configs {
		for attempt := -1; attempt < 200; attempt++ {
			for _, u := range []float64{-1, 0, 0.25, 0.5, 0.999, 1, 2} {
				d := ComputeDelay(attempt, cfg, u)
				assert.GreaterOrEqual(t, d, time.Duration(0))
				assert.LessOrEqual(t, d, cfg.MaxDelay)
			}
		}
	}
}

func TestComputeDelay_ExponentialWithoutJitter(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, time.Second, ComputeDelay(0, cfg, 0.9))
	assert.Equal(t, 2*time.Second, ComputeDelay(1, cfg, 0.9))
	assert.Equal(t, 4*time.Second, ComputeDelay(2, cfg, 0.9))
	assert.Equal(t, 30*time.Second, ComputeDelay(10, cfg, 0.9))
}

func TestComputeDelay_JitterAddsUpToFactor(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, ComputeDelay(0, cfg, 0))
	assert.Equal(t, 1100*time.Millisecond, ComputeDelay(0, cfg, 1))
}

func TestNextDelay_RetryAfterOverridesBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDelay = 30 * time.Second

	err := errors.NewRateLimitError("webhook", 5000*time.Millisecond)
	assert.Equal(t, 5000*time.Millisecond, NextDelay(3, cfg, err, 0.7))

	tooLong := errors.NewRateLimitError("webhook", time.Minute)
	assert.Equal(t, 30*time.Second, NextDelay(0, cfg, tooLong, 0))
}

// ==========================
// Classification
// ==========================

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "dial tcp: i/o deadline" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	noTimeout := DefaultConfig()
	noTimeout.RetryOnTimeout = false
	only502 := DefaultConfig()
	only502.RetryableStatusCodes = []int{502}

	tests := []struct {
		name string
		err  error
		cfg  Config
		want bool
	}{
		{"nil", nil, DefaultConfig(), false},
		{"validation", errors.NewValidationError("bad"), DefaultConfig(), false},
		{"transient", errors.NewTransientError("smtp", stderrors.New("reset")), DefaultConfig(), true},
		{"rate limited", errors.NewRateLimitError("webhook", 0), DefaultConfig(), true},
		{"configured status", errors.NewHTTPStatusError("webhook", 500, false, ""), DefaultConfig(), true},
		{"unconfigured status", errors.NewHTTPStatusError("webhook", 500, false, ""), only502, false},
		{"client status", errors.NewHTTPStatusError("webhook", 400, false, ""), DefaultConfig(), false},
		{"provider rejected", errors.NewProviderRejectedError("smtp", 550, "mailbox"), DefaultConfig(), false},
		{"circuit open", errors.NewCircuitOpenError("email", time.Second), DefaultConfig(), false},
		{"expired", errors.NewExpiredError("n", time.Now()), DefaultConfig(), false},
		{"timeout", errors.NewTimeoutError("webhook", nil), DefaultConfig(), true},
		{"timeout disabled", errors.NewTimeoutError("webhook", nil), noTimeout, false},
		{"connection reset message", stderrors.New("read tcp: connection reset by peer"), DefaultConfig(), true},
		{"dns message", stderrors.New("dial tcp: lookup x: no such host"), DefaultConfig(), true},
		{"503 message", stderrors.New("upstream said 503"), DefaultConfig(), true},
		{"timeout message", stderrors.New("i/o timeout"), DefaultConfig(), true},
		{"timeout message disabled", stderrors.New("i/o timeout"), noTimeout, false},
		{"net timeout", timeoutNetError{}, DefaultConfig(), true},
		{"deadline", context.DeadlineExceeded, DefaultConfig(), true},
		{"canceled", context.Canceled, DefaultConfig(), false},
		{"unknown", stderrors.New("boom"), DefaultConfig(), false},
		{"internal wrapping reset", errors.NewInternalError(stderrors.New("connection refused")), DefaultConfig(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err, tt.cfg))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MaxDelay = time.Millisecond
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.JitterFactor = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.BackoffMultiplier = 0.5
	assert.Error(t, bad.Validate())
}

// ==========================
// Execute
// ==========================

func TestExecute_SucceedsAfterTransientFailures(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	result, err := Execute(context.Background(), testConfig(), func(ctx context.Context, rc RetryContext) (string, error) {
		assert.Equal(t, calls, rc.Attempt)
		calls++
		if calls < 3 {
			return "", errors.NewTransientError("smtp", stderrors.New("connection reset"))
		}
		return "ok", nil
	}, WithSleep(rec.sleep), WithRandom(zeroRandom))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestExecute_RateLimitUsesRetryAfter(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	_, err := Execute(context.Background(), testConfig(), func(ctx context.Context, rc RetryContext) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.NewRateLimitError("webhook", 5*time.Second)
		}
		return 1, nil
	}, WithSleep(rec.sleep), WithRandom(zeroRandom))

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.delays)
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	_, err := Execute(context.Background(), testConfig(), func(ctx context.Context, rc RetryContext) (int, error) {
		calls++
		return 0, errors.NewValidationError("subject too long")
	}, WithSleep(rec.sleep))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)

	se, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeMaxRetriesExceeded, se.Code)
	assert.Equal(t, 1, se.Metadata["attempts"])
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(LastError(err)))
}

func TestExecute_ExhaustsBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	calls := 0

	_, err := Execute(context.Background(), cfg, func(ctx context.Context, rc RetryContext) (int, error) {
		calls++
		return 0, errors.NewTransientError("smtp", stderrors.New("connection refused"))
	}, WithSleep((&sleepRecorder{}).sleep))

	assert.Equal(t, 3, calls)
	se, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeMaxRetriesExceeded, se.Code)
	assert.Equal(t, 3, se.Metadata["attempts"])
	assert.Equal(t, errors.ErrCodeTransientNetwork, errors.CodeOf(LastError(err)))
}

func TestExecuteWithFallback(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1

	v, err := ExecuteWithFallback(context.Background(), cfg, func(ctx context.Context, rc RetryContext) (string, error) {
		return "", errors.NewTransientError("smtp", stderrors.New("reset"))
	}, FallbackValue("queued"), WithSleep((&sleepRecorder{}).sleep))
	require.NoError(t, err)
	assert.Equal(t, "queued", v)

	var seen error
	_, err = ExecuteWithFallback(context.Background(), cfg, func(ctx context.Context, rc RetryContext) (string, error) {
		return "", errors.NewValidationError("bad")
	}, func(e error) (string, error) {
		seen = e
		return "", e
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(LastError(seen)))
}

func TestExecute_BeforeAttemptAborts(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), testConfig(), func(ctx context.Context, rc RetryContext) (int, error) {
		calls++
		return 0, errors.NewTransientError("webhook", stderrors.New("reset"))
	}, WithSleep((&sleepRecorder{}).sleep), WithBeforeAttempt(func(rc RetryContext) error {
		if rc.Attempt >= 1 {
			return errors.NewExpiredError("n-1", time.Now().Add(-time.Second))
		}
		return nil
	}))

	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.ErrCodeNotificationExpired, errors.CodeOf(LastError(err)))
}

func TestExecute_AttemptTimeoutIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.AttemptTimeout = 10 * time.Millisecond
	var calls atomic.Int32

	_, err := Execute(context.Background(), cfg, func(ctx context.Context, rc RetryContext) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, ctx.Err()
	}, WithName("webhook"), WithSleep((&sleepRecorder{}).sleep))

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, errors.ErrCodeTimeout, errors.CodeOf(LastError(err)))
}

func TestExecute_CallerCancellationAbortsRemainingRetries(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), testConfig(), func(ctx context.Context, rc RetryContext) (int, error) {
		calls++
		return 0, errors.NewTransientError("smtp", stderrors.New("reset"))
	}, WithSleep(func(context.Context, time.Duration) error { return context.Canceled }))

	assert.Equal(t, 1, calls)
	assert.True(t, stderrors.Is(err, context.Canceled))
}

func TestExecute_RealSleepRespectsDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Execute(ctx, cfg, func(ctx context.Context, rc RetryContext) (int, error) {
		return 0, errors.NewTransientError("smtp", stderrors.New("reset"))
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}

// ==========================
// Events
// ==========================

func TestExecute_PublishesLifecycleEvents(t *testing.T) {
	bus := NewEventBus()
	events, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	calls := 0
	_, err := Execute(context.Background(), testConfig(), func(ctx context.Context, rc RetryContext) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.NewTransientError("smtp", stderrors.New("reset"))
		}
		return 1, nil
	}, WithName("email"), WithEvents(bus), WithSleep((&sleepRecorder{}).sleep), WithRandom(zeroRandom))
	require.NoError(t, err)

	var types []EventType
	for len(events) > 0 {
		e := <-events
		assert.Equal(t, "email", e.Name)
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{
		EventAttemptStart, EventFailure, EventRetryScheduled, EventAttemptStart, EventSuccess,
	}, types)
}

func TestExecute_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	_, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	cfg := testConfig()
	cfg.MaxRetries = 5
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Execute(context.Background(), cfg, func(ctx context.Context, rc RetryContext) (int, error) {
			return 0, errors.NewTransientError("smtp", stderrors.New("reset"))
		}, WithEvents(bus), WithSleep((&sleepRecorder{}).sleep))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop blocked on a full subscriber")
	}
	assert.Greater(t, bus.Dropped(), uint64(0))
}

func TestEventBus_CloseAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	a, unsubA := bus.Subscribe(4)
	b, _ := bus.Subscribe(4)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)

	bus.Publish(Event{Type: EventSuccess})
	assert.Len(t, b, 1)

	bus.Close()
	bus.Publish(Event{Type: EventSuccess})
	<-b
	_, open = <-b
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
