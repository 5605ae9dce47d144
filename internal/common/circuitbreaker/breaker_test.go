package circuitbreaker

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

var errTransport = stderrors.New("connection refused")

type transitionLog struct {
	mu   sync.Mutex
	seen []transition
}

func (l *transitionLog) record(_ string, from, to models.CircuitState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, transition{from: from, to: to})
}

func (l *transitionLog) count(from, to models.CircuitState) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.seen {
		if t.from == from && t.to == to {
			n++
		}
	}
	return n
}

func newTestBreaker(clock Clock, log *transitionLog) *Breaker {
	return New("email", Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenMaxCalls: 1},
		WithClock(clock), WithOnStateChange(log.record))
}

func failingOp(calls *int) func(context.Context) (struct{}, error) {
	return func(context.Context) (struct{}, error) {
		*calls++
		return struct{}{}, errTransport
	}
}

func TestBreaker_OpensOnceAtThresholdAndFailsFast(t *testing.T) {
	clock := NewManualClock(time.Unix(1700000000, 0))
	log := &transitionLog{}
	b := newTestBreaker(clock, log)

	calls := 0
	for i := 0; i < 10; i++ {
		_, err := Execute(context.Background(), b, failingOp(&calls))
		require.Error(t, err)
		if i < 5 {
			assert.ErrorIs(t, err, errTransport)
		} else {
			assert.True(t, errors.Is(err, errors.ErrCodeCircuitOpen))
		}
	}

	assert.Equal(t, 5, calls, "transport must not be invoked while open")
	assert.Equal(t, 1, log.count(models.CircuitClosed, models.CircuitOpen))
	assert.Equal(t, models.CircuitOpen, b.State().State)
}

func TestBreaker_OpenErrorCarriesRemainingCooldown(t *testing.T) {
	clock := NewManualClock(time.Unix(1700000000, 0))
	b := newTestBreaker(clock, &transitionLog{})
	calls := 0
	for i := 0; i < 5; i++ {
		_, _ = Execute(context.Background(), b, failingOp(&calls))
	}

	clock.Advance(10 * time.Second)
	err := b.Allow()
	se, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeCircuitOpen, se.Code)
	assert.Equal(t, 20*time.Second, se.RetryAfter)
	assert.False(t, se.Retryable)
}

func TestBreaker_HalfOpenProbeClosesAndResets(t *testing.T) {
	clock := NewManualClock(time.Unix(1700000000, 0))
	log := &transitionLog{}
	b := newTestBreaker(clock, log)
	calls := 0
	for i := 0; i < 5; i++ {
		_, _ = Execute(context.Background(), b, failingOp(&calls))
	}

	clock.Advance(30 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, models.CircuitHalfOpen, b.State().State)
	assert.Equal(t, 1, log.count(models.CircuitOpen, models.CircuitHalfOpen))

	// Probe budget is one call.
	assert.True(t, errors.Is(b.Allow(), errors.ErrCodeCircuitOpen))

	b.Done(nil)
	state := b.State()
	assert.Equal(t, models.CircuitClosed, state.State)
	assert.Equal(t, 0, state.FailureCount)
	assert.Equal(t, 1, log.count(models.CircuitHalfOpen, models.CircuitClosed))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := NewManualClock(time.Unix(1700000000, 0))
	log := &transitionLog{}
	b := newTestBreaker(clock, log)
	calls := 0
	for i := 0; i < 5; i++ {
		_, _ = Execute(context.Background(), b, failingOp(&calls))
	}

	clock.Advance(31 * time.Second)
	_, err := Execute(context.Background(), b, failingOp(&calls))
	assert.ErrorIs(t, err, errTransport)
	assert.Equal(t, 6, calls)
	assert.Equal(t, models.CircuitOpen, b.State().State)
	assert.Equal(t, 1, log.count(models.CircuitHalfOpen, models.CircuitOpen))

	// Cooldown restarts from the probe failure.
	clock.Advance(29 * time.Second)
	assert.True(t, errors.Is(b.Allow(), errors.ErrCodeCircuitOpen))
}

func TestBreaker_SuccessDecaysFailureCount(t *testing.T) {
	b := New("webhook", DefaultConfig(), WithClock(NewManualClock(time.Now())))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Done(errTransport)
	}
	assert.Equal(t, 3, b.State().FailureCount)

	require.NoError(t, b.Allow())
	b.Done(nil)
	assert.Equal(t, 2, b.State().FailureCount)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Done(nil)
	}
	assert.Equal(t, 0, b.State().FailureCount)
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	b := New("webhook", Config{FailureThreshold: 1}, WithClock(NewManualClock(time.Now())))

	ignored := []error{
		errors.NewValidationError("bad url"),
		errors.NewProviderRejectedError("smtp", 550, "no such user"),
		errors.NewHTTPStatusError("webhook", 400, false, "bad request"),
		context.Canceled,
	}
	for _, err := range ignored {
		require.NoError(t, b.Allow())
		b.Done(err)
	}
	assert.Equal(t, models.CircuitClosed, b.State().State)

	require.NoError(t, b.Allow())
	b.Done(errors.NewHTTPStatusError("webhook", 503, true, ""))
	assert.Equal(t, models.CircuitOpen, b.State().State)
}

func TestBreaker_ConcurrentFailuresNoLostUpdates(t *testing.T) {
	b := New("sms", Config{FailureThreshold: 1000, ResetTimeout: time.Minute}, WithClock(NewManualClock(time.Now())))

	const workers = 50
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if b.Allow() == nil {
					b.Done(errTransport)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, b.State().FailureCount)
}

func TestBreaker_ConcurrentTripHappensExactlyOnce(t *testing.T) {
	log := &transitionLog{}
	b := New("push", Config{FailureThreshold: 5, ResetTimeout: time.Minute},
		WithClock(NewManualClock(time.Now())), WithOnStateChange(log.record))

	var invoked atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Execute(context.Background(), b, func(context.Context) (int, error) {
				invoked.Add(1)
				return 0, errTransport
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, log.count(models.CircuitClosed, models.CircuitOpen))
	assert.Equal(t, models.CircuitOpen, b.State().State)
	assert.GreaterOrEqual(t, invoked.Load(), int32(5))
}

func TestBreaker_ResetAndIndependentInstances(t *testing.T) {
	clock := NewManualClock(time.Now())
	email := New("email", Config{FailureThreshold: 1}, WithClock(clock))
	webhook := New("webhook", Config{FailureThreshold: 1}, WithClock(clock))

	require.NoError(t, email.Allow())
	email.Done(errTransport)
	assert.Equal(t, models.CircuitOpen, email.State().State)
	assert.Equal(t, models.CircuitClosed, webhook.State().State)

	email.Reset()
	assert.Equal(t, models.CircuitClosed, email.State().State)
	assert.NoError(t, email.Allow())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{FailureThreshold: 0, ResetTimeout: time.Second, HalfOpenMaxCalls: 1}.Validate())
	assert.Error(t, Config{FailureThreshold: 1, ResetTimeout: 0, HalfOpenMaxCalls: 1}.Validate())
}
