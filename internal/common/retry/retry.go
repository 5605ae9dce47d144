// Package retry drives bounded, classified retries with exponential backoff.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"slices"
	"strings"
	"time"

	"notification-workers/internal/common/errors"
)

// ==========================
// 1. Configuration
// ==========================

type Config struct {
	MaxRetries           int                `mapstructure:"max_retries"`
	InitialDelay         time.Duration      `mapstructure:"initial_delay"`
	MaxDelay             time.Duration      `mapstructure:"max_delay"`
	BackoffMultiplier    float64            `mapstructure:"backoff_multiplier"`
	JitterFactor         float64            `mapstructure:"jitter_factor"`
	RetryableStatusCodes []int              `mapstructure:"retryable_status_codes"`
	RetryableErrorCodes  []errors.ErrorCode `mapstructure:"retryable_error_codes"`
	RetryOnTimeout       bool               `mapstructure:"retry_on_timeout"`
	// AttemptTimeout bounds a single attempt; zero means no per-attempt limit.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		InitialDelay:         time.Second,
		MaxDelay:             30 * time.Second,
		BackoffMultiplier:    2,
		JitterFactor:         0.1,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
		RetryableErrorCodes: []errors.ErrorCode{
			errors.ErrCodeTransientNetwork,
			errors.ErrCodeRateLimited,
			errors.ErrCodeTimeout,
		},
		RetryOnTimeout: true,
	}
}

func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay must be >= initial_delay")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1")
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("jitter_factor must be within [0, 1]")
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("attempt_timeout must be >= 0")
	}
	return nil
}

// ==========================
// 2. Backoff
// ==========================

// ComputeDelay returns min(initial*mult^attempt + jitter, maxDelay) where
// jitter = base*jitterFactor*u and u is clamped to [0, 1].
func ComputeDelay(attempt int, cfg Config, u float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	u = math.Max(0, math.Min(1, u))

	base := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	delay := base + base*cfg.JitterFactor*u

	if math.IsNaN(delay) || delay < 0 {
		return 0
	}
	if math.IsInf(delay, 1) || delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

// NextDelay honors an explicit retry-after hint on err, capped at MaxDelay,
// and otherwise falls back to ComputeDelay.
func NextDelay(attempt int, cfg Config, err error, u float64) time.Duration {
	if hint := RetryAfter(err); hint > 0 {
		if hint > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return hint
	}
	return ComputeDelay(attempt, cfg, u)
}

// RetryAfter returns the retry-after hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	if se, ok := errors.As(err); ok && se.Code != errors.ErrCodeCircuitOpen {
		return se.RetryAfter
	}
	return 0
}

// ==========================
// 3. Classification
// ==========================

var transientSubstrings = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"dns",
	"temporary failure in name resolution",
	"rate limit",
	"too many requests",
	"429",
	"502",
	"503",
}

var timeoutSubstrings = []string{"timeout", "timed out", "deadline exceeded"}

// IsRetryable classifies err against cfg. Permanent codes are never retried;
// errors that carry an HTTP status are retried only when explicitly tagged or
// when the status is configured as retryable.
func IsRetryable(err error, cfg Config) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}

	if se, ok := errors.As(err); ok {
		switch {
		case errors.IsPermanent(se.Code):
			return false
		case se.Code == errors.ErrCodeTimeout:
			return cfg.RetryOnTimeout
		case se.HTTPStatus != 0:
			return se.Retryable || slices.Contains(cfg.RetryableStatusCodes, se.HTTPStatus)
		case se.Retryable:
			return true
		case slices.Contains(cfg.RetryableErrorCodes, se.Code):
			return true
		case se.Code != errors.ErrCodeInternal:
			return false
		}
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return cfg.RetryOnTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return cfg.RetryOnTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, s := range timeoutSubstrings {
		if strings.Contains(msg, s) {
			return cfg.RetryOnTimeout
		}
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// LastError unwraps a MAX_RETRIES_EXCEEDED error to the final attempt's error.
func LastError(err error) error {
	if se, ok := errors.As(err); ok && se.Code == errors.ErrCodeMaxRetriesExceeded {
		if cause := se.Unwrap(); cause != nil {
			return cause
		}
	}
	return err
}

// ==========================
// 4. Execution
// ==========================

// RetryContext describes one attempt. A fresh value is built per attempt.
type RetryContext struct {
	Attempt    int
	MaxRetries int
	Elapsed    time.Duration
	LastError  error
	NextDelay  time.Duration
}

// Operation is one attempt of the retried work.
type Operation[T any] func(ctx context.Context, rc RetryContext) (T, error)

// Fallback turns a terminal error into a value.
type Fallback[T any] func(err error) (T, error)

// FallbackValue returns a Fallback that always yields v.
func FallbackValue[T any](v T) Fallback[T] {
	return func(error) (T, error) { return v, nil }
}

type options struct {
	name   string
	events *EventBus
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
	now    func() time.Time
	before func(rc RetryContext) error
}

type Option func(*options)

// WithName labels emitted events.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithEvents publishes attempt lifecycle events to bus.
func WithEvents(bus *EventBus) Option {
	return func(o *options) { o.events = bus }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

func WithRandom(random func() float64) Option {
	return func(o *options) { o.random = random }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBeforeAttempt runs check before every attempt. A non-nil error aborts
// the loop without retrying.
func WithBeforeAttempt(check func(rc RetryContext) error) Option {
	return func(o *options) { o.before = check }
}

// Execute runs op until it succeeds, fails permanently or spends the budget.
func Execute[T any](ctx context.Context, cfg Config, op Operation[T], opts ...Option) (T, error) {
	return ExecuteWithFallback(ctx, cfg, op, nil, opts...)
}

// ExecuteWithFallback is Execute with a fallback applied to the terminal error.
// Without a fallback the terminal error is MAX_RETRIES_EXCEEDED wrapping the
// last attempt's error.
func ExecuteWithFallback[T any](ctx context.Context, cfg Config, op Operation[T], fallback Fallback[T], opts ...Option) (T, error) {
	o := options{
		sleep:  sleepContext,
		random: rand.Float64,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		zero     T
		lastErr  error
		attempts int
	)
	start := o.now()

	fail := func(err error) (T, error) {
		o.publish(EventExhausted, RetryContext{
			Attempt:    attempts,
			MaxRetries: cfg.MaxRetries,
			Elapsed:    o.now().Sub(start),
			LastError:  err,
		})
		exhausted := errors.NewMaxRetriesExceededError(attempts, err)
		if fallback != nil {
			return fallback(exhausted)
		}
		return zero, exhausted
	}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		rc := RetryContext{
			Attempt:    attempt,
			MaxRetries: cfg.MaxRetries,
			Elapsed:    o.now().Sub(start),
			LastError:  lastErr,
		}

		if err := ctx.Err(); err != nil {
			return fail(stderrors.Join(err, lastErr))
		}
		if o.before != nil {
			if err := o.before(rc); err != nil {
				return fail(err)
			}
		}

		o.publish(EventAttemptStart, rc)
		attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		result, err := op(attemptCtx, rc)
		timedOut := cfg.AttemptTimeout > 0 &&
			stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
			ctx.Err() == nil
		cancel()

		if err == nil {
			rc.Elapsed = o.now().Sub(start)
			o.publish(EventSuccess, rc)
			return result, nil
		}
		if timedOut {
			if _, ok := errors.As(err); !ok {
				err = errors.NewTimeoutError(o.name, err)
			}
		}

		lastErr = err
		rc.LastError = err
		rc.Elapsed = o.now().Sub(start)
		o.publish(EventFailure, rc)

		if !IsRetryable(err, cfg) || attempt == cfg.MaxRetries {
			return fail(err)
		}

		rc.NextDelay = NextDelay(attempt, cfg, err, o.random())
		o.publish(EventRetryScheduled, rc)

		if err := o.sleep(ctx, rc.NextDelay); err != nil {
			return fail(stderrors.Join(err, lastErr))
		}
	}

	return fail(lastErr)
}

func (o *options) publish(t EventType, rc RetryContext) {
	if o.events == nil {
		return
	}
	o.events.Publish(Event{Type: t, Name: o.name, Context: rc, Time: o.now()})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
