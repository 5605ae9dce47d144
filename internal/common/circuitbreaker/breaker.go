// Package circuitbreaker implements a per-channel three-state circuit breaker.
//
// The OPEN -> HALF_OPEN transition is evaluated lazily on the next call, so
// no background timer is needed. All counter updates and transitions happen
// under one mutex.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1")
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset_timeout must be > 0")
	}
	if c.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half_open_max_calls must be >= 1")
	}
	return nil
}

// StateChangeFunc observes transitions. It runs after the breaker lock is released.
type StateChangeFunc func(name string, from, to models.CircuitState)

type Breaker struct {
	name          string
	cfg           Config
	clock         Clock
	onStateChange StateChangeFunc
	isFailure     func(error) bool

	mu            sync.Mutex
	state         models.CircuitState
	failureCount  int
	lastFailure   time.Time
	halfOpenCalls int
}

type Option func(*Breaker)

func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

func WithOnStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithFailurePredicate overrides which errors count against the threshold.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}

	b := &Breaker{
		name:      name,
		cfg:       cfg,
		clock:     RealClock{},
		isFailure: CountsAsFailure,
		state:     models.CircuitClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

type transition struct {
	from, to models.CircuitState
}

// Allow reserves a call. It returns a CIRCUIT_OPEN error carrying the
// remaining cooldown when the call must fail fast.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var changes []transition
	err := b.allowLocked(&changes)
	b.mu.Unlock()

	b.notify(changes)
	return err
}

func (b *Breaker) allowLocked(changes *[]transition) error {
	switch b.state {
	case models.CircuitClosed:
		return nil

	case models.CircuitOpen:
		elapsed := b.clock.Now().Sub(b.lastFailure)
		if elapsed < b.cfg.ResetTimeout {
			return errors.NewCircuitOpenError(b.name, b.cfg.ResetTimeout-elapsed)
		}
		b.setState(models.CircuitHalfOpen, changes)
		b.halfOpenCalls = 0
		fallthrough

	case models.CircuitHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return errors.NewCircuitOpenError(b.name, 0).WithMetadata("halfOpen", true)
		}
		b.halfOpenCalls++
		return nil
	}
	return nil
}

// Done records the outcome of a call previously admitted by Allow.
func (b *Breaker) Done(err error) {
	b.mu.Lock()
	var changes []transition
	switch {
	case err == nil:
		b.onSuccessLocked(&changes)
	case b.isFailure(err):
		b.onFailureLocked(&changes)
	default:
		// Outcome says nothing about the dependency; free the probe slot.
		if b.state == models.CircuitHalfOpen && b.halfOpenCalls > 0 {
			b.halfOpenCalls--
		}
	}
	b.mu.Unlock()

	b.notify(changes)
}

func (b *Breaker) onSuccessLocked(changes *[]transition) {
	switch b.state {
	case models.CircuitHalfOpen:
		b.setState(models.CircuitClosed, changes)
		b.failureCount = 0
		b.halfOpenCalls = 0
	case models.CircuitClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

func (b *Breaker) onFailureLocked(changes *[]transition) {
	b.lastFailure = b.clock.Now()

	switch b.state {
	case models.CircuitClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.setState(models.CircuitOpen, changes)
		}
	case models.CircuitHalfOpen:
		b.failureCount = b.cfg.FailureThreshold
		b.halfOpenCalls = 0
		b.setState(models.CircuitOpen, changes)
	}
}

func (b *Breaker) setState(to models.CircuitState, changes *[]transition) {
	if b.state == to {
		return
	}
	*changes = append(*changes, transition{from: b.state, to: to})
	b.state = to
}

func (b *Breaker) notify(changes []transition) {
	if b.onStateChange == nil {
		return
	}
	for _, c := range changes {
		b.onStateChange(b.name, c.from, c.to)
	}
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() models.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.CircuitBreakerState{
		State:             b.state,
		FailureCount:      b.failureCount,
		LastFailureTime:   b.lastFailure,
		HalfOpenCallCount: b.halfOpenCalls,
	}
}

// Reset forces the breaker back to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var changes []transition
	b.setState(models.CircuitClosed, &changes)
	b.failureCount = 0
	b.halfOpenCalls = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()

	b.notify(changes)
}

// Execute runs op if the breaker admits the call and records its outcome.
// A rejected call never invokes op.
func Execute[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := op(ctx)
	b.Done(err)
	return result, err
}

// CountsAsFailure is the default predicate: payload problems, provider
// rejections, client-side HTTP statuses and caller cancellation leave the
// breaker untouched.
func CountsAsFailure(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	se, ok := errors.As(err)
	if !ok {
		return true
	}
	switch se.Code {
	case errors.ErrCodeValidationFailed,
		errors.ErrCodeInvalidJobSchema,
		errors.ErrCodeUnknownChannel,
		errors.ErrCodeChannelDisabled,
		errors.ErrCodeNotificationExpired,
		errors.ErrCodeProviderRejected,
		errors.ErrCodeCircuitOpen:
		return false
	}
	if s := se.HTTPStatus; s >= 400 && s < 500 && s != 408 && s != 429 {
		return false
	}
	return true
}
