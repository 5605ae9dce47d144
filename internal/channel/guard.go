package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"notification-workers/internal/common/circuitbreaker"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/metrics"
	"notification-workers/internal/common/retry"
	"notification-workers/internal/models"
)

const eventBuffer = 256

// Guard owns the resilience state of one channel: its retry policy, its
// circuit breaker and its sent/failed counters. Every delivery runs as
// retry(breaker(transport)).
type Guard struct {
	channel models.Channel
	retry   retry.Config
	breaker *circuitbreaker.Breaker
	events  *retry.EventBus
	logger  logger.Logger
	clock   circuitbreaker.Clock
	sleep   func(ctx context.Context, d time.Duration) error
	random  func() float64

	sent   atomic.Uint64
	failed atomic.Uint64

	subscriber sync.WaitGroup
	closeOnce  sync.Once
}

type GuardOption func(*Guard)

// WithGuardClock drives both the breaker cooldown and the expiry checks.
func WithGuardClock(c circuitbreaker.Clock) GuardOption {
	return func(g *Guard) { g.clock = c }
}

// WithGuardSleep replaces the wait between retries.
func WithGuardSleep(sleep func(ctx context.Context, d time.Duration) error) GuardOption {
	return func(g *Guard) { g.sleep = sleep }
}

func WithGuardRandom(random func() float64) GuardOption {
	return func(g *Guard) { g.random = random }
}

// NewGuard builds the guard for ch and starts the goroutine that turns retry
// events into log lines and metrics. Close stops it.
func NewGuard(ch models.Channel, retryCfg retry.Config, breakerCfg circuitbreaker.Config, log logger.Logger, opts ...GuardOption) *Guard {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	g := &Guard{
		channel: ch,
		retry:   retryCfg,
		events:  retry.NewEventBus(),
		logger:  log.WithFields(map[string]interface{}{"channel": string(ch)}),
		clock:   circuitbreaker.RealClock{},
	}
	for _, opt := range opts {
		opt(g)
	}

	g.breaker = circuitbreaker.New(string(ch), breakerCfg,
		circuitbreaker.WithClock(g.clock),
		circuitbreaker.WithOnStateChange(g.onStateChange),
	)
	metrics.CircuitState.WithLabelValues(string(ch)).Set(metrics.CircuitStateValue(models.CircuitClosed))

	events, _ := g.events.Subscribe(eventBuffer)
	g.subscriber.Add(1)
	go g.consume(events)
	return g
}

// Channel returns the channel this guard protects.
func (g *Guard) Channel() models.Channel { return g.channel }

// RetryConfig returns a copy of the guard's default retry policy.
func (g *Guard) RetryConfig() retry.Config { return g.retry }

func (g *Guard) Breaker() *circuitbreaker.Breaker { return g.breaker }

func (g *Guard) Now() time.Time { return g.clock.Now() }

// Run executes op under cfg's retry policy with the breaker guarding each
// attempt. The job's expiry is checked before every attempt. It returns the
// number of attempts made, including attempts rejected by an open circuit.
func (g *Guard) Run(ctx context.Context, job *models.NotificationJob, cfg retry.Config, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	opts := []retry.Option{
		retry.WithName(string(g.channel)),
		retry.WithEvents(g.events),
		retry.WithClock(g.clock.Now),
		retry.WithBeforeAttempt(func(retry.RetryContext) error {
			if job.IsExpired(g.clock.Now()) {
				return errors.NewExpiredError(job.NotificationID, *job.ExpiresAt)
			}
			return nil
		}),
	}
	if g.sleep != nil {
		opts = append(opts, retry.WithSleep(g.sleep))
	}
	if g.random != nil {
		opts = append(opts, retry.WithRandom(g.random))
	}

	_, err := retry.Execute(ctx, cfg, func(ctx context.Context, _ retry.RetryContext) (struct{}, error) {
		attempts++
		return circuitbreaker.Execute(ctx, g.breaker, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, op(ctx)
		})
	}, opts...)

	metrics.DeliveryAttempts.WithLabelValues(string(g.channel)).Add(float64(attempts))
	return attempts, err
}

// Record counts a finished delivery.
func (g *Guard) Record(result *models.DeliveryResult) {
	if result.Success {
		g.sent.Add(1)
		return
	}
	g.failed.Add(1)
}

func (g *Guard) Stats() models.ChannelStats {
	return models.ChannelStats{
		Channel:      g.channel,
		Sent:         g.sent.Load(),
		Failed:       g.failed.Load(),
		CircuitState: g.breaker.State().State,
	}
}

// Close stops the event subscriber. It is safe to call more than once.
func (g *Guard) Close() {
	g.closeOnce.Do(func() {
		g.events.Close()
		g.subscriber.Wait()
	})
}

// DroppedEvents reports how many retry events the subscriber missed.
func (g *Guard) DroppedEvents() uint64 {
	return g.events.Dropped()
}

func (g *Guard) onStateChange(name string, from, to models.CircuitState) {
	metrics.CircuitState.WithLabelValues(name).Set(metrics.CircuitStateValue(to))
	fields := map[string]interface{}{"from": string(from), "to": string(to)}
	if to == models.CircuitOpen {
		g.logger.Warn("circuit opened", fields)
		return
	}
	g.logger.Info("circuit state changed", fields)
}

func (g *Guard) consume(events <-chan retry.Event) {
	defer g.subscriber.Done()
	for e := range events {
		metrics.RetryEvents.WithLabelValues(string(g.channel), string(e.Type)).Inc()

		fields := map[string]interface{}{
			"attempt":    e.Context.Attempt,
			"maxRetries": e.Context.MaxRetries,
			"elapsedMs":  e.Context.Elapsed.Milliseconds(),
		}
		if e.Context.LastError != nil {
			fields["error"] = e.Context.LastError.Error()
			fields["errorCode"] = string(errors.CodeOf(e.Context.LastError))
		}

		switch e.Type {
		case retry.EventRetryScheduled:
			fields["nextDelayMs"] = e.Context.NextDelay.Milliseconds()
			g.logger.Warn("delivery attempt failed, retry scheduled", fields)
		case retry.EventExhausted:
			g.logger.Warn("delivery attempts exhausted", fields)
		default:
			g.logger.Debug("delivery "+string(e.Type), fields)
		}
	}
}
