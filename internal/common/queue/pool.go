package queue

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"notification-workers/internal/channel"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/metrics"
	"notification-workers/internal/common/retry"
	"notification-workers/internal/models"
)

// Processor runs one raw job. It is implemented by the send-notification handler.
type Processor interface {
	Process(ctx context.Context, raw []byte) (*models.DeliveryResult, error)
}

type Outcome string

const (
	OutcomeAck       Outcome = "ack"
	OutcomeRequeue   Outcome = "requeue"
	OutcomeDead      Outcome = "dead"
	OutcomeRecovered Outcome = "recovered"
)

// Decide settles a processed message. Delivered and expired jobs are acked;
// retryable failures are requeued until retryCount reaches maxRetries; every
// other failure is dead-lettered.
func Decide(res *models.DeliveryResult, err error, retryCount, maxRetries int) Outcome {
	requeueable := false
	switch {
	case err != nil:
		requeueable = channel.Requeueable(err)
	case res == nil:
		return OutcomeDead
	case res.Success, res.Reason == models.ReasonExpired:
		return OutcomeAck
	default:
		requeueable = res.Retryable
	}
	if requeueable && retryCount < maxRetries {
		return OutcomeRequeue
	}
	return OutcomeDead
}

type PoolConfig struct {
	Queues []string
	// Concurrency is the number of goroutines per queue.
	Concurrency       int
	BlockTimeout      time.Duration
	SchedulerInterval time.Duration
	// VisibilityTimeout is how long a dequeued message may stay unsettled
	// before it is handed to another consumer. Zero disables recovery.
	VisibilityTimeout time.Duration
	// Requeue spaces broker-level redeliveries by retryCount.
	Requeue retry.Config
}

func DefaultPoolConfig(queues []string) PoolConfig {
	requeue := retry.DefaultConfig()
	requeue.InitialDelay = 5 * time.Second
	requeue.MaxDelay = 5 * time.Minute
	return PoolConfig{
		Queues:            queues,
		Concurrency:       4,
		BlockTimeout:      2 * time.Second,
		SchedulerInterval: time.Second,
		VisibilityTimeout: 5 * time.Minute,
		Requeue:           requeue,
	}
}

// Pool pulls jobs from every queue with a fixed number of goroutines each and
// settles them with the broker.
type Pool struct {
	broker    Broker
	processor Processor
	config    PoolConfig
	logger    logger.Logger
	now       func() time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPool(broker Broker, processor Processor, cfg PoolConfig, log logger.Logger) *Pool {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	return &Pool{
		broker:    broker,
		processor: processor,
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "queue-pool"}),
		now:       time.Now,
	}
}

// Start recovers messages stranded by a previous process, then launches the
// consumers and one maintenance loop per queue. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	_, schedules := p.broker.(Scheduler)
	_, recovers := p.broker.(Recoverer)

	for _, q := range p.config.Queues {
		p.recoverStale(ctx, q)
		for i := 0; i < p.config.Concurrency; i++ {
			p.wg.Add(1)
			go p.consume(ctx, q, i)
		}
		if (schedules || recovers) && p.config.SchedulerInterval > 0 {
			p.wg.Add(1)
			go p.maintain(ctx, q)
		}
	}
	p.logger.Info("queue pool started", map[string]interface{}{
		"queues":      p.config.Queues,
		"concurrency": p.config.Concurrency,
	})
}

// Stop stops pulling and waits for in-flight jobs to settle. A consumer blocked
// in Dequeue returns after at most BlockTimeout.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.logger.Info("queue pool stopped", nil)
	})
}

func (p *Pool) consume(ctx context.Context, queue string, worker int) {
	defer p.wg.Done()
	log := p.logger.WithFields(map[string]interface{}{"queue": queue, "worker": worker})

	for ctx.Err() == nil {
		msg, err := p.broker.Dequeue(ctx, queue, p.config.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", map[string]interface{}{"error": err.Error()})
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if msg == nil {
			continue
		}
		// In-flight work finishes even when the pool is stopping.
		p.handle(context.WithoutCancel(ctx), log, msg)
	}
}

func (p *Pool) handle(ctx context.Context, log logger.Logger, msg *Message) {
	env := peek(msg.Body)
	res, err := p.processor.Process(ctx, msg.Body)
	outcome := Decide(res, err, env.RetryCount, env.maxRetries())

	var settleErr error
	switch outcome {
	case OutcomeAck:
		settleErr = p.broker.Ack(ctx, msg)
	case OutcomeRequeue:
		delay := retry.ComputeDelay(env.RetryCount, p.config.Requeue, rand.Float64())
		settleErr = p.broker.Nack(ctx, msg, true, delay)
	default:
		settleErr = p.broker.Nack(ctx, msg, false, 0)
	}
	metrics.BrokerOutcomes.WithLabelValues(msg.Queue, string(outcome)).Inc()

	fields := map[string]interface{}{"outcome": string(outcome), "retryCount": env.RetryCount}
	if res != nil {
		fields["notificationId"] = res.NotificationID
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if settleErr != nil {
		fields["settleError"] = settleErr.Error()
		log.Error("failed to settle message", fields)
		return
	}
	if outcome == OutcomeDead {
		log.Warn("message dead-lettered", fields)
		return
	}
	log.Debug("message settled", fields)
}

// maintain promotes due scheduled messages and recovers stale in-flight ones
// every SchedulerInterval.
func (p *Pool) maintain(ctx context.Context, queue string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.promote(ctx, queue)
			p.recoverStale(ctx, queue)
		}
	}
}

func (p *Pool) promote(ctx context.Context, queue string) {
	scheduler, ok := p.broker.(Scheduler)
	if !ok {
		return
	}
	n, err := scheduler.PromoteDue(ctx, queue, p.now())
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("promote scheduled jobs failed", map[string]interface{}{"queue": queue, "error": err.Error()})
		}
		return
	}
	if n > 0 {
		p.logger.Debug("promoted scheduled jobs", map[string]interface{}{"queue": queue, "count": n})
	}
}

func (p *Pool) recoverStale(ctx context.Context, queue string) {
	recoverer, ok := p.broker.(Recoverer)
	if !ok || p.config.VisibilityTimeout <= 0 {
		return
	}
	n, err := recoverer.RecoverStale(ctx, queue, p.now(), p.config.VisibilityTimeout)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("recover stale jobs failed", map[string]interface{}{"queue": queue, "error": err.Error()})
		}
		return
	}
	if n > 0 {
		p.logger.Warn("redelivering jobs left unsettled", map[string]interface{}{"queue": queue, "count": n})
		metrics.BrokerOutcomes.WithLabelValues(queue, string(OutcomeRecovered)).Add(float64(n))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
