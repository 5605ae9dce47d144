// internal/workers/application/send-notification/handler.go
package sendnotification

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"notification-workers/internal/channel"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/metrics"
	"notification-workers/internal/common/observability"
	"notification-workers/internal/common/validation"
	"notification-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
)

const (
	TaskType = "send-notification"
	spanName = "notification.deliver"
)

// ErrShuttingDown rejects jobs arriving after Close. It is retryable so the
// broker hands the job to another worker.
var ErrShuttingDown = errors.NewTransientError(TaskType, stderrors.New("notification worker is shutting down"))

// DeliveryStore persists outcomes and answers whether a notification was
// already delivered. *database.DeliveryLog implements it.
type DeliveryStore interface {
	Delivered(ctx context.Context, notificationID string) (bool, error)
	Record(ctx context.Context, job *models.NotificationJob, result *models.DeliveryResult) error
}

type HandlerDependencies struct {
	Registry      *channel.Registry
	Store         DeliveryStore
	Observability *observability.Observability
	Logger        logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler is the notifications worker. Each job moves through
// received -> validated -> (expired -> skipped) -> routed -> delivered|failed.
type Handler struct {
	config       *Config
	registry     *channel.Registry
	store        DeliveryStore
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	now          func() time.Time

	mu       sync.Mutex
	counts   map[models.Channel]*ChannelCounts
	rejected uint64
	closing  bool
	inFlight sync.WaitGroup
	active   int64

	closeOnce sync.Once
	closeErr  error
}

func NewHandler(config *Config, deps HandlerDependencies) (*Handler, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if config == nil {
		config = LoadConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       config,
		registry:     deps.Registry,
		store:        deps.Store,
		obs:          deps.Observability,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
		now:          now,
		counts:       make(map[models.Channel]*ChannelCounts),
	}, nil
}

// Process runs one raw job to completion. Only schema and unknown-channel
// failures are returned as errors; every other outcome, including expiry and
// delivery failure, is a result.
func (h *Handler) Process(ctx context.Context, raw []byte) (*models.DeliveryResult, error) {
	if !h.begin() {
		return nil, ErrShuttingDown
	}
	defer h.end()

	job, err := validation.ParseJob(raw)
	if err != nil {
		h.reject("schema", err)
		return nil, err
	}
	return h.process(ctx, job)
}

func (h *Handler) process(ctx context.Context, job *models.NotificationJob) (*models.DeliveryResult, error) {
	started := h.now()
	log := logger.ForNotification(h.logger, job.NotificationID, job.TenantID, string(job.Channel), job.CorrelationID())

	if job.IsExpired(started) {
		res := channel.Failed(job, errors.NewExpiredError(job.NotificationID, *job.ExpiresAt), started, started, 0)
		log.Warn("notification expired before delivery", map[string]interface{}{
			"expiresAt": job.ExpiresAt.UTC().Format(time.RFC3339),
		})
		h.finish(ctx, log, job, res, started)
		return res, nil
	}

	if h.config.Dedupe && h.store != nil {
		delivered, err := h.store.Delivered(ctx, job.NotificationID)
		if err != nil {
			log.Warn("delivery log lookup failed", map[string]interface{}{"error": err.Error()})
		} else if delivered {
			res := &models.DeliveryResult{
				NotificationID: job.NotificationID,
				Channel:        job.Channel,
				Success:        true,
				Reason:         models.ReasonDuplicate,
			}
			log.Info("notification already delivered", nil)
			h.finish(ctx, log, job, res, started)
			return res, nil
		}
	}

	ch, err := h.registry.Resolve(string(job.Channel))
	if err != nil {
		if !errors.Is(err, errors.ErrCodeChannelDisabled) {
			h.reject("routing", err)
			return nil, err
		}
		res := channel.Failed(job, err, started, h.now(), 0)
		log.Warn("channel disabled", nil)
		h.finish(ctx, log, job, res, started)
		return res, nil
	}

	applyTemplateData(&job.Content)

	if h.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.JobTimeout)
		defer cancel()
	}

	ctx, end := h.startSpan(ctx, job)
	gauge := metrics.JobsActive.WithLabelValues(string(job.Channel))
	gauge.Inc()
	res := ch.Deliver(ctx, job, channel.MetadataFor(job))
	gauge.Dec()

	var spanErr error
	if !res.Success {
		spanErr = fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	end(spanErr)

	h.finish(ctx, log, job, res, started)
	return res, nil
}

func (h *Handler) startSpan(ctx context.Context, job *models.NotificationJob) (context.Context, func(error)) {
	if h.obs == nil {
		return ctx, func(error) {}
	}
	return h.obs.StartSpan(ctx, spanName,
		attribute.String("notification.id", job.NotificationID),
		attribute.String("notification.channel", string(job.Channel)),
		attribute.String("notification.tenant_id", job.TenantID),
		attribute.String("notification.priority", string(job.Priority)),
	)
}

// finish counts the outcome, exports metrics and persists the result.
func (h *Handler) finish(ctx context.Context, log logger.Logger, job *models.NotificationJob, res *models.DeliveryResult, started time.Time) {
	status := StatusOf(res)
	elapsed := h.now().Sub(started)
	h.count(job.Channel, status)

	label := string(job.Channel)
	metrics.DeliveriesTotal.WithLabelValues(label, status).Inc()
	metrics.DeliveryDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	if h.obs != nil {
		h.obs.RecordJobProcessed(ctx, label, status)
		h.obs.RecordJobDuration(ctx, elapsed, label, status)
	}

	if h.store == nil || status == StatusDuplicate {
		return
	}
	if err := h.store.Record(context.WithoutCancel(ctx), job, res); err != nil {
		log.Error("failed to record delivery", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) reject(source string, err error) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()

	code := errors.CodeOf(err)
	metrics.JobsFailed.WithLabelValues(source, string(code)).Inc()
	h.logger.Error("job rejected", map[string]interface{}{
		"source":    source,
		"errorCode": string(code),
		"error":     err.Error(),
	})
}

func (h *Handler) count(c models.Channel, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts, ok := h.counts[c]
	if !ok {
		counts = &ChannelCounts{}
		h.counts[c] = counts
	}
	counts.Processed++
	switch status {
	case StatusSent:
		counts.Sent++
	case StatusSkipped:
		counts.Skipped++
	case StatusDuplicate:
		counts.Duplicate++
	default:
		counts.Failed++
	}
}

// Stats returns a copy of the orchestrator counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := Stats{
		Channels: make(map[models.Channel]ChannelCounts, len(h.counts)),
		Rejected: h.rejected,
		InFlight: h.active,
	}
	for c, counts := range h.counts {
		out.Channels[c] = *counts
	}
	return out
}

// Health reports every registered channel. A channel whose circuit is OPEN is
// degraded, and so is the aggregate.
func (h *Handler) Health(ctx context.Context) models.HealthReport {
	now := h.now().UTC()
	report := models.HealthReport{
		Status:    models.HealthOK,
		Channels:  make(map[models.Channel]models.ChannelHealth, len(models.AllChannels)),
		CheckedAt: now,
	}
	for _, ch := range h.registry.All() {
		stats := ch.Stats()
		health := models.ChannelHealth{
			Status:    models.HealthOK,
			Message:   "circuit " + string(stats.CircuitState),
			LastCheck: now,
			Stats:     stats,
		}
		if stats.CircuitState == models.CircuitOpen {
			health.Status = models.HealthDegraded
			report.Status = models.HealthDegraded
		}
		report.Channels[ch.Type()] = health
		report.TotalSent += stats.Sent
		report.TotalFailed += stats.Failed
	}
	return report
}

func (h *Handler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.inFlight.Add(1)
	h.active++
	return true
}

func (h *Handler) end() {
	h.mu.Lock()
	h.active--
	h.mu.Unlock()
	h.inFlight.Done()
}

// Close stops accepting jobs, waits for in-flight ones and closes every
// channel once. ctx bounds the wait; channels are closed either way.
func (h *Handler) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closing = true
		h.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			h.inFlight.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			h.logger.Warn("closing channels with jobs still in flight", map[string]interface{}{
				"inFlight": h.Stats().InFlight,
			})
		}
		h.closeErr = h.registry.CloseAll()
	})
	return h.closeErr
}

// Handle is the Zeebe job handler. The job variables are the notification job
// document. Delivered and terminally failed notifications complete the job
// with the result; failures the broker may retry fail the job with retries.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	ctx := context.Background()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	res, err := h.Process(ctx, []byte(job.Variables))
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}
	if !res.Success && res.Retryable {
		h.errorHandler.HandleJobError(ctx, client, job,
			errors.NewMaxRetriesExceededError(res.Attempts, fmt.Errorf("%s: %s", res.ErrorCode, res.Error)))
		return
	}

	h.completeJob(ctx, client, job, &Output{
		NotificationID: res.NotificationID,
		Status:         StatusOf(res),
		Result:         res,
	})
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
