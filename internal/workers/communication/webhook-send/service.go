package webhooksend

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"notification-workers/internal/channel"
	"notification-workers/internal/common/errors"
	httpclient "notification-workers/internal/common/http"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/signing"
	"notification-workers/internal/models"
)

type ServiceDependencies struct {
	Logger logger.Logger
	Client *httpclient.Client
	Guard  *channel.Guard
}

// Service is the WEBHOOK channel.
type Service struct {
	config *Config
	logger logger.Logger
	client *httpclient.Client
	guard  *channel.Guard
	signer *signing.Signer

	closeOnce sync.Once
}

var _ channel.Channel = (*Service)(nil)

func NewService(deps ServiceDependencies, config *Config) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	client := deps.Client
	if client == nil {
		// Attempts are bounded by their own context deadline.
		client = httpclient.NewClient(0)
	}
	s := &Service{
		config: config,
		logger: log.WithFields(map[string]interface{}{"channel": string(models.ChannelWebhook)}),
		client: client,
		guard:  deps.Guard,
	}
	if signer, err := signing.NewSigner(config.SigningSecret); err == nil {
		s.signer = signer.WithClock(deps.Guard.Now)
	}
	return s
}

func (s *Service) Type() models.Channel { return models.ChannelWebhook }

func (s *Service) Initialize(context.Context) error {
	s.logger.Info("webhook channel ready", map[string]interface{}{
		"signing":   s.signer != nil,
		"timeoutMs": s.config.Timeout.Milliseconds(),
	})
	return nil
}

// attemptState carries what the last attempt observed back to Deliver.
type attemptState struct {
	statusCode int
	body       string
}

func (s *Service) Deliver(ctx context.Context, job *models.NotificationJob, meta channel.Metadata) *models.DeliveryResult {
	started := s.guard.Now()
	log := logger.ForNotification(s.logger, job.NotificationID, job.TenantID, string(job.Channel), meta.CorrelationID)
	requestID := NewRequestID(started)

	payload, err := PayloadFromJob(job, s.config)
	if err == nil {
		err = Validate(payload)
	}
	if err != nil {
		if _, ok := errors.As(err); !ok {
			err = errors.NewValidationError(err.Error())
		}
		return s.finish(log, job, requestID, &attemptState{}, err, started, 0)
	}

	cfg := s.guard.RetryConfig()
	cfg.RetryableStatusCodes = payload.RetryOnStatus

	state := &attemptState{}
	attempts, err := s.guard.Run(ctx, job, cfg, func(ctx context.Context) error {
		return s.send(ctx, payload, meta, requestID, state)
	})
	return s.finish(log, job, requestID, state, err, started, attempts)
}

// send performs one HTTP attempt under the payload's timeout.
func (s *Service) send(ctx context.Context, p *Payload, meta channel.Metadata, requestID string, state *attemptState) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, p.Method, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("build webhook request: %v", err))
	}
	req.Header = BuildHeaders(p, meta, requestID, s.config.UserAgent, s.guard.Now(), s.signer)

	resp, err := s.client.Do(req)
	if err != nil {
		state.statusCode, state.body = 0, ""
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isTimeout(attemptCtx, err) {
			state.statusCode = http.StatusRequestTimeout
			return errors.NewTimeoutError("webhook", err)
		}
		return errors.NewTransientError("webhook", err)
	}

	body := httpclient.ReadBody(resp, s.config.MaxResponseBytes)
	state.statusCode = resp.StatusCode
	state.body = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	retryable := p.RetriesOn(resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests && retryable {
		return errors.NewRateLimitError("webhook", parseRetryAfter(resp.Header.Get("Retry-After"), s.guard.Now())).
			WithMetadata("body", truncate(state.body, 256))
	}
	return errors.NewHTTPStatusError("webhook", resp.StatusCode, retryable, truncate(state.body, 256))
}

func (s *Service) finish(log logger.Logger, job *models.NotificationJob, requestID string, state *attemptState, err error, started time.Time, attempts int) *models.DeliveryResult {
	now := s.guard.Now()
	var res *models.DeliveryResult
	if err == nil {
		res = channel.Succeeded(job, started, now, attempts)
	} else {
		res = channel.Failed(job, err, started, now, attempts)
	}
	res.RequestID = requestID
	if state.statusCode != 0 {
		res.StatusCode = state.statusCode
		res.ProviderResponse = map[string]interface{}{
			"status": state.statusCode,
			"body":   state.body,
		}
	}
	s.guard.Record(res)

	fields := map[string]interface{}{
		"requestId":  requestID,
		"statusCode": res.StatusCode,
		"attempts":   attempts,
	}
	if res.Success {
		log.Info("webhook delivered", fields)
		return res
	}
	fields["error"] = res.Error
	fields["errorCode"] = res.ErrorCode
	log.Error("webhook delivery failed", fields)
	return res
}

func (s *Service) Stats() models.ChannelStats {
	return s.guard.Stats()
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.client.CloseIdleConnections()
		s.guard.Close()
	})
	return nil
}

func isTimeout(attemptCtx context.Context, err error) bool {
	if stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
