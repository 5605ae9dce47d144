package emailsend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notification-workers/internal/channel"
	awsclient "notification-workers/internal/common/aws"
	"notification-workers/internal/common/config"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
)

type ServiceDependencies struct {
	Logger    logger.Logger
	Transport Transport
	Guard     *channel.Guard
}

// Service is the EMAIL channel.
type Service struct {
	config    *Config
	logger    logger.Logger
	transport Transport
	guard     *channel.Guard

	closeOnce sync.Once
	closeErr  error
}

var _ channel.Channel = (*Service)(nil)

func NewService(deps ServiceDependencies, config *Config) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		config:    config,
		logger:    log.WithFields(map[string]interface{}{"channel": string(models.ChannelEmail)}),
		transport: deps.Transport,
		guard:     deps.Guard,
	}
}

// NewTransport builds the transport selected by cfg.Transport.
func NewTransport(ctx context.Context, cfg *Config, awsRegion string) (Transport, error) {
	switch cfg.Transport {
	case config.EmailTransportSES:
		client, err := awsclient.NewSESClient(ctx, awsRegion)
		if err != nil {
			return nil, fmt.Errorf("create SES client: %w", err)
		}
		return NewSESTransport(client), nil
	case config.EmailTransportSMTP, "":
		return NewSMTPTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
	}
}

func (s *Service) Type() models.Channel { return models.ChannelEmail }

func (s *Service) Initialize(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if err := s.transport.Ping(ctx); err != nil {
		return err
	}
	s.logger.Info("email channel ready", map[string]interface{}{"transport": s.transport.Name()})
	return nil
}

func (s *Service) Deliver(ctx context.Context, job *models.NotificationJob, meta channel.Metadata) *models.DeliveryResult {
	started := s.guard.Now()
	log := logger.ForNotification(s.logger, job.NotificationID, job.TenantID, string(job.Channel), meta.CorrelationID)

	payload := PayloadFromJob(job, s.config.From)
	if err := Validate(payload); err != nil {
		return s.fail(log, job, payload, err, started, 0)
	}
	msg, err := BuildMessage(payload, meta)
	if err != nil {
		return s.fail(log, job, payload, errors.NewValidationError(err.Error()), started, 0)
	}

	var messageID string
	cfg := s.guard.RetryConfig()
	attempts, err := s.guard.Run(ctx, job, cfg, func(ctx context.Context) error {
		id, err := s.transport.Send(ctx, msg, payload)
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	if err != nil {
		return s.fail(log, job, payload, err, started, attempts)
	}

	res := channel.Succeeded(job, started, s.guard.Now(), attempts)
	res.MessageID = messageID
	res.Accepted = payload.Recipients()
	res.ProviderResponse = map[string]interface{}{"transport": s.transport.Name()}
	s.guard.Record(res)

	log.Info("Email sent successfully", map[string]interface{}{
		"messageId": messageID,
		"attempts":  attempts,
	})
	return res
}

func (s *Service) fail(log logger.Logger, job *models.NotificationJob, p *Payload, err error, started time.Time, attempts int) *models.DeliveryResult {
	res := channel.Failed(job, err, started, s.guard.Now(), attempts)
	res.Rejected = p.Recipients()
	s.guard.Record(res)

	log.Error("Email delivery failed", map[string]interface{}{
		"error":     res.Error,
		"errorCode": res.ErrorCode,
		"attempts":  attempts,
		"rejected":  res.Rejected,
	})
	return res
}

func (s *Service) Stats() models.ChannelStats {
	return s.guard.Stats()
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.transport.Close()
		s.guard.Close()
	})
	return s.closeErr
}
