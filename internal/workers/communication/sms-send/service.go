// Package smssend is the SMS channel. Messages go through Amazon SNS when a
// publisher is configured and are otherwise acknowledged by a placeholder
// provider.
package smssend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"notification-workers/internal/channel"
	awsclient "notification-workers/internal/common/aws"
	"notification-workers/internal/common/config"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/validation"
	"notification-workers/internal/models"

	"github.com/google/uuid"
)

// MaxMessageLength is the longest concatenated SMS accepted.
const MaxMessageLength = 1600

const ProviderPlaceholder = "placeholder"

// Publisher sends one text message and returns the provider message id.
type Publisher interface {
	PublishSMS(ctx context.Context, phone, message, senderID string) (string, error)
}

var _ Publisher = (*awsclient.SNSClient)(nil)

type Config struct {
	Provider string
	SenderID string
}

func FromAppConfig(c config.SMSConfig) *Config {
	return &Config{Provider: c.Provider, SenderID: c.SenderID}
}

type ServiceDependencies struct {
	Logger    logger.Logger
	Publisher Publisher
	Guard     *channel.Guard
}

type Service struct {
	config    *Config
	logger    logger.Logger
	publisher Publisher
	guard     *channel.Guard
	closeOnce sync.Once
}

var _ channel.Channel = (*Service)(nil)

func NewService(deps ServiceDependencies, cfg *Config) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"channel": string(models.ChannelSMS)}),
		publisher: deps.Publisher,
		guard:     deps.Guard,
	}
}

// NewPublisher returns an SNS publisher when provider is "sns" and nil for the
// placeholder provider.
func NewPublisher(ctx context.Context, cfg *Config, awsRegion string) (Publisher, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "sns":
		client, err := awsclient.NewSNSClient(ctx, awsRegion)
		if err != nil {
			return nil, fmt.Errorf("create SNS client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
}

func (s *Service) Type() models.Channel { return models.ChannelSMS }

func (s *Service) Initialize(context.Context) error {
	s.logger.Info("sms channel ready", map[string]interface{}{"provider": s.providerName()})
	return nil
}

func (s *Service) providerName() string {
	if s.publisher == nil {
		return ProviderPlaceholder
	}
	return "sns"
}

// Validate checks the recipient phone number and message size.
func Validate(job *models.NotificationJob) error {
	phone := strings.TrimSpace(job.Recipient.Phone)
	if phone == "" {
		return errors.NewValidationError("recipient.phone is required")
	}
	if !validation.ValidatePhone(phone) {
		return errors.NewValidationError(fmt.Sprintf("invalid phone number: %s", phone))
	}
	n := utf8.RuneCountInString(job.Content.Body)
	if n == 0 {
		return errors.NewValidationError("content.body is required")
	}
	if n > MaxMessageLength {
		return errors.NewValidationError(fmt.Sprintf("sms body exceeds %d characters", MaxMessageLength))
	}
	return nil
}

func (s *Service) Deliver(ctx context.Context, job *models.NotificationJob, meta channel.Metadata) *models.DeliveryResult {
	started := s.guard.Now()
	log := logger.ForNotification(s.logger, job.NotificationID, job.TenantID, string(job.Channel), meta.CorrelationID)

	if err := Validate(job); err != nil {
		return s.finish(log, job, "", err, started, 0)
	}

	phone := strings.TrimSpace(job.Recipient.Phone)
	var messageID string
	attempts, err := s.guard.Run(ctx, job, s.guard.RetryConfig(), func(ctx context.Context) error {
		if s.publisher == nil {
			messageID = "sms_" + uuid.NewString()
			return nil
		}
		id, err := s.publisher.PublishSMS(ctx, phone, job.Content.Body, s.config.SenderID)
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	return s.finish(log, job, messageID, err, started, attempts)
}

func (s *Service) finish(log logger.Logger, job *models.NotificationJob, messageID string, err error, started time.Time, attempts int) *models.DeliveryResult {
	var res *models.DeliveryResult
	if err != nil {
		res = channel.Failed(job, err, started, s.guard.Now(), attempts)
		log.Error("SMS send failed", map[string]interface{}{
			"error":     res.Error,
			"errorCode": res.ErrorCode,
			"attempts":  attempts,
		})
	} else {
		res = channel.Succeeded(job, started, s.guard.Now(), attempts)
		res.MessageID = messageID
		res.Accepted = []string{strings.TrimSpace(job.Recipient.Phone)}
		res.ProviderResponse = map[string]interface{}{"provider": s.providerName()}
		log.Info("SMS sent", map[string]interface{}{"messageId": messageID, "attempts": attempts})
	}
	s.guard.Record(res)
	return res
}

func (s *Service) Stats() models.ChannelStats { return s.guard.Stats() }

func (s *Service) Close() error {
	s.closeOnce.Do(s.guard.Close)
	return nil
}
