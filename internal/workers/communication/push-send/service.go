// Package pushsend is the PUSH channel. It validates device tokens and
// acknowledges deliveries through a placeholder provider until a push gateway
// is integrated.
package pushsend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"notification-workers/internal/channel"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/validation"
	"notification-workers/internal/models"

	"github.com/google/uuid"
)

// MaxPayloadBytes matches the APNs payload limit.
const MaxPayloadBytes = 4096

// Notification is the provider-neutral push payload.
type Notification struct {
	Token string                 `json:"token"`
	Title string                 `json:"title,omitempty"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Sender hands a notification to a push gateway.
type Sender interface {
	Send(ctx context.Context, n *Notification) (string, error)
}

// PlaceholderSender accepts every notification and mints an id.
type PlaceholderSender struct{}

func (PlaceholderSender) Send(context.Context, *Notification) (string, error) {
	return "push_" + uuid.NewString(), nil
}

type ServiceDependencies struct {
	Logger logger.Logger
	Sender Sender
	Guard  *channel.Guard
}

type Service struct {
	logger    logger.Logger
	sender    Sender
	guard     *channel.Guard
	closeOnce sync.Once
}

var _ channel.Channel = (*Service)(nil)

func NewService(deps ServiceDependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	sender := deps.Sender
	if sender == nil {
		sender = PlaceholderSender{}
	}
	return &Service{
		logger: log.WithFields(map[string]interface{}{"channel": string(models.ChannelPush)}),
		sender: sender,
		guard:  deps.Guard,
	}
}

func (s *Service) Type() models.Channel { return models.ChannelPush }

func (s *Service) Initialize(context.Context) error { return nil }

// Build validates the job and produces the push payload.
func Build(job *models.NotificationJob) (*Notification, error) {
	token := strings.TrimSpace(job.Recipient.DeviceToken)
	if token == "" {
		return nil, errors.NewValidationError("recipient.deviceToken is required")
	}
	if !validation.ValidateDeviceToken(token) {
		return nil, errors.NewValidationError("invalid device token")
	}
	if job.Content.Body == "" {
		return nil, errors.NewValidationError("content.body is required")
	}
	n := &Notification{
		Token: token,
		Title: job.Content.Subject,
		Body:  job.Content.Body,
		Data:  job.Content.TemplateData,
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("encode push payload: %v", err))
	}
	if len(raw) > MaxPayloadBytes {
		return nil, errors.NewValidationError(fmt.Sprintf("push payload is %d bytes, limit is %d", len(raw), MaxPayloadBytes))
	}
	return n, nil
}

func (s *Service) Deliver(ctx context.Context, job *models.NotificationJob, meta channel.Metadata) *models.DeliveryResult {
	started := s.guard.Now()
	log := logger.ForNotification(s.logger, job.NotificationID, job.TenantID, string(job.Channel), meta.CorrelationID)

	n, err := Build(job)
	attempts := 0
	var messageID string
	if err == nil {
		attempts, err = s.guard.Run(ctx, job, s.guard.RetryConfig(), func(ctx context.Context) error {
			id, err := s.sender.Send(ctx, n)
			if err != nil {
				return err
			}
			messageID = id
			return nil
		})
	}
	return s.finish(log, job, messageID, err, started, attempts)
}

func (s *Service) finish(log logger.Logger, job *models.NotificationJob, messageID string, err error, started time.Time, attempts int) *models.DeliveryResult {
	var res *models.DeliveryResult
	if err != nil {
		res = channel.Failed(job, err, started, s.guard.Now(), attempts)
		log.Error("push delivery failed", map[string]interface{}{"error": res.Error, "errorCode": res.ErrorCode})
	} else {
		res = channel.Succeeded(job, started, s.guard.Now(), attempts)
		res.MessageID = messageID
		res.ProviderResponse = map[string]interface{}{"provider": "placeholder"}
		log.Debug("push delivered", map[string]interface{}{"messageId": messageID})
	}
	s.guard.Record(res)
	return res
}

func (s *Service) Stats() models.ChannelStats { return s.guard.Stats() }

func (s *Service) Close() error {
	s.closeOnce.Do(s.guard.Close)
	return nil
}
