package pushsend

import (
	"context"
	"strings"
	"testing"

	"notification-workers/internal/channel"
	"notification-workers/internal/common/circuitbreaker"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/retry"
	"notification-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	guard := channel.NewGuard(models.ChannelPush, retry.DefaultConfig(), circuitbreaker.DefaultConfig(), logger.NewTestLogger(t))
	svc := NewService(ServiceDependencies{Logger: logger.NewTestLogger(t), Guard: guard})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func pushJob() *models.NotificationJob {
	return &models.NotificationJob{
		NotificationID: "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
		TenantID:       "0b6c2a1e-8f5d-4a3b-9c7e-2d1f0e9a8b7c",
		Channel:        models.ChannelPush,
		Recipient:      models.Recipient{DeviceToken: "fcm:APA91bHun4MxP5egoKMwt2KZFBaFUH-1RYqx"},
		Content:        models.Content{Subject: "Order update", Body: "Your order shipped"},
	}
}

func TestDeliver_Placeholder(t *testing.T) {
	svc := newService(t)
	job := pushJob()

	res := svc.Deliver(context.Background(), job, channel.MetadataFor(job))

	require.True(t, res.Success, res.Error)
	assert.True(t, strings.HasPrefix(res.MessageID, "push_"))
	assert.Equal(t, "placeholder", res.ProviderResponse["provider"])
	assert.Equal(t, uint64(1), svc.Stats().Sent)
}

func TestDeliver_InvalidToken(t *testing.T) {
	svc := newService(t)
	for _, token := range []string{"", "short", "has spaces in it"} {
		job := pushJob()
		job.Recipient.DeviceToken = token
		res := svc.Deliver(context.Background(), job, channel.MetadataFor(job))
		assert.False(t, res.Success, token)
		assert.Equal(t, string(errors.ErrCodeValidationFailed), res.ErrorCode)
		assert.Equal(t, 0, res.Attempts)
	}
}

func TestBuild_PayloadLimit(t *testing.T) {
	job := pushJob()
	job.Content.Body = strings.Repeat("x", MaxPayloadBytes)
	_, err := Build(job)
	assert.Error(t, err)
}
