package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

const (
	testNotificationID = "6f1c2a4e-8b1d-4a55-9f3e-2d7c1b0a9e11"
	testTenantID       = "0a2b4c6d-1e3f-4a5b-8c7d-9e0f1a2b3c4d"
)

func TestParseJob_ValidEmailJobAppliesDefaults(t *testing.T) {
	raw := []byte(`{
		"notificationId": "` + testNotificationID + `",
		"tenantId": "` + testTenantID + `",
		"channel": "EMAIL",
		"priority": "NORMAL",
		"recipient": {"email": "user@example.com"},
		"content": {"subject": "Hi", "body": "Test"},
		"expiresAt": "2030-01-01T00:00:00Z"
	}`)

	job, err := ParseJob(raw)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelEmail, job.Channel)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, models.DefaultMaxRetries, job.MaxRetries)
	require.NotNil(t, job.ExpiresAt)
	assert.Equal(t, 2030, job.ExpiresAt.Year())
}

func TestParseJob_ExplicitZeroMaxRetriesKept(t *testing.T) {
	raw := []byte(`{
		"notificationId": "` + testNotificationID + `",
		"tenantId": "` + testTenantID + `",
		"channel": "SMS",
		"priority": "HIGH",
		"recipient": {"phone": "+14155550100"},
		"content": {"body": "code 1234"},
		"maxRetries": 0
	}`)

	job, err := ParseJob(raw)
	require.NoError(t, err)
	assert.Equal(t, 0, job.MaxRetries)
}

func TestParseJob_LeavesChannelRoutingToTheRegistry(t *testing.T) {
	raw := []byte(`{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"FAX","priority":"LOW","recipient":{},"content":{"body":"x"}}`)

	job, err := ParseJob(raw)
	require.NoError(t, err)
	assert.Equal(t, models.Channel("FAX"), job.Channel)
}

func TestParseJob_SchemaFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"notificationId":`},
		{"missing content", `{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"EMAIL","priority":"LOW","recipient":{"email":"a@b.co"}}`},
		{"empty channel", `{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"","priority":"LOW","recipient":{},"content":{"body":"x"}}`},
		{"bad uuid", `{"notificationId":"nope","tenantId":"` + testTenantID + `","channel":"EMAIL","priority":"LOW","recipient":{"email":"a@b.co"},"content":{"body":"x"}}`},
		{"email channel without email", `{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"EMAIL","priority":"LOW","recipient":{"phone":"+14155550100"},"content":{"body":"x"}}`},
		{"webhook channel without url", `{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"WEBHOOK","priority":"LOW","recipient":{},"content":{"body":"x"}}`},
		{"negative retry count", `{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"PUSH","priority":"LOW","recipient":{"deviceToken":"abcdefgh12"},"content":{"body":"x"},"retryCount":-1}`},
		{"retry count above max", `{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"PUSH","priority":"LOW","recipient":{"deviceToken":"abcdefgh12"},"content":{"body":"x"},"retryCount":4,"maxRetries":3}`},
		{"bad timestamp", `{"notificationId":"` + testNotificationID + `","tenantId":"` + testTenantID + `","channel":"PUSH","priority":"LOW","recipient":{"deviceToken":"abcdefgh12"},"content":{"body":"x"},"expiresAt":"tomorrow"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := ParseJob([]byte(tt.raw))
			assert.Nil(t, job)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidJobSchema, errors.CodeOf(err))
		})
	}
}

func TestCheckJob_ExpiresBeforeScheduled(t *testing.T) {
	scheduled := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	expires := scheduled.Add(-time.Hour)
	err := CheckJob(&models.NotificationJob{ScheduledAt: &scheduled, ExpiresAt: &expires, MaxRetries: 3})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidJobSchema))
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, ValidateEmail("user@example.com"))
	assert.False(t, ValidateEmail("user@"))
	assert.Equal(t, []string{"bad"}, ValidateEmails([]string{"ok@example.com", "bad"}))
	assert.True(t, ValidatePhone("+1 (415) 555-0100"))
	assert.False(t, ValidatePhone("12"))
	assert.True(t, ValidateDeviceToken("fcm:APA91bH-token_value"))
	assert.False(t, ValidateDeviceToken("short"))
	assert.True(t, ValidateURL("https://hooks.example.com/x"))
	assert.False(t, ValidateURL("ftp://hooks.example.com/x"))
	assert.False(t, ValidateURL("https:///nohost"))
}
