package aws

import (
	"context"
	stderrors "errors"
	"testing"

	"notification-workers/internal/common/errors"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	input *ses.SendRawEmailInput
	err   error
}

func (m *mockSES) SendRawEmail(_ context.Context, params *ses.SendRawEmailInput, _ ...func(*ses.Options)) (*ses.SendRawEmailOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	id := "ses-message-1"
	return &ses.SendRawEmailOutput{MessageId: &id}, nil
}

type mockSNS struct {
	input *sns.PublishInput
	err   error
}

func (m *mockSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	id := "sns-message-1"
	return &sns.PublishOutput{MessageId: &id}, nil
}

func TestSESClient_SendRaw(t *testing.T) {
	api := &mockSES{}
	client := NewSESClientWithAPI(api)

	id, err := client.SendRaw(context.Background(), "noreply@example.com", []string{"user@example.com"}, []byte("Subject: hi\r\n\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "ses-message-1", id)
	assert.Equal(t, "noreply@example.com", *api.input.Source)
	assert.Equal(t, []string{"user@example.com"}, api.input.Destinations)
	assert.Contains(t, string(api.input.RawMessage.Data), "Subject: hi")
}

func TestSNSClient_PublishSMS(t *testing.T) {
	api := &mockSNS{}
	client := NewSNSClientWithAPI(api)

	id, err := client.PublishSMS(context.Background(), "+14155550100", "code 1234", "ACME")
	require.NoError(t, err)
	assert.Equal(t, "sns-message-1", id)
	assert.Equal(t, "+14155550100", *api.input.PhoneNumber)
	assert.Equal(t, "ACME", *api.input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{"throttled", &smithy.GenericAPIError{Code: "Throttling", Fault: smithy.FaultClient}, errors.ErrCodeRateLimited},
		{"server fault", &smithy.GenericAPIError{Code: "ServiceUnavailable", Fault: smithy.FaultServer}, errors.ErrCodeTransientNetwork},
		{"client fault", &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified", Fault: smithy.FaultClient}, errors.ErrCodeProviderRejected},
		{"deadline", context.DeadlineExceeded, errors.ErrCodeTimeout},
		{"network", stderrors.New("dial tcp: connection refused"), errors.ErrCodeTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errors.CodeOf(Classify("ses", tt.err)))
		})
	}

	assert.ErrorIs(t, Classify("ses", context.Canceled), context.Canceled)
	assert.NoError(t, Classify("ses", nil))
}

func TestSESClient_ClassifiesErrors(t *testing.T) {
	client := NewSESClientWithAPI(&mockSES{err: &smithy.GenericAPIError{Code: "MessageRejected", Fault: smithy.FaultClient}})
	_, err := client.SendRaw(context.Background(), "a@b.co", []string{"c@d.co"}, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeProviderRejected))
}
