package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapZeebeError(t *testing.T) {
	tests := []struct {
		msg  string
		code errors.ErrorCode
	}{
		{"rpc error: code = Unavailable desc = connection refused", errors.ErrCodeTransientNetwork},
		{"context deadline exceeded", errors.ErrCodeTimeout},
		{"rpc error: code = ResourceExhausted desc = backpressure", errors.ErrCodeRateLimited},
		{"rpc error: code = NotFound desc = job not found", errors.ErrCodeProviderRejected},
		{"something odd", errors.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := MapZeebeError(stderrors.New(tt.msg), "complete-job")
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.Contains(t, err.Error(), "complete-job")
		})
	}
}

func testClient() *Client {
	cfg := DefaultClientConfig("localhost:26500")
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	return &Client{config: cfg}
}

func TestExecuteWithRetry_RetriesTransientFailures(t *testing.T) {
	calls := 0
	result, err := ExecuteWithRetry(context.Background(), testClient(), "complete-job", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", stderrors.New("connection reset by peer")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_StopsOnRejection(t *testing.T) {
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), testClient(), "throw-error", func(context.Context) (int, error) {
		calls++
		return 0, stderrors.New("job not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.ErrCodeProviderRejected, errors.CodeOf(retry.LastError(err)))
}
