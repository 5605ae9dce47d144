// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/retry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client wraps the Zeebe gRPC client with retrying commands.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

// ClientConfig holds configuration for the Camunda/Zeebe client.
type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	Retry                  retry.Config
}

// DefaultClientConfig returns plaintext settings suitable for local brokers.
func DefaultClientConfig(address string) *ClientConfig {
	policy := retry.DefaultConfig()
	policy.MaxDelay = 10 * time.Second
	return &ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         30 * time.Second,
		Retry:                  policy,
	}
}

func NewClient(address string) (*Client, error) {
	return NewClientWithConfig(DefaultClientConfig(address))
}

// NewClientWithConfig creates the Zeebe client and verifies the gateway answers
// a topology request.
func NewClientWithConfig(config *ClientConfig) (*Client, error) {
	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         config.GatewayAddress,
		UsePlaintextConnection: config.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{client: zeebeClient, config: config}
	if err := c.HealthCheck(context.Background()); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", config.GatewayAddress, err)
	}
	return c, nil
}

// GetClient returns the raw Zeebe client for job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ExecuteWithRetry runs a Zeebe command under the client's retry policy.
// Errors are mapped onto the delivery error taxonomy first so only transient
// gateway failures are retried.
func ExecuteWithRetry[T any](ctx context.Context, c *Client, operationName string, command func(context.Context) (T, error)) (T, error) {
	cfg := c.config.Retry
	cfg.AttemptTimeout = c.config.RequestTimeout
	return retry.Execute(ctx, cfg, func(ctx context.Context, _ retry.RetryContext) (T, error) {
		result, err := command(ctx)
		if err != nil {
			var zero T
			return zero, MapZeebeError(err, operationName)
		}
		return result, nil
	}, retry.WithName("zeebe."+operationName))
}

// MapZeebeError converts gateway errors into standardized errors.
func MapZeebeError(err error, operation string) error {
	msg := err.Error()
	lowerMsg := strings.ToLower(msg)
	service := "zeebe"
	wrapped := fmt.Errorf("zeebe operation '%s' failed: %w", operation, err)

	switch {
	case strings.Contains(lowerMsg, "connection refused"),
		strings.Contains(lowerMsg, "connection reset"),
		strings.Contains(lowerMsg, "unavailable"),
		strings.Contains(lowerMsg, "unreachable"),
		strings.Contains(lowerMsg, "broken pipe"):
		return errors.NewTransientError(service, wrapped)

	case strings.Contains(lowerMsg, "timeout"),
		strings.Contains(lowerMsg, "deadline exceeded"):
		return errors.NewTimeoutError(service, wrapped)

	case strings.Contains(lowerMsg, "resource_exhausted"),
		strings.Contains(lowerMsg, "resourceexhausted"):
		return errors.NewRateLimitError(service, 0).WithCause(wrapped)

	case strings.Contains(lowerMsg, "not found"),
		strings.Contains(lowerMsg, "already exists"),
		strings.Contains(lowerMsg, "permission denied"),
		strings.Contains(lowerMsg, "unauthorized"),
		strings.Contains(lowerMsg, "invalid"):
		return errors.NewProviderRejectedError(service, 0, wrapped.Error()).WithCause(err)

	default:
		return errors.NewInternalError(wrapped)
	}
}

// HealthCheck performs a topology request against the gateway.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
