// cmd/notification-worker/channels.go
package main

import (
	"context"
	"fmt"

	"notification-workers/internal/channel"
	"notification-workers/internal/common/config"
	httpclient "notification-workers/internal/common/http"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"

	es "notification-workers/internal/workers/communication/email-send"
	ps "notification-workers/internal/workers/communication/push-send"
	ss "notification-workers/internal/workers/communication/sms-send"
	ws "notification-workers/internal/workers/communication/webhook-send"
)

// buildRegistry creates every enabled channel, each with its own guard.
func buildRegistry(ctx context.Context, cfg *config.Config, log logger.Logger) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	breaker := cfg.CircuitBreaker.Breaker()
	guard := func(c models.Channel, maxRetries *int) *channel.Guard {
		return channel.NewGuard(c, cfg.Retry.Policy(maxRetries), breaker, log)
	}
	channels := cfg.Channels

	if channels.Email.Enabled {
		emailCfg := es.FromAppConfig(channels.Email)
		transport, err := es.NewTransport(ctx, emailCfg, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("email transport: %w", err)
		}
		svc := es.NewService(es.ServiceDependencies{
			Logger:    log,
			Transport: transport,
			Guard:     guard(models.ChannelEmail, emailCfg.MaxRetries),
		}, emailCfg)
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	if channels.Webhook.Enabled {
		webhookCfg := ws.FromAppConfig(channels.Webhook)
		svc := ws.NewService(ws.ServiceDependencies{
			Logger: log,
			Client: httpclient.NewClient(0),
			Guard:  guard(models.ChannelWebhook, webhookCfg.MaxRetries),
		}, webhookCfg)
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	if channels.SMS.Enabled {
		smsCfg := ss.FromAppConfig(channels.SMS)
		publisher, err := ss.NewPublisher(ctx, smsCfg, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("sms publisher: %w", err)
		}
		svc := ss.NewService(ss.ServiceDependencies{
			Logger:    log,
			Publisher: publisher,
			Guard:     guard(models.ChannelSMS, channels.SMS.MaxRetries),
		}, smsCfg)
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	if channels.Push.Enabled {
		svc := ps.NewService(ps.ServiceDependencies{
			Logger: log,
			Guard:  guard(models.ChannelPush, channels.Push.MaxRetries),
		})
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// enabledChannels lists the channels that get a broker queue.
func enabledChannels(registry *channel.Registry) []models.Channel {
	all := registry.All()
	out := make([]models.Channel, 0, len(all))
	for _, ch := range all {
		out = append(out, ch.Type())
	}
	return out
}
