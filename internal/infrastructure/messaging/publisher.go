package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/provider"
	"github.com/th1s9uy/saas-billing/pkg/messaging"
)

// RedisEventPublisher publishes billing events as JSON on one Redis channel.
type RedisEventPublisher struct {
	client  messaging.RedisClient
	channel string
	logger  *zap.Logger
}

// NewRedisEventPublisher creates a publisher on channel.
func NewRedisEventPublisher(client messaging.RedisClient, channel string, logger *zap.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// Publish sends event to the channel. Nobody listening is not an error.
func (p *RedisEventPublisher) Publish(ctx context.Context, event provider.BillingEvent) error {
	if err := p.client.Publish(ctx, p.channel, event); err != nil {
		return err
	}
	p.logger.Debug("Billing event published",
		zap.String("channel", p.channel),
		zap.String("type", string(event.Type)),
		zap.String("organization_id", event.OrganizationID.String()))
	return nil
}

// NoopEventPublisher drops events. It is used when Redis is disabled.
type NoopEventPublisher struct{}

func (NoopEventPublisher) Publish(ctx context.Context, event provider.BillingEvent) error {
	return nil
}
