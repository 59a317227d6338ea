package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoff-tech/order-events/pkg/config"
)

// NewBroker builds the publishing transport named by cfg.Type.
func NewBroker(ctx context.Context, cfg *config.BrokerSettings, log *zap.SugaredLogger) (MessageBroker, error) {
	switch cfg.Type {
	case "rabbitmq", "":
		return NewRabbitMqBroker(ctx, cfg, log)
	case "gcp-pubsub":
		return NewPubSubClient(ctx, cfg)
	case "kafka":
		return NewKafkaBroker(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
