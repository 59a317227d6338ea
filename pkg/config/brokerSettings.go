package config

import "time"

// BrokerSettings holds configuration for connecting to a message broker.
type BrokerSettings struct {
	Type           string   `mapstructure:"type" validate:"omitempty,oneof=rabbitmq gcp-pubsub kafka"`
	URL            string   `mapstructure:"url" validate:"omitempty,url"`
	ProjectID      string   `mapstructure:"project_id"` // Optional for brokers like GCP Pub/Sub
	Brokers        []string `mapstructure:"brokers"`    // Kafka bootstrap addresses
	PoolSize       int      `mapstructure:"pool_size" validate:"gte=0"`
	QueueMaxLength int      `mapstructure:"queue_max_length" validate:"gte=0"`

	// How often a lost RabbitMQ connection is re-dialed
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"gte=0"`
}

// Configured reports whether enough is set to reach a broker.
func (b BrokerSettings) Configured() bool {
	switch b.Type {
	case "gcp-pubsub":
		return b.ProjectID != ""
	case "kafka":
		return len(b.Brokers) > 0
	default:
		return b.URL != ""
	}
}
