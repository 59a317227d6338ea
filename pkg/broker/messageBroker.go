package broker

import (
	"context"

	"github.com/streadway/amqp"

	"github.com/zoff-tech/order-events/schema"
)

// MessageBroker defines the operations to publish messages to a broker.
type MessageBroker interface {
	// Publish asserts the queue and sends body to it as a persistent message
	// with optional headers.
	Publish(ctx context.Context, queue schema.QueueName, body []byte, headers map[string]string) error
	// Close cleans up any resources (connections).
	Close() error
}

// Consumer delivers messages from a queue with manual acknowledgement.
type Consumer interface {
	// Consume asserts the queue and starts delivering at most prefetch
	// unacknowledged messages. The returned channel is closed when the
	// subscription ends.
	Consume(ctx context.Context, queue schema.QueueName, prefetch int) (<-chan amqp.Delivery, error)
}
