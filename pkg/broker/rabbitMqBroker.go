package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/pkg/telemetry"
	"github.com/zoff-tech/order-events/schema"
)

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("broker closed")

type RabbitMQBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, log *zap.SugaredLogger) (MessageBroker, error)

var NewRabbitMqBroker RabbitMQBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, log *zap.SugaredLogger) (MessageBroker, error) {
	b, err := DialRabbitMQ(ctx, settings, log)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RabbitMqBroker publishes through a pool of channels and consumes on one
// dedicated channel per queue. A background loop re-dials a lost connection.
type RabbitMqBroker struct {
	connection      amqpConnection
	channelPool     chan *pooledChannel
	mu              sync.Mutex
	closed          bool
	settings        *config.BrokerSettings
	maxLength       int
	reconnectTicker *time.Ticker
	stopReconnect   chan struct{}
	log             *zap.SugaredLogger
}

const defaultReconnectInterval = 5 * time.Second

// DialRabbitMQ connects to settings.URL and fills the channel pool. An
// unreachable server is not an error: the broker starts disconnected and the
// recovery loop keeps dialing until it gets through or Close is called.
func DialRabbitMQ(ctx context.Context, settings *config.BrokerSettings, log *zap.SugaredLogger) (*RabbitMqBroker, error) {
	if settings.URL == "" {
		return nil, errors.New("RabbitMQ URL not configured")
	}
	if settings.PoolSize <= 0 {
		return nil, errors.New("poolSize must be greater than 0")
	}

	interval := settings.ReconnectInterval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}

	broker := &RabbitMqBroker{
		settings:        settings,
		maxLength:       settings.QueueMaxLength,
		reconnectTicker: time.NewTicker(interval),
		stopReconnect:   make(chan struct{}),
		log:             log,
	}

	if err := broker.connectAndInitialize(); err != nil {
		log.Warnw("RabbitMQ unreachable, retrying in background", "retry_interval", interval, "error", err)
	}

	go broker.recoverConnection()

	return broker, nil
}

// Connected reports whether the broker currently holds an open connection.
func (r *RabbitMqBroker) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.connection != nil && !r.connection.IsClosed()
}

func queueArgs(maxLength int) amqp.Table {
	if maxLength <= 0 {
		return nil
	}
	return amqp.Table{"x-max-length": int32(maxLength)}
}

// declareQueue is idempotent: redeclaring an existing queue with the same
// arguments has no effect.
func declareQueue(ch amqpChannel, queue schema.QueueName, maxLength int) (amqp.Queue, error) {
	return ch.QueueDeclare(
		string(queue),        // name
		true,                 // durable
		false,                // auto-deleted
		false,                // exclusive
		false,                // no-wait
		queueArgs(maxLength), // arguments
	)
}

func (r *RabbitMqBroker) Publish(ctx context.Context, queue schema.QueueName, body []byte, headers map[string]string) error {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKindKey.String("queue"),
			semconv.MessagingDestinationKey.String(string(queue)),
			semconv.MessagingRabbitmqRoutingKeyKey.String(string(queue)),
		),
	)
	defer span.End()

	// Inject the trace context into the message headers
	traceHeaders := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(traceHeaders))

	amqpHeaders := make(amqp.Table, len(headers)+len(traceHeaders))
	for k, v := range headers {
		amqpHeaders[k] = v
	}
	for k, v := range traceHeaders {
		amqpHeaders[k] = v
	}

	pooledChan, err := r.getChannel()
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer r.releaseChannel(pooledChan)

	q, err := declareQueue(pooledChan.channel, queue, r.maxLength)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if r.maxLength > 0 && q.Messages >= r.maxLength {
		r.log.Warnw("queue at capacity, broker may drop the oldest message",
			"queue", queue, "depth", q.Messages, "max_length", r.maxLength)
	}

	messageID := uuid.NewString()
	err = pooledChan.channel.Publish(
		"", string(queue), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			MessageId:    messageID,
			Headers:      amqpHeaders,
			Body:         body,
		},
	)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		semconv.MessagingMessageIDKey.String(messageID),
		attribute.Int("messaging.message_payload_size_bytes", len(body)),
	)

	return nil
}

// Consume opens a channel for queue, asserts the queue, limits unacknowledged
// deliveries to prefetch and starts a manual-ack consumer. The channel is
// closed when ctx is done.
func (r *RabbitMqBroker) Consume(ctx context.Context, queue schema.QueueName, prefetch int) (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	conn, closed := r.connection, r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrBrokerClosed
	}
	if conn == nil || conn.IsClosed() {
		return nil, errConnectionNotOpen
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if _, err := declareQueue(ch, queue, r.maxLength); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}
	deliveries, err := ch.Consume(
		string(queue), // queue
		"",            // consumer tag, generated by the server
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	r.log.Infow("consuming queue", "queue", queue, "prefetch", prefetch)
	return deliveries, nil
}

func (r *RabbitMqBroker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	// Stop the connection recovery goroutine
	close(r.stopReconnect)
	r.reconnectTicker.Stop()

	r.drainPool()

	if r.connection != nil {
		return r.connection.Close()
	}
	return nil
}
