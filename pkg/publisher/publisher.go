package publisher

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/order-events/pkg/broker"
	"github.com/zoff-tech/order-events/pkg/telemetry"
	"github.com/zoff-tech/order-events/schema"
)

// Status tells whether the publisher holds a broker connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Publisher turns domain actions into durable queue messages. Every operation
// reports success as a bool and never returns an error: callers treat false as
// "not guaranteed delivered".
type Publisher struct {
	broker broker.MessageBroker
	tracer trace.Tracer
	log    *zap.SugaredLogger
	now    func() time.Time
}

// NewPublisher wraps b. A nil broker yields a disconnected publisher.
func NewPublisher(b broker.MessageBroker, log *zap.SugaredLogger) *Publisher {
	return &Publisher{
		broker: b,
		tracer: otel.Tracer(telemetry.TracerName),
		log:    log,
		now:    time.Now,
	}
}

// Disconnected returns a publisher with no broker access. Every publish fails
// fast with a warning.
func Disconnected(log *zap.SugaredLogger) *Publisher {
	return NewPublisher(nil, log)
}

// connectionReporter is implemented by brokers that track a live connection
// and recover it in the background.
type connectionReporter interface {
	Connected() bool
}

// Status is evaluated on every call, so a broker that reconnects brings the
// publisher back without a restart.
func (p *Publisher) Status() Status {
	if p.broker == nil {
		return StatusDisconnected
	}
	if c, ok := p.broker.(connectionReporter); ok && !c.Connected() {
		return StatusDisconnected
	}
	return StatusConnected
}

// Publish serializes message as JSON and sends it to queue. No retries.
func (p *Publisher) Publish(ctx context.Context, queue schema.QueueName, message any) bool {
	if p.Status() == StatusDisconnected {
		p.log.Warnw("publisher has no broker connection, message not sent", "queue", queue)
		return false
	}

	body, err := json.Marshal(message)
	if err != nil {
		p.log.Errorw("failed to encode message", "queue", queue, "error", err)
		return false
	}

	if err := p.broker.Publish(ctx, queue, body, nil); err != nil {
		p.log.Errorw("failed to publish message", "queue", queue, "error", err)
		return false
	}

	p.log.Debugw("message published", "queue", queue, "size", len(body))
	return true
}

// PublishEvent stamps e and sends it to the queue bound to its type.
func (p *Publisher) PublishEvent(ctx context.Context, e schema.Event) bool {
	queue := e.Kind().Queue()
	ctx, span := p.tracer.Start(ctx, "PublishEvent", trace.WithAttributes(
		attribute.String("event.type", string(e.Kind())),
		attribute.String("event.queue", string(queue)),
	))
	defer span.End()

	schema.Stamp(e, p.now())
	ok := p.Publish(ctx, queue, e)
	if !ok {
		span.SetStatus(codes.Error, "publish failed")
	}
	return ok
}

func (p *Publisher) PublishOrderCreated(ctx context.Context, order schema.Order) bool {
	return p.PublishEvent(ctx, schema.NewOrderCreated(order))
}

func (p *Publisher) PublishOrderStatusUpdated(ctx context.Context, update schema.OrderStatusUpdated) bool {
	return p.PublishEvent(ctx, &update)
}

func (p *Publisher) PublishProductUpdated(ctx context.Context, update schema.ProductUpdated) bool {
	return p.PublishEvent(ctx, &update)
}

func (p *Publisher) PublishNotification(ctx context.Context, userID string, body schema.NotificationBody) bool {
	return p.PublishEvent(ctx, &schema.GenericNotification{
		UserID:       userID,
		Notification: body,
	})
}

// PublishAnalyticsEvent sends data under eventType on the analytics queue.
func (p *Publisher) PublishAnalyticsEvent(ctx context.Context, eventType string, data map[string]any) bool {
	return p.PublishEvent(ctx, &schema.Analytics{
		EventName: eventType,
		Data:      data,
	})
}

// Close releases the broker connection, if any.
func (p *Publisher) Close() error {
	if p.broker == nil {
		return nil
	}
	return p.broker.Close()
}
