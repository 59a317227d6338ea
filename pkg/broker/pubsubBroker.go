package broker

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/pkg/telemetry"
	"github.com/zoff-tech/order-events/schema"
)

// PubSubBrokerCreator defines a function type for creating Pub/Sub clients.
type PubSubBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error)

// NewPubSubClient is the default implementation of PubSubBrokerCreator.
var NewPubSubClient PubSubBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Pub/Sub: %w", err)
	}
	return &pubSubBroker{client: client}, nil
}

// pubSubBroker maps each queue name onto a topic of the same name.
type pubSubBroker struct {
	client *pubsub.Client
	topics sync.Map // schema.QueueName -> *pubsub.Topic
}

// topic returns the cached handle for queue, creating the topic on first use.
func (p *pubSubBroker) topic(ctx context.Context, queue schema.QueueName) (*pubsub.Topic, error) {
	if t, ok := p.topics.Load(queue); ok {
		return t.(*pubsub.Topic), nil
	}

	t := p.client.Topic(string(queue))
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", queue, err)
	}
	if !exists {
		created, err := p.client.CreateTopic(ctx, string(queue))
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("create topic %s: %w", queue, err)
		}
		if err == nil {
			t = created
		}
	}

	actual, loaded := p.topics.LoadOrStore(queue, t)
	if loaded {
		t.Stop()
	}
	return actual.(*pubsub.Topic), nil
}

func (p *pubSubBroker) Publish(ctx context.Context, queue schema.QueueName, body []byte, headers map[string]string) error {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(string(queue)),
		),
	)
	defer span.End()

	// Inject the trace context into the message attributes
	attributes := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))

	// Merge headers into attributes
	for key, value := range headers {
		attributes[key] = value
	}

	t, err := p.topic(ctx, queue)
	if err != nil {
		span.RecordError(err)
		return err
	}

	res := t.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: attributes,
	})
	id, err := res.Get(ctx) // wait for server ack
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		semconv.MessagingMessageIDKey.String(id),
		attribute.Int("messaging.message_payload_size_bytes", len(body)),
	)

	return nil
}

func (p *pubSubBroker) Close() error {
	p.topics.Range(func(_, t any) bool {
		t.(*pubsub.Topic).Stop()
		return true
	})
	return p.client.Close()
}
