package broker

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/pkg/telemetry"
	"github.com/zoff-tech/order-events/schema"
)

// kafkaWriter is the subset of *kafka.Writer used by the broker.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaBrokerCreator func(ctx context.Context, settings *config.BrokerSettings) (MessageBroker, error)

var NewKafkaBroker KafkaBrokerCreator = func(_ context.Context, settings *config.BrokerSettings) (MessageBroker, error) {
	if len(settings.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	return &kafkaBroker{writer: &kafka.Writer{
		Addr:                   kafka.TCP(settings.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}}, nil
}

// kafkaBroker publishes each queue to the topic of the same name.
type kafkaBroker struct {
	writer kafkaWriter
}

func (k *kafkaBroker) Publish(ctx context.Context, queue schema.QueueName, body []byte, headers map[string]string) error {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(string(queue)),
		),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range headers {
		carrier[k] = v
	}

	msgHeaders := make([]kafka.Header, 0, len(carrier))
	for k, v := range carrier {
		msgHeaders = append(msgHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   string(queue),
		Value:   body,
		Headers: msgHeaders,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", len(body)))
	return nil
}

func (k *kafkaBroker) Close() error {
	return k.writer.Close()
}
