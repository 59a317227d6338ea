package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoff-tech/order-events/pkg/broker"
	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/pkg/store"
	"github.com/zoff-tech/order-events/pkg/telemetry"
	"github.com/zoff-tech/order-events/schema"
)

const defaultResubscribeMaxInterval = 30 * time.Second

// Invalidator is the part of the cache the worker needs. Implementations
// swallow their own failures.
type Invalidator interface {
	Del(ctx context.Context, key string) bool
	InvalidatePattern(ctx context.Context, pattern string) int
}

// Worker consumes the order event queues and applies their side effects.
// Each message is acknowledged once its handler succeeds and requeued on any
// error or panic. There is no retry cap and no dead-letter queue.
type Worker struct {
	consumer broker.Consumer
	store    store.DocumentStore
	cache    Invalidator
	settings config.WorkerSettings
	tracer   trace.Tracer
	log      *zap.SugaredLogger

	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func NewWorker(consumer broker.Consumer, docs store.DocumentStore, c Invalidator, settings config.WorkerSettings, log *zap.SugaredLogger) *Worker {
	// One unacknowledged message per queue
	settings.Prefetch = 1
	maxInterval := settings.ResubscribeMaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultResubscribeMaxInterval
	}
	return &Worker{
		consumer: consumer,
		store:    docs,
		cache:    c,
		settings: settings,
		tracer:   otel.Tracer(telemetry.TracerName),
		log:      log,
		now:      time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0 // keep trying until shutdown
			return b
		},
	}
}

// Queues returns the queues this worker binds a handler to.
func (w *Worker) Queues() []schema.QueueName {
	queues := []schema.QueueName{
		schema.QueueOrderCreated,
		schema.QueueOrderStatusUpdated,
		schema.QueueProductUpdated,
		schema.QueueNotification,
	}
	if w.settings.ConsumeAnalytics {
		queues = append(queues, schema.QueueAnalytics)
	}
	return queues
}

// Run consumes every queue until ctx is cancelled. A handler that is running
// when ctx is cancelled is allowed to finish and settle its message.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range w.Queues() {
		queue := queue
		g.Go(func() error {
			return w.consumeQueue(ctx, queue)
		})
	}
	w.log.Infow("worker started", "queues", w.Queues(), "prefetch", w.settings.Prefetch)
	err := g.Wait()
	w.log.Infow("worker stopped")
	return err
}

func (w *Worker) consumeQueue(ctx context.Context, queue schema.QueueName) error {
	for {
		// Handlers run on a context that outlives ctx so the message in
		// flight at shutdown is still acked or nacked.
		subCtx, cancelSub := context.WithCancel(context.WithoutCancel(ctx))

		deliveries, err := w.subscribe(ctx, subCtx, queue)
		if err != nil {
			cancelSub()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscribe %s: %w", queue, err)
		}

		w.drain(ctx, subCtx, queue, deliveries)
		cancelSub()

		if ctx.Err() != nil {
			return nil
		}
		w.log.Warnw("delivery channel closed, resubscribing", "queue", queue)
	}
}

func (w *Worker) subscribe(ctx, subCtx context.Context, queue schema.QueueName) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	operation := func() error {
		d, err := w.consumer.Consume(subCtx, queue, w.settings.Prefetch)
		if err != nil {
			if errors.Is(err, broker.ErrBrokerClosed) {
				return backoff.Permanent(err)
			}
			w.log.Warnw("failed to subscribe to queue", "queue", queue, "error", err)
			return err
		}
		deliveries = d
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(w.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// drain processes deliveries one at a time until ctx is done or the channel
// is closed.
func (w *Worker) drain(ctx, handlerCtx context.Context, queue schema.QueueName, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.process(handlerCtx, queue, d)
		}
	}
}

func (w *Worker) process(ctx context.Context, queue schema.QueueName, d amqp.Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	ctx, span := w.tracer.Start(ctx, "ProcessMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKindKey.String("queue"),
			semconv.MessagingDestinationKey.String(string(queue)),
			semconv.MessagingOperationKey.String("process"),
			semconv.MessagingMessageIDKey.String(d.MessageId),
			attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
		),
	)
	defer span.End()

	if d.Redelivered {
		w.log.Infow("processing redelivered message", "queue", queue, "message_id", d.MessageId)
	}

	if err := w.handle(ctx, queue, d.Body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.log.Errorw("message processing failed, requeueing",
			"queue", queue, "message_id", d.MessageId, "redelivered", d.Redelivered, "error", err)
		if err := d.Nack(false, true); err != nil {
			w.log.Errorw("failed to nack message", "queue", queue, "message_id", d.MessageId, "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		w.log.Errorw("failed to ack message", "queue", queue, "message_id", d.MessageId, "error", err)
	}
}

// handle decodes body and runs the handler bound to queue. A panic is turned
// into an error.
func (w *Worker) handle(ctx context.Context, queue schema.QueueName, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling %s message: %v", queue, r)
		}
	}()

	event, err := schema.Decode(queue, body)
	if err != nil {
		return err
	}

	switch e := event.(type) {
	case *schema.OrderCreated:
		return w.handleOrderCreated(ctx, e)
	case *schema.OrderStatusUpdated:
		return w.handleOrderStatusUpdated(ctx, e)
	case *schema.ProductUpdated:
		return w.handleProductUpdated(ctx, e)
	case *schema.GenericNotification:
		return w.handleNotification(ctx, e)
	case *schema.Analytics:
		return w.handleAnalytics(ctx, e)
	}
	return fmt.Errorf("no handler for %s events", event.Kind())
}

func headerCarrier(headers amqp.Table) propagation.MapCarrier {
	carrier := make(propagation.MapCarrier, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return carrier
}
