package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/zoff-tech/order-events/pkg/publisher"
	"github.com/zoff-tech/order-events/schema"
)

var (
	// ErrInvalidEventType is a client error: the event type is not one of the
	// five known types.
	ErrInvalidEventType = errors.New("invalid event type")
	// ErrInvalidEventData is a client error: the payload is malformed or misses
	// required fields.
	ErrInvalidEventData = errors.New("invalid event data")
	// ErrPublishFailed is a server error: the publisher reported false.
	ErrPublishFailed = errors.New("failed to publish event")
)

// EventPublisher is the publisher surface the gateway drives.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order schema.Order) bool
	PublishOrderStatusUpdated(ctx context.Context, update schema.OrderStatusUpdated) bool
	PublishProductUpdated(ctx context.Context, update schema.ProductUpdated) bool
	PublishNotification(ctx context.Context, userID string, body schema.NotificationBody) bool
	PublishAnalyticsEvent(ctx context.Context, eventType string, data map[string]any) bool
	Status() publisher.Status
}

type analyticsData struct {
	EventType string         `json:"eventType" validate:"required"`
	Data      map[string]any `json:"data"`
}

type notificationData struct {
	UserID       string                  `json:"userId" validate:"required"`
	Notification *schema.NotificationBody `json:"notification" validate:"required"`
}

// Dispatcher maps an event type name onto one publisher operation.
type Dispatcher struct {
	publisher EventPublisher
	validate  *validator.Validate
}

func NewDispatcher(p EventPublisher) *Dispatcher {
	return &Dispatcher{publisher: p, validate: validator.New()}
}

// Dispatch decodes data for eventType and makes exactly one publish attempt.
// The publisher is never invoked for an unknown type or invalid data.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, data json.RawMessage) error {
	kind, ok := schema.ParseEventType(eventType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}

	var published bool
	switch kind {
	case schema.EventOrderCreated:
		var order schema.Order
		if err := d.decode(data, &order); err != nil {
			return err
		}
		published = d.publisher.PublishOrderCreated(ctx, order)
	case schema.EventOrderStatusUpdated:
		var update schema.OrderStatusUpdated
		if err := d.decode(data, &update); err != nil {
			return err
		}
		published = d.publisher.PublishOrderStatusUpdated(ctx, update)
	case schema.EventProductUpdated:
		var update schema.ProductUpdated
		if err := d.decode(data, &update); err != nil {
			return err
		}
		published = d.publisher.PublishProductUpdated(ctx, update)
	case schema.EventNotification:
		var n notificationData
		if err := d.decode(data, &n); err != nil {
			return err
		}
		published = d.publisher.PublishNotification(ctx, n.UserID, *n.Notification)
	case schema.EventAnalytics:
		var a analyticsData
		if err := d.decode(data, &a); err != nil {
			return err
		}
		published = d.publisher.PublishAnalyticsEvent(ctx, a.EventType, a.Data)
	}

	if !published {
		return fmt.Errorf("%w: %s", ErrPublishFailed, kind)
	}
	return nil
}

func (d *Dispatcher) decode(data json.RawMessage, dest any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidEventData)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventData, err)
	}
	if err := d.validate.Struct(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventData, err)
	}
	return nil
}
