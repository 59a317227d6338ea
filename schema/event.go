package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies one of the domain events carried by the pipeline.
type EventType string

const (
	EventOrderCreated       EventType = "ORDER_CREATED"
	EventOrderStatusUpdated EventType = "ORDER_STATUS_UPDATED"
	EventProductUpdated     EventType = "PRODUCT_UPDATED"
	EventNotification       EventType = "NOTIFICATION"
	EventAnalytics          EventType = "ANALYTICS"
)

// ParseEventType returns the EventType named by s.
func ParseEventType(s string) (EventType, bool) {
	switch t := EventType(s); t {
	case EventOrderCreated, EventOrderStatusUpdated, EventProductUpdated, EventNotification, EventAnalytics:
		return t, true
	}
	return "", false
}

// Queue returns the single queue events of this type travel on.
func (t EventType) Queue() QueueName {
	switch t {
	case EventOrderCreated:
		return QueueOrderCreated
	case EventOrderStatusUpdated:
		return QueueOrderStatusUpdated
	case EventProductUpdated:
		return QueueProductUpdated
	case EventNotification:
		return QueueNotification
	case EventAnalytics:
		return QueueAnalytics
	}
	return ""
}

// Event is a domain event ready to be put on a queue. The set of
// implementations is closed: OrderCreated, OrderStatusUpdated, ProductUpdated,
// GenericNotification and Analytics.
type Event interface {
	Kind() EventType
	stamp(at time.Time)
}

// Stamp fills the envelope fields owned by the publisher.
func Stamp(e Event, at time.Time) { e.stamp(at.UTC()) }

// Order is the order document attached to ORDER_CREATED. Only the fields the
// pipeline reads are typed; the full document is kept in Raw and written back
// unchanged.
type Order struct {
	ID       string  `validate:"required"`
	UserID   string  `validate:"required"`
	FarmerID string  `validate:"required"`
	Total    float64 `validate:"gte=0"`
	Raw      json.RawMessage
}

type orderFields struct {
	ID       string  `json:"id,omitempty"`
	OrderID  string  `json:"orderId,omitempty"`
	UserID   string  `json:"userId"`
	FarmerID string  `json:"farmerId"`
	Total    float64 `json:"total"`
}

// UnmarshalJSON accepts both "id" and "orderId" as the order identifier.
func (o *Order) UnmarshalJSON(b []byte) error {
	var f orderFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	o.ID = f.ID
	if o.ID == "" {
		o.ID = f.OrderID
	}
	o.UserID = f.UserID
	o.FarmerID = f.FarmerID
	o.Total = f.Total
	o.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (o Order) MarshalJSON() ([]byte, error) {
	if len(o.Raw) > 0 {
		return o.Raw, nil
	}
	return json.Marshal(orderFields{ID: o.ID, UserID: o.UserID, FarmerID: o.FarmerID, Total: o.Total})
}

// Document decodes the full order into a generic map.
func (o Order) Document() map[string]any {
	raw, err := o.MarshalJSON()
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

// OrderCreated is published on order.created when a buyer places an order.
type OrderCreated struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	FarmerID  string    `json:"farmerId"`
	Total     float64   `json:"total"`
	Timestamp time.Time `json:"timestamp"`
	Data      Order     `json:"data"`
}

// NewOrderCreated builds the envelope for order.
func NewOrderCreated(order Order) *OrderCreated {
	return &OrderCreated{
		OrderID:  order.ID,
		UserID:   order.UserID,
		FarmerID: order.FarmerID,
		Total:    order.Total,
		Data:     order,
	}
}

func (*OrderCreated) Kind() EventType { return EventOrderCreated }

func (e *OrderCreated) stamp(at time.Time) {
	e.Type = EventOrderCreated
	e.Timestamp = at
}

// OrderStatusUpdated is published when a farmer moves an order to a new status.
type OrderStatusUpdated struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"orderId" validate:"required"`
	NewStatus string    `json:"newStatus" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	FarmerID  string    `json:"farmerId"`
	Timestamp time.Time `json:"timestamp"`
}

func (*OrderStatusUpdated) Kind() EventType { return EventOrderStatusUpdated }

func (e *OrderStatusUpdated) stamp(at time.Time) {
	e.Type = EventOrderStatusUpdated
	e.Timestamp = at
}

// ProductUpdated is published when a product is created, edited or removed.
type ProductUpdated struct {
	Type        EventType `json:"type"`
	ProductID   string    `json:"productId" validate:"required"`
	FarmerID    string    `json:"farmerId" validate:"required"`
	Action      string    `json:"action"`
	ProductName string    `json:"productName"`
	Stock       float64   `json:"stock"`
	Timestamp   time.Time `json:"timestamp"`
}

func (*ProductUpdated) Kind() EventType { return EventProductUpdated }

func (e *ProductUpdated) stamp(at time.Time) {
	e.Type = EventProductUpdated
	e.Timestamp = at
}

// NotificationBody is the caller-provided part of a generic notification.
type NotificationBody struct {
	Type    string `json:"type"`
	Title   string `json:"title" validate:"required"`
	Message string `json:"message" validate:"required"`
	OrderID string `json:"orderId,omitempty"`
}

// GenericNotification asks the worker to persist a notification as-is.
type GenericNotification struct {
	Type         EventType        `json:"type"`
	UserID       string           `json:"userId" validate:"required"`
	Notification NotificationBody `json:"notification" validate:"required"`
	Timestamp    time.Time        `json:"timestamp"`
}

func (*GenericNotification) Kind() EventType { return EventNotification }

func (e *GenericNotification) stamp(at time.Time) {
	e.Type = EventNotification
	e.Timestamp = at
}

// Analytics carries an arbitrary analytics event. Its wire type is the caller's
// event name, not ANALYTICS.
type Analytics struct {
	EventName string         `json:"type" validate:"required"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func (*Analytics) Kind() EventType { return EventAnalytics }

func (e *Analytics) stamp(at time.Time) { e.Timestamp = at }

// Decode parses a message body taken from queue into its event variant.
func Decode(queue QueueName, body []byte) (Event, error) {
	var e Event
	switch queue {
	case QueueOrderCreated:
		e = &OrderCreated{}
	case QueueOrderStatusUpdated:
		e = &OrderStatusUpdated{}
	case QueueProductUpdated:
		e = &ProductUpdated{}
	case QueueNotification:
		e = &GenericNotification{}
	case QueueAnalytics:
		e = &Analytics{}
	default:
		return nil, fmt.Errorf("no event bound to queue %q", queue)
	}
	if err := json.Unmarshal(body, e); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", queue, err)
	}
	return e, nil
}
