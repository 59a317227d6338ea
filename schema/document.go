package schema

import "time"

// Notification is a user-facing notification document. The worker creates it
// unread; the application marks it read later.
type Notification struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"userId" bson:"userId"`
	Type      string    `json:"type" bson:"type"`
	Title     string    `json:"title" bson:"title"`
	Message   string    `json:"message" bson:"message"`
	OrderID   string    `json:"orderId,omitempty" bson:"orderId,omitempty"`
	Read      bool      `json:"read" bson:"read"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// AnalyticsEvent is an append-only analytics record.
type AnalyticsEvent struct {
	ID        string         `json:"id" bson:"_id"`
	Type      string         `json:"type" bson:"type"`
	OrderID   string         `json:"orderId,omitempty" bson:"orderId,omitempty"`
	Amount    *float64       `json:"amount,omitempty" bson:"amount,omitempty"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	UserID    string         `json:"userId,omitempty" bson:"userId,omitempty"`
	FarmerID  string         `json:"farmerId,omitempty" bson:"farmerId,omitempty"`
	Data      map[string]any `json:"data,omitempty" bson:"data,omitempty"`
}

// User is the subset of a user document the pipeline reads.
type User struct {
	ID    string `json:"id" bson:"_id"`
	Name  string `json:"name" bson:"name"`
	Email string `json:"email" bson:"email"`
	Role  string `json:"role" bson:"role"`
}

// Notification types written by the worker.
const (
	NotificationNewOrder     = "new_order"
	NotificationOrderUpdate  = "order_update"
	NotificationTypeFallback = "general"
)
