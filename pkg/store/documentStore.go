package store

import (
	"context"
	"errors"

	"github.com/zoff-tech/order-events/schema"
)

// ErrNotFound is returned when a looked-up document does not exist.
var ErrNotFound = errors.New("document not found")

// DocumentStore defines the document operations the worker performs.
type DocumentStore interface {
	// FindUser returns the user with the given id or ErrNotFound.
	FindUser(ctx context.Context, userID string) (*schema.User, error)
	// CreateNotification inserts n, assigning its ID when empty.
	CreateNotification(ctx context.Context, n *schema.Notification) error
	// AppendAnalyticsEvent inserts e, assigning its ID when empty.
	AppendAnalyticsEvent(ctx context.Context, e *schema.AnalyticsEvent) error
	// Close releases the underlying client.
	Close(ctx context.Context) error
}

// Collection and table names shared by every implementation.
const (
	usersCollection         = "users"
	notificationsCollection = "notifications"
	analyticsCollection     = "analytics_events"
)
