package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/zoff-tech/order-events/pkg/cache"
	"github.com/zoff-tech/order-events/pkg/store"
	"github.com/zoff-tech/order-events/schema"
)

func (w *Worker) handleOrderCreated(ctx context.Context, e *schema.OrderCreated) error {
	farmer, err := w.store.FindUser(ctx, e.FarmerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.log.Infow("farmer not found, skipping new order notification", "order_id", e.OrderID, "farmer_id", e.FarmerID)
	case err != nil:
		return err
	default:
		err := w.store.CreateNotification(ctx, &schema.Notification{
			UserID:    farmer.ID,
			Type:      schema.NotificationNewOrder,
			Title:     "New order received",
			Message:   fmt.Sprintf("You have received a new order worth %s", formatAmount(e.Total)),
			OrderID:   e.OrderID,
			Read:      false,
			CreatedAt: w.now().UTC(),
		})
		if err != nil {
			return err
		}
	}

	amount := e.Total
	err = w.store.AppendAnalyticsEvent(ctx, &schema.AnalyticsEvent{
		Type:      string(schema.EventOrderCreated),
		OrderID:   e.OrderID,
		Amount:    &amount,
		Timestamp: w.now().UTC(),
		UserID:    e.UserID,
		FarmerID:  e.FarmerID,
		Data:      e.Data.Document(),
	})
	if err != nil {
		return err
	}

	w.cache.Del(ctx, cache.UserOrdersKey(e.UserID))
	w.cache.Del(ctx, cache.FarmerOrdersKey(e.FarmerID))

	w.log.Infow("order created processed", "order_id", e.OrderID, "farmer_id", e.FarmerID)
	return nil
}

func (w *Worker) handleOrderStatusUpdated(ctx context.Context, e *schema.OrderStatusUpdated) error {
	err := w.store.CreateNotification(ctx, &schema.Notification{
		UserID:    e.UserID,
		Type:      schema.NotificationOrderUpdate,
		Title:     "Order status updated",
		Message:   fmt.Sprintf("Your order %s is now %s", e.OrderID, e.NewStatus),
		OrderID:   e.OrderID,
		Read:      false,
		CreatedAt: w.now().UTC(),
	})
	if err != nil {
		return err
	}

	w.cache.Del(ctx, cache.UserOrdersKey(e.UserID))

	w.log.Infow("order status update processed", "order_id", e.OrderID, "status", e.NewStatus)
	return nil
}

func (w *Worker) handleProductUpdated(ctx context.Context, e *schema.ProductUpdated) error {
	w.cache.Del(ctx, cache.ProductKey(e.ProductID))
	w.cache.Del(ctx, cache.FarmerProductsKey(e.FarmerID))
	n := w.cache.InvalidatePattern(ctx, cache.ProductsListPattern)

	w.log.Infow("product update processed", "product_id", e.ProductID, "action", e.Action, "list_keys_removed", n)
	return nil
}

func (w *Worker) handleNotification(ctx context.Context, e *schema.GenericNotification) error {
	kind := e.Notification.Type
	if kind == "" {
		kind = schema.NotificationTypeFallback
	}
	return w.store.CreateNotification(ctx, &schema.Notification{
		UserID:    e.UserID,
		Type:      kind,
		Title:     e.Notification.Title,
		Message:   e.Notification.Message,
		OrderID:   e.Notification.OrderID,
		Read:      false,
		CreatedAt: w.now().UTC(),
	})
}

// handleAnalytics stores the event as sent. Well-known identifiers found in
// the data are copied onto the record.
func (w *Worker) handleAnalytics(ctx context.Context, e *schema.Analytics) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	record := &schema.AnalyticsEvent{
		Type:      e.EventName,
		Timestamp: ts.UTC(),
		OrderID:   stringField(e.Data, "orderId"),
		UserID:    stringField(e.Data, "userId"),
		FarmerID:  stringField(e.Data, "farmerId"),
		Data:      e.Data,
	}
	if v, ok := e.Data["amount"].(float64); ok {
		record.Amount = &v
	}
	return w.store.AppendAnalyticsEvent(ctx, record)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
