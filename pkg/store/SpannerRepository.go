package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/spanner"
	"google.golang.org/grpc/codes"

	"github.com/zoff-tech/order-events/schema"
)

type SpannerRepository struct {
	client *spanner.Client
}

func (s *SpannerRepository) FindUser(ctx context.Context, userID string) (*schema.User, error) {
	var user schema.User
	err := withSpan(ctx, "spanner", "FindUser", 1, func(ctx context.Context) error {
		row, err := s.client.Single().ReadRow(ctx, usersCollection, spanner.Key{userID},
			[]string{"id", "name", "email", "role"})
		if err != nil {
			if spanner.ErrCode(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		return row.Columns(&user.ID, &user.Name, &user.Email, &user.Role)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *SpannerRepository) CreateNotification(ctx context.Context, n *schema.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	return withSpan(ctx, "spanner", "CreateNotification", 1, func(ctx context.Context) error {
		_, err := s.client.Apply(ctx, []*spanner.Mutation{
			spanner.InsertMap(notificationsCollection, map[string]interface{}{
				"id":         n.ID,
				"user_id":    n.UserID,
				"type":       n.Type,
				"title":      n.Title,
				"message":    n.Message,
				"order_id":   spanner.NullString{StringVal: n.OrderID, Valid: n.OrderID != ""},
				"read":       n.Read,
				"created_at": n.CreatedAt,
			}),
		})
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	})
}

func (s *SpannerRepository) AppendAnalyticsEvent(ctx context.Context, e *schema.AnalyticsEvent) error {
	if e.ID == "" {
		e.ID = newID()
	}
	amount := spanner.NullFloat64{}
	if e.Amount != nil {
		amount = spanner.NullFloat64{Float64: *e.Amount, Valid: true}
	}
	return withSpan(ctx, "spanner", "AppendAnalyticsEvent", 1, func(ctx context.Context) error {
		_, err := s.client.Apply(ctx, []*spanner.Mutation{
			spanner.InsertMap(analyticsCollection, map[string]interface{}{
				"id":        e.ID,
				"type":      e.Type,
				"order_id":  spanner.NullString{StringVal: e.OrderID, Valid: e.OrderID != ""},
				"amount":    amount,
				"timestamp": e.Timestamp,
				"user_id":   spanner.NullString{StringVal: e.UserID, Valid: e.UserID != ""},
				"farmer_id": spanner.NullString{StringVal: e.FarmerID, Valid: e.FarmerID != ""},
				"data":      spanner.NullJSON{Value: e.Data, Valid: e.Data != nil},
			}),
		})
		if err != nil {
			return fmt.Errorf("insert analytics event: %w", err)
		}
		return nil
	})
}

func (s *SpannerRepository) Close(context.Context) error {
	s.client.Close()
	return nil
}
