package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zoff-tech/order-events/schema"
)

type PostgresRepository struct {
	db *sql.DB // using database/sql
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) FindUser(ctx context.Context, userID string) (*schema.User, error) {
	var user schema.User
	err := withSpan(ctx, "postgresql", "FindUser", 1, func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, name, email, role FROM users WHERE id=$1`, userID)
		err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Role)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find user %s: %w", userID, err)
	}
	return &user, nil
}

func (p *PostgresRepository) CreateNotification(ctx context.Context, n *schema.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	return withSpan(ctx, "postgresql", "CreateNotification", 1, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, type, title, message, order_id, read, created_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, n.UserID, n.Type, n.Title, n.Message, nullString(n.OrderID), n.Read, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	})
}

func (p *PostgresRepository) AppendAnalyticsEvent(ctx context.Context, e *schema.AnalyticsEvent) error {
	if e.ID == "" {
		e.ID = newID()
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode analytics data: %w", err)
	}
	return withSpan(ctx, "postgresql", "AppendAnalyticsEvent", 1, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO analytics_events (id, type, order_id, amount, timestamp, user_id, farmer_id, data)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.Type, nullString(e.OrderID), nullFloat(e.Amount), e.Timestamp,
			nullString(e.UserID), nullString(e.FarmerID), data)
		if err != nil {
			return fmt.Errorf("insert analytics event: %w", err)
		}
		return nil
	})
}

func (p *PostgresRepository) Close(context.Context) error {
	return p.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
