package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/zoff-tech/order-events/schema"
)

type MongoRepository struct {
	client   *mongo.Client
	database string
}

func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	return &MongoRepository{
		client:   client,
		database: database,
	}
}

func (m *MongoRepository) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func (m *MongoRepository) FindUser(ctx context.Context, userID string) (*schema.User, error) {
	var user schema.User
	err := withSpan(ctx, "mongodb", "FindUser", 1, func(ctx context.Context) error {
		err := m.collection(usersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
		if errors.Is(err, mongo.ErrNoDocuments) {
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

func (m *MongoRepository) CreateNotification(ctx context.Context, n *schema.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	return withSpan(ctx, "mongodb", "CreateNotification", 1, func(ctx context.Context) error {
		if _, err := m.collection(notificationsCollection).InsertOne(ctx, n); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	})
}

func (m *MongoRepository) AppendAnalyticsEvent(ctx context.Context, e *schema.AnalyticsEvent) error {
	if e.ID == "" {
		e.ID = newID()
	}
	return withSpan(ctx, "mongodb", "AppendAnalyticsEvent", 1, func(ctx context.Context) error {
		if _, err := m.collection(analyticsCollection).InsertOne(ctx, e); err != nil {
			return fmt.Errorf("insert analytics event: %w", err)
		}
		return nil
	})
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
