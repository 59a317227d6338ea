package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/spanner"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zoff-tech/order-events/pkg/config"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var sqlOpen = sql.Open

var NewSpannerRepositoryFactory = func(client *spanner.Client) DocumentStore {
	return &SpannerRepository{client: client}
}

var NewMongoClient = func(ctx context.Context, uri string) (*mongo.Client, error) {
	return mongo.Connect(ctx, options.Client().ApplyURI(uri))
}

func NewRepository(ctx context.Context, cfg config.DbSettings) (DocumentStore, error) {
	switch cfg.Type {
	case "mongo", "":
		client, err := NewMongoClient(ctx, cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		return NewMongoRepository(client, cfg.Name), nil
	case "postgres":
		db, err := sqlOpen("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepository(db), nil
	case "spanner":
		client, err := spanner.NewClient(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		return NewSpannerRepositoryFactory(client), nil
	default:
		return nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
