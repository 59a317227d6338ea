package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/order-events/pkg/telemetry"
)

func addDBStatsToSpan(span trace.Span, system, statement string, docs int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("documentsCount", docs),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}

// withSpan runs fn inside a span named after the operation and records its
// outcome.
func withSpan(ctx context.Context, system, operation string, docs int, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, operation)
	defer span.End()

	startTime := time.Now()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	addDBStatsToSpan(span, system, operation, docs, time.Since(startTime))
	return nil
}

func newID() string { return uuid.NewString() }
