package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/bdlab/biblioteca/database"

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	SpanOperationDBQuery            SpanOperation = "db.query"
	SpanOperationDBInsert           SpanOperation = "db.insert"
	SpanOperationDBTx               SpanOperation = "db.transaction"
	SpanOperationDBCreateCollection SpanOperation = "db.create_collection"
	SpanOperationDBCollMod          SpanOperation = "db.collmod"
)

// StartDatabaseSpan creates a client span for a database operation using the
// global tracer provider.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)

	spanOpts := &databaseSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("db.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("DB %s", operation)
	if spanOpts.target != "" {
		spanName = fmt.Sprintf("DB %s %s", operation, spanOpts.target)
	}

	return tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(spanOpts.attributes...),
	)
}

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*databaseSpanOptions)

type databaseSpanOptions struct {
	target     string
	attributes []attribute.KeyValue
}

// WithDBTable sets the table the operation targets. It also names the span.
func WithDBTable(table string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.target = table
		opts.attributes = append(opts.attributes, attribute.String("db.sql.table", table))
	}
}

// WithDBCollection sets the document collection the operation targets.
func WithDBCollection(collection string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.target = collection
		opts.attributes = append(opts.attributes, attribute.String("db.mongodb.collection", collection))
	}
}

// WithDBSystem sets the database system (e.g., "postgresql", "mongodb").
func WithDBSystem(system string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithDBName sets the database name.
func WithDBName(name string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.name", name))
	}
}

// WithDBSchema sets the schema bound to the session.
func WithDBSchema(schema string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.schema", schema))
	}
}

// WithStep names the demo step running in the span.
func WithStep(step string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("biblioteca.step", step))
	}
}

// SetTxState records the final transaction state on span.
func SetTxState(span trace.Span, state string) {
	span.SetAttributes(attribute.String("db.transaction.state", state))
}

// RecordError records err on span and marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
