// Package tracing provides OpenTelemetry integration for eventide.
//
// This package enables distributed tracing for message store calls and
// consumer message handling.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := eventide.New(tracing.WrapGateway(gw, tracer))
//
//	handler := tracing.HandlerMiddleware(tracer, "ledger", handle)
//	consumer := eventide.NewConsumer(store, "account", handler)
//
// The tracing middleware captures:
//   - Procedure, stream and position arguments of each store call
//   - Success/failure status
//   - Error details when calls or handlers fail
//   - Correlation and causation lineage of handled messages
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

const (
	// TracerName is the name of the eventide tracer.
	TracerName = "github.com/AshkanYarmoradi/go-eventide"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "eventide"
)

// Tracer wraps OpenTelemetry tracer for eventide operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// =============================================================================
// Gateway Middleware
// =============================================================================

// GatewayMiddleware wraps a Gateway with tracing.
type GatewayMiddleware struct {
	gateway adapters.Gateway
	tracer  *Tracer
}

// TransactionalGatewayMiddleware wraps a TransactionalGateway with tracing.
type TransactionalGatewayMiddleware struct {
	*GatewayMiddleware
	tx adapters.TransactionalGateway
}

// WrapGateway wraps a gateway with tracing. Transactional gateways stay
// transactional.
func WrapGateway(gw adapters.Gateway, tracer *Tracer) adapters.Gateway {
	mw := &GatewayMiddleware{gateway: gw, tracer: tracer}
	if tx, ok := gw.(adapters.TransactionalGateway); ok {
		return &TransactionalGatewayMiddleware{GatewayMiddleware: mw, tx: tx}
	}
	return mw
}

// Call executes a procedure with tracing.
func (m *GatewayMiddleware) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	return m.trace(ctx, m.gateway, procedure, args)
}

func (m *GatewayMiddleware) trace(ctx context.Context, caller adapters.Caller, procedure string, args []any) ([]adapters.Row, error) {
	ctx, span := m.tracer.StartSpan(ctx, "messagestore."+procedure,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("eventide.service", m.tracer.serviceName),
		attribute.String("db.system", "postgresql"),
		attribute.String("eventide.procedure", procedure),
	)
	span.SetAttributes(callAttributes(procedure, args)...)

	rows, err := caller.Call(ctx, procedure, args...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("eventide.rows", len(rows)))
	}

	return rows, err
}

// callAttributes describes the arguments of a known procedure.
func callAttributes(procedure string, args []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue

	str := func(key string, i int) {
		if i < len(args) {
			if s, ok := args[i].(string); ok {
				attrs = append(attrs, attribute.String(key, s))
			}
		}
	}
	num := func(key string, i int) {
		if i < len(args) {
			if n, ok := args[i].(int64); ok {
				attrs = append(attrs, attribute.Int64(key, n))
			}
		}
	}

	switch procedure {
	case adapters.ProcWriteMessage:
		str("eventide.message.id", 0)
		str("eventide.stream_name", 1)
		str("eventide.message.type", 2)
		num("eventide.expected_version", 5)
	case adapters.ProcGetStreamMessages:
		str("eventide.stream_name", 0)
		num("eventide.position", 1)
		num("eventide.batch_size", 2)
	case adapters.ProcGetCategoryMessages:
		str("eventide.category", 0)
		num("eventide.position", 1)
		num("eventide.batch_size", 2)
		str("eventide.correlation", 3)
		num("eventide.consumer_group.member", 4)
		num("eventide.consumer_group.size", 5)
	case adapters.ProcGetLastStreamMessage, adapters.ProcStreamVersion, adapters.ProcAcquireLock:
		str("eventide.stream_name", 0)
	case adapters.ProcCategoryVersion:
		str("eventide.category", 0)
	}

	return attrs
}

// Close closes the gateway.
func (m *GatewayMiddleware) Close() error {
	return m.gateway.Close()
}

// InTx runs fn in a traced transaction. Calls made through tx become child
// spans of the transaction span.
func (m *TransactionalGatewayMiddleware) InTx(ctx context.Context, fn func(ctx context.Context, tx adapters.Caller) error) error {
	ctx, span := m.tracer.StartSpan(ctx, "messagestore.transaction",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(attribute.String("eventide.service", m.tracer.serviceName))

	calls := 0
	err := m.tx.InTx(ctx, func(ctx context.Context, tx adapters.Caller) error {
		return fn(ctx, callerFunc(func(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
			calls++
			return m.trace(ctx, tx, procedure, args)
		}))
	})

	span.SetAttributes(attribute.Int("eventide.transaction.calls", calls))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

type callerFunc func(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error)

func (f callerFunc) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	return f(ctx, procedure, args...)
}

// =============================================================================
// Consumer Handler Middleware
// =============================================================================

// HandlerMiddleware wraps a consumer message handler with tracing.
func HandlerMiddleware(tracer *Tracer, consumer string, next eventide.MessageHandler) eventide.MessageHandler {
	return func(ctx context.Context, msg eventide.Message) error {
		spanName := fmt.Sprintf("consumer.%s.handle", consumer)

		ctx, span := tracer.StartSpan(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		span.SetAttributes(
			attribute.String("eventide.service", tracer.serviceName),
			attribute.String("eventide.consumer", consumer),
			attribute.String("eventide.message.id", msg.ID),
			attribute.String("eventide.message.type", msg.Type),
			attribute.String("eventide.stream_name", msg.StreamName),
			attribute.Int64("eventide.position", msg.Position),
			attribute.Int64("eventide.global_position", msg.GlobalPosition),
		)

		if msg.Metadata.CorrelationStreamName != "" {
			span.SetAttributes(attribute.String("eventide.correlation_stream_name", msg.Metadata.CorrelationStreamName))
		}
		if msg.Metadata.CausationMessageStreamName != "" {
			span.SetAttributes(attribute.String("eventide.causation_stream_name", msg.Metadata.CausationMessageStreamName))
		}

		err := next(ctx, msg)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
