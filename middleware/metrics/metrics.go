// Package metrics provides Prometheus metrics integration for eventide.
//
// This package enables observability through Prometheus metrics for
// message store calls and consumers.
//
// Basic usage:
//
//	metrics := metrics.New()
//	// Register with Prometheus
//	prometheus.MustRegister(metrics.Collectors()...)
//
//	// Wrap the gateway
//	store := eventide.New(metrics.WrapGateway(gw))
//
//	// Observe a consumer
//	consumer := eventide.NewConsumer(store, "account", handle,
//	    eventide.WithConsumerObserver(metrics))
//
// The metrics collected include:
//   - Store call counts and durations by procedure
//   - Messages written by type and messages read
//   - Consumer batches, handled messages and positions
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// Default metric labels.
const (
	LabelProcedure   = "procedure"
	LabelMessageType = "message_type"
	LabelConsumer    = "consumer"
	LabelStatus      = "status"
	LabelErrorType   = "error_type"
	LabelService     = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Ensure Metrics observes consumers.
var _ eventide.ConsumerObserver = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for eventide.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Store call metrics
	callsTotal           *prometheus.CounterVec
	callDuration         *prometheus.HistogramVec
	messagesWrittenTotal *prometheus.CounterVec
	messagesReadTotal    *prometheus.CounterVec

	// Consumer metrics
	consumerBatchesTotal    *prometheus.CounterVec
	consumerMessagesTotal   *prometheus.CounterVec
	consumerHandlerDuration *prometheus.HistogramVec
	consumerPosition        *prometheus.GaugeVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "eventide",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_calls_total",
			Help:      "Total number of message store calls.",
		},
		[]string{LabelService, LabelProcedure, LabelStatus},
	)

	m.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_call_duration_seconds",
			Help:      "Duration of message store calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelProcedure},
	)

	m.messagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_written_total",
			Help:      "Total number of messages written.",
		},
		[]string{LabelService, LabelMessageType},
	)

	m.messagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_read_total",
			Help:      "Total number of messages read.",
		},
		[]string{LabelService, LabelProcedure},
	)

	m.consumerBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "consumer_polls_total",
			Help:      "Total number of consumer polls.",
		},
		[]string{LabelService, LabelConsumer},
	)

	m.consumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "consumer_messages_total",
			Help:      "Total number of messages delivered to consumer handlers.",
		},
		[]string{LabelService, LabelConsumer, LabelMessageType, LabelStatus},
	)

	m.consumerHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "consumer_handler_duration_seconds",
			Help:      "Duration of consumer message handling in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelConsumer},
	)

	m.consumerPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "consumer_position",
			Help:      "Global position of the last message handled by each consumer.",
		},
		[]string{LabelService, LabelConsumer},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.callsTotal,
		m.callDuration,
		m.messagesWrittenTotal,
		m.messagesReadTotal,
		m.consumerBatchesTotal,
		m.consumerMessagesTotal,
		m.consumerHandlerDuration,
		m.consumerPosition,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	// Expected version violations arrive from the gateway as store errors.
	if _, resolved := eventide.ResolveWrite(err); errors.Is(resolved, eventide.ErrConcurrencyConflict) {
		return "concurrency_conflict"
	}

	switch {
	case errors.Is(err, eventide.ErrMalformedStreamName):
		return "malformed_stream_name"
	case errors.Is(err, eventide.ErrEncoding):
		return "encoding"
	case errors.Is(err, eventide.ErrDecoding):
		return "decoding"
	case errors.Is(err, adapters.ErrGatewayClosed):
		return "gateway_closed"
	case errors.Is(err, adapters.ErrConnection):
		return "connection"
	case errors.Is(err, adapters.ErrStore):
		return "store"
	case errors.Is(err, adapters.ErrUnknownProcedure):
		return "unknown_procedure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}

// =============================================================================
// Gateway Middleware
// =============================================================================

// GatewayMiddleware wraps a Gateway with metrics.
type GatewayMiddleware struct {
	gateway adapters.Gateway
	metrics *Metrics
}

// TransactionalGatewayMiddleware wraps a TransactionalGateway with metrics.
type TransactionalGatewayMiddleware struct {
	*GatewayMiddleware
	tx adapters.TransactionalGateway
}

// WrapGateway wraps a gateway with metrics collection. Transactional
// gateways stay transactional.
func (m *Metrics) WrapGateway(gw adapters.Gateway) adapters.Gateway {
	mw := &GatewayMiddleware{gateway: gw, metrics: m}
	if tx, ok := gw.(adapters.TransactionalGateway); ok {
		return &TransactionalGatewayMiddleware{GatewayMiddleware: mw, tx: tx}
	}
	return mw
}

// Call executes a procedure with metrics.
func (gm *GatewayMiddleware) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	return gm.observe(ctx, gm.gateway, procedure, args)
}

func (gm *GatewayMiddleware) observe(ctx context.Context, caller adapters.Caller, procedure string, args []any) ([]adapters.Row, error) {
	m := gm.metrics

	start := time.Now()
	rows, err := caller.Call(ctx, procedure, args...)
	duration := time.Since(start)

	m.callDuration.WithLabelValues(m.serviceName, procedure).Observe(duration.Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
	} else {
		switch procedure {
		case adapters.ProcWriteMessage:
			m.messagesWrittenTotal.WithLabelValues(m.serviceName, messageType(args)).Inc()
		case adapters.ProcGetStreamMessages, adapters.ProcGetCategoryMessages:
			m.messagesReadTotal.WithLabelValues(m.serviceName, procedure).Add(float64(len(rows)))
		}
	}

	m.callsTotal.WithLabelValues(m.serviceName, procedure, status).Inc()

	return rows, err
}

// messageType returns the type argument of a write_message call.
func messageType(args []any) string {
	if len(args) > 2 {
		if s, ok := args[2].(string); ok {
			return s
		}
	}
	return "unknown"
}

// Close closes the gateway.
func (gm *GatewayMiddleware) Close() error {
	return gm.gateway.Close()
}

// InTx runs fn in a transaction; calls made through tx are measured.
func (tm *TransactionalGatewayMiddleware) InTx(ctx context.Context, fn func(ctx context.Context, tx adapters.Caller) error) error {
	return tm.tx.InTx(ctx, func(ctx context.Context, tx adapters.Caller) error {
		return fn(ctx, &measuredCaller{middleware: tm.GatewayMiddleware, caller: tx})
	})
}

type measuredCaller struct {
	middleware *GatewayMiddleware
	caller     adapters.Caller
}

func (c *measuredCaller) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	return c.middleware.observe(ctx, c.caller, procedure, args)
}

// =============================================================================
// Consumer Observer
// =============================================================================

// ObserveBatch implements eventide.ConsumerObserver.
func (m *Metrics) ObserveBatch(consumer string, size int, duration time.Duration) {
	m.consumerBatchesTotal.WithLabelValues(m.serviceName, consumer).Inc()
}

// ObserveMessage implements eventide.ConsumerObserver.
func (m *Metrics) ObserveMessage(consumer string, msg eventide.Message, err error, duration time.Duration) {
	m.consumerHandlerDuration.WithLabelValues(m.serviceName, consumer).Observe(duration.Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.errorsTotal.WithLabelValues(m.serviceName, "handler").Inc()
	}

	m.consumerMessagesTotal.WithLabelValues(m.serviceName, consumer, msg.Type, status).Inc()
}

// ObservePosition implements eventide.ConsumerObserver.
func (m *Metrics) ObservePosition(consumer string, position int64) {
	m.consumerPosition.WithLabelValues(m.serviceName, consumer).Set(float64(position))
}

// =============================================================================
// Manual Metric Recording
// =============================================================================

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// =============================================================================
// Getters for testing
// =============================================================================

// CallsTotal returns the store calls counter.
func (m *Metrics) CallsTotal() *prometheus.CounterVec {
	return m.callsTotal
}

// CallDuration returns the store call duration histogram.
func (m *Metrics) CallDuration() *prometheus.HistogramVec {
	return m.callDuration
}

// MessagesWrittenTotal returns the messages written counter.
func (m *Metrics) MessagesWrittenTotal() *prometheus.CounterVec {
	return m.messagesWrittenTotal
}

// MessagesReadTotal returns the messages read counter.
func (m *Metrics) MessagesReadTotal() *prometheus.CounterVec {
	return m.messagesReadTotal
}

// ConsumerBatchesTotal returns the consumer polls counter.
func (m *Metrics) ConsumerBatchesTotal() *prometheus.CounterVec {
	return m.consumerBatchesTotal
}

// ConsumerMessagesTotal returns the consumer messages counter.
func (m *Metrics) ConsumerMessagesTotal() *prometheus.CounterVec {
	return m.consumerMessagesTotal
}

// ConsumerHandlerDuration returns the consumer handler duration histogram.
func (m *Metrics) ConsumerHandlerDuration() *prometheus.HistogramVec {
	return m.consumerHandlerDuration
}

// ConsumerPosition returns the consumer position gauge.
func (m *Metrics) ConsumerPosition() *prometheus.GaugeVec {
	return m.consumerPosition
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
