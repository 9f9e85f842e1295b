// Package adapters provides the gateway interfaces for message store backends.
package adapters

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for gateway implementations.
// Gateways should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConnection is returned when the store cannot be reached or the
	// connection was rejected. Callers may retry with backoff.
	ErrConnection = errors.New("eventide: connection error")

	// ErrStore is returned when the store reports a domain error.
	ErrStore = errors.New("eventide: store error")

	// ErrGatewayClosed is returned when calls are attempted on a closed gateway.
	ErrGatewayClosed = errors.New("eventide: gateway is closed")

	// ErrTransactionsNotSupported is returned when an atomic multi-call
	// operation is requested from a gateway without transaction support.
	ErrTransactionsNotSupported = errors.New("eventide: gateway does not support transactions")

	// ErrUnknownProcedure is returned when a gateway has no statement for a procedure name.
	ErrUnknownProcedure = errors.New("eventide: unknown procedure")
)

// Procedure names understood by every gateway. They follow the names of the
// Message DB server functions and views.
const (
	ProcWriteMessage         = "write_message"
	ProcGetStreamMessages    = "get_stream_messages"
	ProcGetCategoryMessages  = "get_category_messages"
	ProcGetLastStreamMessage = "get_last_stream_message"
	ProcStreamVersion        = "stream_version"
	ProcCategoryVersion      = "category_version"
	ProcMessageStoreVersion  = "message_store_version"
	ProcHash64               = "hash_64"
	ProcAcquireLock          = "acquire_lock"
	ProcLastMessage          = "last_message"
	ProcTypeSummary          = "type_summary"
	ProcCategoryTypeSummary  = "category_type_summary"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Caller executes one store procedure with positional arguments.
type Caller interface {
	// Call executes the named procedure and returns zero or more rows.
	// A connection is held only for the duration of the call.
	Call(ctx context.Context, procedure string, args ...any) ([]Row, error)
}

// Gateway is the interface that store backends must implement.
// Implementations must be safe for concurrent use.
type Gateway interface {
	Caller

	// Close releases all pooled connections. Close is idempotent and every
	// call made afterwards fails with a ConnectionError.
	Close() error
}

// TransactionalGateway runs several calls atomically.
// Gateways may optionally implement this for batch writes.
type TransactionalGateway interface {
	Gateway

	// InTx runs fn inside a single transaction. If fn returns an error the
	// transaction is rolled back and none of its calls take effect.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Caller) error) error
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the gateway can connect to its backend.
	Ping(ctx context.Context) error
}

// ConnectionError reports a transient network, authentication or pool failure.
type ConnectionError struct {
	Procedure string
	Cause     error
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(procedure string, cause error) *ConnectionError {
	return &ConnectionError{Procedure: procedure, Cause: cause}
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Procedure == "" {
		return fmt.Sprintf("eventide: connection error: %v", e.Cause)
	}
	return fmt.Sprintf("eventide: connection error calling %s: %v", e.Procedure, e.Cause)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// StoreError is a failure reported by the store itself.
// Code is the SQLSTATE reported by the server, when available.
type StoreError struct {
	Procedure string
	Code      string
	Message   string
}

// NewStoreError creates a new StoreError.
func NewStoreError(procedure, code, message string) *StoreError {
	return &StoreError{Procedure: procedure, Code: code, Message: message}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("eventide: %s: %s", e.Procedure, e.Message)
	}
	return fmt.Sprintf("eventide: %s: %s (SQLSTATE %s)", e.Procedure, e.Message, e.Code)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}
