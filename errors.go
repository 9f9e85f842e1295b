package eventide

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Gateway-level errors are aliases to the adapters package errors.
var (
	// ErrMalformedStreamName indicates stream name text that violates the grammar.
	ErrMalformedStreamName = errors.New("eventide: malformed stream name")

	// ErrEncoding indicates a message payload could not be serialized.
	ErrEncoding = errors.New("eventide: encoding failed")

	// ErrDecoding indicates a row returned by the store could not be decoded.
	ErrDecoding = errors.New("eventide: decoding failed")

	// ErrConcurrencyConflict indicates an expected version mismatch on write.
	ErrConcurrencyConflict = errors.New("eventide: concurrency conflict")

	// ErrConnection indicates a transient network or authentication failure.
	ErrConnection = adapters.ErrConnection

	// ErrStore indicates any other failure reported by the store.
	ErrStore = adapters.ErrStore

	// ErrGatewayClosed indicates the gateway has been closed.
	ErrGatewayClosed = adapters.ErrGatewayClosed

	// ErrTransactionsNotSupported indicates an atomic batch was requested from
	// a gateway that cannot run transactions.
	ErrTransactionsNotSupported = adapters.ErrTransactionsNotSupported

	// ErrNilGateway indicates a nil gateway was passed.
	ErrNilGateway = errors.New("eventide: nil gateway")

	// ErrNoMessages indicates no messages were provided for a batch write.
	ErrNoMessages = errors.New("eventide: no messages to write")

	// ErrInvalidConsumerGroup indicates a consumer group with a member outside [0, size).
	ErrInvalidConsumerGroup = errors.New("eventide: invalid consumer group")

	// ErrConsumerRunning indicates Run was called on a consumer that is already running.
	ErrConsumerRunning = errors.New("eventide: consumer already running")
)

// ConnectionError reports a transient failure reaching the store.
type ConnectionError = adapters.ConnectionError

// StoreError reports a failure raised by the store.
type StoreError = adapters.StoreError

// MalformedStreamNameError provides detailed information about an invalid stream name.
type MalformedStreamNameError struct {
	Text   string
	Reason string
}

// Error returns the error message.
func (e *MalformedStreamNameError) Error() string {
	return fmt.Sprintf("eventide: malformed stream name %q: %s", e.Text, e.Reason)
}

// Is reports whether this error matches the target error.
func (e *MalformedStreamNameError) Is(target error) bool {
	return target == ErrMalformedStreamName
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *MalformedStreamNameError) Unwrap() error {
	return ErrMalformedStreamName
}

// NewMalformedStreamNameError creates a new MalformedStreamNameError.
func NewMalformedStreamNameError(text, reason string) *MalformedStreamNameError {
	return &MalformedStreamNameError{Text: text, Reason: reason}
}

// EncodingError provides detailed information about a serialization failure.
type EncodingError struct {
	MessageType string
	Field       string // "data" or "metadata"
	Cause       error
}

// Error returns the error message.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("eventide: failed to encode %s of message type %q: %v",
		e.Field, e.MessageType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *EncodingError) Unwrap() error {
	return e.Cause
}

// NewEncodingError creates a new EncodingError.
func NewEncodingError(messageType, field string, cause error) *EncodingError {
	return &EncodingError{MessageType: messageType, Field: field, Cause: cause}
}

// DecodingError provides detailed information about a malformed row.
// Against a healthy store this indicates a client/store protocol mismatch.
type DecodingError struct {
	Column string
	Cause  error
}

// Error returns the error message.
func (e *DecodingError) Error() string {
	return fmt.Sprintf("eventide: failed to decode column %q: %v", e.Column, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *DecodingError) Is(target error) bool {
	return target == ErrDecoding
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *DecodingError) Unwrap() error {
	return e.Cause
}

// NewDecodingError creates a new DecodingError.
func NewDecodingError(column string, cause error) *DecodingError {
	return &DecodingError{Column: column, Cause: cause}
}

// ConcurrencyError provides detailed information about a concurrency conflict.
// Actual is -1 when the stream has no messages.
type ConcurrencyError struct {
	StreamName string
	Expected   int64
	Actual     int64
}

// Error returns the error message.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("eventide: concurrency conflict on stream %q: expected version %d, actual version %d",
		e.StreamName, e.Expected, e.Actual)
}

// Is reports whether this error matches the target error.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamName string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		StreamName: streamName,
		Expected:   expected,
		Actual:     actual,
	}
}

// HandlerError wraps a consumer handler failure for the message that caused it.
type HandlerError struct {
	StreamName     string
	GlobalPosition int64
	Cause          error
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("eventide: handler failed for message %s@%d: %v",
		e.StreamName, e.GlobalPosition, e.Cause)
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a transient connection failure that the
// caller may retry with backoff. Writes should only be retried after
// re-reading the stream version.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection)
}
