package eventide

import (
	"errors"
	"regexp"
	"strconv"
)

// NoStream is the expected version of a stream that has no messages yet.
const NoStream int64 = -1

// WriteOutcome is the terminal state of a single write attempt.
type WriteOutcome int

const (
	// WritePending means the write has not completed.
	WritePending WriteOutcome = iota

	// WriteApplied means the store accepted the write.
	WriteApplied

	// WriteConflict means the stream version differed from the expected version.
	WriteConflict

	// WriteFailed means the write failed for any other reason. After a
	// connection failure the outcome is indeterminate: re-read the stream
	// version before deciding what to do next.
	WriteFailed
)

// String returns the outcome name.
func (o WriteOutcome) String() string {
	switch o {
	case WritePending:
		return "pending"
	case WriteApplied:
		return "applied"
	case WriteConflict:
		return "conflict"
	case WriteFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// wrongExpectedVersion matches the exception raised by write_message.
var wrongExpectedVersion = regexp.MustCompile(`Wrong expected version: (-?\d+) \(Stream: (.*), Stream Version: (-?\d+)\)`)

// ResolveWrite translates the error returned by a write into its outcome.
// Store-level expected version violations become a *ConcurrencyError; every
// other error is returned as-is. Conflicts are never retried here: only the
// caller can re-read its state and decide the next command.
func ResolveWrite(err error) (WriteOutcome, error) {
	if err == nil {
		return WriteApplied, nil
	}

	if conflict := asConcurrencyError(err); conflict != nil {
		return WriteConflict, conflict
	}

	return WriteFailed, err
}

func asConcurrencyError(err error) *ConcurrencyError {
	var conflict *ConcurrencyError
	if errors.As(err, &conflict) {
		return conflict
	}

	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		return nil
	}

	m := wrongExpectedVersion.FindStringSubmatch(storeErr.Message)
	if m == nil {
		return nil
	}

	expected, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	actual, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return nil
	}

	return NewConcurrencyError(m[2], expected, actual)
}
