// Package adapters provides interfaces and shared utilities for message store backends.
package adapters

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"strings"
)

// Stream name separators used by the store.
const (
	// IDSeparator separates the category from the id segment ("account-123").
	IDSeparator = "-"

	// CompoundSeparator separates compound ids and category types ("account-1+2").
	CompoundSeparator = "+"

	// TypeSeparator separates the category from its types ("account:command").
	TypeSeparator = ":"
)

// Category returns the category portion of a stream name, using the same
// rule as the store's category() function: everything before the first
// IDSeparator, types included.
//
// Behavior:
//   - "account-123" returns "account"
//   - "account:command-123" returns "account:command"
//   - "account" returns "account"
//   - "" returns ""
func Category(streamName string) string {
	category, _, _ := strings.Cut(streamName, IDSeparator)
	return category
}

// StreamID returns the id segment of a stream name, or "" for a category.
func StreamID(streamName string) string {
	_, id, found := strings.Cut(streamName, IDSeparator)
	if !found {
		return ""
	}
	return id
}

// CardinalID returns the first compound id of a stream name, or "" for a category.
func CardinalID(streamName string) string {
	cardinal, _, _ := strings.Cut(StreamID(streamName), CompoundSeparator)
	return cardinal
}

// IsCategory reports whether name has no id segment.
func IsCategory(name string) bool {
	return !strings.Contains(name, IDSeparator)
}

// Hash64 computes the store's hash_64 of a value: the first 64 bits of the
// MD5 digest interpreted as a signed big-endian integer.
func Hash64(value string) int64 {
	sum := md5.Sum([]byte(value))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// ConsumerGroupMember returns the member of a consumer group of the given
// size that owns streamName. The store assigns a stream to
// abs(hash_64(cardinal_id)) modulo size. A stream without an id has a NULL
// cardinal id and belongs to no member, reported as -1, as does every stream
// for a size below 1.
func ConsumerGroupMember(streamName string, size int64) int64 {
	cardinalID := CardinalID(streamName)
	if size <= 0 || cardinalID == "" {
		return -1
	}
	h := Hash64(cardinalID)
	var abs uint64
	if h < 0 {
		abs = uint64(-(h + 1)) + 1
	} else {
		abs = uint64(h)
	}
	return int64(abs % uint64(size))
}

// WrongExpectedVersionMessage formats the error raised by the store's
// write_message function when the expected version check fails.
func WrongExpectedVersionMessage(expected int64, streamName string, actual int64) string {
	return fmt.Sprintf("Wrong expected version: %d (Stream: %s, Stream Version: %d)", expected, streamName, actual)
}

// DefaultBatchSize returns defaultValue if the provided batch size is invalid.
// A batch size of -1 is passed through, the store treats it as unlimited.
func DefaultBatchSize(batchSize, defaultValue int64) int64 {
	if batchSize == -1 {
		return batchSize
	}
	if batchSize <= 0 {
		return defaultValue
	}
	return batchSize
}
