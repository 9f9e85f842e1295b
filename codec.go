package eventide

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// Column names of a message row returned by the store's read functions.
const (
	ColumnID             = "id"
	ColumnStreamName     = "stream_name"
	ColumnType           = "type"
	ColumnPosition       = "position"
	ColumnGlobalPosition = "global_position"
	ColumnData           = "data"
	ColumnMetadata       = "metadata"
	ColumnTime           = "time"
)

// WriteArgs are the encoded arguments of the store's write_message function.
type WriteArgs struct {
	ID         string
	StreamName string
	Type       string
	Data       string

	// Metadata is nil when the message carries no metadata.
	Metadata *string
}

// Args returns the positional arguments for write_message. A nil
// expectedVersion disables the concurrency check.
func (a WriteArgs) Args(expectedVersion *int64) []any {
	var metadata, ev any
	if a.Metadata != nil {
		metadata = *a.Metadata
	}
	if expectedVersion != nil {
		ev = *expectedVersion
	}
	return []any{a.ID, a.StreamName, a.Type, a.Data, metadata, ev}
}

// Codec translates between messages and the store's wire representation.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode maps a message to write_message arguments.
	Encode(msg Message) (WriteArgs, error)

	// Decode maps a row returned by a read function to a message.
	Decode(row adapters.Row) (Message, error)
}

// JSONCodec stores data and metadata as JSON text, the store's native format.
type JSONCodec struct{}

// NewJSONCodec creates a new JSONCodec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements Codec.
func (c *JSONCodec) Encode(msg Message) (WriteArgs, error) {
	data := msg.Data
	if data == nil {
		data = map[string]any{}
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return WriteArgs{}, NewEncodingError(msg.Type, "data", err)
	}

	args := WriteArgs{
		ID:         msg.ID,
		StreamName: msg.StreamName,
		Type:       msg.Type,
		Data:       string(dataJSON),
	}

	if !msg.Metadata.IsEmpty() {
		metadataJSON, err := json.Marshal(msg.Metadata)
		if err != nil {
			return WriteArgs{}, NewEncodingError(msg.Type, "metadata", err)
		}
		metadata := string(metadataJSON)
		args.Metadata = &metadata
	}

	return args, nil
}

// Decode implements Codec.
func (c *JSONCodec) Decode(row adapters.Row) (Message, error) {
	var msg Message
	var err error

	if msg.ID, err = rowString(row, ColumnID); err != nil {
		return Message{}, err
	}
	if msg.StreamName, err = rowString(row, ColumnStreamName); err != nil {
		return Message{}, err
	}
	if msg.Type, err = rowString(row, ColumnType); err != nil {
		return Message{}, err
	}
	if msg.Position, err = rowInt64(row, ColumnPosition); err != nil {
		return Message{}, err
	}
	if msg.GlobalPosition, err = rowInt64(row, ColumnGlobalPosition); err != nil {
		return Message{}, err
	}
	if msg.Time, err = rowTime(row, ColumnTime); err != nil {
		return Message{}, err
	}

	data, err := rowJSON(row, ColumnData)
	if err != nil {
		return Message{}, err
	}
	if data != nil {
		if err := json.Unmarshal(data, &msg.Data); err != nil {
			return Message{}, NewDecodingError(ColumnData, err)
		}
	}

	metadata, err := rowJSON(row, ColumnMetadata)
	if err != nil {
		return Message{}, err
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return Message{}, NewDecodingError(ColumnMetadata, err)
		}
	}

	return msg, nil
}

func rowValue(row adapters.Row, column string) (any, error) {
	v, ok := row[column]
	if !ok {
		return nil, NewDecodingError(column, errors.New("column missing from row"))
	}
	return v, nil
}

func rowString(row adapters.Row, column string) (string, error) {
	v, err := rowValue(row, column)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case [16]byte:
		return uuid.UUID(s).String(), nil
	default:
		return "", NewDecodingError(column, fmt.Errorf("unexpected type %T", v))
	}
}

// rowInt64 accepts integer types only. Floating point values are rejected so
// positions are never rounded.
func rowInt64(row adapters.Row, column string) (int64, error) {
	v, err := rowValue(row, column)
	if err != nil {
		return 0, err
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, NewDecodingError(column, fmt.Errorf("unexpected type %T", v))
	}
	return n, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

func rowTime(row adapters.Row, column string) (time.Time, error) {
	v, err := rowValue(row, column)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, NewDecodingError(column, fmt.Errorf("unexpected type %T", v))
	}
	return t.UTC(), nil
}

// rowJSON returns nil for SQL NULL.
func rowJSON(row adapters.Row, column string) ([]byte, error) {
	v, err := rowValue(row, column)
	if err != nil {
		return nil, err
	}
	switch j := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(j), nil
	case []byte:
		return j, nil
	default:
		return nil, NewDecodingError(column, fmt.Errorf("unexpected type %T", v))
	}
}
