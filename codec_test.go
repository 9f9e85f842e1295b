package eventide

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

func messageRow() adapters.Row {
	return adapters.Row{
		ColumnID:             "2d9b2b1c-3f1a-4d4e-9c59-6f7b8a1d2e3f",
		ColumnStreamName:     "account-1",
		ColumnType:           "Deposited",
		ColumnPosition:       int64(4),
		ColumnGlobalPosition: int64(42),
		ColumnData:           `{"amount":10}`,
		ColumnMetadata:       `{"correlationStreamName":"transfer-9","causationMessagePosition":3}`,
		ColumnTime:           time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
	}
}

func TestJSONCodec_Encode(t *testing.T) {
	codec := NewJSONCodec()

	t.Run("encodes data and metadata", func(t *testing.T) {
		msg := NewMessage("account-1", "Deposited", map[string]any{"amount": 10})
		msg.ID = "id-1"
		msg.Metadata = Metadata{}.WithCorrelationStreamName("transfer-9")

		args, err := codec.Encode(msg)

		require.NoError(t, err)
		assert.Equal(t, "id-1", args.ID)
		assert.Equal(t, "account-1", args.StreamName)
		assert.Equal(t, "Deposited", args.Type)
		assert.JSONEq(t, `{"amount":10}`, args.Data)
		require.NotNil(t, args.Metadata)
		assert.JSONEq(t, `{"correlationStreamName":"transfer-9"}`, *args.Metadata)
	})

	t.Run("nil data encodes as empty object", func(t *testing.T) {
		args, err := codec.Encode(NewMessage("account-1", "Opened", nil))

		require.NoError(t, err)
		assert.Equal(t, "{}", args.Data)
		assert.Nil(t, args.Metadata)
	})

	t.Run("unserializable data", func(t *testing.T) {
		_, err := codec.Encode(NewMessage("account-1", "Bad", map[string]any{"f": func() {}}))

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEncoding))

		var encErr *EncodingError
		require.True(t, errors.As(err, &encErr))
		assert.Equal(t, "data", encErr.Field)
		assert.Equal(t, "Bad", encErr.MessageType)
	})

	t.Run("unserializable metadata", func(t *testing.T) {
		msg := NewMessage("account-1", "Bad", nil)
		msg.Metadata = Metadata{}.WithCustom("nan", math.NaN())

		_, err := codec.Encode(msg)

		var encErr *EncodingError
		require.True(t, errors.As(err, &encErr))
		assert.Equal(t, "metadata", encErr.Field)
	})
}

func TestWriteArgs_Args(t *testing.T) {
	metadata := `{"replyStreamName":"x-1"}`
	args := WriteArgs{ID: "id", StreamName: "s-1", Type: "T", Data: "{}", Metadata: &metadata}

	t.Run("with expected version", func(t *testing.T) {
		v := int64(3)
		assert.Equal(t, []any{"id", "s-1", "T", "{}", metadata, int64(3)}, args.Args(&v))
	})

	t.Run("without metadata or expected version", func(t *testing.T) {
		args.Metadata = nil
		assert.Equal(t, []any{"id", "s-1", "T", "{}", nil, nil}, args.Args(nil))
	})
}

func TestJSONCodec_Decode(t *testing.T) {
	codec := NewJSONCodec()

	t.Run("decodes row", func(t *testing.T) {
		msg, err := codec.Decode(messageRow())

		require.NoError(t, err)
		assert.Equal(t, "2d9b2b1c-3f1a-4d4e-9c59-6f7b8a1d2e3f", msg.ID)
		assert.Equal(t, "account-1", msg.StreamName)
		assert.Equal(t, "Deposited", msg.Type)
		assert.Equal(t, int64(4), msg.Position)
		assert.Equal(t, int64(42), msg.GlobalPosition)
		assert.Equal(t, float64(10), msg.Data["amount"])
		assert.Equal(t, "transfer-9", msg.Metadata.CorrelationStreamName)
		require.NotNil(t, msg.Metadata.CausationMessagePosition)
		assert.Equal(t, int64(3), *msg.Metadata.CausationMessagePosition)
		assert.Equal(t, time.UTC, msg.Time.Location())
		assert.Equal(t, 10, msg.Time.Hour())
	})

	t.Run("accepts driver representations", func(t *testing.T) {
		id := uuid.New()
		row := messageRow()
		row[ColumnID] = [16]byte(id)
		row[ColumnStreamName] = []byte("account-1")
		row[ColumnPosition] = int32(4)
		row[ColumnData] = []byte(`{}`)

		msg, err := codec.Decode(row)

		require.NoError(t, err)
		assert.Equal(t, id.String(), msg.ID)
		assert.Equal(t, "account-1", msg.StreamName)
		assert.Equal(t, int64(4), msg.Position)
	})

	t.Run("null metadata", func(t *testing.T) {
		row := messageRow()
		row[ColumnMetadata] = nil

		msg, err := codec.Decode(row)

		require.NoError(t, err)
		assert.True(t, msg.Metadata.IsEmpty())
	})

	t.Run("positions never decode from floats", func(t *testing.T) {
		row := messageRow()
		row[ColumnGlobalPosition] = float64(42)

		_, err := codec.Decode(row)

		var decErr *DecodingError
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, ColumnGlobalPosition, decErr.Column)
	})

	t.Run("malformed rows", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(adapters.Row)
			column string
		}{
			{"missing id", func(r adapters.Row) { delete(r, ColumnID) }, ColumnID},
			{"numeric type", func(r adapters.Row) { r[ColumnType] = 7 }, ColumnType},
			{"string time", func(r adapters.Row) { r[ColumnTime] = "yesterday" }, ColumnTime},
			{"invalid data json", func(r adapters.Row) { r[ColumnData] = `{` }, ColumnData},
			{"invalid metadata json", func(r adapters.Row) { r[ColumnMetadata] = `[1]` }, ColumnMetadata},
			{"numeric data", func(r adapters.Row) { r[ColumnData] = 1 }, ColumnData},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				row := messageRow()
				tt.mutate(row)

				_, err := codec.Decode(row)

				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrDecoding))

				var decErr *DecodingError
				require.True(t, errors.As(err, &decErr))
				assert.Equal(t, tt.column, decErr.Column)
			})
		}
	})
}
