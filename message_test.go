package eventide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Follow(t *testing.T) {
	preceding := Message{
		StreamName:     "transfer-1",
		Position:       3,
		GlobalPosition: 99,
		Metadata: Metadata{
			CorrelationStreamName: "order-7",
			ReplyStreamName:       "reply-1",
			SchemaVersion:         "2",
		},
	}

	msg := NewMessage("account-1", "Withdrawn", nil).Follow(preceding)

	assert.Equal(t, "transfer-1", msg.Metadata.CausationMessageStreamName)
	require.NotNil(t, msg.Metadata.CausationMessagePosition)
	assert.Equal(t, int64(3), *msg.Metadata.CausationMessagePosition)
	require.NotNil(t, msg.Metadata.CausationMessageGlobalPosition)
	assert.Equal(t, int64(99), *msg.Metadata.CausationMessageGlobalPosition)
	assert.Equal(t, "order-7", msg.Metadata.CorrelationStreamName)
	assert.Equal(t, "reply-1", msg.Metadata.ReplyStreamName)
	assert.Empty(t, msg.Metadata.SchemaVersion)
}

func TestMessage_Stream(t *testing.T) {
	sn, err := NewMessage("account-1", "Opened", nil).Stream()

	require.NoError(t, err)
	assert.Equal(t, "account", sn.Category)

	_, err = NewMessage("", "Opened", nil).Stream()
	assert.ErrorIs(t, err, ErrMalformedStreamName)
}

func TestMetadata(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.True(t, Metadata{}.IsEmpty())
	})

	t.Run("builders return copies", func(t *testing.T) {
		base := Metadata{}.WithCustom("tenant", "a")
		changed := base.WithCustom("tenant", "b").
			WithReplyStreamName("reply-1").
			WithSchemaVersion("1")

		assert.Equal(t, "a", base.Custom["tenant"])
		assert.Equal(t, "b", changed.Custom["tenant"])
		assert.Empty(t, base.ReplyStreamName)
		assert.Equal(t, "reply-1", changed.ReplyStreamName)
		assert.Equal(t, "1", changed.SchemaVersion)
		assert.False(t, base.IsEmpty())
	})
}
