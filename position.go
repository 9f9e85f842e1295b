package eventide

import (
	"context"
	"fmt"
)

// PositionMessageType is the type of messages written by StreamPositionStore.
const PositionMessageType = "Recorded"

// PositionStore persists a consumer's cursor between runs.
type PositionStore interface {
	// Get returns the recorded position, or nil if none has been recorded.
	Get(ctx context.Context) (*int64, error)

	// Put records a position.
	Put(ctx context.Context, position int64) error
}

// StreamPositionStore records positions as messages in a dedicated stream
// of the consumer's category, e.g. "account:position-worker1".
type StreamPositionStore struct {
	store      *MessageStore
	streamName string
}

// NewStreamPositionStore creates a position store for a consumer of category.
// consumerID may be empty when only one consumer reads the category.
func NewStreamPositionStore(store *MessageStore, category, consumerID string) (*StreamPositionStore, error) {
	name, err := ParseStreamName(category)
	if err != nil {
		return nil, err
	}
	if !name.IsCategory() {
		return nil, NewMalformedStreamNameError(category, "position store requires a category")
	}

	stream := name.WithTypes("position")
	if consumerID != "" {
		stream.IDs = []string{consumerID}
	}

	return &StreamPositionStore{store: store, streamName: stream.String()}, nil
}

// StreamName returns the stream the positions are written to.
func (p *StreamPositionStore) StreamName() string {
	return p.streamName
}

// Get implements PositionStore.
func (p *StreamPositionStore) Get(ctx context.Context) (*int64, error) {
	msg, err := p.store.GetLastStreamMessage(ctx, p.streamName)
	if err != nil || msg == nil {
		return nil, err
	}

	position, ok := msg.Data["position"]
	if !ok {
		return nil, NewDecodingError("position", fmt.Errorf("missing from %s message", msg.Type))
	}

	// Data is decoded from JSON, so numbers arrive as float64.
	switch v := position.(type) {
	case float64:
		n := int64(v)
		return &n, nil
	case int64:
		return &v, nil
	default:
		return nil, NewDecodingError("position", fmt.Errorf("unexpected type %T", position))
	}
}

// Put implements PositionStore.
func (p *StreamPositionStore) Put(ctx context.Context, position int64) error {
	_, err := p.store.WriteMessage(ctx, p.streamName, PositionMessageType,
		map[string]any{"position": position})
	return err
}
