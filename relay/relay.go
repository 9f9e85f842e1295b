// Package relay forwards messages read from a category to external systems.
//
// A Publisher is plugged into a Consumer through Handler, so delivery follows
// the consumer's ordering and retry rules: a failed publish stops the batch
// and the message is offered again on the next poll.
package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/AshkanYarmoradi/go-eventide"
)

// Header names attached to relayed messages.
const (
	HeaderMessageID             = "message-id"
	HeaderMessageType           = "message-type"
	HeaderStreamName            = "stream-name"
	HeaderPosition              = "position"
	HeaderGlobalPosition        = "global-position"
	HeaderCorrelationStreamName = "correlation-stream-name"
)

// Publisher delivers a single message to an external system.
type Publisher interface {
	Publish(ctx context.Context, msg eventide.Message) error
	Close() error
}

// Handler adapts p to a consumer handler.
func Handler(p Publisher) eventide.MessageHandler {
	return func(ctx context.Context, msg eventide.Message) error {
		return p.Publish(ctx, msg)
	}
}

// Envelope is the JSON body of a relayed message.
type Envelope struct {
	ID             string             `json:"id"`
	StreamName     string             `json:"streamName"`
	Type           string             `json:"type"`
	Position       int64              `json:"position"`
	GlobalPosition int64              `json:"globalPosition"`
	Time           time.Time          `json:"time"`
	Data           map[string]any     `json:"data,omitempty"`
	Metadata       *eventide.Metadata `json:"metadata,omitempty"`
}

// NewEnvelope builds the envelope of msg.
func NewEnvelope(msg eventide.Message) Envelope {
	env := Envelope{
		ID:             msg.ID,
		StreamName:     msg.StreamName,
		Type:           msg.Type,
		Position:       msg.Position,
		GlobalPosition: msg.GlobalPosition,
		Time:           msg.Time,
		Data:           msg.Data,
	}
	if !msg.Metadata.IsEmpty() {
		metadata := msg.Metadata
		env.Metadata = &metadata
	}
	return env
}

// Encode returns the JSON envelope of msg.
func Encode(msg eventide.Message) ([]byte, error) {
	b, err := json.Marshal(NewEnvelope(msg))
	if err != nil {
		return nil, eventide.NewEncodingError(msg.Type, "data", err)
	}
	return b, nil
}

// Headers returns the routing headers of msg.
func Headers(msg eventide.Message) map[string]string {
	h := map[string]string{
		HeaderMessageID:      msg.ID,
		HeaderMessageType:    msg.Type,
		HeaderStreamName:     msg.StreamName,
		HeaderPosition:       strconv.FormatInt(msg.Position, 10),
		HeaderGlobalPosition: strconv.FormatInt(msg.GlobalPosition, 10),
	}
	if msg.Metadata.CorrelationStreamName != "" {
		h[HeaderCorrelationStreamName] = msg.Metadata.CorrelationStreamName
	}
	return h
}
