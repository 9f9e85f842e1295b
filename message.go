package eventide

import (
	"time"
)

// Message is the atomic unit of the log.
// Positions and time are assigned by the store at write time.
type Message struct {
	// ID is the unique message identifier (UUID).
	ID string

	// StreamName is the stream this message belongs to.
	StreamName string

	// Type is the message type discriminator (e.g., "Deposited").
	Type string

	// Data is the message payload.
	Data map[string]any

	// Metadata carries lineage and application-specific context.
	Metadata Metadata

	// Position is the 0-based position within the stream.
	Position int64

	// GlobalPosition is the position in the store-wide append order.
	GlobalPosition int64

	// Time is when the store recorded the message.
	Time time.Time
}

// NewMessage creates a message to be written to streamName.
func NewMessage(streamName, messageType string, data map[string]any) Message {
	return Message{
		StreamName: streamName,
		Type:       messageType,
		Data:       data,
	}
}

// Stream parses the message's stream name.
func (m Message) Stream() (StreamName, error) {
	return ParseStreamName(m.StreamName)
}

// Follow copies lineage from a preceding message: causation points at the
// preceding message and correlation and reply streams are carried forward.
func (m Message) Follow(preceding Message) Message {
	m.Metadata = m.Metadata.Follow(preceding)
	return m
}

// Metadata contains lineage information used to trace messages across
// streams, plus arbitrary application-specific values.
type Metadata struct {
	// CausationMessageStreamName is the stream of the message that caused this one.
	CausationMessageStreamName string `json:"causationMessageStreamName,omitempty"`

	// CausationMessagePosition is the stream position of the causing message.
	CausationMessagePosition *int64 `json:"causationMessagePosition,omitempty"`

	// CausationMessageGlobalPosition is the global position of the causing message.
	CausationMessageGlobalPosition *int64 `json:"causationMessageGlobalPosition,omitempty"`

	// CorrelationStreamName links a message to a stream in another category.
	// Category reads can filter on its category.
	CorrelationStreamName string `json:"correlationStreamName,omitempty"`

	// ReplyStreamName is the stream that replies should be written to.
	ReplyStreamName string `json:"replyStreamName,omitempty"`

	// SchemaVersion identifies the payload schema version.
	SchemaVersion string `json:"schemaVersion,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]any `json:"custom,omitempty"`
}

// WithCorrelationStreamName returns a copy of Metadata with the correlation stream set.
func (m Metadata) WithCorrelationStreamName(streamName string) Metadata {
	m.CorrelationStreamName = streamName
	return m
}

// WithReplyStreamName returns a copy of Metadata with the reply stream set.
func (m Metadata) WithReplyStreamName(streamName string) Metadata {
	m.ReplyStreamName = streamName
	return m
}

// WithSchemaVersion returns a copy of Metadata with the schema version set.
func (m Metadata) WithSchemaVersion(version string) Metadata {
	m.SchemaVersion = version
	return m
}

// WithCustom returns a copy of Metadata with a custom key-value pair added.
func (m Metadata) WithCustom(key string, value any) Metadata {
	custom := make(map[string]any, len(m.Custom)+1)
	for k, v := range m.Custom {
		custom[k] = v
	}
	custom[key] = value
	m.Custom = custom
	return m
}

// Follow returns a copy of Metadata with causation set to preceding and its
// correlation and reply streams carried forward.
func (m Metadata) Follow(preceding Message) Metadata {
	position := preceding.Position
	globalPosition := preceding.GlobalPosition

	m.CausationMessageStreamName = preceding.StreamName
	m.CausationMessagePosition = &position
	m.CausationMessageGlobalPosition = &globalPosition
	m.CorrelationStreamName = preceding.Metadata.CorrelationStreamName
	m.ReplyStreamName = preceding.Metadata.ReplyStreamName
	return m
}

// IsEmpty reports whether the Metadata has no values set.
func (m Metadata) IsEmpty() bool {
	return m.CausationMessageStreamName == "" &&
		m.CausationMessagePosition == nil &&
		m.CausationMessageGlobalPosition == nil &&
		m.CorrelationStreamName == "" &&
		m.ReplyStreamName == "" &&
		m.SchemaVersion == "" &&
		len(m.Custom) == 0
}
