// Package memory provides an in-memory implementation of the message store gateway.
// It emulates the Message DB server functions and is primarily intended for
// testing and development purposes.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// StoreVersion is the Message DB schema version the gateway emulates.
const StoreVersion = "1.3.0"

// SQLSTATE codes raised by the emulated functions.
const (
	codeRaiseException    = "P0001"
	codeUniqueViolation   = "23505"
	codeInvalidTextFormat = "22P02"
	codeInvalidParameter  = "22023"
)

// defaultCategoryPosition is the first global position read by get_category_messages.
const defaultCategoryPosition = 1

// Ensure Gateway implements all required interfaces.
var (
	_ adapters.TransactionalGateway = (*Gateway)(nil)
	_ adapters.HealthChecker        = (*Gateway)(nil)
)

// Gateway is an in-memory implementation of adapters.Gateway.
// It is thread-safe and suitable for unit testing.
type Gateway struct {
	mu             sync.Mutex
	messages       []record
	streams        map[string][]int
	ids            map[string]struct{}
	globalPosition int64
	closed         bool
	now            func() time.Time
}

type record struct {
	id             string
	streamName     string
	messageType    string
	position       int64
	globalPosition int64
	data           string
	metadata       *string
	time           time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock sets the function used to timestamp written messages.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a new in-memory gateway.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		streams: make(map[string][]int),
		ids:     make(map[string]struct{}),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Call implements adapters.Caller.
func (g *Gateway) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, adapters.NewConnectionError(procedure, adapters.ErrGatewayClosed)
	}

	return g.call(procedure, args)
}

// InTx implements adapters.TransactionalGateway. Calls made through tx are
// serialized with every other call; if fn fails, messages written inside
// the transaction are discarded. Global positions are not reused.
func (g *Gateway) InTx(ctx context.Context, fn func(ctx context.Context, tx adapters.Caller) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return adapters.NewConnectionError("", adapters.ErrGatewayClosed)
	}

	mark := len(g.messages)
	if err := fn(ctx, &txCaller{g: g}); err != nil {
		g.rollback(mark)
		return err
	}
	return nil
}

type txCaller struct {
	g *Gateway
}

func (t *txCaller) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.g.call(procedure, args)
}

func (g *Gateway) rollback(mark int) {
	for _, rec := range g.messages[mark:] {
		delete(g.ids, rec.id)
		indexes := g.streams[rec.streamName]
		g.streams[rec.streamName] = indexes[:len(indexes)-1]
		if len(g.streams[rec.streamName]) == 0 {
			delete(g.streams, rec.streamName)
		}
	}
	g.messages = g.messages[:mark]
}

// Ping implements adapters.HealthChecker.
func (g *Gateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return adapters.NewConnectionError("", adapters.ErrGatewayClosed)
	}
	return ctx.Err()
}

// Close marks the gateway as closed. It is idempotent.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Len returns the number of stored messages.
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

// Reset removes all messages and reopens the gateway.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = nil
	g.streams = make(map[string][]int)
	g.ids = make(map[string]struct{})
	g.globalPosition = 0
	g.closed = false
}

func (g *Gateway) call(procedure string, args []any) ([]adapters.Row, error) {
	a := arguments{procedure: procedure, values: args}

	switch procedure {
	case adapters.ProcWriteMessage:
		return g.writeMessage(a)
	case adapters.ProcGetStreamMessages:
		return g.getStreamMessages(a)
	case adapters.ProcGetCategoryMessages:
		return g.getCategoryMessages(a)
	case adapters.ProcGetLastStreamMessage:
		return g.getLastStreamMessage(a)
	case adapters.ProcStreamVersion:
		return g.streamVersion(a)
	case adapters.ProcCategoryVersion:
		return g.categoryVersion(a)
	case adapters.ProcMessageStoreVersion:
		return []adapters.Row{{procedure: StoreVersion}}, nil
	case adapters.ProcHash64:
		value, err := a.requiredString(0, "value")
		if err != nil {
			return nil, err
		}
		return []adapters.Row{{procedure: adapters.Hash64(value)}}, nil
	case adapters.ProcAcquireLock:
		streamName, err := a.requiredString(0, "stream_name")
		if err != nil {
			return nil, err
		}
		return []adapters.Row{{procedure: adapters.Hash64(adapters.Category(streamName))}}, nil
	case adapters.ProcLastMessage:
		if len(g.messages) == 0 {
			return nil, nil
		}
		return []adapters.Row{g.messages[len(g.messages)-1].row()}, nil
	case adapters.ProcTypeSummary:
		return g.typeSummary(false), nil
	case adapters.ProcCategoryTypeSummary:
		return g.typeSummary(true), nil
	default:
		return nil, fmt.Errorf("%w: %s", adapters.ErrUnknownProcedure, procedure)
	}
}

func (g *Gateway) writeMessage(a arguments) ([]adapters.Row, error) {
	id, err := a.requiredString(0, "id")
	if err != nil {
		return nil, err
	}
	streamName, err := a.requiredString(1, "stream_name")
	if err != nil {
		return nil, err
	}
	messageType, err := a.requiredString(2, "type")
	if err != nil {
		return nil, err
	}
	data, err := a.requiredString(3, "data")
	if err != nil {
		return nil, err
	}
	metadata, err := a.optionalString(4)
	if err != nil {
		return nil, err
	}
	expectedVersion, err := a.optionalInt64(5)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, a.storeError(codeInvalidTextFormat, fmt.Sprintf("invalid input syntax for type uuid: %q", id))
	}
	id = parsed.String()

	if err := validJSON(data); err != nil {
		return nil, a.storeError(codeInvalidTextFormat, "invalid input syntax for type jsonb: data")
	}
	if metadata != nil {
		if err := validJSON(*metadata); err != nil {
			return nil, a.storeError(codeInvalidTextFormat, "invalid input syntax for type jsonb: metadata")
		}
	}

	version := int64(len(g.streams[streamName])) - 1
	if expectedVersion != nil && *expectedVersion != version {
		return nil, a.storeError(codeRaiseException,
			adapters.WrongExpectedVersionMessage(*expectedVersion, streamName, version))
	}

	if _, exists := g.ids[id]; exists {
		return nil, a.storeError(codeUniqueViolation,
			`duplicate key value violates unique constraint "messages_id"`)
	}

	g.globalPosition++
	position := version + 1

	g.messages = append(g.messages, record{
		id:             id,
		streamName:     streamName,
		messageType:    messageType,
		position:       position,
		globalPosition: g.globalPosition,
		data:           data,
		metadata:       metadata,
		time:           g.now().UTC(),
	})
	g.streams[streamName] = append(g.streams[streamName], len(g.messages)-1)
	g.ids[id] = struct{}{}

	return []adapters.Row{{adapters.ProcWriteMessage: position}}, nil
}

func (g *Gateway) getStreamMessages(a arguments) ([]adapters.Row, error) {
	streamName, err := a.requiredString(0, "stream_name")
	if err != nil {
		return nil, err
	}
	position, err := a.int64OrDefault(1, 0)
	if err != nil {
		return nil, err
	}
	batchSize, err := a.int64OrDefault(2, 1000)
	if err != nil {
		return nil, err
	}
	if err := a.rejectCondition(3); err != nil {
		return nil, err
	}

	if adapters.IsCategory(streamName) {
		return nil, a.storeError(codeRaiseException, fmt.Sprintf("Must be a stream name: %s", streamName))
	}

	rows := make([]adapters.Row, 0)
	for _, i := range g.streams[streamName] {
		rec := g.messages[i]
		if rec.position < position {
			continue
		}
		if batchSize != -1 && int64(len(rows)) >= batchSize {
			break
		}
		rows = append(rows, rec.row())
	}
	return rows, nil
}

func (g *Gateway) getCategoryMessages(a arguments) ([]adapters.Row, error) {
	category, err := a.requiredString(0, "category")
	if err != nil {
		return nil, err
	}
	position, err := a.int64OrDefault(1, defaultCategoryPosition)
	if err != nil {
		return nil, err
	}
	batchSize, err := a.int64OrDefault(2, 1000)
	if err != nil {
		return nil, err
	}
	correlation, err := a.optionalString(3)
	if err != nil {
		return nil, err
	}
	member, err := a.optionalInt64(4)
	if err != nil {
		return nil, err
	}
	size, err := a.optionalInt64(5)
	if err != nil {
		return nil, err
	}
	if err := a.rejectCondition(6); err != nil {
		return nil, err
	}

	if !adapters.IsCategory(category) {
		return nil, a.storeError(codeRaiseException, fmt.Sprintf("Must be a category: %s", category))
	}
	if correlation != nil && !adapters.IsCategory(*correlation) {
		return nil, a.storeError(codeRaiseException, fmt.Sprintf("Correlation must be a category (Correlation Category: %s)", *correlation))
	}
	if err := a.validateGroup(member, size); err != nil {
		return nil, err
	}

	rows := make([]adapters.Row, 0)
	for _, rec := range g.messages {
		if rec.globalPosition < position {
			continue
		}
		if adapters.Category(rec.streamName) != category {
			continue
		}
		if member != nil && adapters.ConsumerGroupMember(rec.streamName, *size) != *member {
			continue
		}
		if correlation != nil && adapters.Category(rec.correlationStreamName()) != *correlation {
			continue
		}
		if batchSize != -1 && int64(len(rows)) >= batchSize {
			break
		}
		rows = append(rows, rec.row())
	}
	return rows, nil
}

func (g *Gateway) getLastStreamMessage(a arguments) ([]adapters.Row, error) {
	streamName, err := a.requiredString(0, "stream_name")
	if err != nil {
		return nil, err
	}

	indexes := g.streams[streamName]
	if len(indexes) == 0 {
		return nil, nil
	}
	return []adapters.Row{g.messages[indexes[len(indexes)-1]].row()}, nil
}

func (g *Gateway) streamVersion(a arguments) ([]adapters.Row, error) {
	streamName, err := a.requiredString(0, "stream_name")
	if err != nil {
		return nil, err
	}

	var version any
	if n := len(g.streams[streamName]); n > 0 {
		version = int64(n - 1)
	}
	return []adapters.Row{{adapters.ProcStreamVersion: version}}, nil
}

func (g *Gateway) categoryVersion(a arguments) ([]adapters.Row, error) {
	category, err := a.requiredString(0, "category")
	if err != nil {
		return nil, err
	}

	var version any
	for i := len(g.messages) - 1; i >= 0; i-- {
		if adapters.Category(g.messages[i].streamName) == category {
			version = g.messages[i].globalPosition
			break
		}
	}
	return []adapters.Row{{adapters.ProcCategoryVersion: version}}, nil
}

func (g *Gateway) typeSummary(byCategory bool) []adapters.Row {
	type key struct{ category, messageType string }

	counts := make(map[key]int64)
	for _, rec := range g.messages {
		k := key{messageType: rec.messageType}
		if byCategory {
			k.category = adapters.Category(rec.streamName)
		}
		counts[k]++
	}

	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].messageType < keys[j].messageType
	})

	total := float64(len(g.messages))
	rows := make([]adapters.Row, 0, len(keys))
	for _, k := range keys {
		row := adapters.Row{
			"type":          k.messageType,
			"message_count": counts[k],
			"percent":       math.Round(float64(counts[k])/total*10000) / 100,
		}
		if byCategory {
			row["category"] = k.category
		}
		rows = append(rows, row)
	}
	return rows
}

func (r record) row() adapters.Row {
	var metadata any
	if r.metadata != nil {
		metadata = *r.metadata
	}
	return adapters.Row{
		"id":              r.id,
		"stream_name":     r.streamName,
		"type":            r.messageType,
		"position":        r.position,
		"global_position": r.globalPosition,
		"data":            r.data,
		"metadata":        metadata,
		"time":            r.time,
	}
}

func (r record) correlationStreamName() string {
	if r.metadata == nil {
		return ""
	}
	var m struct {
		CorrelationStreamName string `json:"correlationStreamName"`
	}
	if err := json.Unmarshal([]byte(*r.metadata), &m); err != nil {
		return ""
	}
	return m.CorrelationStreamName
}

func validJSON(s string) error {
	var v any
	return json.Unmarshal([]byte(s), &v)
}
