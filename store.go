package eventide

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// DefaultBatchSize is the number of messages fetched per store round trip.
const DefaultBatchSize int64 = 1000

// queueChunkSize is the number of queued messages written per transaction.
const queueChunkSize = 50

// MessageStore is the main entry point for reading and writing messages.
// It is safe for concurrent use; every operation performs its own store
// round trips and holds no connection between calls.
type MessageStore struct {
	gateway   adapters.Gateway
	codec     Codec
	logger    Logger
	batchSize int64
	newID     func() string

	queueMu sync.Mutex
	queue   []Message
}

// Option configures a MessageStore.
type Option func(*MessageStore)

// WithCodec sets a custom codec.
func WithCodec(c Codec) Option {
	return func(s *MessageStore) {
		s.codec = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(s *MessageStore) {
		s.logger = l
	}
}

// WithDefaultBatchSize sets the batch size used when a read does not specify one.
func WithDefaultBatchSize(n int64) Option {
	return func(s *MessageStore) {
		s.batchSize = adapters.DefaultBatchSize(n, DefaultBatchSize)
	}
}

// WithIDGenerator sets the function used to assign ids to messages without one.
func WithIDGenerator(fn func() string) Option {
	return func(s *MessageStore) {
		s.newID = fn
	}
}

// New creates a new MessageStore on top of the given gateway.
func New(gateway adapters.Gateway, opts ...Option) *MessageStore {
	s := &MessageStore{
		gateway:   gateway,
		codec:     NewJSONCodec(),
		logger:    &noopLogger{},
		batchSize: DefaultBatchSize,
		newID:     func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Gateway returns the underlying gateway.
func (s *MessageStore) Gateway() adapters.Gateway {
	return s.gateway
}

// Codec returns the message store's codec.
func (s *MessageStore) Codec() Codec {
	return s.codec
}

// Close closes the underlying gateway. Further calls fail with a ConnectionError.
func (s *MessageStore) Close() error {
	if s.gateway == nil {
		return nil
	}
	return s.gateway.Close()
}

func (s *MessageStore) call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	if s.gateway == nil {
		return nil, ErrNilGateway
	}
	return s.gateway.Call(ctx, procedure, args...)
}

// =============================================================================
// Writes
// =============================================================================

// WriteOption configures a write operation.
type WriteOption func(*writeConfig)

type writeConfig struct {
	expectedVersion *int64
	metadata        *Metadata
	id              string
}

// ExpectVersion sets the expected stream version for optimistic concurrency.
// Use NoStream when the stream must not have any messages yet.
func ExpectVersion(v int64) WriteOption {
	return func(c *writeConfig) {
		c.expectedVersion = &v
	}
}

// WithMetadata sets metadata on the written messages. Batch writes only
// apply it to messages that carry no metadata of their own.
func WithMetadata(m Metadata) WriteOption {
	return func(c *writeConfig) {
		c.metadata = &m
	}
}

// WithID sets the id of a single written message.
func WithID(id string) WriteOption {
	return func(c *writeConfig) {
		c.id = id
	}
}

func newWriteConfig(opts []WriteOption) *writeConfig {
	config := &writeConfig{}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// WriteMessage appends one message to streamName and returns its stream position.
func (s *MessageStore) WriteMessage(ctx context.Context, streamName, messageType string, data map[string]any, opts ...WriteOption) (int64, error) {
	return s.Write(ctx, NewMessage(streamName, messageType, data), opts...)
}

// Write appends a prepared message and returns its stream position.
// A message without an id is assigned a new UUID.
func (s *MessageStore) Write(ctx context.Context, msg Message, opts ...WriteOption) (int64, error) {
	config := newWriteConfig(opts)
	if config.id != "" {
		msg.ID = config.id
	}
	if config.metadata != nil {
		msg.Metadata = *config.metadata
	}

	args, err := s.prepare(msg)
	if err != nil {
		return 0, err
	}

	position, err := s.writeOne(ctx, s.gateway, args, config.expectedVersion)
	outcome, err := ResolveWrite(err)

	s.logger.Debug("write message",
		"stream", args.StreamName, "type", args.Type, "outcome", outcome.String())

	if err != nil {
		return 0, err
	}
	return position, nil
}

// WriteMessageBatch appends messages to streamName as one logical write and
// returns the position of the last message. The expected version is checked
// once, against the first message, and the whole batch runs in a single
// transaction: either every message is applied or none is.
func (s *MessageStore) WriteMessageBatch(ctx context.Context, streamName string, msgs []Message, opts ...WriteOption) (int64, error) {
	if len(msgs) == 0 {
		return 0, ErrNoMessages
	}

	config := newWriteConfig(opts)

	batch := make([]WriteArgs, len(msgs))
	for i, msg := range msgs {
		msg.StreamName = streamName
		if config.metadata != nil && msg.Metadata.IsEmpty() {
			msg.Metadata = *config.metadata
		}
		args, err := s.prepare(msg)
		if err != nil {
			return 0, fmt.Errorf("eventide: failed to prepare message %d: %w", i, err)
		}
		batch[i] = args
	}

	if len(batch) == 1 {
		position, err := s.writeOne(ctx, s.gateway, batch[0], config.expectedVersion)
		_, err = ResolveWrite(err)
		return position, err
	}

	txGateway, ok := s.gateway.(adapters.TransactionalGateway)
	if !ok {
		return 0, ErrTransactionsNotSupported
	}

	var last int64
	err := txGateway.InTx(ctx, func(ctx context.Context, tx adapters.Caller) error {
		for i, args := range batch {
			var expected *int64
			if i == 0 {
				expected = config.expectedVersion
			}
			position, err := s.writeOne(ctx, tx, args, expected)
			if err != nil {
				return err
			}
			last = position
		}
		return nil
	})

	outcome, err := ResolveWrite(err)

	s.logger.Debug("write message batch",
		"stream", streamName, "count", len(batch), "outcome", outcome.String())

	if err != nil {
		return 0, err
	}
	return last, nil
}

func (s *MessageStore) prepare(msg Message) (WriteArgs, error) {
	if _, err := ParseStreamName(msg.StreamName); err != nil {
		return WriteArgs{}, err
	}
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	return s.codec.Encode(msg)
}

func (s *MessageStore) writeOne(ctx context.Context, caller adapters.Caller, args WriteArgs, expectedVersion *int64) (int64, error) {
	if caller == nil {
		return 0, ErrNilGateway
	}
	rows, err := caller.Call(ctx, adapters.ProcWriteMessage, args.Args(expectedVersion)...)
	if err != nil {
		return 0, err
	}
	position, err := scalarInt64(rows, adapters.ProcWriteMessage)
	if err != nil {
		return 0, err
	}
	if position == nil {
		return 0, NewDecodingError(adapters.ProcWriteMessage, errors.New("write returned no position"))
	}
	return *position, nil
}

// Queue buffers a message for a later FlushQueue.
func (s *MessageStore) Queue(msg Message) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = append(s.queue, msg)
}

// QueueLen returns the number of buffered messages.
func (s *MessageStore) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// FlushQueue writes buffered messages, possibly to several streams, without
// expected version checks. Messages are written in transactional chunks; a
// failed chunk and everything after it stay queued. It returns the global
// position of the store's last message.
func (s *MessageStore) FlushQueue(ctx context.Context) (int64, error) {
	s.queueMu.Lock()
	pending := s.queue
	s.queue = nil
	s.queueMu.Unlock()

	requeue := func(rest []Message) {
		s.queueMu.Lock()
		s.queue = append(rest, s.queue...)
		s.queueMu.Unlock()
	}

	for start := 0; start < len(pending); start += queueChunkSize {
		end := start + queueChunkSize
		if end > len(pending) {
			end = len(pending)
		}

		if err := s.writeChunk(ctx, pending[start:end]); err != nil {
			requeue(pending[start:])
			return 0, err
		}
	}

	last, err := s.GetLastMessage(ctx)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return last.GlobalPosition, nil
}

func (s *MessageStore) writeChunk(ctx context.Context, chunk []Message) error {
	batch := make([]WriteArgs, len(chunk))
	for i, msg := range chunk {
		args, err := s.prepare(msg)
		if err != nil {
			return err
		}
		batch[i] = args
	}

	write := func(ctx context.Context, caller adapters.Caller) error {
		for _, args := range batch {
			if _, err := s.writeOne(ctx, caller, args, nil); err != nil {
				return err
			}
		}
		return nil
	}

	if txGateway, ok := s.gateway.(adapters.TransactionalGateway); ok {
		return txGateway.InTx(ctx, write)
	}
	return ErrTransactionsNotSupported
}

// =============================================================================
// Reads
// =============================================================================

// ReadOption configures a read operation.
type ReadOption func(*readConfig)

type readConfig struct {
	position    *int64
	batchSize   int64
	condition   *string
	correlation *string
	group       *ConsumerGroup
}

// FromPosition sets the first position to read: a stream position for
// stream reads, a global position for category reads.
func FromPosition(p int64) ReadOption {
	return func(c *readConfig) {
		c.position = &p
	}
}

// BatchSize sets the number of messages fetched per round trip.
// -1 fetches everything in one round trip.
func BatchSize(n int64) ReadOption {
	return func(c *readConfig) {
		c.batchSize = n
	}
}

// WithCondition passes an SQL condition through to the store unmodified.
// The store must have conditions enabled.
func WithCondition(condition string) ReadOption {
	return func(c *readConfig) {
		c.condition = &condition
	}
}

// WithCorrelation restricts category reads to messages whose correlation
// stream belongs to the given category.
func WithCorrelation(category string) ReadOption {
	return func(c *readConfig) {
		c.correlation = &category
	}
}

// ForConsumerGroup restricts category reads to the streams owned by one
// member of a consumer group.
func ForConsumerGroup(group ConsumerGroup) ReadOption {
	return func(c *readConfig) {
		c.group = &group
	}
}

func (s *MessageStore) newReadConfig(opts []ReadOption) *readConfig {
	config := &readConfig{}
	for _, opt := range opts {
		opt(config)
	}
	config.batchSize = adapters.DefaultBatchSize(config.batchSize, s.batchSize)
	return config
}

func (c *readConfig) startPosition(defaultValue int64) int64 {
	if c.position == nil {
		return defaultValue
	}
	return max(0, *c.position)
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// GetStreamBatch reads a single batch from a stream in one round trip.
func (s *MessageStore) GetStreamBatch(ctx context.Context, streamName string, opts ...ReadOption) ([]Message, error) {
	config := s.newReadConfig(opts)
	return s.getStreamBatch(ctx, streamName, config.startPosition(0), config)
}

func (s *MessageStore) getStreamBatch(ctx context.Context, streamName string, position int64, config *readConfig) ([]Message, error) {
	if _, err := ParseStreamName(streamName); err != nil {
		return nil, err
	}

	rows, err := s.call(ctx, adapters.ProcGetStreamMessages,
		streamName, position, config.batchSize, optionalString(config.condition))
	if err != nil {
		return nil, err
	}
	return s.decodeRows(rows)
}

// GetStreamMessages reads a stream forward in ascending position order.
// The sequence is lazy: each batch is fetched when the previous one has
// been consumed, and it ends when the stream is exhausted or on the first
// error, which is yielded with a zero Message.
func (s *MessageStore) GetStreamMessages(ctx context.Context, streamName string, opts ...ReadOption) iter.Seq2[Message, error] {
	config := s.newReadConfig(opts)

	return s.paginate(config, config.startPosition(0),
		func(position int64) ([]Message, error) {
			return s.getStreamBatch(ctx, streamName, position, config)
		},
		func(m Message) int64 { return m.Position + 1 },
	)
}

// GetCategoryBatch reads a single batch from a category in one round trip.
func (s *MessageStore) GetCategoryBatch(ctx context.Context, category string, opts ...ReadOption) ([]Message, error) {
	config := s.newReadConfig(opts)
	return s.getCategoryBatch(ctx, category, config.startPosition(1), config)
}

func (s *MessageStore) getCategoryBatch(ctx context.Context, category string, position int64, config *readConfig) ([]Message, error) {
	if _, err := ParseStreamName(category); err != nil {
		return nil, err
	}

	var member, size any
	if config.group != nil {
		if err := config.group.Validate(); err != nil {
			return nil, err
		}
		member, size = config.group.Member, config.group.Size
	}

	rows, err := s.call(ctx, adapters.ProcGetCategoryMessages,
		category, position, config.batchSize,
		optionalString(config.correlation), member, size,
		optionalString(config.condition))
	if err != nil {
		return nil, err
	}
	return s.decodeRows(rows)
}

// GetCategoryMessages reads a category forward in ascending global position
// order. With a consumer group only the streams owned by the member are
// returned. The sequence is lazy in the same way as GetStreamMessages.
func (s *MessageStore) GetCategoryMessages(ctx context.Context, category string, opts ...ReadOption) iter.Seq2[Message, error] {
	config := s.newReadConfig(opts)

	return s.paginate(config, config.startPosition(1),
		func(position int64) ([]Message, error) {
			return s.getCategoryBatch(ctx, category, position, config)
		},
		func(m Message) int64 { return m.GlobalPosition + 1 },
	)
}

func (s *MessageStore) paginate(config *readConfig, start int64, fetch func(int64) ([]Message, error), next func(Message) int64) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		position := start
		for {
			batch, err := fetch(position)
			if err != nil {
				yield(Message{}, err)
				return
			}

			for _, msg := range batch {
				if !yield(msg, nil) {
					return
				}
			}

			if config.batchSize == -1 || int64(len(batch)) < config.batchSize {
				return
			}
			position = next(batch[len(batch)-1])
		}
	}
}

// GetLastStreamMessage returns the message with the highest position in the
// stream, or nil if the stream has no messages.
func (s *MessageStore) GetLastStreamMessage(ctx context.Context, streamName string) (*Message, error) {
	if _, err := ParseStreamName(streamName); err != nil {
		return nil, err
	}

	rows, err := s.call(ctx, adapters.ProcGetLastStreamMessage, streamName)
	if err != nil {
		return nil, err
	}
	return s.decodeFirst(rows)
}

// GetStreamVersion returns the position of the last message in the stream,
// or nil if the stream has no messages.
func (s *MessageStore) GetStreamVersion(ctx context.Context, streamName string) (*int64, error) {
	if _, err := ParseStreamName(streamName); err != nil {
		return nil, err
	}

	rows, err := s.call(ctx, adapters.ProcStreamVersion, streamName)
	if err != nil {
		return nil, err
	}
	return scalarInt64(rows, adapters.ProcStreamVersion)
}

// GetCategoryVersion returns the highest global position in the category,
// or nil if the category has no messages.
func (s *MessageStore) GetCategoryVersion(ctx context.Context, category string) (*int64, error) {
	if _, err := ParseStreamName(category); err != nil {
		return nil, err
	}

	rows, err := s.call(ctx, adapters.ProcCategoryVersion, category)
	if err != nil {
		return nil, err
	}
	return scalarInt64(rows, adapters.ProcCategoryVersion)
}

// GetLastMessage returns the most recently written message in the store,
// or nil if the store is empty.
func (s *MessageStore) GetLastMessage(ctx context.Context) (*Message, error) {
	rows, err := s.call(ctx, adapters.ProcLastMessage)
	if err != nil {
		return nil, err
	}
	return s.decodeFirst(rows)
}

// =============================================================================
// Server utilities
// =============================================================================

// MessageStoreVersion returns the version of the store's schema as
// numeric components (e.g., [1 3 0]).
func (s *MessageStore) MessageStoreVersion(ctx context.Context) ([]int, error) {
	rows, err := s.call(ctx, adapters.ProcMessageStoreVersion)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []int{0, 0}, nil
	}

	text, err := rowString(rows[0], adapters.ProcMessageStoreVersion)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(text, ".")
	version := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, NewDecodingError(adapters.ProcMessageStoreVersion, err)
		}
		version[i] = n
	}
	return version, nil
}

// AcquireLock takes the store's transaction-scoped advisory lock for the
// category of streamName and returns the lock key.
func (s *MessageStore) AcquireLock(ctx context.Context, streamName string) (int64, error) {
	rows, err := s.call(ctx, adapters.ProcAcquireLock, streamName)
	if err != nil {
		return 0, err
	}
	key, err := scalarInt64(rows, adapters.ProcAcquireLock)
	if err != nil {
		return 0, err
	}
	if key == nil {
		return 0, NewDecodingError(adapters.ProcAcquireLock, errors.New("no lock key returned"))
	}
	return *key, nil
}

// StoreHash64 computes hash_64 on the store. It must equal Hash64(value).
func (s *MessageStore) StoreHash64(ctx context.Context, value string) (int64, error) {
	rows, err := s.call(ctx, adapters.ProcHash64, value)
	if err != nil {
		return 0, err
	}
	h, err := scalarInt64(rows, adapters.ProcHash64)
	if err != nil {
		return 0, err
	}
	if h == nil {
		return 0, NewDecodingError(adapters.ProcHash64, errors.New("no hash returned"))
	}
	return *h, nil
}

// TypeCount holds the number of messages of one type and their share of the store.
type TypeCount struct {
	Count   int64
	Percent float64
}

// CategoryType identifies a message type within a category.
type CategoryType struct {
	Category string
	Type     string
}

// TypeSummary returns message counts per message type.
func (s *MessageStore) TypeSummary(ctx context.Context) (map[string]TypeCount, error) {
	rows, err := s.call(ctx, adapters.ProcTypeSummary)
	if err != nil {
		return nil, err
	}

	summary := make(map[string]TypeCount, len(rows))
	for _, row := range rows {
		typ, err := rowString(row, "type")
		if err != nil {
			return nil, err
		}
		count, err := summaryCount(row)
		if err != nil {
			return nil, err
		}
		summary[typ] = count
	}
	return summary, nil
}

// CategoryTypeSummary returns message counts per category and message type.
func (s *MessageStore) CategoryTypeSummary(ctx context.Context) (map[CategoryType]TypeCount, error) {
	rows, err := s.call(ctx, adapters.ProcCategoryTypeSummary)
	if err != nil {
		return nil, err
	}

	summary := make(map[CategoryType]TypeCount, len(rows))
	for _, row := range rows {
		category, err := rowString(row, "category")
		if err != nil {
			return nil, err
		}
		typ, err := rowString(row, "type")
		if err != nil {
			return nil, err
		}
		count, err := summaryCount(row)
		if err != nil {
			return nil, err
		}
		summary[CategoryType{Category: category, Type: typ}] = count
	}
	return summary, nil
}

// Categories returns the names of all categories holding messages.
func (s *MessageStore) Categories(ctx context.Context) ([]string, error) {
	summary, err := s.CategoryTypeSummary(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for key := range summary {
		if _, ok := seen[key.Category]; ok {
			continue
		}
		seen[key.Category] = struct{}{}
		categories = append(categories, key.Category)
	}
	return categories, nil
}

func summaryCount(row adapters.Row) (TypeCount, error) {
	var tc TypeCount

	if v, ok := row["message_count"]; ok && v != nil {
		n, ok := toInt64(v)
		if !ok {
			return TypeCount{}, NewDecodingError("message_count", fmt.Errorf("unexpected type %T", v))
		}
		tc.Count = n
	}

	switch p := row["percent"].(type) {
	case nil:
	case float64:
		tc.Percent = p
	case string:
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return TypeCount{}, NewDecodingError("percent", err)
		}
		tc.Percent = f
	case []byte:
		f, err := strconv.ParseFloat(string(p), 64)
		if err != nil {
			return TypeCount{}, NewDecodingError("percent", err)
		}
		tc.Percent = f
	default:
		return TypeCount{}, NewDecodingError("percent", fmt.Errorf("unexpected type %T", p))
	}

	return tc, nil
}

// =============================================================================
// Row helpers
// =============================================================================

func (s *MessageStore) decodeRows(rows []adapters.Row) ([]Message, error) {
	msgs := make([]Message, len(rows))
	for i, row := range rows {
		msg, err := s.codec.Decode(row)
		if err != nil {
			return nil, err
		}
		msgs[i] = msg
	}
	return msgs, nil
}

func (s *MessageStore) decodeFirst(rows []adapters.Row) (*Message, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	msg, err := s.codec.Decode(rows[0])
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// scalarInt64 reads a single nullable integer column. No rows and SQL NULL
// both return nil.
func scalarInt64(rows []adapters.Row, column string) (*int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	v, err := rowValue(rows[0], column)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	n, ok := toInt64(v)
	if !ok {
		return nil, NewDecodingError(column, fmt.Errorf("unexpected type %T", v))
	}
	return &n, nil
}
