package eventide

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// Default consumer settings.
const (
	DefaultPollInterval           = 100 * time.Millisecond
	DefaultEmptyBatchBackoff      = time.Second
	DefaultPositionUpdateInterval = 100
)

// ConsumerGroup partitions a category across cooperating consumers. A stream
// belongs to the member abs(hash_64(cardinal id)) mod Size, the same
// function the store applies in get_category_messages.
type ConsumerGroup struct {
	Member int64
	Size   int64
}

// Validate checks that Member lies in [0, Size).
func (g ConsumerGroup) Validate() error {
	if g.Size < 1 || g.Member < 0 || g.Member >= g.Size {
		return fmt.Errorf("%w: member %d of size %d", ErrInvalidConsumerGroup, g.Member, g.Size)
	}
	return nil
}

// Owns reports whether the stream is assigned to this member. An invalid
// group owns nothing.
func (g ConsumerGroup) Owns(streamName string) bool {
	if g.Validate() != nil {
		return false
	}
	return adapters.ConsumerGroupMember(streamName, g.Size) == g.Member
}

// MessageHandler processes one message delivered by a consumer.
type MessageHandler func(ctx context.Context, msg Message) error

// ConsumerObserver receives consumer activity. Implementations must be safe
// for concurrent use when shared between consumers.
type ConsumerObserver interface {
	// ObserveBatch is called after each poll with the number of messages fetched.
	ObserveBatch(consumer string, size int, duration time.Duration)

	// ObserveMessage is called after the handler returns.
	ObserveMessage(consumer string, msg Message, err error, duration time.Duration)

	// ObservePosition is called whenever the cursor advances.
	ObservePosition(consumer string, position int64)
}

// Consumer polls a category and delivers messages to a handler in global
// position order. It holds its cursor in memory; delivery is at-least-once.
type Consumer struct {
	store    *MessageStore
	category string
	handler  MessageHandler
	name     string

	group        *ConsumerGroup
	batchSize    int64
	correlation  *string
	condition    *string
	pollInterval time.Duration
	emptyBackoff time.Duration

	positionStore          PositionStore
	positionUpdateInterval int
	sinceUpdate            int

	errorHook func(error)
	logger    Logger
	observer  ConsumerObserver

	cursor  atomic.Int64
	running atomic.Bool
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerGroup assigns the consumer to one member of a group.
func WithConsumerGroup(member, size int64) ConsumerOption {
	return func(c *Consumer) {
		c.group = &ConsumerGroup{Member: member, Size: size}
	}
}

// WithStartPosition sets the initial cursor: the global position of the last
// message already processed. Polling starts at the next position.
func WithStartPosition(position int64) ConsumerOption {
	return func(c *Consumer) {
		c.cursor.Store(position)
	}
}

// WithPollInterval sets the pause between polls that returned messages.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pollInterval = d
	}
}

// WithEmptyBatchBackoff sets the pause after an empty poll or a failure.
func WithEmptyBatchBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.emptyBackoff = d
	}
}

// WithConsumerBatchSize sets the number of messages fetched per poll.
func WithConsumerBatchSize(n int64) ConsumerOption {
	return func(c *Consumer) {
		c.batchSize = n
	}
}

// WithConsumerCorrelation restricts delivery to messages correlated with a category.
func WithConsumerCorrelation(category string) ConsumerOption {
	return func(c *Consumer) {
		c.correlation = &category
	}
}

// WithConsumerCondition passes an SQL condition through to every poll.
func WithConsumerCondition(condition string) ConsumerOption {
	return func(c *Consumer) {
		c.condition = &condition
	}
}

// WithErrorHook sets a function called with every handler or connection
// error before the consumer retries.
func WithErrorHook(hook func(error)) ConsumerOption {
	return func(c *Consumer) {
		c.errorHook = hook
	}
}

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(l Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// WithConsumerObserver sets the consumer's observer.
func WithConsumerObserver(o ConsumerObserver) ConsumerOption {
	return func(c *Consumer) {
		c.observer = o
	}
}

// WithPositionStore makes the consumer restore its cursor on Run and record
// it every positionUpdateInterval messages.
func WithPositionStore(ps PositionStore) ConsumerOption {
	return func(c *Consumer) {
		c.positionStore = ps
	}
}

// WithPositionUpdateInterval sets how many handled messages trigger a
// position write.
func WithPositionUpdateInterval(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.positionUpdateInterval = n
		}
	}
}

// WithConsumerName sets the name used in logs and observations.
func WithConsumerName(name string) ConsumerOption {
	return func(c *Consumer) {
		c.name = name
	}
}

// NewConsumer creates a consumer for a category.
func NewConsumer(store *MessageStore, category string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		store:                  store,
		category:               category,
		handler:                handler,
		name:                   category,
		pollInterval:           DefaultPollInterval,
		emptyBackoff:           DefaultEmptyBatchBackoff,
		positionUpdateInterval: DefaultPositionUpdateInterval,
		logger:                 &noopLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the consumer's name.
func (c *Consumer) Name() string {
	return c.name
}

// Category returns the polled category.
func (c *Consumer) Category() string {
	return c.category
}

// Position returns the global position of the last successfully handled message.
func (c *Consumer) Position() int64 {
	return c.cursor.Load()
}

// Poll fetches one batch starting after the cursor and delivers it in order.
// The cursor advances after each message the handler accepts. A handler
// failure stops the batch and is returned as a *HandlerError; the failed
// message is fetched again by the next Poll. Poll returns the number of
// messages fetched.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	opts := []ReadOption{FromPosition(c.cursor.Load() + 1)}
	if c.batchSize != 0 {
		opts = append(opts, BatchSize(c.batchSize))
	}
	if c.group != nil {
		opts = append(opts, ForConsumerGroup(*c.group))
	}
	if c.correlation != nil {
		opts = append(opts, WithCorrelation(*c.correlation))
	}
	if c.condition != nil {
		opts = append(opts, WithCondition(*c.condition))
	}

	start := time.Now()
	batch, err := c.store.GetCategoryBatch(ctx, c.category, opts...)
	if c.observer != nil {
		c.observer.ObserveBatch(c.name, len(batch), time.Since(start))
	}
	if err != nil {
		return 0, err
	}

	for _, msg := range batch {
		if err := c.handle(ctx, msg); err != nil {
			return len(batch), &HandlerError{
				StreamName:     msg.StreamName,
				GlobalPosition: msg.GlobalPosition,
				Cause:          err,
			}
		}

		c.cursor.Store(msg.GlobalPosition)
		if c.observer != nil {
			c.observer.ObservePosition(c.name, msg.GlobalPosition)
		}
		c.sinceUpdate++
	}

	if c.positionStore != nil && c.sinceUpdate >= c.positionUpdateInterval {
		if err := c.recordPosition(ctx); err != nil {
			return len(batch), err
		}
	}

	return len(batch), nil
}

func (c *Consumer) handle(ctx context.Context, msg Message) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventide: handler panic: %v", r)
		}
		if c.observer != nil {
			c.observer.ObserveMessage(c.name, msg, err, time.Since(start))
		}
	}()

	return c.handler(ctx, msg)
}

func (c *Consumer) recordPosition(ctx context.Context) error {
	position := c.cursor.Load()
	if err := c.positionStore.Put(ctx, position); err != nil {
		return fmt.Errorf("eventide: failed to record position %d: %w", position, err)
	}
	c.sinceUpdate = 0
	c.logger.Debug("recorded position", "consumer", c.name, "position", position)
	return nil
}

// Run polls until ctx is cancelled. Cancellation takes effect before the next
// store call or during a pause, never in the middle of delivering a batch,
// and makes Run return nil. Handler and connection errors are passed to the
// error hook and retried after the empty batch backoff. Any other error ends
// Run and is returned, even when ctx was cancelled in the same poll.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrConsumerRunning
	}
	defer c.running.Store(false)

	if c.group != nil {
		if err := c.group.Validate(); err != nil {
			return err
		}
	}

	if err := c.restorePosition(ctx); err != nil {
		return err
	}

	c.logger.Info("consumer started",
		"consumer", c.name, "category", c.category, "position", c.cursor.Load())

	defer func() {
		if c.positionStore != nil && c.sinceUpdate > 0 {
			if err := c.recordPosition(context.WithoutCancel(ctx)); err != nil {
				c.logger.Error("failed to record position on stop", "consumer", c.name, "error", err)
			}
		}
		c.logger.Info("consumer stopped", "consumer", c.name, "position", c.cursor.Load())
	}()

	for {
		n, err := c.Poll(ctx)

		var pause time.Duration
		var handlerErr *HandlerError
		switch {
		case err == nil && n > 0:
			pause = c.pollInterval
		case err == nil:
			pause = c.emptyBackoff
		case errors.As(err, &handlerErr):
			c.logger.Warn("handler failed",
				"consumer", c.name, "stream", handlerErr.StreamName,
				"position", handlerErr.GlobalPosition, "error", handlerErr.Cause)
			c.report(err)
			pause = c.emptyBackoff
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return nil
		case IsRetryable(err):
			c.logger.Warn("poll failed", "consumer", c.name, "error", err)
			c.report(err)
			pause = c.emptyBackoff
		default:
			c.logger.Error("consumer failed", "consumer", c.name, "error", err)
			return err
		}

		if ctx.Err() != nil || !sleep(ctx, pause) {
			return nil
		}
	}
}

func (c *Consumer) restorePosition(ctx context.Context) error {
	if c.positionStore == nil {
		return nil
	}

	position, err := c.positionStore.Get(ctx)
	if err != nil {
		return fmt.Errorf("eventide: failed to restore position: %w", err)
	}
	if position != nil {
		c.cursor.Store(*position)
	}
	return nil
}

func (c *Consumer) report(err error) {
	if c.errorHook != nil {
		c.errorHook(err)
	}
}

// sleep pauses for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
