// Package kafka relays messages to Kafka topics using github.com/segmentio/kafka-go.
//
// Messages are keyed by stream name so every message of a stream lands on
// the same partition and keeps its order.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/adapters"
	"github.com/AshkanYarmoradi/go-eventide/relay"
)

// Publisher publishes messages to Kafka.
type Publisher struct {
	brokers      []string
	topic        func(eventide.Message) string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper
	mu           sync.RWMutex
	writers      map[string]*kafkago.Writer
}

var _ relay.Publisher = (*Publisher)(nil)

// Option configures a Kafka Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithTopic publishes every message to a single topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = func(eventide.Message) string { return topic }
	}
}

// WithTopicFunc chooses the topic of each message.
func WithTopicFunc(fn func(eventide.Message) string) Option {
	return func(p *Publisher) {
		p.topic = fn
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithTransport sets the transport the writers use to reach the brokers,
// such as a *kafkago.Transport carrying TLS or SASL settings.
func WithTransport(transport kafkago.RoundTripper) Option {
	return func(p *Publisher) {
		p.transport = transport
	}
}

// New creates a new Kafka Publisher. Without WithTopic, messages go to a
// topic named after their category.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      []string{"localhost:9092"},
		topic:        CategoryTopic,
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		writers:      make(map[string]*kafkago.Writer),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CategoryTopic names a topic after the category of the message's stream.
// Type separators become dots, as colons are not legal in topic names.
func CategoryTopic(msg eventide.Message) string {
	category := adapters.Category(msg.StreamName)
	return strings.NewReplacer(adapters.TypeSeparator, ".", adapters.CompoundSeparator, "_").Replace(category)
}

// Publish writes msg to its topic.
func (p *Publisher) Publish(ctx context.Context, msg eventide.Message) error {
	topic := p.topic(msg)
	if topic == "" {
		return fmt.Errorf("kafka: no topic for message %s in %s", msg.ID, msg.StreamName)
	}

	km, err := buildMessage(msg)
	if err != nil {
		return err
	}

	if err := p.getWriter(topic).WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka: failed to write to topic %s: %w", topic, err)
	}
	return nil
}

// buildMessage converts msg to a Kafka message keyed by stream name.
func buildMessage(msg eventide.Message) (kafkago.Message, error) {
	value, err := relay.Encode(msg)
	if err != nil {
		return kafkago.Message{}, err
	}

	km := kafkago.Message{
		Key:   []byte(msg.StreamName),
		Value: value,
		Time:  msg.Time,
	}
	for k, v := range relay.Headers(msg) {
		km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return km, nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			return err
		}
		delete(p.writers, topic)
	}
	return nil
}

// getWriter returns or creates a Kafka writer for the given topic.
func (p *Publisher) getWriter(topic string) *kafkago.Writer {
	p.mu.RLock()
	if w, ok := p.writers[topic]; ok {
		p.mu.RUnlock()
		return w
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               p.balancer,
		BatchTimeout:           p.batchTimeout,
		Transport:              p.transport,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}

	p.writers[topic] = w
	return w
}
