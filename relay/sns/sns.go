// Package sns relays messages to AWS SNS topics.
package sns

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/relay"
)

// SNSClient defines the subset of the SNS API used by the publisher.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes messages to a single SNS topic.
type Publisher struct {
	client   SNSClient
	topicARN string
	fifo     bool
}

var _ relay.Publisher = (*Publisher)(nil)

// Option configures an SNS Publisher.
type Option func(*Publisher)

// WithSNSClient sets the SNS client.
func WithSNSClient(client SNSClient) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithFIFO marks the topic as FIFO. Messages are grouped by stream name and
// deduplicated by message id, so each stream keeps its order.
func WithFIFO() Option {
	return func(p *Publisher) {
		p.fifo = true
	}
}

// New creates a new SNS Publisher for topicARN.
func New(topicARN string, opts ...Option) *Publisher {
	p := &Publisher{topicARN: topicARN}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish sends msg to the topic. Routing headers become message attributes.
func (p *Publisher) Publish(ctx context.Context, msg eventide.Message) error {
	if p.client == nil {
		return errors.New("sns: client not configured")
	}
	if p.topicARN == "" {
		return errors.New("sns: topic ARN not configured")
	}

	body, err := relay.Encode(msg)
	if err != nil {
		return err
	}

	input := &sns.PublishInput{
		TopicArn:          &p.topicARN,
		Message:           stringPtr(string(body)),
		MessageAttributes: make(map[string]types.MessageAttributeValue),
	}
	for k, v := range relay.Headers(msg) {
		input.MessageAttributes[k] = types.MessageAttributeValue{
			DataType:    stringPtr("String"),
			StringValue: stringPtr(v),
		}
	}

	if p.fifo {
		input.MessageGroupId = stringPtr(msg.StreamName)
		input.MessageDeduplicationId = stringPtr(msg.ID)
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns: failed to publish %s to %s: %w", msg.ID, p.topicARN, err)
	}
	return nil
}

// Close is a no-op; the SNS client holds no connections of its own.
func (p *Publisher) Close() error {
	return nil
}

func stringPtr(s string) *string {
	return &s
}
