package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/relay"
)

const topicARN = "arn:aws:sns:us-east-1:123456789:ledger"

// mockSNSClient implements SNSClient for testing.
type mockSNSClient struct {
	publishCalls []*sns.PublishInput
	publishErr   error
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.publishCalls = append(m.publishCalls, params)
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	return &sns.PublishOutput{MessageId: stringPtr("sns-123")}, nil
}

func sampleMessage() eventide.Message {
	return eventide.Message{
		ID:             "msg-1",
		StreamName:     "account-123",
		Type:           "Deposited",
		Data:           map[string]any{"amount": 10.0},
		Position:       0,
		GlobalPosition: 5,
		Time:           time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_Publish_Success(t *testing.T) {
	mock := &mockSNSClient{}
	p := New(topicARN, WithSNSClient(mock))

	require.NoError(t, p.Publish(context.Background(), sampleMessage()))
	require.Len(t, mock.publishCalls, 1)

	call := mock.publishCalls[0]
	assert.Equal(t, topicARN, *call.TopicArn)
	assert.Nil(t, call.MessageGroupId)
	assert.Nil(t, call.MessageDeduplicationId)

	var env relay.Envelope
	require.NoError(t, json.Unmarshal([]byte(*call.Message), &env))
	assert.Equal(t, "msg-1", env.ID)
	assert.Equal(t, "account-123", env.StreamName)

	require.Contains(t, call.MessageAttributes, relay.HeaderMessageType)
	assert.Equal(t, "Deposited", *call.MessageAttributes[relay.HeaderMessageType].StringValue)
	assert.Equal(t, "String", *call.MessageAttributes[relay.HeaderMessageType].DataType)
	assert.Equal(t, "5", *call.MessageAttributes[relay.HeaderGlobalPosition].StringValue)
}

func TestPublisher_Publish_FIFO(t *testing.T) {
	mock := &mockSNSClient{}
	p := New(topicARN+".fifo", WithSNSClient(mock), WithFIFO())

	require.NoError(t, p.Publish(context.Background(), sampleMessage()))

	call := mock.publishCalls[0]
	assert.Equal(t, "account-123", *call.MessageGroupId)
	assert.Equal(t, "msg-1", *call.MessageDeduplicationId)
}

func TestPublisher_Publish_NoClient(t *testing.T) {
	p := New(topicARN)

	err := p.Publish(context.Background(), sampleMessage())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "client not configured")
}

func TestPublisher_Publish_NoTopic(t *testing.T) {
	p := New("", WithSNSClient(&mockSNSClient{}))

	err := p.Publish(context.Background(), sampleMessage())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic ARN not configured")
}

func TestPublisher_Publish_ClientError(t *testing.T) {
	cause := errors.New("throttled")
	p := New(topicARN, WithSNSClient(&mockSNSClient{publishErr: cause}))

	err := p.Publish(context.Background(), sampleMessage())

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "msg-1")
}

func TestPublisher_Publish_EncodingError(t *testing.T) {
	mock := &mockSNSClient{}
	p := New(topicARN, WithSNSClient(mock))
	msg := sampleMessage()
	msg.Data = map[string]any{"ch": make(chan int)}

	err := p.Publish(context.Background(), msg)

	assert.ErrorIs(t, err, eventide.ErrEncoding)
	assert.Empty(t, mock.publishCalls)
}

func TestPublisher_AsConsumerHandler(t *testing.T) {
	mock := &mockSNSClient{}
	p := New(topicARN, WithSNSClient(mock))

	handler := relay.Handler(p)

	require.NoError(t, handler(context.Background(), sampleMessage()))
	assert.Len(t, mock.publishCalls, 1)
	assert.NoError(t, p.Close())
}
