package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProducer(t *testing.T, maxRetries int) (*Producer, *mocks.SyncProducer) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	return NewProducerFrom(mock, maxRetries, time.Millisecond), mock
}

func TestProducer_Send(t *testing.T) {
	producer, mock := newMockProducer(t, 0)
	defer producer.Close()

	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		val, _ := msg.Value.Encode()
		if string(key) != "g-1" || string(val) != "payload" {
			return errors.New("unexpected key or payload")
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			return errors.New("missing event type header")
		}
		return nil
	})

	_, _, err := producer.Send(context.Background(), "topic", Record{
		Key:     []byte("g-1"),
		Value:   []byte("payload"),
		Headers: map[string]string{HeaderEventType: EventGroupCreated},
	})
	assert.NoError(t, err)
}

func TestProducer_SendRetries(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		producer, mock := newMockProducer(t, 3)
		defer producer.Close()

		mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
		mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
		mock.ExpectSendMessageAndSucceed()

		_, _, err := producer.Send(context.Background(), "topic", Record{Value: []byte("v")})
		assert.NoError(t, err)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		producer, mock := newMockProducer(t, 2)
		defer producer.Close()

		for range 3 {
			mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		}

		_, _, err := producer.Send(context.Background(), "topic", Record{Value: []byte("v")})
		require.Error(t, err)
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		producer, mock := newMockProducer(t, 5)
		defer producer.Close()

		mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := producer.Send(ctx, "topic", Record{Value: []byte("v")})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
