package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Gopher0727/LobbyChat/config"
)

// Record is one outgoing Kafka message. Key selects the partition; records
// sharing a key keep their relative order.
type Record struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer sends records synchronously and retries failed sends with
// exponential backoff on top of sarama's own retries.
type Producer struct {
	producer   sarama.SyncProducer
	maxRetries int
	backoff    time.Duration
}

// NewProducer connects to the configured brokers. The producer is idempotent
// and waits for all in-sync replicas.
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	backoff := time.Duration(cfg.RetryBackoffMs) * time.Millisecond

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = "lobbychat"
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Retry.Backoff = backoff
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFrom(producer, cfg.MaxRetries, backoff), nil
}

// NewProducerFrom wraps an existing sarama.SyncProducer.
func NewProducerFrom(producer sarama.SyncProducer, maxRetries int, backoff time.Duration) *Producer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Producer{producer: producer, maxRetries: maxRetries, backoff: backoff}
}

func (r Record) message(topic string) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(r.Value),
	}
	if r.Key != nil {
		msg.Key = sarama.ByteEncoder(r.Key)
	}
	for k, v := range r.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return msg
}

// Send delivers rec to topic, retrying up to maxRetries times. It gives up
// early when ctx is done.
func (p *Producer) Send(ctx context.Context, topic string, rec Record) (partition int32, offset int64, err error) {
	backoff := p.backoff
	for attempt := 0; ; attempt++ {
		partition, offset, err = p.producer.SendMessage(rec.message(topic))
		if err == nil {
			return partition, offset, nil
		}
		if attempt >= p.maxRetries {
			return 0, 0, fmt.Errorf("send to %s failed after %d attempts: %w", topic, attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Close flushes and closes the underlying producer.
func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
