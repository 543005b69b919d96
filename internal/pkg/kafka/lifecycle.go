package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Gopher0727/LobbyChat/utils/workerpool"
)

// Lifecycle event types published to the lifecycle topic.
const (
	EventGroupCreated = "group.created"
	EventGroupRenamed = "group.renamed"
	EventGroupDeleted = "group.deleted"
	EventGroupExpired = "group.expired"
	EventMemberJoined = "member.joined"
	EventMemberLeft   = "member.left"
	EventMessageSent  = "message.sent"
)

// HeaderEventType carries the event type so consumers can filter without decoding.
const HeaderEventType = "event_type"

// LifecycleEvent records one committed mutation of a group.
type LifecycleEvent struct {
	Type       string
	GroupID    string
	ActorID    string
	Reason     string
	OccurredAt time.Time
	Attributes map[string]string
}

// Sink receives lifecycle events after the mutation committed. Emit never
// blocks the caller and never fails the mutation.
type Sink interface {
	Emit(ctx context.Context, event LifecycleEvent)
}

// NopSink discards events. Used when Kafka is disabled.
type NopSink struct{}

func (NopSink) Emit(context.Context, LifecycleEvent) {}

// Encode serializes an event as a protobuf google.protobuf.Struct.
func Encode(event LifecycleEvent) ([]byte, error) {
	attrs := make(map[string]any, len(event.Attributes))
	for k, v := range event.Attributes {
		attrs[k] = v
	}
	s, err := structpb.NewStruct(map[string]any{
		"type":        event.Type,
		"group_id":    event.GroupID,
		"actor_id":    event.ActorID,
		"reason":      event.Reason,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
		"attributes":  attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build lifecycle event: %w", err)
	}
	return proto.Marshal(s)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (LifecycleEvent, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to unmarshal lifecycle event: %w", err)
	}
	fields := s.GetFields()
	event := LifecycleEvent{
		Type:    fields["type"].GetStringValue(),
		GroupID: fields["group_id"].GetStringValue(),
		ActorID: fields["actor_id"].GetStringValue(),
		Reason:  fields["reason"].GetStringValue(),
	}
	if event.Type == "" || event.GroupID == "" {
		return LifecycleEvent{}, errors.New("lifecycle event missing type or group_id")
	}
	if ts := fields["occurred_at"].GetStringValue(); ts != "" {
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return LifecycleEvent{}, fmt.Errorf("invalid occurred_at: %w", err)
		}
		event.OccurredAt = at
	}
	if attrs := fields["attributes"].GetStructValue(); attrs != nil && len(attrs.GetFields()) > 0 {
		event.Attributes = make(map[string]string, len(attrs.GetFields()))
		for k, v := range attrs.GetFields() {
			event.Attributes[k] = v.GetStringValue()
		}
	}
	return event, nil
}

// ProducerSink publishes events to Kafka from a worker pool, keyed by group
// ID so events of one group stay ordered within a partition.
type ProducerSink struct {
	producer *Producer
	topic    string
	pool     *workerpool.WorkerPool
	logger   *zap.Logger
}

func NewProducerSink(producer *Producer, topic string, pool *workerpool.WorkerPool, logger *zap.Logger) *ProducerSink {
	return &ProducerSink{
		producer: producer,
		topic:    topic,
		pool:     pool,
		logger:   logger,
	}
}

func (s *ProducerSink) Emit(_ context.Context, event LifecycleEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload, err := Encode(event)
	if err != nil {
		s.logger.Error("failed to encode lifecycle event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	job := func() {
		// the originating request has usually returned by now
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rec := Record{
			Key:     []byte(event.GroupID),
			Value:   payload,
			Headers: map[string]string{HeaderEventType: event.Type},
		}
		if _, _, err := s.producer.Send(ctx, s.topic, rec); err != nil {
			s.logger.Error("failed to publish lifecycle event",
				zap.String("type", event.Type),
				zap.String("group_id", event.GroupID),
				zap.Error(err),
			)
		}
	}
	if err := s.pool.TrySubmit(job); err != nil {
		s.logger.Warn("lifecycle event dropped",
			zap.String("type", event.Type),
			zap.String("group_id", event.GroupID),
			zap.Error(err),
		)
	}
}
