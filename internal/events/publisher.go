package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher pushes events to an external sink.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event interface{}) error
}

// kafkaWriter is the slice of kafka.Writer the publisher needs.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes events to Kafka. A single writer serves every
// topic; the destination is set per message.
type KafkaPublisher struct {
	writer kafkaWriter
	log    *zap.Logger
}

// NewKafkaPublisher builds a publisher for the given brokers.
func NewKafkaPublisher(brokers []string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		log: log,
	}
}

// PublishEvent publishes one event to the given Kafka topic.
func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(fmt.Sprintf("%s-%d", topic, time.Now().UnixNano())),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Warn("failed to write kafka message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}
	return nil
}

// RedisPublisher appends events to a Redis stream per topic.
type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisPublisher connects to the given Redis address.
func NewRedisPublisher(addr string, log *zap.Logger) *RedisPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		log:    log,
	}
}

// PublishEvent appends one event to the topic's stream.
func (r *RedisPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	res := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": time.Now().Format(time.RFC3339),
			"source":    "otcx",
		},
	})
	if err := res.Err(); err != nil {
		r.log.Warn("failed to append to redis stream",
			zap.String("stream", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}
	return nil
}

// MultiPublisher fans out to several sinks and fails only when every
// sink failed.
type MultiPublisher struct {
	publishers []Publisher
	log        *zap.Logger
}

// NewMultiPublisher builds a fan-out over the given sinks.
func NewMultiPublisher(publishers []Publisher, log *zap.Logger) *MultiPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &MultiPublisher{publishers: publishers, log: log}
}

// PublishEvent delivers to all sinks.
func (m *MultiPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	if len(m.publishers) == 0 {
		return nil
	}

	var lastErr error
	success := 0
	for i, p := range m.publishers {
		if err := p.PublishEvent(ctx, topic, event); err != nil {
			m.log.Error("failed to publish event",
				zap.Int("publisher_index", i),
				zap.String("topic", topic),
				zap.Error(err),
			)
			lastErr = err
		} else {
			success++
		}
	}
	if success == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

// Forward bridges the in-process bus to an external publisher.
// Publish failures are logged, never propagated back into the engine.
func Forward(bus Bus, pub Publisher, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	bus.Subscribe("", func(ctx context.Context, evt Event) {
		if err := pub.PublishEvent(ctx, evt.Topic, evt); err != nil {
			log.Warn("failed to forward event",
				zap.String("topic", evt.Topic),
				zap.String("type", evt.Type),
				zap.Uint64("seq", evt.Seq),
				zap.Error(err),
			)
		}
	})
}
