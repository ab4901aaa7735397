package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaBus broadcasts envelopes over one Kafka topic. Each process joins
// with a unique consumer group starting at the last offset, which turns the
// topic into a broadcast channel: every process sees every envelope, and
// nothing is replayed after a restart.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
}

func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		brokers: brokers,
		topic:   topic,
	}
}

func (b *KafkaBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{Value: payload, Time: time.Now()}); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       b.topic,
		GroupID:     "chat-fanout-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("bus: read failed: %v, retrying in %s", err, initialBackoff)
			select {
			case <-time.After(initialBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			log.Printf("bus: dropping malformed envelope: %v", err)
			continue
		}
		fn(env)
	}
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
