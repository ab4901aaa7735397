package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// RedisBus broadcasts envelopes over a single Redis pub/sub channel. Redis
// pub/sub has no offsets, so a resubscribe after a drop simply resumes from
// the live stream.
type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(addr, channel string) *RedisBus {
	return &RedisBus{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	backoff := initialBackoff
	for {
		err := b.listen(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("bus: subscription dropped: %v, retrying in %s", err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (b *RedisBus) listen(ctx context.Context, fn func(Envelope)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("bus: dropping malformed envelope: %v", err)
				continue
			}
			fn(env)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
