package bus

import (
	"context"
	"log"
	"sync"
)

// MemoryBus is an in-process Bus for single-node deployments and tests.
// Each Subscribe call acts as an independent process: publishing fans the
// envelope out to every subscriber. A slow subscriber drops envelopes
// rather than blocking the publisher, matching the at-most-once contract.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]chan Envelope
	nextID int
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Envelope)}
}

func (b *MemoryBus) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			log.Printf("bus: slow subscriber, dropping envelope %s", env.Type)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return context.Canceled
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Envelope, 64)
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-ch:
			fn(env)
		}
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
