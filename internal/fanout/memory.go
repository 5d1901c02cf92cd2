package fanout

import (
	"context"
	"sync"
)

const memoryQueueSize = 64

type memorySubscription struct {
	ctx      context.Context
	payloads chan []byte
}

// MemoryTransport delivers payloads within one process. Publish blocks until
// every live subscription has accepted the payload, so nothing is lost.
type MemoryTransport struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]bool
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[*memorySubscription]bool)}
}

func (t *MemoryTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.RLock()
	targets := make([]*memorySubscription, 0, len(t.subs[channel]))
	for sub := range t.subs[channel] {
		targets = append(targets, sub)
	}
	t.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.payloads <- payload:
		case <-sub.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &memorySubscription{ctx: ctx, payloads: make(chan []byte, memoryQueueSize)}

	t.mu.Lock()
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[*memorySubscription]bool)
	}
	t.subs[channel][sub] = true
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		delete(t.subs[channel], sub)
		if len(t.subs[channel]) == 0 {
			delete(t.subs, channel)
		}
		t.mu.Unlock()
	}()

	return sub.payloads, nil
}
