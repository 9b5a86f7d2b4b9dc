package api

import (
	"context"
	"sync"

	"chainchat/messenger"
)

const subscriberBuffer = 16

// Hub fans controller notices out to every connected stream.
// Slow subscribers miss notices rather than block the others.
type Hub struct {
	mu   sync.Mutex
	subs map[chan messenger.Notice]struct{}
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan messenger.Notice]struct{})}
}

// Subscribe registers a stream. The returned func unregisters it.
func (h *Hub) Subscribe() (<-chan messenger.Notice, func()) {
	ch := make(chan messenger.Notice, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Publish delivers a notice to every subscriber that has room for it.
func (h *Hub) Publish(notice messenger.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- notice:
		default:
		}
	}
}

// Subscribers returns the number of registered streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run publishes everything read from source until it closes or ctx ends.
func (h *Hub) Run(ctx context.Context, source <-chan messenger.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-source:
			if !ok {
				return
			}
			h.Publish(notice)
		}
	}
}
