package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 8

// Hub pushes notices to in-process subscribers of a session, such as the
// SSE and WebSocket handlers. Publishing never blocks: a subscriber whose
// buffer is full misses the notice.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Notice]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Notice]struct{})}
}

// Subscribe registers interest in sessionID. The cancel func must be called
// once the subscriber is done; it closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Notice, func()) {
	ch := make(chan Notice, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Notice]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[sessionID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
		})
	}
	return ch, cancel
}

// Subscribers reports how many listeners sessionID has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) Advise(_ context.Context, n Notice) error {
	h.publish(n)
	return nil
}

func (h *Hub) Notify(_ context.Context, n Notice) error {
	h.publish(n)
	return nil
}

func (h *Hub) publish(n Notice) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[n.SessionID] {
		select {
		case ch <- n:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sessionID, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, sessionID)
	}
}
