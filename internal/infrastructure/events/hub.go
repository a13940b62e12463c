// Package events fans real-time pipeline events out to live subscribers.
package events

import (
	"sync"
	"time"

	"FeedSentry/internal/ports"
)

// Event is one real-time notification.
type Event struct {
	Name    string    `json:"name"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Hub delivers events to subscribers without ever blocking the emitter.
// A subscriber that falls behind loses events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

var _ ports.EventSink = (*Hub)(nil)

// NewHub builds a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: map[int]chan Event{}, buffer: buffer}
}

// Emit broadcasts an event; full subscriber buffers drop it.
func (h *Hub) Emit(name string, payload any) {
	ev := Event{Name: name, Payload: payload, At: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Discard is an EventSink that drops everything.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(string, any) {}
