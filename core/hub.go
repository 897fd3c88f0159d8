package core

import (
	"sync"

	"fetchbridge/models"
)

// Hub fans audit log events out to subscribers. Publishing never blocks; a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan models.LogEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan models.LogEvent]struct{})}
}

// Subscribe returns the event channel and a function that unsubscribes and
// closes it.
func (h *Hub) Subscribe(buffer int) (<-chan models.LogEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.LogEvent, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev models.LogEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
