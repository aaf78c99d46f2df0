// Package sse fans job progress out to server-sent event subscribers.
package sse

import (
	"fmt"
	"io"
	"sync"
)

type Event struct {
	Name string
	Data []byte
}

// WriteTo renders the event in text/event-stream framing.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, e.Data)
	return int64(n), err
}

// Hub delivers events per job id. Slow subscribers drop events rather than
// block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	if _, ok := h.subs[jobID]; !ok {
		h.subs[jobID] = make(map[chan Event]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[jobID]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, jobID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(jobID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of subscribers for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
