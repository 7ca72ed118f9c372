// Package realtime fans change notifications out to live subscribers.
package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// PoemsTopic carries changes to the published poem list.
const PoemsTopic = "poems"

// CommentsTopic carries changes to one poem's comments.
func CommentsTopic(poemID string) string {
	return "comments/" + poemID
}

// Hub maps topic -> subscriber id -> signal channel.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]chan struct{})}
}

// Subscribe registers interest in a topic. The returned channel receives a
// value whenever the topic changes; bursts collapse into one pending signal.
// Calling unsubscribe releases the slot and is safe to call more than once.
func (h *Hub) Subscribe(topic string) (changes <-chan struct{}, unsubscribe func()) {
	id := uuid.New().String()
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[string]chan struct{})
	}
	h.subs[topic][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if topicSubs, ok := h.subs[topic]; ok {
				delete(topicSubs, id)
				if len(topicSubs) == 0 {
					delete(h.subs, topic)
				}
			}
		})
	}
}

// Publish signals every subscriber of topic without blocking.
func (h *Hub) Publish(topic string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns how many listeners a topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
