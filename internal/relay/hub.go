// Package relay hosts the broadcast side of the signaling channel: a
// set of named topics, each fanning every published frame out to its
// current subscribers. Nothing is persisted; a late subscriber never
// sees earlier traffic.
package relay

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Conn is one subscriber endpoint. Owned by the ws controller; the
// controller must Close() it.
type Conn interface {
	TrySend([]byte) error
	Close()
}

// PublishResult reports delivery stats and backpressured subscribers.
type PublishResult struct {
	SentTo  int
	Dropped []string
}

type TopicInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// Hub is a threadsafe in-memory topic registry.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]Conn
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]Conn)}
}

func (h *Hub) Subscribe(topic, token string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]Conn)
	}
	h.topics[topic][token] = c
	log.Info().Str("module", "relay.hub").Str("topic", topic).Str("token", token).Msg("subscribed")
}

func (h *Hub) Unsubscribe(topic, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[topic], token)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}

// DropClient removes token from every topic; used when its socket dies.
func (h *Hub) DropClient(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		delete(subs, token)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish fans data out to every current subscriber of topic, the
// sender included when it is subscribed. Per-sender FIFO holds because
// each sender publishes from a single read pump.
func (h *Hub) Publish(topic string, data []byte) PublishResult {
	h.mu.RLock()
	subs := h.topics[topic]
	snapshot := make(map[string]Conn, len(subs))
	for token, c := range subs {
		snapshot[token] = c
	}
	h.mu.RUnlock()

	res := PublishResult{}
	for token, c := range snapshot {
		if err := c.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, token)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "relay.hub").Str("topic", topic).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("publish result")
	return res
}

func (h *Hub) Topics() []TopicInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]TopicInfo, 0, len(h.topics))
	for name, subs := range h.topics {
		out = append(out, TopicInfo{Name: name, Subscribers: len(subs)})
	}
	return out
}

func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
