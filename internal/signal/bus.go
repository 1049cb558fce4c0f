package signal

import (
	"errors"
	"sync"
)

var ErrChannelClosed = errors.New("signal channel closed")

// Bus is an in-process Channel. Handlers run synchronously on the
// publisher's goroutine, which preserves per-sender FIFO; nothing is
// retained, so late subscribers see no history.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[int]Handler
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[int]Handler)}
}

func (b *Bus) Publish(topic string, env Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrChannelClosed
	}
	subs := b.topics[topic]
	snapshot := make([]Handler, 0, len(subs))
	for _, h := range subs {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(env)
	}
	return nil
}

func (b *Bus) Subscribe(topic string, h Handler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrChannelClosed
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.topics[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.topics[topic], id)
		})
	}, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = make(map[string]map[int]Handler)
	return nil
}
