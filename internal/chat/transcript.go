// Package chat keeps the local transcript of a session. Messages are
// merged by identifier, so at-least-once delivery and the optimistic
// local append never produce duplicates. Cross-sender order is receipt
// order and may differ between clients; that is accepted.
package chat

import (
	"fmt"
	"sync"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
)

type Transcript struct {
	mu     sync.RWMutex
	selfID domain.ParticipantID
	topic  string
	ch     signal.Channel

	seen map[string]struct{}
	msgs []domain.ChatMessage

	onMessage func(domain.ChatMessage)
}

func NewTranscript(selfID domain.ParticipantID, topic string, ch signal.Channel) *Transcript {
	return &Transcript{
		selfID: selfID,
		topic:  topic,
		ch:     ch,
		seen:   make(map[string]struct{}),
	}
}

// OnMessage fires for every newly merged message, local or remote.
func (t *Transcript) OnMessage(fn func(domain.ChatMessage)) { t.onMessage = fn }

// Send appends optimistically before publishing; the local user sees
// their message immediately even if the relay is down.
func (t *Transcript) Send(body string) (domain.ChatMessage, error) {
	msg, err := domain.NewChatMessage(t.selfID, body)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	t.merge(msg)

	env, err := signal.NewEnvelope(signal.KindChat, t.selfID, signal.Chat{
		ID:       msg.ID,
		SenderID: msg.SenderID,
		Body:     msg.Body,
		SentAt:   msg.SentAt,
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if err := t.ch.Publish(t.topic, env); err != nil {
		return msg, fmt.Errorf("publish chat: %w", err)
	}
	return msg, nil
}

// Apply merges a received message; returns false on a duplicate id.
func (t *Transcript) Apply(c signal.Chat) bool {
	return t.merge(domain.ChatMessage{
		ID:       c.ID,
		SenderID: c.SenderID,
		Body:     c.Body,
		SentAt:   c.SentAt,
	})
}

func (t *Transcript) merge(msg domain.ChatMessage) bool {
	t.mu.Lock()
	if _, dup := t.seen[msg.ID]; dup {
		t.mu.Unlock()
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.msgs = append(t.msgs, msg)
	fn := t.onMessage
	t.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
	return true
}

func (t *Transcript) Messages() []domain.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.ChatMessage, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}
