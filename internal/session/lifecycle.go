// Package session tracks the scheduled -> live -> ended state machine
// and enforces host-only transition rights on this client.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/store"
)

// Lifecycle owns this client's copy of the session record. Ended is
// terminal; the host guard is client-side only, the store remains the
// trust boundary.
type Lifecycle struct {
	mu     sync.Mutex
	sess   *domain.Session
	selfID domain.ParticipantID

	topic string
	ch    signal.Channel
	st    store.Store

	onEnded func()
	ended   bool
}

func NewLifecycle(sess *domain.Session, selfID domain.ParticipantID, topic string, ch signal.Channel, st store.Store) *Lifecycle {
	return &Lifecycle{
		sess:   sess,
		selfID: selfID,
		topic:  topic,
		ch:     ch,
		st:     st,
	}
}

// OnEnded registers the teardown callback. It fires exactly once, on
// local host end or on a session-ended broadcast, regardless of role.
func (l *Lifecycle) OnEnded(fn func()) { l.onEnded = fn }

func (l *Lifecycle) Session() domain.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.sess
}

func (l *Lifecycle) Status() domain.SessionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess.Status
}

func (l *Lifecycle) IsHost() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess.IsHost(l.selfID)
}

// Start moves scheduled -> live by explicit host action.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	if !l.sess.IsHost(l.selfID) {
		l.mu.Unlock()
		return domain.ErrUnauthorized
	}
	l.mu.Unlock()
	return l.goLive(ctx)
}

// MarkJoined applies the implicit transition: the host's own join
// makes a scheduled session live. Guest joins never change status.
func (l *Lifecycle) MarkJoined(ctx context.Context) error {
	l.mu.Lock()
	host := l.sess.IsHost(l.selfID)
	status := l.sess.Status
	l.mu.Unlock()
	if !host || status != domain.SessionScheduled {
		return nil
	}
	return l.goLive(ctx)
}

func (l *Lifecycle) goLive(ctx context.Context) error {
	l.mu.Lock()
	switch l.sess.Status {
	case domain.SessionLive:
		l.mu.Unlock()
		return nil
	case domain.SessionEnded:
		l.mu.Unlock()
		return domain.ErrSessionEnded
	}
	now := time.Now()
	l.sess.Status = domain.SessionLive
	l.sess.StartedAt = &now
	id := l.sess.ID
	l.mu.Unlock()

	if err := l.st.UpdateSessionStatus(ctx, id, domain.SessionLive, store.Timestamps{StartedAt: &now}); err != nil {
		return fmt.Errorf("persist live: %w", err)
	}
	log.Info().Str("module", "session").Str("session", string(id)).Msg("session live")
	return nil
}

// End moves the session to its terminal state. Host-only: a guest is
// rejected locally with no state change. On success the new status is
// persisted first, then session-ended is broadcast so every subscriber
// tears down.
func (l *Lifecycle) End(ctx context.Context) error {
	l.mu.Lock()
	if !l.sess.IsHost(l.selfID) {
		l.mu.Unlock()
		return domain.ErrUnauthorized
	}
	if l.sess.Status == domain.SessionEnded {
		l.mu.Unlock()
		return nil
	}
	now := time.Now()
	l.sess.Status = domain.SessionEnded
	l.sess.EndedAt = &now
	id := l.sess.ID
	l.mu.Unlock()

	if err := l.st.UpdateSessionStatus(ctx, id, domain.SessionEnded, store.Timestamps{EndedAt: &now}); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("persist ended")
	}

	env, err := signal.NewEnvelope(signal.KindSessionEnded, l.selfID, signal.SessionEnded{})
	if err != nil {
		return err
	}
	if err := l.ch.Publish(l.topic, env); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("broadcast session-ended")
	}

	l.fireEnded()
	log.Info().Str("module", "session").Str("session", string(id)).Msg("session ended")
	return nil
}

// HandleSessionEnded reacts to the broadcast: adopt the terminal state
// and force teardown, whatever the local role.
func (l *Lifecycle) HandleSessionEnded() {
	l.mu.Lock()
	now := time.Now()
	if l.sess.Status != domain.SessionEnded {
		l.sess.Status = domain.SessionEnded
		l.sess.EndedAt = &now
	}
	l.mu.Unlock()
	l.fireEnded()
}

func (l *Lifecycle) fireEnded() {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	l.ended = true
	fn := l.onEnded
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}
