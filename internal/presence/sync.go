// Package presence maintains this client's merged view of every
// participant's status vector. There is no central presence authority:
// the roster is last-writer-per-field, rehydrated from the classroom
// store on every join event rather than trusting broadcast history.
package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/store"
)

// Synchronizer owns the roster. The only entry it ever writes from a
// local (non-relay) source is the client's own.
type Synchronizer struct {
	mu     sync.RWMutex
	self   domain.Participant
	roster map[domain.ParticipantID]*domain.Participant

	sessionID domain.SessionID
	topic     string
	ch        signal.Channel
	st        store.Store

	onJoin  func(domain.Participant)
	onLeave func(domain.ParticipantID)
}

func NewSynchronizer(self domain.Participant, sessionID domain.SessionID, topic string, ch signal.Channel, st store.Store) *Synchronizer {
	s := &Synchronizer{
		self:      self,
		roster:    make(map[domain.ParticipantID]*domain.Participant),
		sessionID: sessionID,
		topic:     topic,
		ch:        ch,
		st:        st,
	}
	own := self
	s.roster[self.ID] = &own
	return s
}

// OnJoin registers the callback fired when a new remote participant is
// confirmed. Must be set before the dispatch loop starts.
func (s *Synchronizer) OnJoin(fn func(domain.Participant)) { s.onJoin = fn }

// OnLeave registers the callback fired when a participant is removed.
func (s *Synchronizer) OnLeave(fn func(domain.ParticipantID)) { s.onLeave = fn }

func (s *Synchronizer) SelfID() domain.ParticipantID { return s.self.ID }

func (s *Synchronizer) Self() domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.roster[s.self.ID]
}

func (s *Synchronizer) Get(id domain.ParticipantID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.roster[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (s *Synchronizer) Roster() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, *p)
	}
	return out
}

// Remotes returns every roster entry except self.
func (s *Synchronizer) Remotes() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(s.roster))
	for id, p := range s.roster {
		if id == s.self.ID {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// SetLocalStatus applies the patch to the local vector first, so the
// local view reflects it with zero latency, then broadcasts the whole
// vector. The broadcast always carries a status the client has already
// adopted.
func (s *Synchronizer) SetLocalStatus(patch domain.StatusPatch) error {
	s.mu.Lock()
	me := s.roster[s.self.ID]
	me.Status = me.Status.Apply(patch)
	full := me.Status
	s.mu.Unlock()

	env, err := signal.NewEnvelope(signal.KindStatusUpdate, s.self.ID, signal.StatusUpdate{
		PeerID: s.self.ID,
		Status: full,
	})
	if err != nil {
		return err
	}
	if err := s.ch.Publish(s.topic, env); err != nil {
		// Local state is already adopted; the next broadcast carries
		// the full vector, so a lost one self-heals.
		return fmt.Errorf("broadcast status: %w", err)
	}
	return nil
}

// ApplyStatusUpdate merges a remote full-vector broadcast. An unknown
// peer gets a provisional fully-muted entry until a join broadcast or
// roster refetch confirms membership.
func (s *Synchronizer) ApplyStatusUpdate(u signal.StatusUpdate) {
	if u.PeerID == s.self.ID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.roster[u.PeerID]
	if !ok {
		p = provisional(u.PeerID)
		s.roster[u.PeerID] = p
	}
	p.Status = u.Status
}

func (s *Synchronizer) ApplyHandRaise(h signal.HandRaise) {
	if h.PeerID == s.self.ID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.roster[h.PeerID]
	if !ok {
		p = provisional(h.PeerID)
		s.roster[h.PeerID] = p
	}
	p.Status.HandRaised = h.Raised
}

// ApplyChange handles participant-change broadcasts. A join triggers
// an authoritative refetch; presence must be re-derivable without the
// broadcast stream.
func (s *Synchronizer) ApplyChange(ctx context.Context, c signal.ParticipantChange) {
	if c.PeerID == s.self.ID {
		return
	}
	switch c.Type {
	case signal.ChangeJoin:
		s.mu.Lock()
		p, known := s.roster[c.PeerID]
		if !known {
			p = provisional(c.PeerID)
			s.roster[c.PeerID] = p
		}
		if c.Name != "" {
			p.Name = c.Name
		}
		if c.AvatarURL != "" {
			p.AvatarURL = c.AvatarURL
		}
		if c.Role != "" {
			p.Role = c.Role
		}
		p.Conn = domain.ConnConnected
		joined := *p
		s.mu.Unlock()

		if err := s.Refetch(ctx); err != nil {
			log.Warn().Err(err).Str("module", "presence").Msg("roster refetch on join")
		}
		if !known && s.onJoin != nil {
			s.onJoin(joined)
		}
	case signal.ChangeLeave:
		s.mu.Lock()
		_, known := s.roster[c.PeerID]
		delete(s.roster, c.PeerID)
		s.mu.Unlock()
		if known && s.onLeave != nil {
			s.onLeave(c.PeerID)
		}
	default:
		log.Warn().Str("module", "presence").Str("type", string(c.Type)).Msg("unknown change type")
	}
}

// Refetch reconciles the roster against the authoritative store.
// Identity fields are taken from the store; status vectors already
// learned from broadcasts are kept, and the local entry is never
// overwritten. Confirmed entries the store no longer lists are removed
// so a lost leave broadcast heals here; provisional (connecting)
// entries the store has not caught up with yet are deferred to the
// next refetch.
func (s *Synchronizer) Refetch(ctx context.Context) error {
	list, err := s.st.ListParticipants(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	s.mu.Lock()
	present := make(map[domain.ParticipantID]bool, len(list))
	for _, p := range list {
		present[p.ID] = true
		if p.ID == s.self.ID {
			continue
		}
		cur, ok := s.roster[p.ID]
		if !ok {
			cp := p
			cp.Status = provisional(p.ID).Status
			s.roster[p.ID] = &cp
			continue
		}
		cur.Name = p.Name
		cur.AvatarURL = p.AvatarURL
		cur.Role = p.Role
	}
	var departed []domain.ParticipantID
	for id, p := range s.roster {
		if id == s.self.ID || present[id] || p.Conn == domain.ConnConnecting {
			continue
		}
		delete(s.roster, id)
		departed = append(departed, id)
	}
	s.mu.Unlock()

	for _, id := range departed {
		log.Info().Str("module", "presence").Str("peer", string(id)).Msg("pruned on refetch")
		if s.onLeave != nil {
			s.onLeave(id)
		}
	}
	return nil
}

// Clear empties the roster except self; used on session teardown.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	own := s.roster[s.self.ID]
	s.roster = map[domain.ParticipantID]*domain.Participant{s.self.ID: own}
}

func provisional(id domain.ParticipantID) *domain.Participant {
	return &domain.Participant{
		ID:   id,
		Name: string(id),
		Role: domain.RoleGuest,
		Conn: domain.ConnConnecting,
		Status: domain.Status{
			Muted:    true,
			VideoOff: true,
		},
	}
}
