// Package store is the client of the remote classroom data store. The
// coordinator uses it for roster bootstrap/refetch and for persisting
// lifecycle transitions; broadcast history alone is never trusted.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Timestamps carries the lifecycle times written together with a
// status change; nil fields are left untouched.
type Timestamps struct {
	StartedAt *time.Time
	EndedAt   *time.Time
}

type Store interface {
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	UpdateSessionStatus(ctx context.Context, id domain.SessionID, status domain.SessionStatus, ts Timestamps) error
	ListParticipants(ctx context.Context, id domain.SessionID) ([]domain.Participant, error)
	RecordParticipantJoin(ctx context.Context, id domain.SessionID, user domain.ParticipantID, at time.Time) error
	RecordParticipantLeave(ctx context.Context, id domain.SessionID, user domain.ParticipantID, at time.Time) error
}

// Memory is a Store for tests and single-binary dev runs.
type Memory struct {
	mu           sync.RWMutex
	sessions     map[domain.SessionID]*domain.Session
	participants map[domain.SessionID]map[domain.ParticipantID]domain.Participant
	joins        map[domain.SessionID]map[domain.ParticipantID]time.Time
	leaves       map[domain.SessionID]map[domain.ParticipantID]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[domain.SessionID]*domain.Session),
		participants: make(map[domain.SessionID]map[domain.ParticipantID]domain.Participant),
		joins:        make(map[domain.SessionID]map[domain.ParticipantID]time.Time),
		leaves:       make(map[domain.SessionID]map[domain.ParticipantID]time.Time),
	}
}

// PutSession seeds a session; used by tests and the dev relay.
func (m *Memory) PutSession(s *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
}

// PutParticipant seeds the authoritative roster for a session.
func (m *Memory) PutParticipant(id domain.SessionID, p domain.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.participants[id] == nil {
		m.participants[id] = make(map[domain.ParticipantID]domain.Participant)
	}
	m.participants[id][p.ID] = p
}

func (m *Memory) RemoveParticipant(id domain.SessionID, pid domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants[id], pid)
}

func (m *Memory) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpdateSessionStatus(_ context.Context, id domain.SessionID, status domain.SessionStatus, ts Timestamps) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	if ts.StartedAt != nil {
		s.StartedAt = ts.StartedAt
	}
	if ts.EndedAt != nil {
		s.EndedAt = ts.EndedAt
	}
	return nil
}

func (m *Memory) ListParticipants(_ context.Context, id domain.SessionID) ([]domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Participant, 0, len(m.participants[id]))
	for _, p := range m.participants[id] {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) RecordParticipantJoin(_ context.Context, id domain.SessionID, user domain.ParticipantID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joins[id] == nil {
		m.joins[id] = make(map[domain.ParticipantID]time.Time)
	}
	m.joins[id][user] = at
	// A recorded join makes the user part of the authoritative roster
	// even when no profile was seeded.
	if m.participants[id] == nil {
		m.participants[id] = make(map[domain.ParticipantID]domain.Participant)
	}
	if _, ok := m.participants[id][user]; !ok {
		m.participants[id][user] = domain.Participant{
			ID:   user,
			Name: string(user),
			Role: domain.RoleGuest,
			Conn: domain.ConnConnected,
		}
	}
	return nil
}

func (m *Memory) RecordParticipantLeave(_ context.Context, id domain.SessionID, user domain.ParticipantID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaves[id] == nil {
		m.leaves[id] = make(map[domain.ParticipantID]time.Time)
	}
	m.leaves[id][user] = at
	delete(m.participants[id], user)
	return nil
}

// JoinedAt reports the recorded join time, for tests.
func (m *Memory) JoinedAt(id domain.SessionID, user domain.ParticipantID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.joins[id][user]
	return t, ok
}

// LeftAt reports the recorded leave time, for tests.
func (m *Memory) LeftAt(id domain.SessionID, user domain.ParticipantID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.leaves[id][user]
	return t, ok
}
