package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type SessionID string

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
)

const MaxTitleLen = 120

var (
	ErrTitleEmpty   = errors.New("session title empty")
	ErrTitleTooLong = errors.New("session title too long")
)

// Session is one scheduled/live/ended meeting tied to a class.
// Host identity is immutable once set; status is terminal at ended.
type Session struct {
	ID        SessionID
	Title     string
	HostID    ParticipantID
	Status    SessionStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// NewSession creates a scheduled session owned by host.
func NewSession(title string, host ParticipantID) (*Session, error) {
	if len(title) == 0 {
		return nil, ErrTitleEmpty
	}
	if len(title) > MaxTitleLen {
		return nil, ErrTitleTooLong
	}
	return &Session{
		ID:        SessionID(uuid.NewString()),
		Title:     title,
		HostID:    host,
		Status:    SessionScheduled,
		CreatedAt: time.Now(),
	}, nil
}

func (s *Session) IsHost(id ParticipantID) bool {
	return s.HostID == id
}
