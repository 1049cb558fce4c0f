// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type ConnState string

const (
	ConnIdle         ConnState = "idle"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnLeft         ConnState = "left"
	ConnError        ConnState = "error"
)

// Status is the observable state vector of one participant.
// It is always broadcast whole, never as a diff.
type Status struct {
	Muted         bool `json:"muted"`
	VideoOff      bool `json:"videoOff"`
	HandRaised    bool `json:"handRaised"`
	ScreenSharing bool `json:"screenSharing"`
}

// StatusPatch is a partial local mutation; nil fields are untouched.
type StatusPatch struct {
	Muted         *bool
	VideoOff      *bool
	HandRaised    *bool
	ScreenSharing *bool
}

func (s Status) Apply(p StatusPatch) Status {
	if p.Muted != nil {
		s.Muted = *p.Muted
	}
	if p.VideoOff != nil {
		s.VideoOff = *p.VideoOff
	}
	if p.HandRaised != nil {
		s.HandRaised = *p.HandRaised
	}
	if p.ScreenSharing != nil {
		s.ScreenSharing = *p.ScreenSharing
	}
	return s
}

// Participant is one user's presence record within a session.
// A client writes only its own record; remote records are read-mostly
// copies updated from relay broadcasts.
type Participant struct {
	ID        ParticipantID `json:"id"`
	Name      string        `json:"name"`
	AvatarURL string        `json:"avatarUrl,omitempty"`
	Role      Role          `json:"role"`
	Conn      ConnState     `json:"conn"`
	Status    Status        `json:"status"`
}

// NewParticipant avoids raw struct literals in adapters and keeps
// construction obvious.
func NewParticipant(id ParticipantID, name string, role Role) (*Participant, error) {
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	return &Participant{
		ID:   id,
		Name: name,
		Role: role,
		Conn: ConnIdle,
	}, nil
}
