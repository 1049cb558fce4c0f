// Package signal defines the control messages exchanged over a
// session's broadcast topic and the channel contract that carries
// them. Delivery is best-effort, FIFO per sender, unordered across
// senders, with no replay for late subscribers.
package signal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
)

// Kind discriminates the closed set of control message variants.
type Kind string

const (
	KindStatusUpdate      Kind = "status-update"
	KindHandRaise         Kind = "hand-raise"
	KindParticipantChange Kind = "participant-change"
	KindChat              Kind = "chat"
	KindSessionEnded      Kind = "session-ended"

	// Negotiation handshake rides the same topic, addressed to one
	// participant via Envelope.Target.
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Envelope wraps every control message. Payload shape depends on Kind;
// consumers switch on Kind and decode into the matching struct.
type Envelope struct {
	Kind    Kind                 `json:"kind"`
	Sender  domain.ParticipantID `json:"sender"`
	Target  domain.ParticipantID `json:"target,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

// NewEnvelope marshals payload in place so publishing never races with
// later mutation of the source struct.
func NewEnvelope(kind Kind, sender domain.ParticipantID, payload any) (Envelope, error) {
	env := Envelope{Kind: kind, Sender: sender}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Payload = b
	}
	return env, nil
}

// NewDirectEnvelope is NewEnvelope with a single addressee. Receivers
// other than target must ignore the message.
func NewDirectEnvelope(kind Kind, sender, target domain.ParticipantID, payload any) (Envelope, error) {
	env, err := NewEnvelope(kind, sender, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Target = target
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// StatusUpdate carries the complete status vector of PeerID, never a
// diff, so any later receiver converges on the last broadcast.
type StatusUpdate struct {
	PeerID domain.ParticipantID `json:"peerId"`
	Status domain.Status        `json:"status"`
}

type HandRaise struct {
	PeerID domain.ParticipantID `json:"peerId"`
	Raised bool                 `json:"raised"`
}

type ChangeType string

const (
	ChangeJoin  ChangeType = "join"
	ChangeLeave ChangeType = "leave"
)

type ParticipantChange struct {
	Type      ChangeType           `json:"type"`
	PeerID    domain.ParticipantID `json:"peerId"`
	Name      string               `json:"name,omitempty"`
	AvatarURL string               `json:"avatarUrl,omitempty"`
	Role      domain.Role          `json:"role,omitempty"`
}

type Chat struct {
	ID       string               `json:"id"`
	SenderID domain.ParticipantID `json:"senderId"`
	Body     string               `json:"body"`
	SentAt   time.Time            `json:"sentAt"`
}

// SessionEnded has no payload; receipt alone forces teardown.
type SessionEnded struct{}

type SDP struct {
	SDP string `json:"sdp"`
}

type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
