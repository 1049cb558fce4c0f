// Package peer maintains one media link per remote participant: an
// arena of links keyed by participant id, with the deterministic
// "joiner offers first" rule instead of locking across clients.
package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/media"
)

type State string

const (
	StateNew       State = "new"
	StateOffering  State = "offering"
	StateAnswering State = "answering"
	StateConnected State = "connected"
	StateFailed    State = "failed"
	StateClosed    State = "closed"
)

// Link pairs this client with one remote participant. A failed link is
// contained: it reports an error and dies alone, the session survives.
type Link struct {
	remote domain.ParticipantID
	media  media.Link

	mu       sync.Mutex
	state    State
	err      error
	attached map[string]bool
	inbound  []*webrtc.TrackRemote
}

func newLink(remote domain.ParticipantID, ml media.Link) *Link {
	return &Link{
		remote:   remote,
		media:    ml,
		state:    StateNew,
		attached: make(map[string]bool),
	}
}

func (l *Link) Remote() domain.ParticipantID { return l.remote }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// InboundTracks returns the remote streams this link currently holds.
func (l *Link) InboundTracks() []*webrtc.TrackRemote {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(l.inbound))
	copy(out, l.inbound)
	return out
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return
	}
	l.state = s
}

func (l *Link) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return
	}
	l.state = StateFailed
	l.err = err
}

func (l *Link) addInbound(t *webrtc.TrackRemote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, t)
}

// attachOnce attaches s unless it is already on this link. Safe to
// call again on renegotiation.
func (l *Link) attachOnce(s media.Stream) error {
	l.mu.Lock()
	if l.attached[s.ID()] {
		l.mu.Unlock()
		return nil
	}
	l.attached[s.ID()] = true
	l.mu.Unlock()
	if err := l.media.AddTrack(s); err != nil {
		l.mu.Lock()
		delete(l.attached, s.ID())
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Link) detach(s media.Stream) error {
	l.mu.Lock()
	delete(l.attached, s.ID())
	l.mu.Unlock()
	return l.media.RemoveTrack(s)
}

func (l *Link) close() {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	l.mu.Unlock()
	_ = l.media.Close()
}
