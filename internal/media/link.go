package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type LinkState string

const (
	LinkNew        LinkState = "new"
	LinkConnecting LinkState = "connecting"
	LinkConnected  LinkState = "connected"
	LinkFailed     LinkState = "failed"
	LinkClosed     LinkState = "closed"
)

// Link is one direct media connection toward a single remote endpoint.
// Callbacks must be registered before the first offer/answer.
type Link interface {
	// CreateOffer produces a local description with gathering complete.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer applies the remote offer and produces the answer.
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer on the offering side.
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddTrack attaches a local stream; RemoveTrack detaches it.
	// Both require a renegotiation offer afterwards.
	AddTrack(s Stream) error
	RemoveTrack(s Stream) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(*webrtc.TrackRemote))
	OnStateChange(func(LinkState))

	Close() error
}

// Engine creates links. One engine per client process.
type Engine interface {
	NewLink(ctx context.Context) (Link, error)
}
