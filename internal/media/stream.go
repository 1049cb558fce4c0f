// Package media abstracts the capture devices and the peer link
// primitive. The coordinator never touches RTP; it only attaches and
// detaches whole tracks.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type StreamKind string

const (
	StreamCamera StreamKind = "camera"
	StreamScreen StreamKind = "screen"
)

// Stream is one local capture handle exposed as an attachable track.
type Stream interface {
	ID() string
	Kind() StreamKind
	Track() webrtc.TrackLocal
	Close() error
}

// Constraints narrows what a camera acquire asks for.
type Constraints struct {
	Audio bool
	Video bool
}

// Provider acquires capture devices. Implementations return
// domain.ErrMediaAcquisitionDenied (wrapped) when the device is
// refused; the session stays joinable without it.
type Provider interface {
	AcquireCamera(ctx context.Context, c Constraints) (Stream, error)
	AcquireScreen(ctx context.Context) (Stream, error)
}
