package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PionEngine builds links on pion/webrtc peer connections.
type PionEngine struct {
	cfg webrtc.Configuration
}

func NewPionEngine(iceServers []string) *PionEngine {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &PionEngine{
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
		},
	}
}

func (e *PionEngine) NewLink(_ context.Context) (Link, error) {
	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &pionLink{
		pc:      pc,
		senders: make(map[string]*webrtc.RTPSender),
	}

	// State changes only report; teardown is the owner's call, via
	// Close, once the failure has been contained.
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "media.pion").Str("ice", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICEConnectionStateConnected:
			l.emitState(LinkConnected)
		case webrtc.ICEConnectionStateChecking:
			l.emitState(LinkConnecting)
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
			l.emitState(LinkFailed)
		case webrtc.ICEConnectionStateClosed:
			l.emitState(LinkClosed)
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		l.mu.RLock()
		onICE := l.onICE
		l.mu.RUnlock()
		if cand != nil && onICE != nil {
			onICE(cand.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.mu.RLock()
		onTrack := l.onTrack
		l.mu.RUnlock()
		if onTrack != nil {
			onTrack(track)
		}
	})

	return l, nil
}

type pionLink struct {
	pc *webrtc.PeerConnection

	mu      sync.RWMutex
	closed  bool
	senders map[string]*webrtc.RTPSender
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(*webrtc.TrackRemote)
	onState func(LinkState)
}

func (l *pionLink) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *l.pc.LocalDescription(), nil
}

func (l *pionLink) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *l.pc.LocalDescription(), nil
}

func (l *pionLink) ApplyAnswer(answer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(answer)
}

func (l *pionLink) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(ci)
}

func (l *pionLink) AddTrack(s Stream) error {
	sender, err := l.pc.AddTrack(s.Track())
	if err != nil {
		return fmt.Errorf("add track %s: %w", s.ID(), err)
	}
	l.mu.Lock()
	l.senders[s.ID()] = sender
	l.mu.Unlock()
	return nil
}

func (l *pionLink) RemoveTrack(s Stream) error {
	l.mu.Lock()
	sender, ok := l.senders[s.ID()]
	delete(l.senders, s.ID())
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.pc.RemoveTrack(sender)
}

func (l *pionLink) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	l.onICE = fn
	l.mu.Unlock()
}

func (l *pionLink) OnTrack(fn func(*webrtc.TrackRemote)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *pionLink) OnStateChange(fn func(LinkState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

func (l *pionLink) emitState(s LinkState) {
	l.mu.RLock()
	onState := l.onState
	l.mu.RUnlock()
	if onState != nil {
		onState(s)
	}
}

func (l *pionLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	return l.pc.Close()
}

// TrackSource is a Provider that serves pion sample tracks. Feeding
// the tracks with encoded frames is the embedding application's job;
// the coordinator only owns attachment and lifecycle.
type TrackSource struct{}

func NewTrackSource() *TrackSource { return &TrackSource{} }

func (TrackSource) AcquireCamera(_ context.Context, c Constraints) (Stream, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("camera: nothing requested")
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "camera-"+uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("camera track: %w", err)
	}
	return &sampleStream{id: track.StreamID(), kind: StreamCamera, track: track}, nil
}

func (TrackSource) AcquireScreen(_ context.Context) (Stream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "screen-"+uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("screen track: %w", err)
	}
	return &sampleStream{id: track.StreamID(), kind: StreamScreen, track: track}, nil
}

type sampleStream struct {
	id    string
	kind  StreamKind
	track webrtc.TrackLocal
}

func (s *sampleStream) ID() string               { return s.id }
func (s *sampleStream) Kind() StreamKind         { return s.kind }
func (s *sampleStream) Track() webrtc.TrackLocal { return s.track }
func (s *sampleStream) Close() error             { return nil }
