package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/media"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
)

// Manager owns exactly one active or pending Link per remote
// participant known to the roster. Negotiations run concurrently and
// independently; a slow or failed link never blocks the others.
type Manager struct {
	selfID  domain.ParticipantID
	topic   string
	ch      signal.Channel
	engine  media.Engine
	capture *media.Capture

	mu        sync.Mutex
	connected bool
	links     map[domain.ParticipantID]*Link
	camera    media.Stream
	screen    media.Stream
	ctx       context.Context
	cancel    context.CancelFunc

	onLinkError   func(domain.ParticipantID, error)
	onRemoteTrack func(domain.ParticipantID, *webrtc.TrackRemote)
}

func NewManager(selfID domain.ParticipantID, topic string, ch signal.Channel, engine media.Engine, capture *media.Capture) *Manager {
	return &Manager{
		selfID:  selfID,
		topic:   topic,
		ch:      ch,
		engine:  engine,
		capture: capture,
		links:   make(map[domain.ParticipantID]*Link),
	}
}

// OnLinkError registers the per-link failure callback. The affected
// participant shows as "video unavailable"; nothing else is torn down.
func (m *Manager) OnLinkError(fn func(domain.ParticipantID, error)) { m.onLinkError = fn }

// OnRemoteTrack registers the inbound stream callback.
func (m *Manager) OnRemoteTrack(fn func(domain.ParticipantID, *webrtc.TrackRemote)) {
	m.onRemoteTrack = fn
}

// Connect acquires local capture and marks the manager live. It
// returns as soon as capture resolves; links toward existing
// participants are opened separately via Offer and negotiate in the
// background, so joining never blocks on peers. A capture refusal is
// returned as ErrMediaAcquisitionDenied but the manager still comes
// up: the session is joinable without media.
func (m *Manager) Connect(ctx context.Context, wantAudio, wantVideo bool) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	if !wantAudio && !wantVideo {
		return nil
	}
	stream, err := m.capture.AcquireCamera(ctx, media.Constraints{Audio: wantAudio, Video: wantVideo})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMediaAcquisitionDenied, err)
	}
	m.mu.Lock()
	m.camera = stream
	m.mu.Unlock()
	return nil
}

// Offer opens a link toward an existing participant with this client
// as the offerer. Only the joiner calls it, which keeps exactly one
// offer per pair: the joiner's.
func (m *Manager) Offer(remote domain.ParticipantID) error {
	l, err := m.ensureLink(remote)
	if err != nil {
		return err
	}
	l.setState(StateOffering)
	go m.negotiate(l)
	return nil
}

// HandleJoin opens the pending link for a newly joined participant.
// The joiner offers first; this side just answers.
func (m *Manager) HandleJoin(remote domain.ParticipantID) error {
	l, err := m.ensureLink(remote)
	if err != nil {
		return err
	}
	l.setState(StateAnswering)
	return nil
}

// HandleOffer answers an initial or renegotiation offer from remote.
func (m *Manager) HandleOffer(remote domain.ParticipantID, sdp string) error {
	l, err := m.ensureLink(remote)
	if err != nil {
		return err
	}
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		return fmt.Errorf("%w: not connected", domain.ErrNegotiationFailed)
	}

	if err := m.attachLocal(l); err != nil {
		return err
	}
	answer, err := l.media.CreateAnswer(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		m.failLink(l, fmt.Errorf("%w: answer for %s: %w", domain.ErrNegotiationFailed, remote, err))
		return l.Err()
	}
	env, err := signal.NewDirectEnvelope(signal.KindAnswer, m.selfID, remote, signal.SDP{SDP: answer.SDP})
	if err != nil {
		return err
	}
	return m.ch.Publish(m.topic, env)
}

// HandleAnswer applies the remote answer on the offering side.
func (m *Manager) HandleAnswer(remote domain.ParticipantID, sdp string) error {
	l, ok := m.link(remote)
	if !ok {
		return nil
	}
	if err := l.media.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		m.failLink(l, fmt.Errorf("%w: apply answer from %s: %w", domain.ErrNegotiationFailed, remote, err))
		return l.Err()
	}
	return nil
}

func (m *Manager) HandleCandidate(remote domain.ParticipantID, c signal.Candidate) error {
	l, ok := m.link(remote)
	if !ok {
		return nil
	}
	ci := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	if err := l.media.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("add candidate")
	}
	return nil
}

// HandleLeave tears down the link for a vanished participant.
func (m *Manager) HandleLeave(remote domain.ParticipantID) {
	m.mu.Lock()
	l, ok := m.links[remote]
	delete(m.links, remote)
	m.mu.Unlock()
	if ok {
		l.close()
		log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("link torn down")
	}
}

// StartScreenShare captures the screen and renegotiates every live
// link with the extra track. At most one local share is active; a
// second start is a no-op.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("%w: not connected", domain.ErrNegotiationFailed)
	}
	if m.screen != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	stream, err := m.capture.AcquireScreen(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMediaAcquisitionDenied, err)
	}
	m.mu.Lock()
	m.screen = stream
	snapshot := m.snapshotLinks()
	m.mu.Unlock()

	for _, l := range snapshot {
		if err := l.attachOnce(stream); err != nil {
			m.failLink(l, fmt.Errorf("%w: attach screen to %s: %w", domain.ErrNegotiationFailed, l.remote, err))
			continue
		}
		go m.negotiate(l)
	}
	return nil
}

// StopScreenShare detaches the share from every link and renegotiates.
// Idempotent.
func (m *Manager) StopScreenShare() {
	m.mu.Lock()
	stream := m.screen
	m.screen = nil
	snapshot := m.snapshotLinks()
	m.mu.Unlock()
	if stream == nil {
		return
	}

	for _, l := range snapshot {
		if err := l.detach(stream); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("detach screen")
			continue
		}
		go m.negotiate(l)
	}
	m.capture.ReleaseScreen()
}

// Disconnect cancels in-flight negotiations, tears down every link and
// releases local capture. Safe to call any number of times and while
// other operations are pending.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	cancel := m.cancel
	m.ctx, m.cancel = nil, nil
	links := m.links
	m.links = make(map[domain.ParticipantID]*Link)
	camera, screen := m.camera, m.screen
	m.camera, m.screen = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, l := range links {
		l.close()
	}
	// Release exactly what this manager acquired; the capture devices
	// may be shared with other session views.
	if camera != nil {
		m.capture.ReleaseCamera()
	}
	if screen != nil {
		m.capture.ReleaseScreen()
	}
	log.Info().Str("module", "peer").Int("links", len(links)).Msg("disconnected")
}

func (m *Manager) ActiveLinks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *Manager) LinkState(remote domain.ParticipantID) (State, bool) {
	l, ok := m.link(remote)
	if !ok {
		return "", false
	}
	return l.State(), true
}

// Sharing reports whether a local screen share is active.
func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

func (m *Manager) link(remote domain.ParticipantID) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	return l, ok
}

func (m *Manager) snapshotLinks() []*Link {
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

func (m *Manager) ensureLink(remote domain.ParticipantID) (*Link, error) {
	if remote == m.selfID {
		return nil, fmt.Errorf("link to self")
	}
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: not connected", domain.ErrNegotiationFailed)
	}
	if l, ok := m.links[remote]; ok {
		m.mu.Unlock()
		return l, nil
	}
	ctx := m.ctx
	m.mu.Unlock()

	ml, err := m.engine.NewLink(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: new link to %s: %w", domain.ErrNegotiationFailed, remote, err)
	}
	l := newLink(remote, ml)

	ml.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.sendCandidate(remote, ci)
	})
	ml.OnTrack(func(t *webrtc.TrackRemote) {
		l.addInbound(t)
		if m.onRemoteTrack != nil {
			m.onRemoteTrack(remote, t)
		}
	})
	ml.OnStateChange(func(s media.LinkState) {
		switch s {
		case media.LinkConnected:
			l.setState(StateConnected)
		case media.LinkFailed:
			m.failLink(l, fmt.Errorf("%w: transport failed for %s", domain.ErrNegotiationFailed, remote))
		}
	})

	m.mu.Lock()
	// Another goroutine may have raced us here; keep the first one.
	if existing, ok := m.links[remote]; ok {
		m.mu.Unlock()
		_ = ml.Close()
		return existing, nil
	}
	m.links[remote] = l
	m.mu.Unlock()
	return l, nil
}

// negotiate sends one offer toward the link's remote. Used for both
// initial setup (joiner side) and track renegotiation (track owner
// side); the link itself survives renegotiation.
func (m *Manager) negotiate(l *Link) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		return
	}
	if err := m.attachLocal(l); err != nil {
		m.failLink(l, err)
		return
	}
	offer, err := l.media.CreateOffer(ctx)
	if err != nil {
		m.failLink(l, fmt.Errorf("%w: offer to %s: %w", domain.ErrNegotiationFailed, l.remote, err))
		return
	}
	env, err := signal.NewDirectEnvelope(signal.KindOffer, m.selfID, l.remote, signal.SDP{SDP: offer.SDP})
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("encode offer")
		return
	}
	if err := m.ch.Publish(m.topic, env); err != nil {
		m.failLink(l, fmt.Errorf("%w: publish offer to %s: %w", domain.ErrNegotiationFailed, l.remote, err))
	}
}

func (m *Manager) attachLocal(l *Link) error {
	m.mu.Lock()
	camera, screen := m.camera, m.screen
	m.mu.Unlock()
	if camera != nil {
		if err := l.attachOnce(camera); err != nil {
			return fmt.Errorf("%w: attach camera to %s: %w", domain.ErrNegotiationFailed, l.remote, err)
		}
	}
	if screen != nil {
		if err := l.attachOnce(screen); err != nil {
			return fmt.Errorf("%w: attach screen to %s: %w", domain.ErrNegotiationFailed, l.remote, err)
		}
	}
	return nil
}

func (m *Manager) sendCandidate(remote domain.ParticipantID, ci webrtc.ICECandidateInit) {
	env, err := signal.NewDirectEnvelope(signal.KindCandidate, m.selfID, remote, signal.Candidate{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("encode candidate")
		return
	}
	if err := m.ch.Publish(m.topic, env); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("publish candidate")
	}
}

// failLink contains the failure to one participant and reports it.
func (m *Manager) failLink(l *Link, err error) {
	l.fail(err)
	log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("link failed")
	if m.onLinkError != nil {
		m.onLinkError(l.remote, err)
	}
}
