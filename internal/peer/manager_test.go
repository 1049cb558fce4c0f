package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/media"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
)

const topic = "session.s1"

type fakeStream struct {
	mu     sync.Mutex
	id     string
	kind   media.StreamKind
	closed bool
}

func (s *fakeStream) ID() string               { return s.id }
func (s *fakeStream) Kind() media.StreamKind   { return s.kind }
func (s *fakeStream) Track() webrtc.TrackLocal { return nil }
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeProvider struct {
	mu             sync.Mutex
	denyCamera     bool
	cameraAcquires int
	screenAcquires int
	lastCamera     *fakeStream
	lastScreen     *fakeStream
}

func (p *fakeProvider) AcquireCamera(context.Context, media.Constraints) (media.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denyCamera {
		return nil, errors.New("permission refused")
	}
	p.cameraAcquires++
	p.lastCamera = &fakeStream{id: fmt.Sprintf("cam-%d", p.cameraAcquires), kind: media.StreamCamera}
	return p.lastCamera, nil
}

func (p *fakeProvider) AcquireScreen(context.Context) (media.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenAcquires++
	p.lastScreen = &fakeStream{id: fmt.Sprintf("scr-%d", p.screenAcquires), kind: media.StreamScreen}
	return p.lastScreen, nil
}

type fakeLink struct {
	mu       sync.Mutex
	offers   int
	answers  int
	offerErr error
	tracks   map[string]bool
	removed  []string
	closed   bool
	onState  func(media.LinkState)
}

func newFakeLink() *fakeLink {
	return &fakeLink{tracks: make(map[string]bool)}
}

func (f *fakeLink) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeLink) CreateAnswer(_ context.Context, _ webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeLink) ApplyAnswer(webrtc.SessionDescription) error {
	f.fireState(media.LinkConnected)
	return nil
}

func (f *fakeLink) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (f *fakeLink) AddTrack(s media.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks[s.ID()] = true
	return nil
}

func (f *fakeLink) RemoveTrack(s media.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracks, s.ID())
	f.removed = append(f.removed, s.ID())
	return nil
}

func (f *fakeLink) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (f *fakeLink) OnTrack(func(*webrtc.TrackRemote))            {}
func (f *fakeLink) OnStateChange(fn func(media.LinkState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) fireState(s media.LinkState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeLink) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

func (f *fakeLink) hasTrack(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks[id]
}

func (f *fakeLink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeEngine struct {
	mu           sync.Mutex
	links        []*fakeLink
	nextOfferErr error
}

func (e *fakeEngine) NewLink(context.Context) (media.Link, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := newFakeLink()
	l.offerErr = e.nextOfferErr
	e.nextOfferErr = nil
	e.links = append(e.links, l)
	return l, nil
}

func (e *fakeEngine) last() *fakeLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links[len(e.links)-1]
}

// collector gathers what a manager publishes; negotiations run in
// background goroutines so access is guarded.
type collector struct {
	mu   sync.Mutex
	envs []signal.Envelope
}

func collect(t *testing.T, bus *signal.Bus) *collector {
	t.Helper()
	c := &collector{}
	unsub, err := bus.Subscribe(topic, func(env signal.Envelope) {
		c.mu.Lock()
		c.envs = append(c.envs, env)
		c.mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(unsub)
	return c
}

func (c *collector) byKind(k signal.Kind) []signal.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signal.Envelope
	for _, env := range c.envs {
		if env.Kind == k {
			out = append(out, env)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newManager(t *testing.T, id domain.ParticipantID, bus *signal.Bus) (*Manager, *fakeEngine, *fakeProvider) {
	t.Helper()
	engine := &fakeEngine{}
	provider := &fakeProvider{}
	m := NewManager(id, topic, bus, engine, media.NewCapture(provider))
	t.Cleanup(m.Disconnect)
	return m, engine, provider
}

// The joiner is the only offerer: across a full A<->B handshake exactly
// one offer crosses the wire, and it comes from the joining side.
func TestJoinerOffersOnce(t *testing.T) {
	ctx := context.Background()
	bus := signal.NewBus()
	c := collect(t, bus)

	a, engA, _ := newManager(t, "A", bus)
	b, engB, _ := newManager(t, "B", bus)
	if err := a.Connect(ctx, true, true); err != nil {
		t.Fatal(err)
	}
	if err := b.Connect(ctx, true, true); err != nil {
		t.Fatal(err)
	}

	// B joins a session where A is present: A sees the join broadcast,
	// B offers toward the existing participant.
	if err := a.HandleJoin("B"); err != nil {
		t.Fatal(err)
	}
	if err := b.Offer("A"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "offer from B", func() bool { return len(c.byKind(signal.KindOffer)) == 1 })
	offer := c.byKind(signal.KindOffer)[0]
	if offer.Sender != "B" || offer.Target != "A" {
		t.Fatalf("offer addressed %s -> %s, want B -> A", offer.Sender, offer.Target)
	}

	var sdp signal.SDP
	if err := offer.Decode(&sdp); err != nil {
		t.Fatal(err)
	}
	if err := a.HandleOffer("B", sdp.SDP); err != nil {
		t.Fatal(err)
	}

	answers := c.byKind(signal.KindAnswer)
	if len(answers) != 1 || answers[0].Sender != "A" || answers[0].Target != "B" {
		t.Fatalf("answers = %+v, want one A -> B", answers)
	}
	var ans signal.SDP
	if err := answers[0].Decode(&ans); err != nil {
		t.Fatal(err)
	}
	if err := b.HandleAnswer("A", ans.SDP); err != nil {
		t.Fatal(err)
	}

	if st, _ := b.LinkState("A"); st != StateConnected {
		t.Fatalf("B's link state = %s, want connected", st)
	}
	engA.last().fireState(media.LinkConnected)
	if st, _ := a.LinkState("B"); st != StateConnected {
		t.Fatalf("A's link state = %s, want connected", st)
	}

	// Still exactly one offer for the pair.
	if n := len(c.byKind(signal.KindOffer)); n != 1 {
		t.Fatalf("offers on the wire = %d, want 1", n)
	}
	if engB.last().offerCount() != 1 {
		t.Fatalf("B created %d offers, want 1", engB.last().offerCount())
	}
}

func TestScreenShare(t *testing.T) {
	ctx := context.Background()
	bus := signal.NewBus()
	c := collect(t, bus)

	m, eng, provider := newManager(t, "A", bus)
	if err := m.Connect(ctx, true, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Offer("B"); err != nil {
		t.Fatal(err)
	}
	linkB := eng.last()
	if err := m.Offer("C"); err != nil {
		t.Fatal(err)
	}
	linkC := eng.last()
	waitFor(t, "initial offers", func() bool { return len(c.byKind(signal.KindOffer)) == 2 })

	t.Run("start attaches to every link and renegotiates", func(t *testing.T) {
		if err := m.StartScreenShare(ctx); err != nil {
			t.Fatal(err)
		}
		if !m.Sharing() {
			t.Fatal("Sharing() = false after start")
		}
		screenID := provider.lastScreen.ID()
		waitFor(t, "renegotiation offers", func() bool {
			return linkB.offerCount() == 2 && linkC.offerCount() == 2
		})
		if !linkB.hasTrack(screenID) || !linkC.hasTrack(screenID) {
			t.Fatal("screen track not attached to every link")
		}
	})

	t.Run("second start is a no-op", func(t *testing.T) {
		if err := m.StartScreenShare(ctx); err != nil {
			t.Fatal(err)
		}
		if provider.screenAcquires != 1 {
			t.Fatalf("screen acquired %d times, want 1", provider.screenAcquires)
		}
	})

	t.Run("stop detaches, renegotiates and releases the device", func(t *testing.T) {
		screen := provider.lastScreen
		m.StopScreenShare()
		if m.Sharing() {
			t.Fatal("Sharing() = true after stop")
		}
		waitFor(t, "renegotiation offers", func() bool {
			return linkB.offerCount() == 3 && linkC.offerCount() == 3
		})
		if linkB.hasTrack(screen.ID()) || linkC.hasTrack(screen.ID()) {
			t.Fatal("screen track survived stop")
		}
		if !screen.isClosed() {
			t.Fatal("screen device not released")
		}
		// And stop again: nothing to do.
		m.StopScreenShare()
	})
}

// One failing link never drags down its siblings.
func TestLinkFailureIsolation(t *testing.T) {
	ctx := context.Background()
	bus := signal.NewBus()
	m, eng, _ := newManager(t, "A", bus)
	if err := m.Connect(ctx, false, false); err != nil {
		t.Fatal(err)
	}

	var (
		mu     sync.Mutex
		failed []domain.ParticipantID
	)
	m.OnLinkError(func(id domain.ParticipantID, err error) {
		if !errors.Is(err, domain.ErrNegotiationFailed) {
			t.Errorf("link error %v not tagged ErrNegotiationFailed", err)
		}
		mu.Lock()
		failed = append(failed, id)
		mu.Unlock()
	})

	eng.mu.Lock()
	eng.nextOfferErr = errors.New("sdp rejected")
	eng.mu.Unlock()
	if err := m.Offer("bad"); err != nil {
		t.Fatal(err)
	}
	if err := m.Offer("ok"); err != nil {
		t.Fatal(err)
	}
	okLink := eng.last()

	waitFor(t, "failure report", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 1
	})
	mu.Lock()
	who := failed[0]
	mu.Unlock()
	if who != "bad" {
		t.Fatalf("failure reported for %s, want bad", who)
	}
	if st, _ := m.LinkState("bad"); st != StateFailed {
		t.Fatalf("failed link state = %s", st)
	}

	waitFor(t, "healthy offer", func() bool { return okLink.offerCount() == 1 })
	okLink.fireState(media.LinkConnected)
	if st, _ := m.LinkState("ok"); st != StateConnected {
		t.Fatalf("healthy link state = %s, want connected", st)
	}
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	bus := signal.NewBus()
	m, eng, provider := newManager(t, "A", bus)
	if err := m.Connect(ctx, true, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Offer("B"); err != nil {
		t.Fatal(err)
	}
	if err := m.Offer("C"); err != nil {
		t.Fatal(err)
	}

	m.Disconnect()

	if n := m.ActiveLinks(); n != 0 {
		t.Fatalf("links after disconnect = %d, want 0", n)
	}
	for _, l := range eng.links {
		if !l.isClosed() {
			t.Fatal("link left open")
		}
	}
	if !provider.lastCamera.isClosed() {
		t.Fatal("camera not released")
	}

	// Idempotent, and anything after is rejected.
	m.Disconnect()
	if err := m.Offer("B"); !errors.Is(err, domain.ErrNegotiationFailed) {
		t.Fatalf("offer after disconnect = %v, want ErrNegotiationFailed", err)
	}
}

// A capture refusal downgrades the join instead of aborting it.
func TestConnectWithoutMedia(t *testing.T) {
	ctx := context.Background()
	bus := signal.NewBus()
	engine := &fakeEngine{}
	provider := &fakeProvider{denyCamera: true}
	m := NewManager("A", topic, bus, engine, media.NewCapture(provider))
	t.Cleanup(m.Disconnect)

	err := m.Connect(ctx, true, true)
	if !errors.Is(err, domain.ErrMediaAcquisitionDenied) {
		t.Fatalf("connect = %v, want ErrMediaAcquisitionDenied", err)
	}
	// Session participation continues without a camera.
	if err := m.Offer("B"); err != nil {
		t.Fatal(err)
	}
	c := collect(t, bus)
	waitFor(t, "track-less offer", func() bool { return len(c.byKind(signal.KindOffer)) == 1 })
	if len(engine.last().tracks) != 0 {
		t.Fatal("tracks attached despite denied capture")
	}
}
