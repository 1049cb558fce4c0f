// Package control is the user-facing surface of the live session
// coordinator. It maps discrete intents onto the peer, presence,
// session and chat subsystems and owns the dispatch loop for the
// session's broadcast topic.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/chat"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/media"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/peer"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/presence"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/session"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/store"
)

type Layout string

const (
	LayoutGrid      Layout = "grid"
	LayoutSpotlight Layout = "spotlight"
)

// Topic names the broadcast channel of one session.
func Topic(id domain.SessionID) string {
	return "session." + string(id)
}

// Options wires a Surface. InviteBase is the public URL prefix the
// invite link is built from. Capture is optional: pass the same
// instance to every Surface in the process so views share the capture
// devices; when nil the Surface owns a private one built on Provider.
type Options struct {
	Self       domain.Participant
	Session    *domain.Session
	Channel    signal.Channel
	Store      store.Store
	Engine     media.Engine
	Provider   media.Provider
	Capture    *media.Capture
	InviteBase string
}

// Surface is the root object a client holds for the lifetime of one
// session view.
type Surface struct {
	self  domain.Participant
	topic string
	ch    signal.Channel
	st    store.Store

	lifecycle *session.Lifecycle
	peers     *peer.Manager
	roster    *presence.Synchronizer
	chat      *chat.Transcript

	mu         sync.Mutex
	joined     bool
	unsub      signal.Unsubscribe
	layout     Layout
	pinned     domain.ParticipantID
	unread     int
	inviteBase string
}

func NewSurface(o Options) *Surface {
	topic := Topic(o.Session.ID)
	capture := o.Capture
	if capture == nil {
		capture = media.NewCapture(o.Provider)
	}

	s := &Surface{
		self:       o.Self,
		topic:      topic,
		ch:         o.Channel,
		st:         o.Store,
		lifecycle:  session.NewLifecycle(o.Session, o.Self.ID, topic, o.Channel, o.Store),
		peers:      peer.NewManager(o.Self.ID, topic, o.Channel, o.Engine, capture),
		roster:     presence.NewSynchronizer(o.Self, o.Session.ID, topic, o.Channel, o.Store),
		chat:       chat.NewTranscript(o.Self.ID, topic, o.Channel),
		layout:     LayoutGrid,
		inviteBase: o.InviteBase,
	}

	s.lifecycle.OnEnded(s.teardown)
	s.roster.OnJoin(func(p domain.Participant) {
		// The joiner offers first; this side only opens the pending
		// link and waits.
		if err := s.peers.HandleJoin(p.ID); err != nil {
			log.Warn().Err(err).Str("module", "control").Str("peer", string(p.ID)).Msg("open pending link")
		}
	})
	s.roster.OnLeave(s.peers.HandleLeave)
	s.chat.OnMessage(func(m domain.ChatMessage) {
		if m.SenderID == s.self.ID {
			return
		}
		s.mu.Lock()
		s.unread++
		s.mu.Unlock()
	})
	return s
}

// Join subscribes to the session topic, bootstraps the roster from the
// store, acquires capture and offers toward every existing participant.
// It returns once local capture resolves; remote links keep
// negotiating in the background.
func (s *Surface) Join(ctx context.Context, wantAudio, wantVideo bool) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = true
	s.mu.Unlock()

	if s.lifecycle.Status() == domain.SessionEnded {
		s.mu.Lock()
		s.joined = false
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}

	unsub, err := s.ch.Subscribe(s.topic, s.dispatch)
	if err != nil {
		s.mu.Lock()
		s.joined = false
		s.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()

	// Roster bootstrap comes from the store, never from broadcast
	// history: the channel has none.
	if err := s.roster.Refetch(ctx); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("roster bootstrap")
	}

	var captureErr error
	if err := s.peers.Connect(ctx, wantAudio, wantVideo); err != nil {
		if !errors.Is(err, domain.ErrMediaAcquisitionDenied) {
			s.teardown()
			return err
		}
		// Media refused: surface it, stay in the session.
		captureErr = err
	}

	if err := s.st.RecordParticipantJoin(ctx, s.lifecycle.Session().ID, s.self.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("record join")
	}
	if err := s.lifecycle.MarkJoined(ctx); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("mark joined")
	}

	s.announceJoin()
	s.broadcastStatus()

	// Joiner offers first, toward everyone already present.
	for _, p := range s.roster.Remotes() {
		if err := s.peers.Offer(p.ID); err != nil {
			log.Warn().Err(err).Str("module", "control").Str("peer", string(p.ID)).Msg("offer")
		}
	}
	return captureErr
}

// Leave announces departure and tears the local session view down. It
// never ends the session, whatever the role.
func (s *Surface) Leave(ctx context.Context) {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return
	}

	env, err := signal.NewEnvelope(signal.KindParticipantChange, s.self.ID, signal.ParticipantChange{
		Type:   signal.ChangeLeave,
		PeerID: s.self.ID,
	})
	if err == nil {
		if err := s.ch.Publish(s.topic, env); err != nil {
			log.Warn().Err(err).Str("module", "control").Msg("announce leave")
		}
	}
	if err := s.st.RecordParticipantLeave(ctx, s.lifecycle.Session().ID, s.self.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("record leave")
	}
	s.teardown()
}

// EndSession is host-only; guests get domain.ErrUnauthorized and
// nothing changes. The lifecycle broadcast triggers teardown here and
// on every other client.
func (s *Surface) EndSession(ctx context.Context) error {
	return s.lifecycle.End(ctx)
}

func (s *Surface) ToggleMic() error {
	muted := !s.roster.Self().Status.Muted
	return s.roster.SetLocalStatus(domain.StatusPatch{Muted: &muted})
}

func (s *Surface) ToggleCamera() error {
	off := !s.roster.Self().Status.VideoOff
	return s.roster.SetLocalStatus(domain.StatusPatch{VideoOff: &off})
}

// ToggleScreenShare flips the local share and renegotiates every link;
// at most one local share exists at a time.
func (s *Surface) ToggleScreenShare(ctx context.Context) error {
	if s.peers.Sharing() {
		s.peers.StopScreenShare()
		off := false
		return s.roster.SetLocalStatus(domain.StatusPatch{ScreenSharing: &off})
	}
	if err := s.peers.StartScreenShare(ctx); err != nil {
		return err
	}
	on := true
	return s.roster.SetLocalStatus(domain.StatusPatch{ScreenSharing: &on})
}

func (s *Surface) RaiseHand() error { return s.setHand(true) }
func (s *Surface) LowerHand() error { return s.setHand(false) }

func (s *Surface) setHand(raised bool) error {
	if err := s.roster.SetLocalStatus(domain.StatusPatch{HandRaised: &raised}); err != nil {
		return err
	}
	env, err := signal.NewEnvelope(signal.KindHandRaise, s.self.ID, signal.HandRaise{
		PeerID: s.self.ID,
		Raised: raised,
	})
	if err != nil {
		return err
	}
	return s.ch.Publish(s.topic, env)
}

func (s *Surface) SendChat(body string) (domain.ChatMessage, error) {
	return s.chat.Send(body)
}

// InviteLink is the join URL for this session.
func (s *Surface) InviteLink() string {
	return s.inviteBase + "/join/" + string(s.lifecycle.Session().ID)
}

func (s *Surface) SetLayout(l Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = l
}

func (s *Surface) Layout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// Pin marks a participant as the spotlight target. UI-only, never
// broadcast.
func (s *Surface) Pin(id domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = id
}

func (s *Surface) Pinned() domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

func (s *Surface) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Surface) MarkChatRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = 0
}

func (s *Surface) Roster() []domain.Participant     { return s.roster.Roster() }
func (s *Surface) Self() domain.Participant         { return s.roster.Self() }
func (s *Surface) Session() domain.Session          { return s.lifecycle.Session() }
func (s *Surface) Transcript() []domain.ChatMessage { return s.chat.Messages() }
func (s *Surface) ActiveLinks() int                 { return s.peers.ActiveLinks() }

// Peers exposes the link manager for state queries.
func (s *Surface) Peers() *peer.Manager { return s.peers }

// dispatch routes every envelope from the session topic. The kind set
// is closed; anything else is logged and dropped.
func (s *Surface) dispatch(env signal.Envelope) {
	// Targeted negotiation traffic for somebody else.
	if env.Target != "" && env.Target != s.self.ID {
		return
	}

	switch env.Kind {
	case signal.KindStatusUpdate:
		if env.Sender == s.self.ID {
			return
		}
		var u signal.StatusUpdate
		if err := env.Decode(&u); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("bad status-update")
			return
		}
		s.roster.ApplyStatusUpdate(u)

	case signal.KindHandRaise:
		if env.Sender == s.self.ID {
			return
		}
		var h signal.HandRaise
		if err := env.Decode(&h); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("bad hand-raise")
			return
		}
		s.roster.ApplyHandRaise(h)

	case signal.KindParticipantChange:
		if env.Sender == s.self.ID {
			return
		}
		var c signal.ParticipantChange
		if err := env.Decode(&c); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("bad participant-change")
			return
		}
		s.roster.ApplyChange(context.Background(), c)

	case signal.KindChat:
		var c signal.Chat
		if err := env.Decode(&c); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("bad chat")
			return
		}
		s.chat.Apply(c)

	case signal.KindSessionEnded:
		s.lifecycle.HandleSessionEnded()

	case signal.KindOffer:
		if env.Sender == s.self.ID {
			return
		}
		var sd signal.SDP
		if err := env.Decode(&sd); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("bad offer")
			return
		}
		if err := s.peers.HandleOffer(env.Sender, sd.SDP); err != nil {
			log.Warn().Err(err).Str("module", "control").Str("peer", string(env.Sender)).Msg("handle offer")
		}

	case signal.KindAnswer:
		if env.Sender == s.self.ID {
			return
		}
		var sd signal.SDP
		if err := env.Decode(&sd); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("bad answer")
			return
		}
		if err := s.peers.HandleAnswer(env.Sender, sd.SDP); err != nil {
			log.Warn().Err(err).Str("module", "control").Str("peer", string(env.Sender)).Msg("handle answer")
		}

	case signal.KindCandidate:
		if env.Sender == s.self.ID {
			return
		}
		var c signal.Candidate
		if err := env.Decode(&c); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("bad candidate")
			return
		}
		_ = s.peers.HandleCandidate(env.Sender, c)

	default:
		log.Warn().Str("module", "control").Str("kind", string(env.Kind)).Msg("unknown control message")
	}
}

func (s *Surface) announceJoin() {
	env, err := signal.NewEnvelope(signal.KindParticipantChange, s.self.ID, signal.ParticipantChange{
		Type:      signal.ChangeJoin,
		PeerID:    s.self.ID,
		Name:      s.self.Name,
		AvatarURL: s.self.AvatarURL,
		Role:      s.self.Role,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "control").Msg("encode join")
		return
	}
	if err := s.ch.Publish(s.topic, env); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("announce join")
	}
}

// broadcastStatus pushes the full local vector so late learners
// converge on first receipt.
func (s *Surface) broadcastStatus() {
	if err := s.roster.SetLocalStatus(domain.StatusPatch{}); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("initial status broadcast")
	}
}

// teardown is idempotent; it runs on leave, on local end-session and
// on a session-ended broadcast.
func (s *Surface) teardown() {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return
	}
	s.joined = false
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	s.peers.Disconnect()
	if unsub != nil {
		unsub()
	}
	s.roster.Clear()
	log.Info().Str("module", "control").Str("session", string(s.lifecycle.Session().ID)).Msg("session view torn down")
}
