package session

import (
	"context"
	"errors"
	"testing"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/store"
)

const topic = "session.s1"

func fixture(t *testing.T, selfID domain.ParticipantID) (*Lifecycle, *store.Memory, *signal.Bus) {
	t.Helper()
	sess, err := domain.NewSession("Algebra II", "host-1")
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemory()
	st.PutSession(sess)
	bus := signal.NewBus()
	return NewLifecycle(sess, selfID, topic, bus, st), st, bus
}

func TestHostTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("host join makes a scheduled session live", func(t *testing.T) {
		l, st, _ := fixture(t, "host-1")
		if err := l.MarkJoined(ctx); err != nil {
			t.Fatal(err)
		}
		if l.Status() != domain.SessionLive {
			t.Fatalf("status = %s, want live", l.Status())
		}
		got := l.Session()
		if got.StartedAt == nil {
			t.Fatal("actual-start not set")
		}
		persisted, err := st.GetSession(ctx, got.ID)
		if err != nil {
			t.Fatal(err)
		}
		if persisted.Status != domain.SessionLive || persisted.StartedAt == nil {
			t.Fatalf("store not updated: %+v", persisted)
		}
	})

	t.Run("guest join never changes status", func(t *testing.T) {
		l, _, _ := fixture(t, "guest-1")
		if err := l.MarkJoined(ctx); err != nil {
			t.Fatal(err)
		}
		if l.Status() != domain.SessionScheduled {
			t.Fatalf("status = %s, want scheduled", l.Status())
		}
	})

	t.Run("explicit start is host-only", func(t *testing.T) {
		l, _, _ := fixture(t, "guest-1")
		if err := l.Start(ctx); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("guest start = %v, want ErrUnauthorized", err)
		}
	})
}

func TestEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("guest end is rejected with no state change", func(t *testing.T) {
		l, st, _ := fixture(t, "guest-1")
		if err := l.End(ctx); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("guest end = %v, want ErrUnauthorized", err)
		}
		if l.Status() != domain.SessionScheduled {
			t.Fatalf("status changed to %s", l.Status())
		}
		persisted, _ := st.GetSession(ctx, l.Session().ID)
		if persisted.Status != domain.SessionScheduled {
			t.Fatalf("store changed to %s", persisted.Status)
		}
	})

	t.Run("host end persists then broadcasts then tears down", func(t *testing.T) {
		l, st, bus := fixture(t, "host-1")
		_ = l.MarkJoined(ctx)

		var broadcasts int
		unsub, _ := bus.Subscribe(topic, func(env signal.Envelope) {
			if env.Kind == signal.KindSessionEnded {
				broadcasts++
			}
		})
		defer unsub()

		endedFired := 0
		l.OnEnded(func() { endedFired++ })

		if err := l.End(ctx); err != nil {
			t.Fatal(err)
		}
		if l.Status() != domain.SessionEnded {
			t.Fatalf("status = %s, want ended", l.Status())
		}
		persisted, _ := st.GetSession(ctx, l.Session().ID)
		if persisted.Status != domain.SessionEnded || persisted.EndedAt == nil {
			t.Fatalf("store not updated: %+v", persisted)
		}
		if broadcasts != 1 {
			t.Fatalf("session-ended broadcast %d times, want 1", broadcasts)
		}
		if endedFired != 1 {
			t.Fatalf("onEnded fired %d times, want 1", endedFired)
		}

		// Ended is terminal and End stays idempotent.
		if err := l.End(ctx); err != nil {
			t.Fatal(err)
		}
		if broadcasts != 1 || endedFired != 1 {
			t.Fatal("second End re-fired side effects")
		}
		if err := l.Start(ctx); !errors.Is(err, domain.ErrSessionEnded) {
			t.Fatalf("start after end = %v, want ErrSessionEnded", err)
		}
	})

	t.Run("session-ended broadcast forces teardown for guests", func(t *testing.T) {
		l, _, _ := fixture(t, "guest-1")
		fired := 0
		l.OnEnded(func() { fired++ })

		l.HandleSessionEnded()
		l.HandleSessionEnded()

		if l.Status() != domain.SessionEnded {
			t.Fatalf("status = %s, want ended", l.Status())
		}
		if fired != 1 {
			t.Fatalf("onEnded fired %d times, want 1", fired)
		}
	})
}
