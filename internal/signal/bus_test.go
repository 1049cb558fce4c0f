package signal

import (
	"testing"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
)

func TestBusDelivery(t *testing.T) {
	bus := NewBus()

	t.Run("per-sender FIFO", func(t *testing.T) {
		var got []Kind
		unsub, err := bus.Subscribe("s1", func(env Envelope) {
			got = append(got, env.Kind)
		})
		if err != nil {
			t.Fatal(err)
		}
		defer unsub()

		for _, k := range []Kind{KindStatusUpdate, KindHandRaise, KindChat} {
			env, _ := NewEnvelope(k, "p1", nil)
			if err := bus.Publish("s1", env); err != nil {
				t.Fatal(err)
			}
		}
		want := []Kind{KindStatusUpdate, KindHandRaise, KindChat}
		if len(got) != len(want) {
			t.Fatalf("got %d deliveries, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("delivery %d = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("late subscriber sees no history", func(t *testing.T) {
		env, _ := NewEnvelope(KindChat, "p1", nil)
		if err := bus.Publish("s2", env); err != nil {
			t.Fatal(err)
		}

		n := 0
		unsub, err := bus.Subscribe("s2", func(Envelope) { n++ })
		if err != nil {
			t.Fatal(err)
		}
		defer unsub()
		if n != 0 {
			t.Fatalf("late subscriber received %d historic messages", n)
		}
	})

	t.Run("unsubscribe stops delivery and is idempotent", func(t *testing.T) {
		n := 0
		unsub, err := bus.Subscribe("s3", func(Envelope) { n++ })
		if err != nil {
			t.Fatal(err)
		}
		unsub()
		unsub()

		env, _ := NewEnvelope(KindChat, "p1", nil)
		if err := bus.Publish("s3", env); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Fatalf("received %d messages after unsubscribe", n)
		}
	})

	t.Run("topics are isolated", func(t *testing.T) {
		n := 0
		unsub, _ := bus.Subscribe("s4", func(Envelope) { n++ })
		defer unsub()

		env, _ := NewEnvelope(KindChat, "p1", nil)
		_ = bus.Publish("other", env)
		if n != 0 {
			t.Fatalf("received %d messages from another topic", n)
		}
	})
}

func TestBusClosed(t *testing.T) {
	bus := NewBus()
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	env, _ := NewEnvelope(KindChat, domain.ParticipantID("p1"), nil)
	if err := bus.Publish("s1", env); err != ErrChannelClosed {
		t.Fatalf("publish after close = %v, want ErrChannelClosed", err)
	}
	if _, err := bus.Subscribe("s1", func(Envelope) {}); err != ErrChannelClosed {
		t.Fatalf("subscribe after close = %v, want ErrChannelClosed", err)
	}
}
