package relay

import (
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu       sync.Mutex
	recv     [][]byte
	failSend bool
	closed   bool
}

func (c *fakeConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return ErrBackpressure
	}
	c.recv = append(c.recv, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recv)
}

func TestHubFanout(t *testing.T) {
	h := NewHub()
	a, b := &fakeConn{}, &fakeConn{}
	h.Subscribe("t1", "a", a)
	h.Subscribe("t1", "b", b)

	res := h.Publish("t1", []byte("x"))
	if res.SentTo != 2 || len(res.Dropped) != 0 {
		t.Fatalf("result = %+v, want 2 sent, none dropped", res)
	}
	// Every current subscriber gets the frame, the sender included.
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("deliveries a=%d b=%d, want 1/1", a.count(), b.count())
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	h := NewHub()
	a := &fakeConn{}
	h.Subscribe("t1", "a", a)
	h.Publish("t1", []byte("early"))

	late := &fakeConn{}
	h.Subscribe("t1", "late", late)
	if late.count() != 0 {
		t.Fatal("late subscriber received history")
	}
	h.Publish("t1", []byte("now"))
	if late.count() != 1 {
		t.Fatalf("late subscriber got %d frames, want 1", late.count())
	}
}

func TestTopicIsolation(t *testing.T) {
	h := NewHub()
	a, b := &fakeConn{}, &fakeConn{}
	h.Subscribe("t1", "a", a)
	h.Subscribe("t2", "b", b)

	h.Publish("t1", []byte("x"))
	if b.count() != 0 {
		t.Fatal("frame leaked across topics")
	}
}

func TestBackpressureReporting(t *testing.T) {
	h := NewHub()
	ok, slow := &fakeConn{}, &fakeConn{failSend: true}
	h.Subscribe("t1", "ok", ok)
	h.Subscribe("t1", "slow", slow)

	res := h.Publish("t1", []byte("x"))
	if res.SentTo != 1 {
		t.Fatalf("sent to %d, want 1", res.SentTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "slow" {
		t.Fatalf("dropped = %v, want [slow]", res.Dropped)
	}
	// A slow subscriber never blocks the healthy one.
	if ok.count() != 1 {
		t.Fatal("healthy subscriber starved")
	}
}

func TestDropClient(t *testing.T) {
	h := NewHub()
	a := &fakeConn{}
	h.Subscribe("t1", "a", a)
	h.Subscribe("t2", "a", a)
	h.Subscribe("t1", "b", &fakeConn{})

	h.DropClient("a")
	if h.SubscriberCount("t1") != 1 {
		t.Fatalf("t1 subscribers = %d, want 1", h.SubscriberCount("t1"))
	}
	if h.SubscriberCount("t2") != 0 {
		t.Fatal("t2 kept the dropped client")
	}
	// Empty topics vanish entirely.
	if got := len(h.Topics()); got != 1 {
		t.Fatalf("topics = %d, want 1", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub()
	a := &fakeConn{}
	h.Subscribe("t1", "a", a)
	h.Unsubscribe("t1", "a")

	h.Publish("t1", []byte("x"))
	if a.count() != 0 {
		t.Fatal("unsubscribed conn still receives")
	}
	if len(h.Topics()) != 0 {
		t.Fatal("empty topic not removed")
	}
}

func TestSubscribeLimiter(t *testing.T) {
	rl := NewSubscribeLimiter(2, 100*time.Millisecond)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("attempts under the limit rejected")
	}
	if rl.Allow("a") {
		t.Fatal("third attempt inside the window allowed")
	}
	// Independent tokens do not share a budget.
	if !rl.Allow("b") {
		t.Fatal("fresh token rejected")
	}

	time.Sleep(120 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("attempt after the window slid rejected")
	}
}
