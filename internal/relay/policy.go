package relay

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickSubscriber
)

// Policy decides what happens to a subscriber whose send queue is
// full. The relay is best-effort, so the default is to kick: a client
// that cannot keep up re-derives state from the store, not from
// replay.
type Policy interface {
	OnBackpressure(topic, token string) BackpressureAction
}

type KickPolicy struct{}

func (KickPolicy) OnBackpressure(string, string) BackpressureAction {
	return KickSubscriber
}
