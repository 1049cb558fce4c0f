package signal

// Frame is the wire unit between a client channel and the relay.
// Ops subscribe/unsubscribe/publish flow client -> relay; op message
// flows relay -> client.
type Frame struct {
	Op    string    `json:"op"`
	Topic string    `json:"topic,omitempty"`
	Env   *Envelope `json:"env,omitempty"`
}

const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpMessage     = "message"
	OpPing        = "ping"
	OpPong        = "pong"
)
