package signal

// Handler is invoked once per delivered envelope. Handlers must be
// idempotent: the relay offers at-least-once delivery.
type Handler func(Envelope)

// Unsubscribe revokes a subscription; safe to call more than once.
type Unsubscribe func()

// Channel is a named, session-scoped publish/subscribe topic.
// A subscriber never receives messages published before it joined.
type Channel interface {
	// Publish enqueues env for every current subscriber of topic.
	// Returns domain.ErrRelayUnavailable (wrapped) when the relay is
	// unreachable; callers treat that as retryable.
	Publish(topic string, env Envelope) error

	// Subscribe registers h for topic and returns the unsubscribe
	// capability.
	Subscribe(topic string, h Handler) (Unsubscribe, error)

	Close() error
}
