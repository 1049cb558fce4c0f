package domain

import "errors"

// Failure taxonomy of the live session coordinator. None of these is
// fatal to the process; callers contain them per link or per channel.
var (
	// ErrRelayUnavailable means the signaling relay is unreachable.
	// Publish calls are retryable; the session itself survives.
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrMediaAcquisitionDenied means a capture device was refused.
	// The session remains joinable without that device.
	ErrMediaAcquisitionDenied = errors.New("media acquisition denied")

	// ErrNegotiationFailed means one peer link could not establish.
	// Isolated to that participant, never aborts the session.
	ErrNegotiationFailed = errors.New("peer negotiation failed")

	// ErrUnauthorized means a non-host attempted a host-only
	// transition. Rejected locally with no state change.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionEnded means an operation arrived after the session
	// reached its terminal state.
	ErrSessionEnded = errors.New("session already ended")
)
