package domain

import "errors"

// Error taxonomy for the distribution core. Handshake-time failures are
// fatal to the connection attempt; everything else is request-scoped.
var (
	// ErrUnauthorized means the bearer credential is missing, invalid or
	// expired. The connection attempt is refused.
	ErrUnauthorized = errors.New("authentication required")

	// ErrForbidden means the session's role does not permit the requested
	// action. Only the offending request is rejected.
	ErrForbidden = errors.New("operation not permitted for role")

	// ErrRateLimited means the per-session request ceiling was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrQueueFull means the event queue is at capacity and the enqueue was
	// rejected without mutating the queue.
	ErrQueueFull = errors.New("event queue is at capacity")

	// ErrNotFound is returned for lookups that matched nothing.
	ErrNotFound = errors.New("not found")
)
