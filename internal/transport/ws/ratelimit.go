package ws

import (
	"time"

	"golang.org/x/time/rate"
)

// newSessionLimiter builds the per-session request ceiling: a token bucket
// sized so at most max requests pass within the configured window. Exceeding
// it rejects the triggering request only; the session stays connected.
func newSessionLimiter(window time.Duration, max int) *rate.Limiter {
	if window <= 0 || max <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(max)), max)
}
