// Package ratelimit provides admission control keyed by caller identity and
// endpoint over a fixed time window.
//
// Two interchangeable backends implement the same contract: an in-process
// map for single-instance deployments and a Redis-backed store for
// horizontally scaled ones. The backend is a configuration choice; callers
// only see the Limiter interface.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Permitted reports whether the request may proceed.
	Permitted bool
	// RetryAfter is the time until the window resets. Set when denied.
	RetryAfter time.Duration
	// Remaining is the number of requests left in the current window.
	Remaining int
	// Limit is the configured per-window maximum.
	Limit int
}

// Limiter admits or rejects a request for the given caller and endpoint.
// Counter updates for the same (identity, endpoint) pair are linearizable:
// no two concurrent requests observe the same remaining slot.
type Limiter interface {
	Allow(ctx context.Context, identity, endpoint string) (Decision, error)
}

func key(identity, endpoint string) string {
	return identity + ":" + endpoint
}
