package transport

import (
	"math/rand"
	"time"
)

// Reconnection defaults: first retry after ~1.5s, doubling each attempt,
// giving up after the fifth.
const (
	DefaultBackoffBase = 1500 * time.Millisecond
	DefaultMaxAttempts = 5
)

// BackoffPolicy decides whether and when to re-establish the connection
// after an unplanned closure. The delay before attempt n (1-indexed) is
// base × 2^(n−1), optionally stretched by up to 25% jitter so a fleet of
// clients does not reconnect in lockstep.
type BackoffPolicy struct {
	Base        time.Duration
	MaxAttempts int
	Jitter      bool
}

// DefaultBackoff returns the policy used when none is configured.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: DefaultBackoffBase, MaxAttempts: DefaultMaxAttempts, Jitter: true}
}

// Delay computes the wait before the given 1-indexed attempt. Jitter
// adds at most a quarter of the exponential delay, so the schedule stays
// monotonically non-decreasing across attempts.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base << (attempt - 1)
	if p.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	return d
}

// Exhausted reports whether the retry budget forbids the given attempt.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
