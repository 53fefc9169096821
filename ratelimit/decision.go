/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

// Decision is the outcome of evaluating all rules for one key.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// RetryAt is the unix-second timestamp after which the caller may retry.
	// It is zero when the request is allowed.
	RetryAt int64
}

// Allow returns an admitting decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Limit returns a rejecting decision with the given retry timestamp.
func Limit(retryAt int64) Decision {
	return Decision{RetryAt: retryAt}
}

// RetryAfter returns the number of seconds until the caller may retry,
// recomputed against the passed moment. The countdown keeps decreasing when the
// same decision is served multiple times (e.g. from a response cache).
func (d Decision) RetryAfter(now int64) int64 {
	if d.Allowed {
		return 0
	}
	if d.RetryAt <= now {
		return 0
	}
	return d.RetryAt - now
}

// Cacheable reports whether the decision may be stored in a shared response cache.
// Only rejections with a future retry timestamp are worth caching.
func (d Decision) Cacheable(now int64) bool {
	return !d.Allowed && d.RetryAt > now
}

// Rejection is a negative decision prepared for delivery to the caller.
// RetryAfter counts down from call to call for the same descriptor,
// it is recomputed each time a rejection is returned.
type Rejection struct {
	// RetryAt is the unix time when the caller may retry.
	RetryAt int64

	// RetryAfter is the number of seconds until RetryAt, as of the moment
	// the rejection was produced.
	RetryAfter int64
}
