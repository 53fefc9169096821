/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

// Log is the persisted admission history of one key: unix-second timestamps of
// admitted requests ordered strictly newest-first. Every admission is prepended,
// never appended or reordered. Trimming and counting stop scanning at the first
// timestamp that falls out of the window, relying on everything after it being
// older still.
type Log []int64

// Trim returns the longest prefix of the log whose timestamps are still inside
// the given interval, counting from now. Window membership is inclusive: a
// timestamp exactly interval seconds old is kept.
func (l Log) Trim(interval, now int64) Log {
	n, _ := l.countWithin(interval, now)
	return l[:n:n]
}

// countWithin returns the number of timestamps inside the rule window and the
// oldest timestamp still inside it (the window boundary). Boundary is zero when
// the window is empty.
func (l Log) countWithin(interval, now int64) (count int, boundary int64) {
	for _, ts := range l {
		if ts+interval < now {
			break
		}
		boundary = ts
		count++
	}
	return count, boundary
}

// prepend records an admission keeping the newest-first order.
// A timestamp older than the current head would break the scan-order invariant
// (possible on clock regression), so it is clamped to the head value.
func (l Log) prepend(ts int64) Log {
	if len(l) > 0 && ts < l[0] {
		ts = l[0]
	}
	res := make(Log, 0, len(l)+1)
	res = append(res, ts)
	return append(res, l...)
}

// DecideOpts alters the admission policy of Decide.
type DecideOpts struct {
	// CountRejected makes rejected attempts consume capacity: the attempt
	// timestamp is recorded in the log even when the decision is negative.
	// The default (false) keeps rejections free of charge, matching the
	// lenient upstream policy.
	CountRejected bool
}

// Decide evaluates all rules against the log at the given moment and returns
// the decision together with the new log state that must be persisted
// unconditionally: even a rejection trims stale entries, keeping storage bounded.
//
// Every rule is evaluated independently, not short-circuited after the first
// violation: each violated rule contributes its own candidate retry time
// (window boundary + interval), and the latest of them governs.
func Decide(l Log, rules []Rule, now int64) (Decision, Log) {
	return DecideWithOpts(l, rules, now, DecideOpts{})
}

// DecideWithOpts is a version of Decide with an ability to alter the admission policy.
func DecideWithOpts(l Log, rules []Rule, now int64, opts DecideOpts) (Decision, Log) {
	var biggestInterval int64
	for _, r := range rules {
		if int64(r.Interval) > biggestInterval {
			biggestInterval = int64(r.Interval)
		}
	}

	working := l.Trim(biggestInterval, now)

	var retryAt int64
	violated := false
	for _, r := range rules {
		count, boundary := working.countWithin(int64(r.Interval), now)
		if count < r.Limit {
			continue
		}
		violated = true
		if candidate := boundary + int64(r.Interval); candidate > retryAt {
			retryAt = candidate
		}
	}

	if !violated {
		return Allow(), working.prepend(now)
	}
	if opts.CountRejected {
		working = working.prepend(now)
	}
	return Limit(retryAt), working
}
