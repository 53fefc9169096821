/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"

	"github.com/acronis/go-ratekeeper/ratelimit"
)

// LocalThrottleDefaultMaxKeys is the default number of keys tracked by the in-memory GCRA store.
const LocalThrottleDefaultMaxKeys = 65536

// LocalThrottleOpts represents an options for LocalThrottle middleware.
type LocalThrottleOpts struct {
	// GetKey derives the throttling key from the request.
	// If nil, the caller's network address is used (see RateLimitGetKeyFromRemoteAddr).
	GetKey RateLimitGetKeyFunc

	// ResponseStatusCode is a status code of rejecting responses. 429 by default.
	ResponseStatusCode int

	// MaxBurst is the number of requests that may exceed the steady rate in a burst.
	MaxBurst int

	// MaxKeys is the number of keys tracked by the in-memory store.
	// If zero, LocalThrottleDefaultMaxKeys is used.
	MaxKeys int

	// DryRun makes the middleware only log rejections without enforcing them.
	DryRun bool

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc
}

type localThrottleHandler struct {
	next           http.Handler
	limiter        *throttled.GCRARateLimiterCtx
	getKey         RateLimitGetKeyFunc
	errDomain      string
	respStatusCode int

	onReject RateLimitOnRejectFunc
	onError  RateLimitOnErrorFunc
}

// LocalThrottle is a middleware that applies a node-local leaky bucket (GCRA variant)
// to incoming requests. Unlike RateLimit it consults no shared state, which makes it
// suitable as a cheap first line of defense in front of more expensive admission checks.
// More details about the algorithm: https://brandur.org/rate-limiting#gcra.
func LocalThrottle(rate ratelimit.Rule, errDomain string) (func(next http.Handler) http.Handler, error) {
	return LocalThrottleWithOpts(rate, errDomain, LocalThrottleOpts{})
}

// MustLocalThrottle is a version of LocalThrottle that panics if an error occurs.
func MustLocalThrottle(rate ratelimit.Rule, errDomain string) func(next http.Handler) http.Handler {
	mw, err := LocalThrottle(rate, errDomain)
	if err != nil {
		panic(err)
	}
	return mw
}

// LocalThrottleWithOpts is a configurable version of a middleware to throttle HTTP requests locally.
func LocalThrottleWithOpts(
	rate ratelimit.Rule, errDomain string, opts LocalThrottleOpts,
) (func(next http.Handler) http.Handler, error) {
	if err := rate.Validate(); err != nil {
		return nil, fmt.Errorf("validate rate: %w", err)
	}

	maxKeys := opts.MaxKeys
	if maxKeys == 0 {
		maxKeys = LocalThrottleDefaultMaxKeys
	}
	gcraStore, err := memstore.NewCtx(maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new in-memory store: %w", err)
	}
	quota := throttled.RateQuota{
		MaxRate:  throttled.PerDuration(rate.Limit, time.Duration(rate.Interval)*time.Second),
		MaxBurst: opts.MaxBurst,
	}
	gcraLimiter, err := throttled.NewGCRARateLimiterCtx(gcraStore, quota)
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}

	getKey := opts.GetKey
	if getKey == nil {
		getKey = RateLimitGetKeyFromRemoteAddr
	}
	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusTooManyRequests
	}

	return func(next http.Handler) http.Handler {
		return &localThrottleHandler{
			next:           next,
			limiter:        gcraLimiter,
			getKey:         getKey,
			errDomain:      errDomain,
			respStatusCode: respStatusCode,
			onReject:       makeLocalThrottleOnRejectFunc(opts),
			onError:        makeRateLimitOnErrorFunc(RateLimitOpts{OnError: opts.OnError}),
		}
	}, nil
}

// MustLocalThrottleWithOpts is a version of LocalThrottleWithOpts that panics if an error occurs.
func MustLocalThrottleWithOpts(
	rate ratelimit.Rule, errDomain string, opts LocalThrottleOpts,
) func(next http.Handler) http.Handler {
	mw, err := LocalThrottleWithOpts(rate, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *localThrottleHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromContext(r.Context())

	key, bypass, err := h.getKey(r)
	if err != nil {
		if !errors.Is(err, ErrRateLimitKeyUnavailable) {
			h.onError(rw, r, h.makeParams(key, 0), err, h.next, logger)
			return
		}
		// A local guard does not gate on caller identity, unidentified requests share one bucket.
		key = RateLimitDefaultKey
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}

	limited, res, err := h.limiter.RateLimitCtx(r.Context(), key, 1)
	if err != nil {
		h.onError(rw, r, h.makeParams(key, 0), err, h.next, logger)
		return
	}
	if limited {
		h.onReject(rw, r, h.makeParams(key, res.RetryAfter), h.next, logger)
		return
	}
	h.next.ServeHTTP(rw, r)
}

func (h *localThrottleHandler) makeParams(key string, retryAfter time.Duration) RateLimitParams {
	return RateLimitParams{
		ErrDomain:          h.errDomain,
		ResponseStatusCode: h.respStatusCode,
		Key:                key,
		RetryAfter:         retryAfter,
	}
}

func makeLocalThrottleOnRejectFunc(opts LocalThrottleOpts) RateLimitOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}
