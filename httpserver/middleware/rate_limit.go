/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/ratelimit"
	"github.com/acronis/go-ratekeeper/restapi"
)

// RateLimitErrCode is an error code that is used in a response body
// if the request is rejected by the middleware that limits the rate of HTTP requests.
const RateLimitErrCode = "tooManyRequests"

// RateLimitLogFieldKey it is the name of the logged field that contains a key for the requests rate limiter.
const RateLimitLogFieldKey = "rate_limit_key"

// RateLimitDefaultKey is a key under which requests without a derivable caller
// identity are accounted when the fallback is explicitly allowed (see RateLimitOpts.AllowDefaultKey).
const RateLimitDefaultKey = "default"

// ErrRateLimitKeyUnavailable is returned by a RateLimitGetKeyFunc when no key can be
// derived from the request. Unless the fallback default key is allowed, such requests
// are rejected.
var ErrRateLimitKeyUnavailable = errors.New("rate limit key is unavailable")

// RateLimiter makes admission decisions for a key under a rule set.
// Implemented by coordinator.Coordinator.
type RateLimiter interface {
	RateLimit(ctx context.Context, key string, rules []ratelimit.Rule) (*ratelimit.Rejection, error)
}

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting or handling an occurred error.
type RateLimitParams struct {
	ErrDomain          string
	ResponseStatusCode int
	Key                string
	RetryAfter         time.Duration
}

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOnErrorFunc is a function that is called when an error occurs during the rate limiting.
type RateLimitOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitGetKeyFunc is a function that is called for getting key for rate limiting.
type RateLimitGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// GetKey derives the rate limiting key from the request.
	// If nil, the caller's network address is used (see RateLimitGetKeyFromRemoteAddr).
	GetKey RateLimitGetKeyFunc

	// ResponseStatusCode is a status code of rejecting responses. 429 by default.
	ResponseStatusCode int

	// BypassKeyPatterns is a list of glob patterns ('*' and '?' wildcards);
	// requests whose key matches any of them are not rate limited.
	BypassKeyPatterns []string

	// AllowDefaultKey makes requests without a derivable key accounted under
	// RateLimitDefaultKey instead of being rejected.
	AllowDefaultKey bool

	// DryRun makes the middleware only log and measure rejections without enforcing them.
	DryRun bool

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc
}

type rateLimitHandler struct {
	next           http.Handler
	limiter        RateLimiter
	rules          []ratelimit.Rule
	getKey         RateLimitGetKeyFunc
	bypassKey      func(key string) bool
	allowDefault   bool
	errDomain      string
	respStatusCode int

	onReject RateLimitOnRejectFunc
	onError  RateLimitOnErrorFunc
}

// RateLimit is a middleware that limits the rate of HTTP requests using the passed limiter and rules.
func RateLimit(limiter RateLimiter, rules []ratelimit.Rule, errDomain string) (func(next http.Handler) http.Handler, error) {
	return RateLimitWithOpts(limiter, rules, errDomain, RateLimitOpts{})
}

// MustRateLimit is a version of RateLimit that panics if an error occurs.
func MustRateLimit(limiter RateLimiter, rules []ratelimit.Rule, errDomain string) func(next http.Handler) http.Handler {
	mw, err := RateLimit(limiter, rules, errDomain)
	if err != nil {
		panic(err)
	}
	return mw
}

// RateLimitWithOpts is a configurable version of a middleware to limit the rate of HTTP requests.
func RateLimitWithOpts(
	limiter RateLimiter, rules []ratelimit.Rule, errDomain string, opts RateLimitOpts,
) (func(next http.Handler) http.Handler, error) {
	if err := ratelimit.ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("validate rules: %w", err)
	}

	getKey := opts.GetKey
	if getKey == nil {
		getKey = RateLimitGetKeyFromRemoteAddr
	}

	var bypassKey func(key string) bool
	if len(opts.BypassKeyPatterns) != 0 {
		compiledPatterns := make([]func(s string) bool, 0, len(opts.BypassKeyPatterns))
		for _, pattern := range opts.BypassKeyPatterns {
			compiledPatterns = append(compiledPatterns, glob.Compile(pattern))
		}
		bypassKey = func(key string) bool {
			for _, match := range compiledPatterns {
				if match(key) {
					return true
				}
			}
			return false
		}
	}

	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusTooManyRequests
	}

	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:           next,
			limiter:        limiter,
			rules:          rules,
			getKey:         getKey,
			bypassKey:      bypassKey,
			allowDefault:   opts.AllowDefaultKey,
			errDomain:      errDomain,
			respStatusCode: respStatusCode,
			onReject:       makeRateLimitOnRejectFunc(opts),
			onError:        makeRateLimitOnErrorFunc(opts),
		}
	}, nil
}

// MustRateLimitWithOpts is a version of RateLimitWithOpts that panics if an error occurs.
func MustRateLimitWithOpts(
	limiter RateLimiter, rules []ratelimit.Rule, errDomain string, opts RateLimitOpts,
) func(next http.Handler) http.Handler {
	mw, err := RateLimitWithOpts(limiter, rules, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromContext(r.Context())

	key, bypass, err := h.getKey(r)
	if err != nil {
		if !errors.Is(err, ErrRateLimitKeyUnavailable) {
			h.onError(rw, r, h.makeParams(key, 0), err, h.next, logger)
			return
		}
		if !h.allowDefault {
			// No caller identity and no fallback permitted: fail closed.
			h.onReject(rw, r, h.makeParams(key, 0), h.next, logger)
			return
		}
		key = RateLimitDefaultKey
	}
	if bypass || (h.bypassKey != nil && h.bypassKey(key)) {
		h.next.ServeHTTP(rw, r)
		return
	}

	rejection, err := h.limiter.RateLimit(r.Context(), key, h.rules)
	if err != nil {
		h.onError(rw, r, h.makeParams(key, 0), err, h.next, logger)
		return
	}
	if rejection != nil {
		h.onReject(rw, r, h.makeParams(key, time.Duration(rejection.RetryAfter)*time.Second), h.next, logger)
		return
	}
	h.next.ServeHTTP(rw, r)
}

func (h *rateLimitHandler) makeParams(key string, retryAfter time.Duration) RateLimitParams {
	return RateLimitParams{
		ErrDomain:          h.errDomain,
		ResponseStatusCode: h.respStatusCode,
		Key:                key,
		RetryAfter:         retryAfter,
	}
}

// RateLimitGetKeyFromRemoteAddr derives the rate limiting key from the caller's network address.
// It returns ErrRateLimitKeyUnavailable when the address is missing.
func RateLimitGetKeyFromRemoteAddr(r *http.Request) (key string, bypass bool, err error) {
	if r.RemoteAddr == "" {
		return "", false, ErrRateLimitKeyUnavailable
	}
	host, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		return r.RemoteAddr, false, nil
	}
	return host, false, nil
}

// DefaultRateLimitOnReject sends a rejecting HTTP response with a Retry-After header
// when the rate limit is exceeded.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	if params.RetryAfter > 0 {
		rw.Header().Set("Retry-After", strconv.FormatInt(int64(params.RetryAfter/time.Second), 10))
	}
	apiErr := restapi.NewError(params.ErrDomain, RateLimitErrCode, "Too many requests.")
	restapi.RespondError(rw, params.ResponseStatusCode, apiErr, logger)
}

// DefaultRateLimitOnError sends an HTTP response when an error occurs during the rate limiting.
func DefaultRateLimitOnError(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error(err.Error(), log.String(RateLimitLogFieldKey, params.Key))
	}
	restapi.RespondInternalError(rw, params.ErrDomain, logger)
}

// DefaultRateLimitOnRejectInDryRun logs the rejection and continues serving the request.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
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

func makeRateLimitOnErrorFunc(opts RateLimitOpts) RateLimitOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return DefaultRateLimitOnError
}
