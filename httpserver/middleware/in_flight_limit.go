/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"

	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/restapi"
)

// InFlightLimitErrCode is the error code put into the response body
// when a request is rejected because too many requests are already being served.
const InFlightLimitErrCode = "tooManyInFlightRequests"

// InFlightLimitParams carries the rejection details passed to InFlightLimitOnRejectFunc.
type InFlightLimitParams struct {
	ResponseStatusCode int
	ErrDomain          string
}

// InFlightLimitOnRejectFunc decides what to do with a request that exceeded the in-flight limit.
type InFlightLimitOnRejectFunc func(rw http.ResponseWriter, r *http.Request,
	params InFlightLimitParams, next http.Handler, logger log.FieldLogger)

// InFlightLimitOpts configures the in-flight limiting middleware.
type InFlightLimitOpts struct {
	ResponseStatusCode int
	DryRun             bool

	OnReject InFlightLimitOnRejectFunc
}

type inFlightLimitHandler struct {
	next           http.Handler
	slots          chan struct{}
	errDomain      string
	respStatusCode int
	dryRun         bool

	onReject InFlightLimitOnRejectFunc
}

// InFlightLimit caps the number of concurrently served HTTP requests.
// Requests over the cap are rejected with 503.
func InFlightLimit(limit int, errDomain string) (func(next http.Handler) http.Handler, error) {
	return InFlightLimitWithOpts(limit, errDomain, InFlightLimitOpts{})
}

// MustInFlightLimit is like InFlightLimit but panics on error.
func MustInFlightLimit(limit int, errDomain string) func(next http.Handler) http.Handler {
	mw, err := InFlightLimit(limit, errDomain)
	if err != nil {
		panic(err)
	}
	return mw
}

// InFlightLimitWithOpts is a configurable version of InFlightLimit.
func InFlightLimitWithOpts(limit int, errDomain string, opts InFlightLimitOpts) (func(next http.Handler) http.Handler, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit should be positive, got %d", limit)
	}

	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusServiceUnavailable
	}

	onReject := opts.OnReject
	if onReject == nil {
		onReject = DefaultInFlightLimitOnReject
		if opts.DryRun {
			onReject = DefaultInFlightLimitOnRejectInDryRun
		}
	}

	return func(next http.Handler) http.Handler {
		return &inFlightLimitHandler{
			next:           next,
			slots:          make(chan struct{}, limit),
			errDomain:      errDomain,
			respStatusCode: respStatusCode,
			dryRun:         opts.DryRun,
			onReject:       onReject,
		}
	}, nil
}

// MustInFlightLimitWithOpts is like InFlightLimitWithOpts but panics on error.
func MustInFlightLimitWithOpts(limit int, errDomain string, opts InFlightLimitOpts) func(next http.Handler) http.Handler {
	mw, err := InFlightLimitWithOpts(limit, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *inFlightLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	select {
	case h.slots <- struct{}{}:
		defer func() { <-h.slots }()
		h.next.ServeHTTP(rw, r)
	default:
		params := InFlightLimitParams{ResponseStatusCode: h.respStatusCode, ErrDomain: h.errDomain}
		h.onReject(rw, r, params, h.next, GetLoggerFromContext(r.Context()))
	}
}

// DefaultInFlightLimitOnReject responds with a service error and does not call the next handler.
func DefaultInFlightLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params InFlightLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(log.String(userAgentLogFieldKey, r.UserAgent()))
	}
	apiErr := restapi.NewError(params.ErrDomain, InFlightLimitErrCode, "Too many in-flight requests.")
	restapi.RespondError(rw, params.ResponseStatusCode, apiErr, logger)
}

// DefaultInFlightLimitOnRejectInDryRun logs the would-be rejection and serves the request anyway.
func DefaultInFlightLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params InFlightLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many in-flight requests, serving will be continued because of dry run mode",
			log.String(userAgentLogFieldKey, r.UserAgent()))
	}
	next.ServeHTTP(rw, r)
}
