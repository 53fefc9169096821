/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-ratekeeper/httpserver/middleware"
	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/restapi"
)

// StatusClientClosedRequest is the Nginx-style HTTP status code reported when
// the client closed the request before the server could respond.
const StatusClientClosedRequest = 499

// HealthCheckComponentName names a checked component, e.g. "key_store".
type HealthCheckComponentName = string

// HealthCheckStatus is the resulting status of a single component check.
type HealthCheckStatus int

const (
	HealthCheckStatusOK HealthCheckStatus = iota
	HealthCheckStatusFail
)

// HealthCheckResult maps component names to their check statuses.
type HealthCheckResult = map[HealthCheckComponentName]HealthCheckStatus

// HealthCheck reports the statuses of the service's components.
type HealthCheck = func() (HealthCheckResult, error)

// HealthCheckContext is a HealthCheck with access to the request context.
type HealthCheckContext = func(ctx context.Context) (HealthCheckResult, error)

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler serves the /healthz endpoint.
type HealthCheckHandler struct {
	healthCheckFn HealthCheckContext
}

// NewHealthCheckHandler creates a handler invoking fn on every request.
// A nil fn reports an empty healthy result.
func NewHealthCheckHandler(fn HealthCheck) *HealthCheckHandler {
	if fn == nil {
		fn = func() (HealthCheckResult, error) {
			return HealthCheckResult{}, nil
		}
	}
	return &HealthCheckHandler{func(_ context.Context) (HealthCheckResult, error) {
		return fn()
	}}
}

// NewHealthCheckHandlerContext is NewHealthCheckHandler for context-aware checks.
// A nil fn reports an empty result with the context's error.
func NewHealthCheckHandlerContext(fn HealthCheckContext) *HealthCheckHandler {
	if fn == nil {
		fn = func(ctx context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{}, ctx.Err()
		}
	}
	return &HealthCheckHandler{fn}
}

// ServeHTTP runs the health check and reports 200, 503 on an unhealthy
// component, 499 on client cancellation, or 500 on a check error.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	result, err := h.healthCheckFn(r.Context())
	if err != nil {
		if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
			logger.Error("error while checking health", log.Error(err))
		}
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
		} else {
			rw.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	unhealthy := false
	respData := healthCheckResponseData{Components: map[string]bool{}}
	for name, status := range result {
		respData.Components[name] = status == HealthCheckStatusOK
		if status == HealthCheckStatusFail {
			unhealthy = true
		}
	}

	// The check may ignore the context, cancellation still wins.
	if errors.Is(r.Context().Err(), context.Canceled) {
		rw.WriteHeader(StatusClientClosedRequest)
		return
	}

	respStatus := http.StatusOK
	if unhealthy {
		respStatus = http.StatusServiceUnavailable
	}
	restapi.RespondCodeAndJSON(rw, respStatus, respData, middleware.GetLoggerFromContext(r.Context()))
}
