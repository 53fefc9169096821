/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"fmt"
	"net/http"

	"github.com/acronis/go-ratekeeper/httpserver/middleware"
	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/ratelimit"
	"github.com/acronis/go-ratekeeper/restapi"
)

// DecisionStatusOK and DecisionStatusLimited are the values of the "status"
// field in the decision endpoint's response.
const (
	DecisionStatusOK      = "OK"
	DecisionStatusLimited = "LIMITED"
)

// ErrorDomainRateKeeper is an error domain used in the decision endpoint's error responses.
const ErrorDomainRateKeeper = "RateKeeper"

// Error codes returned by the decision endpoint.
const (
	ErrCodeMalformedDescriptor = "malformedDescriptor"
)

// MetricsLabelDecision is the request metrics label carrying the decision outcome.
// Pass it in HTTPRequestMetricsOpts.CustomLabelNames to get per-decision request metrics.
const MetricsLabelDecision = "decision"

// DecisionResponse is a response body of the decision endpoint.
type DecisionResponse struct {
	Status  string `json:"status"`
	RetryAt int64  `json:"retryAt,omitempty"`
}

// DecideHandler is an HTTP handler serving admission decisions.
// It answers GET requests carrying a descriptor in the query string
// (key in "k", rules in repeated "r" params) and responds with the decision.
// Negative decisions carry a Cache-Control header allowing intermediaries
// to cache them until the retry time passes.
type DecideHandler struct {
	coordinator *Coordinator
	logger      log.FieldLogger
}

// NewDecideHandler creates a new DecideHandler.
func NewDecideHandler(coordinator *Coordinator, logger log.FieldLogger) *DecideHandler {
	return &DecideHandler{coordinator: coordinator, logger: logger}
}

// ServeHTTP implements the http.Handler interface.
func (h *DecideHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	desc, err := ratelimit.ParseDescriptor(r.URL.RawQuery)
	if err != nil {
		apiErr := restapi.NewError(ErrorDomainRateKeeper, ErrCodeMalformedDescriptor, err.Error())
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, h.logger)
		return
	}

	rejection, err := h.coordinator.RateLimit(r.Context(), desc.Key, desc.Rules)
	if err != nil {
		h.logger.Error("decision failed", log.String("key", desc.Key), log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomainRateKeeper, h.logger)
		return
	}

	if rejection == nil {
		h.setDecisionMetricsLabel(r, DecisionStatusOK)
		restapi.RespondJSON(rw, &DecisionResponse{Status: DecisionStatusOK}, h.logger)
		return
	}

	h.setDecisionMetricsLabel(r, DecisionStatusLimited)
	if rejection.RetryAfter > 0 {
		rw.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", rejection.RetryAfter))
	}
	restapi.RespondJSON(rw, &DecisionResponse{Status: DecisionStatusLimited, RetryAt: rejection.RetryAt}, h.logger)
}

func (h *DecideHandler) setDecisionMetricsLabel(r *http.Request, status string) {
	if mp := middleware.GetMetricsParamsFromContext(r.Context()); mp != nil {
		mp.SetValue(MetricsLabelDecision, status)
	}
}
