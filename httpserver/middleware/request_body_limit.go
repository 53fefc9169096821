/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/acronis/go-ratekeeper/restapi"
)

type requestBodyLimitHandler struct {
	next        http.Handler
	limitBytes  uint64
	errorDomain string
}

// RequestBodyLimit caps the size of the request body.
// Requests whose Content-Length already exceeds the limit are rejected right away,
// bodies without a declared length are capped while being read.
func RequestBodyLimit(maxSizeBytes uint64, errDomain string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &requestBodyLimitHandler{next: next, limitBytes: maxSizeBytes, errorDomain: errDomain}
	}
}

func (h *requestBodyLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.ContentLength > int64(h.limitBytes) { //nolint:gosec // the limit comes from config and fits in int64
		err := restapi.NewTooLargeMalformedRequestError(h.limitBytes)
		restapi.RespondMalformedRequestError(rw, h.errorDomain, err, GetLoggerFromContext(r.Context()))
		return
	}
	restapi.SetRequestMaxBodySize(rw, r, h.limitBytes)
	h.next.ServeHTTP(rw, r)
}
