/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/restapi"
)

// RecoveryDefaultStackSize limits how much of the stack trace gets logged.
const RecoveryDefaultStackSize = 8192

// RecoveryOpts represents options for the Recovery middleware.
type RecoveryOpts struct {
	StackSize int
}

type recoveryHandler struct {
	next        http.Handler
	errorDomain string
	opts        RecoveryOpts
}

// Recovery is a middleware that recovers from panics, logs the panic value
// with a stack trace and responds with a 500 error in the standard format.
func Recovery(errDomain string) func(next http.Handler) http.Handler {
	return RecoveryWithOpts(errDomain, RecoveryOpts{StackSize: RecoveryDefaultStackSize})
}

// RecoveryWithOpts is a configurable version of the Recovery middleware.
func RecoveryWithOpts(errDomain string, opts RecoveryOpts) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &recoveryHandler{next: next, errorDomain: errDomain, opts: opts}
	}
}

func (h *recoveryHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			h.handlePanic(rw, r, p)
		}
	}()

	h.next.ServeHTTP(rw, r)
}

func (h *recoveryHandler) handlePanic(rw http.ResponseWriter, r *http.Request, p interface{}) {
	logger := GetLoggerFromContext(r.Context())

	// http.ErrAbortHandler is the sentinel panic for aborting a handler
	// (used by httputil.ReverseProxy among others). net/http suppresses its
	// stack trace, and chi and echo re-raise it from their recoverers, so it
	// must keep propagating here too.
	if p == http.ErrAbortHandler {
		if logger != nil {
			logger.Warn("request has been aborted", log.Error(http.ErrAbortHandler))
		}
		panic(p)
	}

	if logger != nil {
		var logFields []log.Field
		if h.opts.StackSize != 0 {
			stack := make([]byte, h.opts.StackSize)
			stack = stack[:runtime.Stack(stack, false)]
			logFields = append(logFields, log.Bytes("stack", stack))
		}
		logger.Error(fmt.Sprintf("Panic: %+v", p), logFields...)
	}

	restapi.RespondError(rw, http.StatusInternalServerError, restapi.NewInternalError(h.errorDomain), logger)
}
