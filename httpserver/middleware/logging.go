/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-ratekeeper/log"
)

// LoggingSecretQueryPlaceholder replaces values of secret query parameters in logged URIs.
const LoggingSecretQueryPlaceholder = "_HIDDEN_"

const (
	userAgentLogFieldKey = "user_agent"

	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// CustomLoggerProvider returns a custom logger or nil based on the request.
type CustomLoggerProvider func(r *http.Request) log.FieldLogger

// LoggingOpts represents options for the Logging middleware.
type LoggingOpts struct {
	RequestStart           bool
	RequestHeaders         map[string]string
	ExcludedEndpoints      []string
	SecretQueryParams      []string
	AddRequestInfoToLogger bool

	// SlowRequestThreshold controls when the "time_slots" field group is
	// attached to the completion log message.
	SlowRequestThreshold time.Duration

	// CustomLoggerProvider, when set and returning non-nil, replaces the
	// middleware's own logger for the request.
	CustomLoggerProvider CustomLoggerProvider
}

type loggingHandler struct {
	next   http.Handler
	logger log.FieldLogger
	opts   LoggingOpts
}

// Logging is a middleware that logs info about the HTTP request and response.
// It also puts a logger carrying the request IDs into the request's context.
func Logging(logger log.FieldLogger) func(next http.Handler) http.Handler {
	return LoggingWithOpts(logger, LoggingOpts{})
}

// LoggingWithOpts is a configurable version of the Logging middleware.
func LoggingWithOpts(logger log.FieldLogger, opts LoggingOpts) func(next http.Handler) http.Handler {
	if opts.SlowRequestThreshold == 0 {
		opts.SlowRequestThreshold = time.Second
	}
	return func(next http.Handler) http.Handler {
		return &loggingHandler{next: next, logger: logger, opts: opts}
	}
}

func (h *loggingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	startTime := GetRequestStartTimeFromContext(ctx)
	if startTime.IsZero() {
		startTime = time.Now()
		ctx = NewContextWithRequestStartTime(ctx, startTime)
	}

	loggerForNext := h.pickLogger(r).With(
		log.String("request_id", GetRequestIDFromContext(ctx)),
		log.String("int_request_id", GetInternalRequestIDFromContext(ctx)),
		log.String("trace_id", GetTraceIDFromContext(ctx)),
	)
	logger := loggerForNext.With(h.requestLogFields(r)...)
	if h.opts.AddRequestInfoToLogger {
		loggerForNext = logger
	}

	skipLogging := isLoggingDisabled(r.URL.Path, h.opts.ExcludedEndpoints)
	if h.opts.RequestStart && !skipLogging {
		logger.Info("request started")
	}

	lp := &LoggingParams{}
	r = r.WithContext(NewContextWithLoggingParams(NewContextWithLogger(ctx, loggerForNext), lp))
	wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
	h.next.ServeHTTP(wrw, r)

	// Errors are logged even on excluded endpoints.
	if skipLogging && wrw.Status() < http.StatusBadRequest {
		return
	}

	duration := time.Since(startTime)
	if duration >= h.opts.SlowRequestThreshold {
		lp.AddTimeSlotDurationInMs("writing_response_ms", wrw.ElapsedTime())
		lp.fields = append(lp.fields, log.Field{Key: "time_slots", Type: logf.FieldTypeObject, Any: lp.timeSlots})
	}
	logger.Info(
		fmt.Sprintf("response completed in %.3fs", duration.Seconds()),
		append([]log.Field{
			log.Int64("duration_ms", duration.Milliseconds()),
			log.DurationIn(duration, time.Microsecond), // Kept for consumers parsing the old "duration" field.
			log.Int("status", wrw.Status()),
			log.Int("bytes_sent", wrw.BytesWritten()),
		}, lp.fields...)...,
	)
}

func (h *loggingHandler) pickLogger(r *http.Request) log.FieldLogger {
	if h.opts.CustomLoggerProvider != nil {
		if l := h.opts.CustomLoggerProvider(r); l != nil {
			return l
		}
	}
	return h.logger
}

func (h *loggingHandler) requestLogFields(r *http.Request) []log.Field {
	fields := make([]log.Field, 0, 8)
	fields = append(fields,
		log.String("method", r.Method),
		log.String("uri", h.makeURIToLog(r)),
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("content_length", r.ContentLength),
		log.String(userAgentLogFieldKey, r.UserAgent()),
	)

	if addrIP, addrPort, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		fields = append(fields, log.String("remote_addr_ip", addrIP))
		if port, pErr := strconv.ParseUint(addrPort, 10, 16); pErr == nil {
			fields = append(fields, log.Uint16("remote_addr_port", uint16(port)))
		}
	}

	if originAddr := getOriginAddr(r); originAddr != "" {
		fields = append(fields, log.String("origin_addr", originAddr))
	}

	for reqHeaderName, logKey := range h.opts.RequestHeaders {
		fields = append(fields, log.String(logKey, r.Header.Get(reqHeaderName)))
	}
	return fields
}

func (h *loggingHandler) makeURIToLog(r *http.Request) string {
	if len(h.opts.SecretQueryParams) == 0 || r.URL.RawQuery == "" {
		return r.RequestURI
	}
	queryValues := r.URL.Query()
	for _, k := range h.opts.SecretQueryParams {
		vals := queryValues[k]
		for i := range vals {
			if vals[i] != "" {
				vals[i] = LoggingSecretQueryPlaceholder
			}
		}
	}
	return r.URL.Path + "?" + queryValues.Encode()
}

func isLoggingDisabled(urlPath string, noLogEndpoints []string) bool {
	for _, endpoint := range noLogEndpoints {
		if urlPath == endpoint {
			return true
		}
	}
	return false
}

// getOriginAddr extracts the client address from X-Forwarded-For (first hop)
// or X-Real-IP, in that order of preference.
func getOriginAddr(r *http.Request) string {
	if forwardedFor := r.Header.Get(headerForwardedFor); forwardedFor != "" {
		originAddr := forwardedFor
		if comma := strings.IndexByte(forwardedFor, ','); comma != -1 {
			originAddr = forwardedFor[:comma]
		}
		return strings.TrimSpace(originAddr)
	}
	return strings.TrimSpace(r.Header.Get(headerRealIP))
}
