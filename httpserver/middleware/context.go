/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"time"

	"github.com/acronis/go-ratekeeper/log"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyInternalRequestID
	ctxKeyLogger
	ctxKeyLoggingParams
	ctxKeyTraceID
	ctxKeyRequestStartTime
	ctxKeyMetricsParams
	ctxKeyHTTPMetricsEnabled
)

func stringFromContext(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// NewContextWithRequestID returns a context carrying the external request id.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext returns the external request id or "" if the context has none.
func GetRequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ctxKeyRequestID)
}

// NewContextWithInternalRequestID returns a context carrying the internal request id.
func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return context.WithValue(ctx, ctxKeyInternalRequestID, internalRequestID)
}

// GetInternalRequestIDFromContext returns the internal request id or "" if the context has none.
func GetInternalRequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ctxKeyInternalRequestID)
}

// NewContextWithLogger returns a context carrying the request-scoped logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext returns the request-scoped logger or nil if the context has none.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	logger, _ := ctx.Value(ctxKeyLogger).(log.FieldLogger)
	return logger
}

// NewContextWithLoggingParams returns a context carrying the logging params.
func NewContextWithLoggingParams(ctx context.Context, loggingParams *LoggingParams) context.Context {
	return context.WithValue(ctx, ctxKeyLoggingParams, loggingParams)
}

// GetLoggingParamsFromContext returns the logging params or nil if the context has none.
func GetLoggingParamsFromContext(ctx context.Context) *LoggingParams {
	lp, _ := ctx.Value(ctxKeyLoggingParams).(*LoggingParams)
	return lp
}

// NewContextWithTraceID returns a context carrying the trace id.
func NewContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, traceID)
}

// GetTraceIDFromContext returns the trace id or "" if the context has none.
func GetTraceIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ctxKeyTraceID)
}

// NewContextWithMetricsParams returns a context carrying the metrics params.
func NewContextWithMetricsParams(ctx context.Context, metricsParams *MetricsParams) context.Context {
	return context.WithValue(ctx, ctxKeyMetricsParams, metricsParams)
}

// GetMetricsParamsFromContext returns the metrics params or nil if the context has none.
func GetMetricsParamsFromContext(ctx context.Context) *MetricsParams {
	mp, _ := ctx.Value(ctxKeyMetricsParams).(*MetricsParams)
	return mp
}

// NewContextWithHTTPMetricsEnabled returns a context with HTTP metrics collection switched on.
// Handlers may switch it off later with DisableHTTPMetricsInContext.
func NewContextWithHTTPMetricsEnabled(ctx context.Context) context.Context {
	enabled := true
	return context.WithValue(ctx, ctxKeyHTTPMetricsEnabled, &enabled)
}

// DisableHTTPMetricsInContext turns off metrics collection for the request being served.
func DisableHTTPMetricsInContext(ctx context.Context) {
	if enabled, ok := ctx.Value(ctxKeyHTTPMetricsEnabled).(*bool); ok {
		*enabled = false
	}
}

// IsHTTPMetricsEnabledInContext reports whether metrics are collected for the request being served.
// A context without the flag counts as enabled.
func IsHTTPMetricsEnabledInContext(ctx context.Context) bool {
	if enabled, ok := ctx.Value(ctxKeyHTTPMetricsEnabled).(*bool); ok {
		return *enabled
	}
	return true
}

// NewContextWithRequestStartTime returns a context carrying the request start time.
func NewContextWithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyRequestStartTime, startTime)
}

// GetRequestStartTimeFromContext returns the request start time or the zero time if the context has none.
func GetRequestStartTimeFromContext(ctx context.Context) time.Time {
	startTime, _ := ctx.Value(ctxKeyRequestStartTime).(time.Time)
	return startTime
}
