/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	httpRequestMetricsLabelMethod        = "method"
	httpRequestMetricsLabelRoutePattern  = "route_pattern"
	httpRequestMetricsLabelUserAgentType = "user_agent_type"
	httpRequestMetricsLabelStatusCode    = "status_code"
)

const (
	userAgentTypeBrowser    = "browser"
	userAgentTypeHTTPClient = "http-client"
)

// DefaultHTTPRequestDurationBuckets is the bucket layout used for the request duration histogram
// when no custom buckets are configured.
var DefaultHTTPRequestDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 150, 300, 600}

// HTTPRequestPrometheusMetricsOpts configures HTTPRequestPrometheusMetrics.
type HTTPRequestPrometheusMetricsOpts struct {
	// Namespace is prepended to all metric names.
	Namespace string

	// DurationBuckets overrides DefaultHTTPRequestDurationBuckets for the duration histogram.
	DurationBuckets []float64

	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels

	// CurriedLabelNames declares labels that must later be bound with MustCurryWith.
	// The collector panics on observation if they are declared but never bound.
	CurriedLabelNames []string

	// CustomLabelNames declares labels that handlers may fill per request
	// through MetricsParams (see GetMetricsParamsFromContext).
	// A label left unset by the end of the request gets an empty value.
	CustomLabelNames []string
}

// HTTPRequestPrometheusMetrics collects Prometheus metrics for served HTTP requests.
type HTTPRequestPrometheusMetrics struct {
	Durations *prometheus.HistogramVec
	InFlight  *prometheus.GaugeVec

	customLabelNames []string
}

// NewHTTPRequestPrometheusMetrics creates a collector with default options.
func NewHTTPRequestPrometheusMetrics() *HTTPRequestPrometheusMetrics {
	return NewHTTPRequestPrometheusMetricsWithOpts(HTTPRequestPrometheusMetricsOpts{})
}

// NewHTTPRequestPrometheusMetricsWithOpts creates a collector with the given options.
func NewHTTPRequestPrometheusMetricsWithOpts(opts HTTPRequestPrometheusMetricsOpts) *HTTPRequestPrometheusMetrics {
	buckets := opts.DurationBuckets
	if buckets == nil {
		buckets = DefaultHTTPRequestDurationBuckets
	}

	durationLabels := labelNamesWith(opts, true,
		httpRequestMetricsLabelMethod,
		httpRequestMetricsLabelRoutePattern,
		httpRequestMetricsLabelUserAgentType,
		httpRequestMetricsLabelStatusCode,
	)
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   opts.Namespace,
		Name:        "http_request_duration_seconds",
		Help:        "A histogram of the HTTP request durations.",
		Buckets:     buckets,
		ConstLabels: opts.ConstLabels,
	}, durationLabels)

	// Custom labels are unknown when in-flight tracking begins, so the gauge goes without them.
	inFlightLabels := labelNamesWith(opts, false,
		httpRequestMetricsLabelMethod,
		httpRequestMetricsLabelRoutePattern,
		httpRequestMetricsLabelUserAgentType,
	)
	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "http_requests_in_flight",
		Help:        "Current number of HTTP requests being served.",
		ConstLabels: opts.ConstLabels,
	}, inFlightLabels)

	return &HTTPRequestPrometheusMetrics{
		Durations:        durations,
		InFlight:         inFlight,
		customLabelNames: opts.CustomLabelNames,
	}
}

func labelNamesWith(opts HTTPRequestPrometheusMetricsOpts, includeCustom bool, names ...string) []string {
	result := make([]string, 0, len(opts.CurriedLabelNames)+len(opts.CustomLabelNames)+len(names))
	result = append(result, opts.CurriedLabelNames...)
	if includeCustom {
		result = append(result, opts.CustomLabelNames...)
	}
	return append(result, names...)
}

// MustCurryWith binds the labels declared in CurriedLabelNames and returns the curried collector.
func (pm *HTTPRequestPrometheusMetrics) MustCurryWith(labels prometheus.Labels) *HTTPRequestPrometheusMetrics {
	return &HTTPRequestPrometheusMetrics{
		Durations:        pm.Durations.MustCurryWith(labels).(*prometheus.HistogramVec),
		InFlight:         pm.InFlight.MustCurryWith(labels),
		customLabelNames: pm.customLabelNames,
	}
}

// MustRegister registers the collector in the default Prometheus registry, panicking on error.
func (pm *HTTPRequestPrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Durations, pm.InFlight)
}

// Unregister removes the collector from the default Prometheus registry.
func (pm *HTTPRequestPrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.InFlight)
	prometheus.Unregister(pm.Durations)
}

func (pm *HTTPRequestPrometheusMetrics) trackRequestEnd(
	reqInfo *httpRequestInfo, status int, startTime time.Time, metricsParams *MetricsParams,
) {
	labels := reqInfo.makeLabels()
	labels[httpRequestMetricsLabelStatusCode] = strconv.Itoa(status)
	for _, name := range pm.customLabelNames {
		labels[name] = ""
	}
	if metricsParams != nil {
		for name, value := range metricsParams.values {
			labels[name] = value
		}
	}
	pm.Durations.With(labels).Observe(time.Since(startTime).Seconds())
}

type httpRequestInfo struct {
	method        string
	routePattern  string
	userAgentType string
}

func (hri *httpRequestInfo) makeLabels() prometheus.Labels {
	return prometheus.Labels{
		httpRequestMetricsLabelMethod:        hri.method,
		httpRequestMetricsLabelRoutePattern:  hri.routePattern,
		httpRequestMetricsLabelUserAgentType: hri.userAgentType,
	}
}

// UserAgentTypeGetterFunc classifies the request's user agent.
// It must return values from a small finite set, they end up as label values.
type UserAgentTypeGetterFunc func(r *http.Request) string

// HTTPRequestMetricsOpts configures the HTTPRequestMetrics middleware.
type HTTPRequestMetricsOpts struct {
	GetUserAgentType  UserAgentTypeGetterFunc
	ExcludedEndpoints []string
}

type httpRequestMetricsHandler struct {
	next            http.Handler
	collector       *HTTPRequestPrometheusMetrics
	getRoutePattern RoutePatternGetterFunc
	opts            HTTPRequestMetricsOpts
}

// HTTPRequestMetrics is a middleware that records Prometheus metrics for incoming HTTP requests.
func HTTPRequestMetrics(
	collector *HTTPRequestPrometheusMetrics, getRoutePattern RoutePatternGetterFunc,
) func(next http.Handler) http.Handler {
	return HTTPRequestMetricsWithOpts(collector, getRoutePattern, HTTPRequestMetricsOpts{})
}

// HTTPRequestMetricsWithOpts is a configurable version of HTTPRequestMetrics.
func HTTPRequestMetricsWithOpts(
	collector *HTTPRequestPrometheusMetrics,
	getRoutePattern RoutePatternGetterFunc,
	opts HTTPRequestMetricsOpts,
) func(next http.Handler) http.Handler {
	if getRoutePattern == nil {
		panic("function for getting route pattern cannot be nil")
	}
	if opts.GetUserAgentType == nil {
		opts.GetUserAgentType = determineUserAgentType
	}
	return func(next http.Handler) http.Handler {
		return &httpRequestMetricsHandler{next: next, collector: collector, getRoutePattern: getRoutePattern, opts: opts}
	}
}

func (h *httpRequestMetricsHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if h.isExcluded(r.URL.Path) {
		h.next.ServeHTTP(rw, r)
		return
	}

	startTime := GetRequestStartTimeFromContext(r.Context())
	if startTime.IsZero() {
		startTime = time.Now()
		r = r.WithContext(NewContextWithRequestStartTime(r.Context(), startTime))
	}

	reqInfo := &httpRequestInfo{
		method:        r.Method,
		routePattern:  h.getRoutePattern(r),
		userAgentType: h.opts.GetUserAgentType(r),
	}

	inFlight := h.collector.InFlight.With(reqInfo.makeLabels())
	inFlight.Inc()
	defer inFlight.Dec()

	metricsParams := &MetricsParams{}
	r = r.WithContext(NewContextWithMetricsParams(NewContextWithHTTPMetricsEnabled(r.Context()), metricsParams))

	wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
	defer func() {
		if !IsHTTPMetricsEnabledInContext(r.Context()) {
			return
		}
		if reqInfo.routePattern == "" {
			// The pattern may become known only after routing, retry once the handler is done.
			reqInfo.routePattern = h.getRoutePattern(r)
		}
		if p := recover(); p != nil {
			if p != http.ErrAbortHandler {
				h.collector.trackRequestEnd(reqInfo, http.StatusInternalServerError, startTime, metricsParams)
			}
			panic(p)
		}
		h.collector.trackRequestEnd(reqInfo, wrw.Status(), startTime, metricsParams)
	}()

	h.next.ServeHTTP(wrw, r)
}

func (h *httpRequestMetricsHandler) isExcluded(path string) bool {
	for _, endpoint := range h.opts.ExcludedEndpoints {
		if path == endpoint {
			return true
		}
	}
	return false
}

func determineUserAgentType(r *http.Request) string {
	if strings.Contains(strings.ToLower(r.UserAgent()), "mozilla") {
		return userAgentTypeBrowser
	}
	return userAgentTypeHTTPClient
}
