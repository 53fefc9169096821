/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/acronis/go-ratekeeper/testutil"
)

type metricsNextHandler struct {
	calledNum          int
	statusCodeToReturn int
	customLabels       map[string]string
}

func (h *metricsNextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.calledNum++
	rw.WriteHeader(h.statusCodeToReturn)
	if h.customLabels != nil {
		if mp := GetMetricsParamsFromContext(r.Context()); mp != nil {
			for k, v := range h.customLabels {
				mp.SetValue(k, v)
			}
		}
	}
}

type metricsDisablingHandler struct{}

func (h *metricsDisablingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	DisableHTTPMetricsInContext(r.Context())
	rw.WriteHeader(http.StatusOK)
}

func makeDurationLabels(method, routePattern, uaType, statusCode string, customLabels map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, 4+len(customLabels))
	labels[httpRequestMetricsLabelMethod] = method
	labels[httpRequestMetricsLabelRoutePattern] = routePattern
	labels[httpRequestMetricsLabelUserAgentType] = uaType
	labels[httpRequestMetricsLabelStatusCode] = statusCode
	for k, v := range customLabels {
		labels[k] = v
	}
	return labels
}

func pathRoutePattern(r *http.Request) string {
	return r.URL.Path
}

func TestHttpRequestMetricsHandler_ServeHTTP(t *testing.T) {
	t.Run("collect total number", func(t *testing.T) {
		tests := []struct {
			name               string
			method             string
			url                string
			userAgent          string
			statusCodeToReturn int
			reqsNum            int
			wantUserAgentType  string
			getUserAgentType   UserAgentTypeGetterFunc
			excludedEndpoints  []string
			curriedLabels      prometheus.Labels
			customLabels       map[string]string
		}{
			{
				name:               "allowed decision, user agent is not browser",
				method:             http.MethodGet,
				url:                "/decide",
				userAgent:          "agent1",
				statusCodeToReturn: http.StatusOK,
				reqsNum:            10,
				wantUserAgentType:  userAgentTypeHTTPClient,
			},
			{
				name:               "limited decision, user agent is browser",
				method:             http.MethodGet,
				url:                "/decide",
				userAgent:          "Mozilla/5.0",
				statusCodeToReturn: http.StatusTooManyRequests,
				reqsNum:            12,
				wantUserAgentType:  userAgentTypeBrowser,
			},
			{
				name:               "custom func to parse user agent",
				method:             http.MethodGet,
				url:                "/decide",
				userAgent:          "ratekeeper-canary-agent",
				statusCodeToReturn: http.StatusOK,
				reqsNum:            5,
				wantUserAgentType:  "synthetic",
				getUserAgentType: func(r *http.Request) string {
					if r.UserAgent() == "ratekeeper-canary-agent" {
						return "synthetic"
					}
					return "http-client"
				},
			},
			{
				name:               "excluded endpoint is not collected",
				method:             http.MethodGet,
				url:                "/healthz",
				userAgent:          "k8s",
				statusCodeToReturn: http.StatusOK,
				reqsNum:            10,
				wantUserAgentType:  userAgentTypeHTTPClient,
				excludedEndpoints:  []string{"/healthz"},
			},
			{
				name:               "labels currying",
				method:             http.MethodGet,
				url:                "/decide",
				userAgent:          "agent1",
				statusCodeToReturn: http.StatusOK,
				reqsNum:            10,
				wantUserAgentType:  userAgentTypeHTTPClient,
				curriedLabels:      prometheus.Labels{"instance_group": "eu-west"},
			},
			{
				name:               "custom labels set by handler",
				method:             http.MethodGet,
				url:                "/decide",
				userAgent:          "agent1",
				statusCodeToReturn: http.StatusOK,
				reqsNum:            10,
				wantUserAgentType:  userAgentTypeHTTPClient,
				customLabels:       map[string]string{"zone": "api"},
			},
			{
				name:               "custom labels combined with currying",
				method:             http.MethodGet,
				url:                "/decide",
				userAgent:          "agent1",
				statusCodeToReturn: http.StatusOK,
				reqsNum:            10,
				wantUserAgentType:  userAgentTypeHTTPClient,
				curriedLabels:      prometheus.Labels{"instance_group": "eu-west"},
				customLabels:       map[string]string{"zone": "internal"},
			},
		}
		for i := range tests {
			tt := tests[i]
			t.Run(tt.name, func(t *testing.T) {
				curriedLabelNames := make([]string, 0, len(tt.curriedLabels))
				for k := range tt.curriedLabels {
					curriedLabelNames = append(curriedLabelNames, k)
				}
				customLabelNames := make([]string, 0, len(tt.customLabels))
				for k := range tt.customLabels {
					customLabelNames = append(customLabelNames, k)
				}
				collector := NewHTTPRequestPrometheusMetricsWithOpts(HTTPRequestPrometheusMetricsOpts{
					CurriedLabelNames: curriedLabelNames,
					CustomLabelNames:  customLabelNames,
				})
				collector = collector.MustCurryWith(tt.curriedLabels)
				mw := HTTPRequestMetricsWithOpts(collector, pathRoutePattern, HTTPRequestMetricsOpts{
					GetUserAgentType:  tt.getUserAgentType,
					ExcludedEndpoints: tt.excludedEndpoints,
				})

				next := &metricsNextHandler{statusCodeToReturn: tt.statusCodeToReturn, customLabels: tt.customLabels}
				h := mw(next)

				for j := 0; j < tt.reqsNum; j++ {
					req := httptest.NewRequest(tt.method, tt.url, nil)
					req.Header.Set("User-Agent", tt.userAgent)
					resp := httptest.NewRecorder()
					h.ServeHTTP(resp, req)
					assert.Equal(t, tt.statusCodeToReturn, resp.Code)
				}
				assert.Equal(t, tt.reqsNum, next.calledNum)

				labels := makeDurationLabels(tt.method, tt.url, tt.wantUserAgentType, strconv.Itoa(tt.statusCodeToReturn), tt.customLabels)
				hist := collector.Durations.With(labels).(prometheus.Histogram)
				wantReqsNum := tt.reqsNum
				for _, exEndpoint := range tt.excludedEndpoints {
					if exEndpoint == tt.url {
						wantReqsNum = 0
						break
					}
				}
				testutil.AssertSamplesCountInHistogram(t, hist, wantReqsNum)
			})
		}
	})

	t.Run("collect 500 on panic", func(t *testing.T) {
		promMetrics := NewHTTPRequestPrometheusMetrics()
		next := &panickyNextHandler{}
		req := httptest.NewRequest(http.MethodGet, "/internal-error", nil)
		resp := httptest.NewRecorder()
		h := HTTPRequestMetrics(promMetrics, pathRoutePattern)(next)
		if assert.Panics(t, func() { h.ServeHTTP(resp, req) }) {
			assert.Equal(t, 1, next.served)
			labels := makeDurationLabels(http.MethodGet, "/internal-error", "http-client", "500", nil)
			hist := promMetrics.Durations.With(labels).(prometheus.Histogram)
			testutil.AssertSamplesCountInHistogram(t, hist, 1)
		}
	})

	t.Run("not collect if disabled", func(t *testing.T) {
		promMetrics := NewHTTPRequestPrometheusMetrics()
		next := &metricsDisablingHandler{}
		req := httptest.NewRequest(http.MethodGet, "/decide", nil)
		req.Header.Set("User-Agent", "http-client")
		resp := httptest.NewRecorder()
		h := HTTPRequestMetrics(promMetrics, pathRoutePattern)(next)
		h.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
		labels := makeDurationLabels(http.MethodGet, "/decide", "http-client", "200", nil)
		hist := promMetrics.Durations.With(labels).(prometheus.Histogram)
		testutil.AssertSamplesCountInHistogram(t, hist, 0)
	})
}
