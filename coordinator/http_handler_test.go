/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekeeper/httpserver/middleware"
	"github.com/acronis/go-ratekeeper/log/logtest"
	"github.com/acronis/go-ratekeeper/ratelimit"
	"github.com/acronis/go-ratekeeper/respcache"
	"github.com/acronis/go-ratekeeper/testutil"
)

func decideHandlerDoRequest(
	t *testing.T, handler *DecideHandler, target string,
) (*httptest.ResponseRecorder, DecisionResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	var respData DecisionResponse
	if resp.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
	}
	return resp, respData
}

func TestDecideHandler(t *testing.T) {
	now := time.Unix(1000, 0)

	t.Run("allowed", func(t *testing.T) {
		c := New(&recordingDecider{decision: ratelimit.Allow()})
		c.nowFn = func() time.Time { return now }
		handler := NewDecideHandler(c, logtest.NewLogger())

		resp, respData := decideHandlerDoRequest(t, handler, "/decide?k=client-1&r=2:60")
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "application/json", resp.Header().Get("Content-Type"))
		require.Equal(t, DecisionStatusOK, respData.Status)
		require.Zero(t, respData.RetryAt)
		require.Empty(t, resp.Header().Get("Cache-Control"))
	})

	t.Run("limited with cache directive", func(t *testing.T) {
		c := New(&recordingDecider{decision: ratelimit.Limit(1060)})
		c.nowFn = func() time.Time { return now }
		handler := NewDecideHandler(c, logtest.NewLogger())

		resp, respData := decideHandlerDoRequest(t, handler, "/decide?k=client-1&r=2:60")
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, DecisionStatusLimited, respData.Status)
		require.EqualValues(t, 1060, respData.RetryAt)
		require.Equal(t, "max-age=60", resp.Header().Get("Cache-Control"))
	})

	t.Run("url-encoded key", func(t *testing.T) {
		decider := &recordingDecider{decision: ratelimit.Allow()}
		c := New(decider)
		c.nowFn = func() time.Time { return now }
		handler := NewDecideHandler(c, logtest.NewLogger())

		resp, respData := decideHandlerDoRequest(t, handler, "/decide?k=tenant%3A42&r=2:60")
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, DecisionStatusOK, respData.Status)
		require.Equal(t, "tenant:42", decider.lastKey)
	})

	t.Run("missing key", func(t *testing.T) {
		handler := NewDecideHandler(New(&recordingDecider{}), logtest.NewLogger())
		resp, _ := decideHandlerDoRequest(t, handler, "/decide?r=2:60")
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("missing rules", func(t *testing.T) {
		handler := NewDecideHandler(New(&recordingDecider{}), logtest.NewLogger())
		resp, _ := decideHandlerDoRequest(t, handler, "/decide?k=client-1")
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("malformed rule", func(t *testing.T) {
		handler := NewDecideHandler(New(&recordingDecider{}), logtest.NewLogger())
		resp, _ := decideHandlerDoRequest(t, handler, "/decide?k=client-1&r=abc")
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestDecideHandlerSetsDecisionMetricsLabel(t *testing.T) {
	now := time.Unix(1000, 0)

	tests := []struct {
		name         string
		decision     ratelimit.Decision
		wantDecision string
	}{
		{"allowed", ratelimit.Allow(), DecisionStatusOK},
		{"limited", ratelimit.Limit(1060), DecisionStatusLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(&recordingDecider{decision: tt.decision})
			c.nowFn = func() time.Time { return now }
			handler := NewDecideHandler(c, logtest.NewLogger())

			collector := middleware.NewHTTPRequestPrometheusMetricsWithOpts(middleware.HTTPRequestPrometheusMetricsOpts{
				CustomLabelNames: []string{MetricsLabelDecision},
			})
			mw := middleware.HTTPRequestMetrics(collector, func(r *http.Request) string { return "/decide" })

			req := httptest.NewRequest(http.MethodGet, "/decide?k=client-1&r=2:60", nil)
			resp := httptest.NewRecorder()
			mw(handler).ServeHTTP(resp, req)
			require.Equal(t, http.StatusOK, resp.Code)

			hist := collector.Durations.With(prometheus.Labels{
				"method":             http.MethodGet,
				"route_pattern":      "/decide",
				"user_agent_type":    "http-client",
				"status_code":        "200",
				MetricsLabelDecision: tt.wantDecision,
			}).(prometheus.Histogram)
			testutil.AssertSamplesCountInHistogram(t, hist, 1)
		})
	}
}

func TestDecideHandlerDeciderError(t *testing.T) {
	c := New(&recordingDecider{err: context.DeadlineExceeded})
	handler := NewDecideHandler(c, logtest.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/decide?k=client-1&r=2:60", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestDecideHandlerServesCachedRejection(t *testing.T) {
	cache, err := respcache.New(nil)
	require.NoError(t, err)

	decider := &recordingDecider{decision: ratelimit.Limit(1060)}
	c := NewWithOpts(decider, Opts{Cache: cache})
	c.nowFn = func() time.Time { return time.Unix(1000, 0) }
	handler := NewDecideHandler(c, logtest.NewLogger())

	_, respData := decideHandlerDoRequest(t, handler, "/decide?k=client-1&r=2:60")
	require.Equal(t, DecisionStatusLimited, respData.Status)
	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, time.Millisecond*10)

	// The second request is answered from the cache, the decider is not consulted again.
	c.nowFn = func() time.Time { return time.Unix(1010, 0) }
	resp, respData := decideHandlerDoRequest(t, handler, "/decide?k=client-1&r=2:60")
	require.Equal(t, DecisionStatusLimited, respData.Status)
	require.EqualValues(t, 1060, respData.RetryAt)
	require.Equal(t, "max-age=50", resp.Header().Get("Cache-Control"))
	require.Equal(t, 1, decider.callCount())
}
