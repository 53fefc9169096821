/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type mockT struct {
	failed    bool
	failedNow bool
}

func (t *mockT) FailNow() {
	t.failed = true
	t.failedNow = true
}

func (t *mockT) Errorf(format string, args ...interface{}) {
	t.failed = true
}

func TestRequireNoErrorInChannel(t *testing.T) {
	emptyCh := make(chan error, 1)
	RequireNoErrorInChannel(t, emptyCh)

	errCh := make(chan error, 1)
	errCh <- errors.New("boom")
	mt := &mockT{}
	RequireNoErrorInChannel(mt, errCh)
	require.True(t, mt.failed)
}

func TestRequireErrorInRecorder(t *testing.T) {
	makeRecorder := func(code int, body string) *httptest.ResponseRecorder {
		resp := httptest.NewRecorder()
		resp.Header().Set("Content-Type", contentTypeAppJSON)
		resp.WriteHeader(code)
		_, err := resp.Body.WriteString(body)
		require.NoError(t, err)
		return resp
	}

	RequireErrorInRecorder(t, makeRecorder(403, `{"error":{"domain":"MyService","code":"accessDenied"}}`),
		403, "MyService", "accessDenied")
	RequireNoWrappedErrorInRecorder(t, makeRecorder(403, `{"domain":"MyService","code":"accessDenied"}`),
		403, "MyService", "accessDenied")

	mt := &mockT{}
	RequireErrorInRecorder(mt, makeRecorder(403, `{"error":{"domain":"MyService","code":"accessDenied"}}`),
		403, "MyService", "otherCode")
	require.True(t, mt.failed)

	DisableWrappingErrorInResponse()
	defer EnableWrappingErrorInResponse()
	RequireErrorInRecorder(t, makeRecorder(404, `{"domain":"MyService","code":"notFound"}`),
		404, "MyService", "notFound")
}

func TestSamplesCountAssertions(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram"})
	hist.Observe(0.1)
	hist.Observe(0.2)
	require.True(t, AssertSamplesCountInHistogram(t, hist, 2))

	mt := &mockT{}
	require.False(t, AssertSamplesCountInHistogram(mt, hist, 3))
	require.True(t, mt.failed)

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter"})
	counter.Inc()
	counter.Inc()
	counter.Inc()
	RequireSamplesCountInCounter(t, counter, 3)

	mt = &mockT{}
	RequireSamplesCountInCounter(mt, counter, 4)
	require.True(t, mt.failedNow)
}

func TestGetLocalAddrWithFreeTCPPort(t *testing.T) {
	addr := GetLocalAddrWithFreeTCPPort()
	require.Regexp(t, `^127\.0\.0\.1:\d+$`, addr)
}
