/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekeeper/config"
	"github.com/acronis/go-ratekeeper/httpserver/middleware"
	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/log/logtest"
	"github.com/acronis/go-ratekeeper/restapi"
	"github.com/acronis/go-ratekeeper/testutil"
)

const testErrDomain = "RateKeeper"

func decideAPIRoutes() map[APIVersion]APIRoute {
	return map[APIVersion]APIRoute{
		1: func(router chi.Router) {
			router.Get("/decide", func(rw http.ResponseWriter, r *http.Request) {
				logger := middleware.GetLoggerFromContext(r.Context())
				restapi.RespondJSON(rw, map[string]string{"status": "OK"}, logger)
			})
			router.Post("/panic", func(rw http.ResponseWriter, r *http.Request) {
				panic("PANIC!!!")
			})
		},
	}
}

func startTestServer(t *testing.T, cfg *Config, logger log.FieldLogger, opts Opts) (*HTTPServer, func()) {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = testutil.GetLocalAddrWithFreeTCPPort()
	}
	httpServer, err := New(cfg, logger, opts)
	require.NoError(t, err)
	fatalErr := make(chan error, 1)
	go httpServer.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(cfg.Address, time.Second*3))
	return httpServer, func() {
		require.NoError(t, httpServer.Stop(false))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	}
}

func TestHTTPServer_StartWithStaticPort(t *testing.T) {
	addr := testutil.GetLocalAddrWithFreeTCPPort()
	httpServer, stop := startTestServer(t, &Config{Address: addr}, logtest.NewLogger(), Opts{})
	defer stop()

	require.Greater(t, httpServer.GetPort(), 0)
	require.Equal(t, addr, fmt.Sprintf("127.0.0.1:%d", httpServer.GetPort()))

	resp, err := http.Get(httpServer.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.RequireStringJSONInResponse(t, resp, `{"components":{}}`)
	require.NoError(t, resp.Body.Close())
}

func TestHTTPServer_StartWithDynamicPort(t *testing.T) {
	httpServer, err := New(&Config{Address: "127.0.0.1:0"}, logtest.NewLogger(), Opts{})
	require.NoError(t, err)
	fatalErr := make(chan error, 1)
	go httpServer.Start(fatalErr)

	port, err := testutil.WaitPortAndListeningServer(
		"127.0.0.1", func() int { return httpServer.GetPort() }, time.Second*3)
	require.NoError(t, err)
	require.Greater(t, port, 0)
	defer func() {
		require.NoError(t, httpServer.Stop(false))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	}()

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	resp, err := http.Get(serverURL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, len(respBody) > 0)
	require.NoError(t, resp.Body.Close())
}

func TestHTTPServer_Start_WithAPI(t *testing.T) {
	opts := Opts{ServiceNameInURL: "ratekeeper", ErrorDomain: testErrDomain, APIRoutes: decideAPIRoutes()}
	httpServer, stop := startTestServer(t, &Config{}, logtest.NewLogger(), opts)
	defer stop()

	resp, err := http.Get(httpServer.URL + "/api/ratekeeper/v1/decide")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.RequireStringJSONInResponse(t, resp, `{"status":"OK"}`)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Post(httpServer.URL+"/api/ratekeeper/v1/panic", restapi.ContentTypeAppJSON, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	testutil.RequireErrorInResponse(t, resp, http.StatusInternalServerError, testErrDomain, restapi.ErrCodeInternal)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Post(httpServer.URL+"/api/ratekeeper/v1/decide", restapi.ContentTypeAppJSON, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(httpServer.URL + "/api/ratekeeper/v1/unknown")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestHTTPServer_Stop(t *testing.T) {
	apiRoutes := map[APIVersion]APIRoute{
		1: func(router chi.Router) {
			router.Get("/sleep", func(rw http.ResponseWriter, r *http.Request) {
				time.Sleep(time.Second * 1) // Long operation.
				logger := middleware.GetLoggerFromContext(r.Context())
				restapi.RespondJSON(rw, map[string]string{"message": "done"}, logger)
			})
		},
	}
	opts := Opts{ServiceNameInURL: "ratekeeper", APIRoutes: apiRoutes}

	t.Run("with gracefully shutdown", func(t *testing.T) {
		addr := testutil.GetLocalAddrWithFreeTCPPort()
		cfg := &Config{Address: addr, Timeouts: TimeoutsConfig{Shutdown: config.TimeDuration(time.Second * 3)}}
		httpServer, err := New(cfg, logtest.NewLogger(), opts)
		require.NoError(t, err)
		fatalErr := make(chan error, 1)
		go httpServer.Start(fatalErr)
		require.NoError(t, testutil.WaitListeningServer(addr, time.Second*3))

		done := make(chan bool, 1)
		go func() {
			defer func() { done <- true }()
			c := http.Client{Timeout: time.Second * 5}
			startedAt := time.Now()
			resp, err := c.Get(httpServer.URL + "/api/ratekeeper/v1/sleep")
			if err == nil {
				defer func() { require.NoError(t, resp.Body.Close()) }()
			}
			require.NoError(t, err,
				"server should wait until all HTTP requests are served and only after this close TCP connection")
			require.WithinDuration(t, startedAt.Add(time.Second), time.Now(), time.Millisecond*100)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}()

		time.Sleep(time.Millisecond * 500) // Give time to send request.

		require.NoError(t, httpServer.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)

		<-done
	})

	t.Run("w/o gracefully shutdown", func(t *testing.T) {
		addr := testutil.GetLocalAddrWithFreeTCPPort()
		cfg := &Config{Address: addr, Timeouts: TimeoutsConfig{Shutdown: config.TimeDuration(time.Second * 3)}}
		httpServer, err := New(cfg, logtest.NewLogger(), opts)
		require.NoError(t, err)
		fatalErr := make(chan error, 1)
		go httpServer.Start(fatalErr)
		require.NoError(t, testutil.WaitListeningServer(addr, time.Second*3))

		done := make(chan bool, 1)
		go func() {
			defer func() { done <- true }()
			c := http.Client{Timeout: time.Second * 5}
			startedAt := time.Now()
			resp, err := c.Get(httpServer.URL + "/api/ratekeeper/v1/sleep")
			if err == nil {
				defer func() { require.NoError(t, resp.Body.Close()) }()
			}
			require.WithinDuration(t, startedAt.Add(time.Millisecond*500), time.Now(), time.Millisecond*100)
			require.Error(t, err, "server should close TCP connection immediately")
		}()

		time.Sleep(time.Millisecond * 500) // Give time to send request.

		require.NoError(t, httpServer.Stop(false))
		testutil.RequireNoErrorInChannel(t, fatalErr)

		<-done
	})

	t.Run("without start", func(t *testing.T) {
		httpServer, err := New(&Config{Address: testutil.GetLocalAddrWithFreeTCPPort()}, logtest.NewLogger(), opts)
		require.NoError(t, err)
		require.NoError(t, httpServer.Stop(true))
		require.NoError(t, httpServer.Stop(false))
	})
}

func TestHTTPServer_MetricsHandler(t *testing.T) {
	wrapperNewValues := []byte("input new values")
	metricWrapper := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := w.Write(wrapperNewValues)
			require.NoError(t, err)
			h.ServeHTTP(w, r)
		})
	}

	httpServer, stop := startTestServer(t, &Config{}, logtest.NewLogger(),
		Opts{MetricsHandler: metricWrapper(promhttp.Handler())})
	defer stop()

	resp, err := http.Get(httpServer.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.True(t, bytes.Contains(respBody, wrapperNewValues))
}

func TestHTTPServer_Logging(t *testing.T) {
	opts := Opts{ServiceNameInURL: "ratekeeper", ErrorDomain: testErrDomain, APIRoutes: decideAPIRoutes()}

	logger := logtest.NewRecorder()
	logConfig := LogConfig{
		RequestStart:      true,
		RequestHeaders:    []string{"X-Client-Zone"},
		ExcludedEndpoints: []string{"/metrics", "/healthz"},
		SecretQueryParams: []string{"token"},
	}

	httpServer, stop := startTestServer(t, &Config{Log: logConfig}, logger, opts)
	defer stop()

	req, err := http.NewRequest(http.MethodGet,
		httpServer.URL+"/api/ratekeeper/v1/decide?token=secretToken&k=client-1", nil)
	require.NoError(t, err)
	req.Header.Set("X-Client-Zone", "api")
	req.Header.Set("X-Other-Header", "other")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	for _, logMsg := range []string{"request started", "response completed"} {
		logEntry, found := logger.FindEntryByFilter(func(entry logtest.RecordedEntry) bool {
			return strings.Contains(entry.Text, logMsg)
		})
		require.True(t, found, "%q should be logged", logMsg)

		// Only headers from the config are logged.
		logField, found := logEntry.FindField("req_header_x_client_zone")
		require.True(t, found)
		require.Equal(t, "api", string(logField.Bytes))
		_, found = logEntry.FindField("req_header_x_other_header")
		require.False(t, found)

		// Secret query parameters are hidden.
		logField, found = logEntry.FindField("uri")
		require.True(t, found)
		var parsedLoggedURL *url.URL
		parsedLoggedURL, err = url.Parse(string(logField.Bytes))
		require.NoError(t, err)
		require.Equal(t, "client-1", parsedLoggedURL.Query().Get("k"))
		require.Equal(t, middleware.LoggingSecretQueryPlaceholder, parsedLoggedURL.Query().Get("token"))
	}

	logger.Reset()

	// Requests for excluded endpoints are not logged.
	for _, endpoint := range []string{"/metrics", "/healthz"} {
		resp, err = http.Get(httpServer.URL + endpoint)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
		_, found := logger.FindEntryByFilter(func(entry logtest.RecordedEntry) bool {
			return strings.Contains(entry.Text, "request started") || strings.Contains(entry.Text, "response completed")
		})
		require.False(t, found, "%q should NOT be logged", endpoint)
	}
}

func TestHTTPServer_MaxRequestsLimiting(t *testing.T) {
	cfg := &Config{Address: testutil.GetLocalAddrWithFreeTCPPort(), Limits: LimitsConfig{MaxRequests: 1}}
	httpServer, err := New(cfg, logtest.NewLogger(), Opts{})
	require.NoError(t, err)

	httpServer.HTTPRouter.Get("/slow", func(rw http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		rw.WriteHeader(http.StatusOK)
	})
	fatalErr := make(chan error, 1)
	go httpServer.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(cfg.Address, time.Second*3))
	defer func() {
		require.NoError(t, httpServer.Stop(false))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	}()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		slowResp, getErr := http.Get(httpServer.URL + "/slow")
		if getErr != nil {
			errCh <- getErr
			return
		}
		if slowResp.StatusCode != http.StatusOK {
			errCh <- fmt.Errorf("unexpected status code, expected: %d, got: %d", http.StatusOK, slowResp.StatusCode)
			return
		}
		errCh <- slowResp.Body.Close()
	}()

	time.Sleep(time.Millisecond * 500) // Give time to send request.

	resp, err := http.Get(httpServer.URL + "/slow")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	// System endpoints should not be limited.
	for _, endpoint := range []string{"/healthz", "/metrics"} {
		resp, err = http.Get(httpServer.URL + endpoint)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}

	require.NoError(t, <-errCh)
}
