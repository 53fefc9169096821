/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekeeper/httpserver/middleware"
	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/restapi"
)

func makeHealthCheckRequest(ctx context.Context) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(middleware.NewContextWithLogger(ctx, log.NewDisabledLogger()))
}

func TestHealthCheckHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		result         HealthCheckResult
		err            error
		wantCode       int
		wantComponents map[string]bool
	}{
		{
			name:     "health-check returns error",
			err:      fmt.Errorf("internal error"),
			wantCode: http.StatusInternalServerError,
		},
		{
			name:           "empty components",
			result:         HealthCheckResult{},
			wantCode:       http.StatusOK,
			wantComponents: map[string]bool{},
		},
		{
			name:           "unhealthy component",
			result:         HealthCheckResult{"key_store": HealthCheckStatusOK, "redis": HealthCheckStatusFail},
			wantCode:       http.StatusServiceUnavailable,
			wantComponents: map[string]bool{"key_store": true, "redis": false},
		},
		{
			name:           "all components healthy",
			result:         HealthCheckResult{"key_store": HealthCheckStatusOK, "redis": HealthCheckStatusOK},
			wantCode:       http.StatusOK,
			wantComponents: map[string]bool{"key_store": true, "redis": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthCheckHandler(func() (HealthCheckResult, error) {
				return tt.result, tt.err
			})
			resp := httptest.NewRecorder()

			h.ServeHTTP(resp, makeHealthCheckRequest(context.Background()))

			require.Equal(t, tt.wantCode, resp.Code)
			if tt.wantComponents == nil {
				return
			}
			require.Equal(t, restapi.ContentTypeAppJSON, resp.Header().Get("Content-Type"))
			var gotRespData healthCheckResponseData
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&gotRespData))
			require.Equal(t, healthCheckResponseData{Components: tt.wantComponents}, gotRespData)
		})
	}
}

func TestHealthCheckHandlerContext_ServeHTTP(t *testing.T) {
	t.Run("health-check returns error", func(t *testing.T) {
		h := NewHealthCheckHandlerContext(func(_ context.Context) (HealthCheckResult, error) {
			return nil, fmt.Errorf("internal error")
		})
		resp := httptest.NewRecorder()

		h.ServeHTTP(resp, makeHealthCheckRequest(context.Background()))

		require.Equal(t, http.StatusInternalServerError, resp.Code)
	})

	t.Run("health-check returns unhealthy components", func(t *testing.T) {
		h := NewHealthCheckHandlerContext(func(_ context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{"key_store": HealthCheckStatusOK, "redis": HealthCheckStatusFail}, nil
		})
		resp := httptest.NewRecorder()

		h.ServeHTTP(resp, makeHealthCheckRequest(context.Background()))

		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
		require.Equal(t, restapi.ContentTypeAppJSON, resp.Header().Get("Content-Type"))
		var gotRespData healthCheckResponseData
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&gotRespData))
		require.Equal(t, healthCheckResponseData{Components: map[string]bool{"key_store": true, "redis": false}}, gotRespData)
	})

	t.Run("default health-check responds error on client cancel", func(t *testing.T) {
		h := NewHealthCheckHandlerContext(nil)
		resp := httptest.NewRecorder()

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // cancel immediately so the handler detects it

		h.ServeHTTP(resp, makeHealthCheckRequest(ctx))

		require.Equal(t, StatusClientClosedRequest, resp.Code)
	})

	t.Run("cancel wins even when health-check ignores ctx.Err", func(t *testing.T) {
		h := NewHealthCheckHandlerContext(func(ctx context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{}, nil
		})
		resp := httptest.NewRecorder()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		h.ServeHTTP(resp, makeHealthCheckRequest(ctx))

		require.Equal(t, StatusClientClosedRequest, resp.Code)
	})
}
