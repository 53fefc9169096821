/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekeeper/restapi"
)

// bodyReadingNextHandler drains the request body the way a batch decide
// endpoint would and maps the limiter error to 413.
type bodyReadingNextHandler struct {
	served int
}

func (h *bodyReadingNextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.served++
	if _, err := io.ReadAll(r.Body); err != nil {
		var tooLargeErr *restapi.RequestBodyTooLargeError
		if errors.As(err, &tooLargeErr) {
			rw.WriteHeader(http.StatusRequestEntityTooLarge)
		} else {
			rw.WriteHeader(http.StatusInternalServerError)
		}
	}
}

func TestRequestBodyLimitHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name            string
		maxSize         uint64
		body            string
		noContentLength bool
		wantCode        int
	}{
		{
			name:     "content length over the limit is rejected before reading",
			maxSize:  32,
			body:     strings.Repeat("k", 64),
			wantCode: http.StatusRequestEntityTooLarge,
		},
		{
			name:            "body under the limit passes",
			maxSize:         32,
			body:            strings.Repeat("k", 10),
			noContentLength: true,
			wantCode:        http.StatusOK,
		},
		{
			name:            "body exactly at the limit passes",
			maxSize:         32,
			body:            strings.Repeat("k", 32),
			noContentLength: true,
			wantCode:        http.StatusOK,
		},
		{
			name:            "body one byte over the limit is rejected during read",
			maxSize:         32,
			body:            strings.Repeat("k", 33),
			noContentLength: true,
			wantCode:        http.StatusRequestEntityTooLarge,
		},
		{
			name:            "zero limit rejects any body",
			maxSize:         0,
			body:            "k",
			noContentLength: true,
			wantCode:        http.StatusRequestEntityTooLarge,
		},
		{
			name:            "zero limit allows empty body",
			maxSize:         0,
			body:            "",
			noContentLength: true,
			wantCode:        http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &bodyReadingNextHandler{}

			req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewBufferString(tt.body))
			if tt.noContentLength {
				req.ContentLength = -1
			}
			resp := httptest.NewRecorder()
			RequestBodyLimit(tt.maxSize, "RateKeeper")(next).ServeHTTP(resp, req)

			require.Equal(t, tt.wantCode, resp.Code)
			if tt.noContentLength || tt.wantCode != http.StatusRequestEntityTooLarge {
				require.Equal(t, 1, next.served, "handler must be reached when the length is unknown")
			} else {
				require.Zero(t, next.served, "oversized declared length must short-circuit")
			}
		})
	}
}
