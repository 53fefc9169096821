/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type requestIDNextHandler struct {
	served  int
	request *http.Request
}

func (h *requestIDNextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.served++
	h.request = r
}

func TestRequestIDHandler_ServeHTTP(t *testing.T) {
	const externalID = "ext-decide-request-id"
	const internalID = "int-decide-request-id"

	opts := RequestIDOpts{
		GenerateID:         func() string { return externalID },
		GenerateInternalID: func() string { return internalID },
	}

	serveDecide := func(mw func(http.Handler) http.Handler, reqModify func(*http.Request)) (*requestIDNextHandler, *httptest.ResponseRecorder) {
		next := &requestIDNextHandler{}
		req := httptest.NewRequest(http.MethodGet, "/decide?k=client-1", nil)
		if reqModify != nil {
			reqModify(req)
		}
		resp := httptest.NewRecorder()
		mw(next).ServeHTTP(resp, req)
		return next, resp
	}

	t.Run("external requestID is taken from the request header", func(t *testing.T) {
		const clientSuppliedID = "client-supplied-request-id"
		next, resp := serveDecide(RequestIDWithOpts(opts), func(req *http.Request) {
			req.Header.Set(headerRequestID, clientSuppliedID)
			// Internal request ID from the client must never be trusted.
			req.Header.Set(headerInternalRequestID, clientSuppliedID)
		})

		require.Equal(t, 1, next.served)
		assert.Equal(t, clientSuppliedID, GetRequestIDFromContext(next.request.Context()))
		assert.Equal(t, clientSuppliedID, resp.Header().Get(headerRequestID))
		assert.Equal(t, internalID, GetInternalRequestIDFromContext(next.request.Context()))
		assert.Equal(t, internalID, resp.Header().Get(headerInternalRequestID))
	})

	t.Run("external requestID is generated when the header is absent", func(t *testing.T) {
		next, resp := serveDecide(RequestIDWithOpts(opts), nil)

		require.Equal(t, 1, next.served)
		assert.Equal(t, externalID, GetRequestIDFromContext(next.request.Context()))
		assert.Equal(t, externalID, resp.Header().Get(headerRequestID))
		assert.Equal(t, internalID, GetInternalRequestIDFromContext(next.request.Context()))
		assert.Equal(t, internalID, resp.Header().Get(headerInternalRequestID))
	})

	t.Run("both requestIDs are generated with the default xid generator", func(t *testing.T) {
		next, resp := serveDecide(RequestID(), nil)

		require.Equal(t, 1, next.served)
		assert.NotEmpty(t, GetRequestIDFromContext(next.request.Context()))
		assert.NotEmpty(t, resp.Header().Get(headerRequestID))
		assert.NotEmpty(t, GetInternalRequestIDFromContext(next.request.Context()))
		assert.NotEmpty(t, resp.Header().Get(headerInternalRequestID))
	})
}
