/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

type errorRespData struct {
	Domain string `json:"domain"`
	Code   string `json:"code"`
}

// wrapErrorInResponse controls whether error payloads are expected to be wrapped
// into an "error" object, i.e. {"error": {"domain": ..., "code": ...}}.
var wrapErrorInResponse = true

// DisableWrappingErrorInResponse makes the error assertions expect a bare
// {"domain": ..., "code": ...} payload.
func DisableWrappingErrorInResponse() {
	wrapErrorInResponse = false
}

// EnableWrappingErrorInResponse makes the error assertions expect the payload
// wrapped into an "error" object. This is the default.
func EnableWrappingErrorInResponse() {
	wrapErrorInResponse = true
}

// RequireErrorInRecorder asserts that the recorded response carries the error
// with the wanted HTTP code, domain and code. Wrapping is controlled by
// EnableWrappingErrorInResponse/DisableWrappingErrorInResponse.
func RequireErrorInRecorder(
	t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string,
) {
	markHelper(t)
	requireErrorPayload(t, resp.Code, resp.Header(), resp.Body, wantHTTPCode, wantErrDomain, wantErrCode, wrapErrorInResponse)
}

// RequireErrorInResponse is RequireErrorInRecorder for a live http.Response.
func RequireErrorInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	markHelper(t)
	requireErrorPayload(t, resp.StatusCode, resp.Header, resp.Body, wantHTTPCode, wantErrDomain, wantErrCode, wrapErrorInResponse)
}

// RequireWrappedErrorInRecorder asserts a wrapped error payload regardless of the package-level wrapping mode.
func RequireWrappedErrorInRecorder(
	t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string,
) {
	markHelper(t)
	requireErrorPayload(t, resp.Code, resp.Header(), resp.Body, wantHTTPCode, wantErrDomain, wantErrCode, true)
}

// RequireNoWrappedErrorInRecorder asserts a bare error payload regardless of the package-level wrapping mode.
func RequireNoWrappedErrorInRecorder(
	t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string,
) {
	markHelper(t)
	requireErrorPayload(t, resp.Code, resp.Header(), resp.Body, wantHTTPCode, wantErrDomain, wantErrCode, false)
}

func requireErrorPayload(
	t require.TestingT, code int, header http.Header, body io.Reader,
	wantHTTPCode int, wantErrDomain, wantErrCode string, wrapped bool,
) {
	markHelper(t)
	require.Equal(t, wantHTTPCode, code)
	require.Equal(t, contentTypeAppJSON, header.Get("Content-Type"))
	var errResp errorRespData
	if wrapped {
		var wrappedResp struct {
			Error errorRespData `json:"error"`
		}
		require.NoError(t, json.NewDecoder(body).Decode(&wrappedResp))
		errResp = wrappedResp.Error
	} else {
		require.NoError(t, json.NewDecoder(body).Decode(&errResp))
	}
	require.Equal(t, wantErrDomain, errResp.Domain)
	require.Equal(t, wantErrCode, errResp.Code)
}

// RequireEmptyBodyInRecorder asserts that the recorded response has an empty body.
func RequireEmptyBodyInRecorder(t require.TestingT, resp *httptest.ResponseRecorder) {
	markHelper(t)
	bodyBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, bodyBytes)
}

// RequireJSONInRecorder asserts that the recorded response body decodes into dest and equals want.
func RequireJSONInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, want, dest interface{}) {
	markHelper(t)
	require.Equal(t, contentTypeAppJSON, resp.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	require.Equal(t, want, dest)
}

// RequireStringJSONInResponse asserts that the response body is exactly the wanted JSON string.
func RequireStringJSONInResponse(t require.TestingT, resp *http.Response, want string) {
	markHelper(t)
	require.Equal(t, contentTypeAppJSON, resp.Header.Get("Content-Type"))
	bodyBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, want, string(bodyBytes))
}
