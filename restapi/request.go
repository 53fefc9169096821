/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"fmt"
	"io"
	"net/http"

	"code.cloudfoundry.org/bytefmt"
)

// RequestBodyTooLargeError is reported when reading a request body goes past the configured limit.
type RequestBodyTooLargeError struct {
	MaxSizeBytes uint64
	Err          error
}

// Error implements the error interface.
func (e *RequestBodyTooLargeError) Error() string {
	return e.Err.Error()
}

type maxBytesReader struct {
	io.ReadCloser
	n uint64
}

func (r *maxBytesReader) Read(p []byte) (n int, err error) {
	n, err = r.ReadCloser.Read(p)

	// http.maxBytesReader reports the overflow with a plain error, matching its text
	// is the only way to detect it. See https://github.com/golang/go/issues/30715.
	if err != nil && err.Error() == "http: request body too large" {
		err = &RequestBodyTooLargeError{r.n, err}
	}

	return
}

// SetRequestMaxBodySize replaces the request body with a reader capped at maxSizeBytes.
// Reading past the cap yields RequestBodyTooLargeError.
func SetRequestMaxBodySize(w http.ResponseWriter, r *http.Request, maxSizeBytes uint64) {
	r.Body = &maxBytesReader{ReadCloser: http.MaxBytesReader(w, r.Body, int64(maxSizeBytes)), n: maxSizeBytes}
}

// MalformedRequestError describes a request the server refuses to process,
// carrying the HTTP status to respond with.
type MalformedRequestError struct {
	HTTPStatusCode int
	Message        string
}

// Error implements the error interface.
func (e *MalformedRequestError) Error() string {
	return e.Message
}

// NewTooLargeMalformedRequestError builds the error for an over-limit request body,
// stating the limit in human-readable form.
func NewTooLargeMalformedRequestError(maxSizeBytes uint64) *MalformedRequestError {
	return &MalformedRequestError{
		http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Request body must not be larger than %s.", bytefmt.ByteSize(maxSizeBytes)),
	}
}
