/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"strings"
	"unicode"
)

// Error is the error object carried in JSON error responses.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error codes. Declared as "var" so that a service can override them.
var (
	ErrCodeInternal         = "internalError"
	ErrCodeNotFound         = "notFound"
	ErrCodeMethodNotAllowed = "methodNotAllowed"
)

// Error messages. Declared as "var" so that a service can override them.
var (
	ErrMessageInternal         = "Internal error."
	ErrMessageNotFound         = "Not found."
	ErrMessageMethodNotAllowed = "Method not allowed."
)

// NewError creates a new Error with the specified params.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// NewInternalError creates a new internal error within the specified domain.
func NewInternalError(domain string) *Error {
	return NewError(domain, ErrCodeInternal, ErrMessageInternal)
}

// AddContext attaches a value to the error context and returns the same error
// for chaining.
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[field] = value
	return e
}

// httpCode2ErrorCode builds a lowerCamelCase error code from the standard
// HTTP status text, e.g. 429 becomes "tooManyRequests".
func httpCode2ErrorCode(httpCode int) string {
	if httpCode == http.StatusInternalServerError {
		return ErrCodeInternal
	}
	var b strings.Builder
	capitalizeNext := false
	for _, r := range http.StatusText(httpCode) {
		switch {
		case unicode.IsSpace(r):
			capitalizeNext = true
		case capitalizeNext:
			b.WriteRune(unicode.ToTitle(r))
			capitalizeNext = false
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
