/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
)

// RoutePatternGetterFunc extracts the route pattern (e.g. "/decide") from a
// request. The implementation depends on the router in use; see
// httpserver.GetChiRoutePattern for the chi one.
type RoutePatternGetterFunc func(r *http.Request) string

// WrapResponseWriterIfNeeded wraps rw into a WrapResponseWriter unless it is
// wrapped already, e.g. by an earlier middleware in the chain.
func WrapResponseWriterIfNeeded(rw http.ResponseWriter, protoMajor int) WrapResponseWriter {
	if wrw, ok := rw.(WrapResponseWriter); ok {
		return wrw
	}
	return NewWrapResponseWriter(rw, protoMajor)
}
