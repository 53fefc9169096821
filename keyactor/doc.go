/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package keyactor binds every rate-limited key to exactly one serialized
// execution context. All admission decisions for a key are executed by that
// key's actor one at a time, in arrival order; this is what prevents two
// concurrent callers from both observing one remaining slot and both being
// admitted. Different keys run fully independently.
//
// Actors are created lazily on first use, shut down after an idle period, and
// are re-created transparently. The Registry resolves a key to its actor
// deterministically through a sharded table.
package keyactor
