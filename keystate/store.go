/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package keystate provides durable storage for per-key admission logs.
// A Store holds the timestamp log of each key; it is read and written only by
// the key's actor, so implementations do not need to serialize per-key access
// themselves, only to be safe for concurrent use across different keys.
package keystate

import (
	"context"

	"github.com/acronis/go-ratekeeper/ratelimit"
)

// Store is a durable key-value storage primitive for admission logs.
type Store interface {
	// Get loads the admission log of the key.
	// A key that was never written reports found == false; callers treat it as an empty log.
	Get(ctx context.Context, key string) (log ratelimit.Log, found bool, err error)

	// Put persists the admission log of the key, replacing the previous value.
	Put(ctx context.Context, key string, log ratelimit.Log) error
}

// Pinger is implemented by stores backed by an external service whose liveness
// can be checked (used by health checks).
type Pinger interface {
	Ping(ctx context.Context) error
}
