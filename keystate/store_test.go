/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keystate

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekeeper/ratelimit"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	l, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found, "a key that was never written is reported as absent")
	require.Nil(t, l)

	want := ratelimit.Log{30, 20, 10}
	require.NoError(t, store.Put(ctx, "client-1", want))

	l, found, err = store.Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, l)

	// Mutating the returned log must not affect the stored value.
	l[0] = 999
	l2, _, err := store.Get(ctx, "client-1")
	require.NoError(t, err)
	require.Equal(t, want, l2)

	// Put replaces the previous value.
	require.NoError(t, store.Put(ctx, "client-1", ratelimit.Log{40}))
	l, _, _ = store.Get(ctx, "client-1")
	require.Equal(t, ratelimit.Log{40}, l)

	require.Equal(t, 1, store.Len())
}

func TestMemoryStorePutEmptyLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "client-1", ratelimit.Log{}))
	_, found, err := store.Get(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, found, "an explicitly persisted empty log is still a stored value")
}

func TestIsTransientRedisError(t *testing.T) {
	require.False(t, isTransientRedisError(redis.Nil))
	require.False(t, isTransientRedisError(context.Canceled))
}
