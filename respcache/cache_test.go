/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package respcache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekeeper/ratelimit"
)

func TestCachePutAndGet(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	const desc = "k=client-1&r=1%3A10"
	rejection := ratelimit.Limit(110)

	_, hit := c.Get(desc, 100)
	require.False(t, hit)

	c.Put(desc, rejection, 100)
	got, hit := c.Get(desc, 105)
	require.True(t, hit)
	require.Equal(t, rejection, got)
	require.EqualValues(t, 5, got.RetryAfter(105))
}

func TestCacheEntryExpiresAtRetryTime(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	const desc = "k=client-1&r=1%3A10"
	c.Put(desc, ratelimit.Limit(110), 100)

	_, hit := c.Get(desc, 109)
	require.True(t, hit)

	// At the retry time the rejection is no longer valid and the entry is collected.
	_, hit = c.Get(desc, 110)
	require.False(t, hit)
	require.Equal(t, 0, c.Len())
}

func TestCacheIgnoresUncacheableDecisions(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	c.Put("allowed", ratelimit.Allow(), 100)
	c.Put("expired", ratelimit.Limit(90), 100)
	require.Equal(t, 0, c.Len())
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	c, err := NewWithOpts(nil, Options{MaxEntries: 2})
	require.NoError(t, err)

	c.Put("a", ratelimit.Limit(200), 100)
	c.Put("b", ratelimit.Limit(200), 100)

	// Touch "a" so "b" becomes the oldest.
	_, hit := c.Get("a", 100)
	require.True(t, hit)

	c.Put("c", ratelimit.Limit(200), 100)
	require.Equal(t, 2, c.Len())

	_, hit = c.Get("b", 100)
	require.False(t, hit)
	_, hit = c.Get("a", 100)
	require.True(t, hit)
	_, hit = c.Get("c", 100)
	require.True(t, hit)
}

func TestCacheRemoveAndPurge(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	c.Put("a", ratelimit.Limit(200), 100)
	c.Put("b", ratelimit.Limit(200), 100)

	require.True(t, c.Remove("a"))
	require.False(t, c.Remove("a"))
	require.Equal(t, 1, c.Len())

	c.Purge()
	require.Equal(t, 0, c.Len())
}

func TestCachePutRefreshesExistingEntry(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	c.Put("a", ratelimit.Limit(110), 100)
	c.Put("a", ratelimit.Limit(150), 100)
	require.Equal(t, 1, c.Len())

	got, hit := c.Get("a", 120)
	require.True(t, hit)
	require.EqualValues(t, 150, got.RetryAt)
}

func TestCacheCleanupExpired(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	c.Put("expiring", ratelimit.Limit(110), 100)
	c.Put("lasting", ratelimit.Limit(100+3600), 100)
	require.Equal(t, 2, c.Len())

	require.Equal(t, 0, c.CleanupExpired(105))
	require.Equal(t, 2, c.Len())

	require.Equal(t, 1, c.CleanupExpired(120))
	require.Equal(t, 1, c.Len())

	_, hit := c.Get("lasting", 120)
	require.True(t, hit)
}

func TestCacheMetrics(t *testing.T) {
	collector := &countingCollector{}
	c, err := NewWithOpts(collector, Options{MaxEntries: 1})
	require.NoError(t, err)

	_, _ = c.Get("a", 100)
	c.Put("a", ratelimit.Limit(200), 100)
	_, _ = c.Get("a", 100)
	c.Put("b", ratelimit.Limit(200), 100)

	require.Equal(t, 1, collector.hits)
	require.Equal(t, 1, collector.misses)
	require.Equal(t, 1, collector.evictions)
	require.Equal(t, c.Len(), collector.amount, "entries gauge must track the cache size after eviction")
}

func TestNewWithOptsInvalidMaxEntries(t *testing.T) {
	_, err := NewWithOpts(nil, Options{MaxEntries: -1})
	require.Error(t, err)
}

type countingCollector struct {
	amount    int
	hits      int
	misses    int
	evictions int
}

func (c *countingCollector) SetAmount(n int)    { c.amount = n }
func (c *countingCollector) IncHits()           { c.hits++ }
func (c *countingCollector) IncMisses()         { c.misses++ }
func (c *countingCollector) AddEvictions(n int) { c.evictions += n }

func BenchmarkCacheGet(b *testing.B) {
	c, err := New(nil)
	require.NoError(b, err)
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("k=client-%d&r=1%%3A10", i), ratelimit.Limit(1<<40), 100)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("k=client-50&r=1%3A10", 100)
	}
}
