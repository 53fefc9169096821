/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package respcache provides an LRU cache of negative admission decisions.
// A cached rejection stays valid until its retry time passes, so repeated
// requests with the same descriptor can be answered without a round trip
// to the key's execution context.
package respcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/acronis/go-ratekeeper/ratelimit"
)

// DefaultMaxEntries is a default maximum number of cached rejections.
const DefaultMaxEntries = 10000

type cacheEntry struct {
	descriptor string
	decision   ratelimit.Decision
}

// Cache represents an LRU cache of negative decisions keyed by descriptor.
// Positive decisions are never stored: admission consumes capacity, so a
// positive outcome is valid only for the request that produced it.
type Cache struct {
	maxEntries int

	mu      sync.RWMutex
	lruList *list.List
	cache   map[string]*list.Element // map of cached rejections, value is a lruList element

	metricsCollector MetricsCollector
}

// Options represents options for the cache.
type Options struct {
	// MaxEntries is the maximum number of cached rejections.
	// If zero, DefaultMaxEntries is used.
	MaxEntries int
}

// New creates a new Cache with the provided metrics collector.
func New(metricsCollector MetricsCollector) (*Cache, error) {
	return NewWithOpts(metricsCollector, Options{})
}

// NewWithOpts creates a new Cache with the provided metrics collector and options.
// Metrics collector is used to collect statistics about cache usage.
// It can be nil, in this case, metrics will be disabled.
func NewWithOpts(metricsCollector MetricsCollector, opts Options) (*Cache, error) {
	maxEntries := opts.MaxEntries
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	return &Cache{
		maxEntries:       maxEntries,
		lruList:          list.New(),
		cache:            make(map[string]*list.Element),
		metricsCollector: metricsCollector,
	}, nil
}

// Get returns a still-valid cached rejection for the descriptor.
// An entry whose retry time has passed is removed and reported as a miss.
func (c *Cache) Get(descriptor string, now int64) (ratelimit.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, hit := c.cache[descriptor]
	if !hit {
		c.metricsCollector.IncMisses()
		return ratelimit.Decision{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if !entry.decision.Cacheable(now) {
		c.lruList.Remove(elem)
		delete(c.cache, descriptor)
		c.metricsCollector.SetAmount(len(c.cache))
		c.metricsCollector.IncMisses()
		return ratelimit.Decision{}, false
	}
	c.lruList.MoveToFront(elem)
	c.metricsCollector.IncHits()
	return entry.decision, true
}

// Put stores a rejection under the descriptor. Decisions that are not
// cacheable (positive ones, or rejections already past their retry time)
// are silently dropped. If the cache is full, the oldest entry is evicted.
func (c *Cache) Put(descriptor string, decision ratelimit.Decision, now int64) {
	if !decision.Cacheable(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[descriptor]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value = &cacheEntry{descriptor: descriptor, decision: decision}
		return
	}
	c.cache[descriptor] = c.lruList.PushFront(&cacheEntry{descriptor: descriptor, decision: decision})
	if len(c.cache) > c.maxEntries {
		if c.removeOldest() != nil {
			c.metricsCollector.AddEvictions(1)
		}
	}
	c.metricsCollector.SetAmount(len(c.cache))
}

// Remove removes a cached rejection by the provided descriptor.
func (c *Cache) Remove(descriptor string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[descriptor]
	if !ok {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.cache, descriptor)
	c.metricsCollector.SetAmount(len(c.cache))
	return true
}

// Purge clears the cache.
// Removed entries are not counted as evictions.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metricsCollector.SetAmount(0)
	c.cache = make(map[string]*list.Element)
	c.lruList.Init()
}

// Len returns the number of cached rejections, including not yet
// collected expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Cache) removeOldest() *cacheEntry {
	elem := c.lruList.Back()
	if elem == nil {
		return nil
	}
	c.lruList.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.cache, entry.descriptor)
	return entry
}

// CleanupExpired removes all rejections whose retry time has passed
// and returns the number of removed entries.
// It is meant to be run periodically, e.g. by service.PeriodicWorker.
func (c *Cache) CleanupExpired(now int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for descriptor, elem := range c.cache {
		if !elem.Value.(*cacheEntry).decision.Cacheable(now) {
			c.lruList.Remove(elem)
			delete(c.cache, descriptor)
			removed++
		}
	}
	c.metricsCollector.SetAmount(len(c.cache))
	return removed
}
