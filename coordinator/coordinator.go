/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package coordinator provides the client-facing entry point of the rate limiting
// service. It builds the canonical descriptor for a key and its rules, consults
// the rejection cache, and falls back to the key's serialized execution context
// for a fresh decision.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/ratelimit"
	"github.com/acronis/go-ratekeeper/respcache"
)

// Decider produces admission decisions for a key.
// Implemented by keyactor.Registry.
type Decider interface {
	Decide(ctx context.Context, key string, rules []ratelimit.Rule, now int64) (ratelimit.Decision, error)
}

// Rejection is a negative outcome of RateLimit.
type Rejection = ratelimit.Rejection

// Opts represents options for Coordinator.
type Opts struct {
	// Cache holds previously computed rejections.
	// If nil, every call goes to the key's execution context.
	Cache *respcache.Cache

	// Logger is used for logging failures of best-effort steps.
	// If nil, such failures are not logged.
	Logger log.FieldLogger

	// MetricsCollector collects decision statistics. May be nil.
	MetricsCollector MetricsCollector
}

// Coordinator answers whether a request for a key may proceed under a rule set.
type Coordinator struct {
	decider          Decider
	cache            *respcache.Cache
	logger           log.FieldLogger
	metricsCollector MetricsCollector
	nowFn            func() time.Time
}

// New creates a new Coordinator with default options.
func New(decider Decider) *Coordinator {
	return NewWithOpts(decider, Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(decider Decider, opts Opts) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	metricsCollector := opts.MetricsCollector
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	return &Coordinator{
		decider:          decider,
		cache:            opts.Cache,
		logger:           logger,
		metricsCollector: metricsCollector,
		nowFn:            time.Now,
	}
}

// RateLimit decides whether a request identified by key may proceed under rules.
// It returns (nil, nil) when the request is admitted and a *Rejection when it is
// rate limited. The rules must be passed in a stable order across calls for the
// same key since their order participates in the cache key.
func (c *Coordinator) RateLimit(ctx context.Context, key string, rules []ratelimit.Rule) (*Rejection, error) {
	if key == "" {
		return nil, fmt.Errorf("key must not be empty")
	}
	if err := ratelimit.ValidateRules(rules); err != nil {
		return nil, err
	}

	desc := ratelimit.Descriptor{Key: key, Rules: rules}.String()
	now := c.nowFn().Unix()

	if c.cache != nil {
		if cached, ok := c.cache.Get(desc, now); ok {
			c.metricsCollector.ObserveDecision(DecisionVerdictLimited, DecisionSourceCache)
			return &Rejection{RetryAt: cached.RetryAt, RetryAfter: cached.RetryAfter(now)}, nil
		}
	}

	decision, err := c.decider.Decide(ctx, key, rules, now)
	if err != nil {
		return nil, fmt.Errorf("decide for key %q: %w", key, err)
	}

	if decision.Allowed {
		c.metricsCollector.ObserveDecision(DecisionVerdictAllowed, DecisionSourceActor)
		return nil, nil
	}

	c.metricsCollector.ObserveDecision(DecisionVerdictLimited, DecisionSourceActor)

	// Populating the cache is best-effort and must not delay the caller.
	// Losing the write only lowers the future cache-hit rate.
	if c.cache != nil && decision.Cacheable(now) {
		go c.cache.Put(desc, decision, now)
	}

	return &Rejection{RetryAt: decision.RetryAt, RetryAfter: decision.RetryAfter(now)}, nil
}
