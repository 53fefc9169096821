/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keyactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/acronis/go-ratekeeper/keystate"
	"github.com/acronis/go-ratekeeper/ratelimit"
)

// DefaultShardCount is a default number of shards in the actor table.
const DefaultShardCount = 32

// DefaultIdleTimeout determines how long an actor without work stays alive.
const DefaultIdleTimeout = time.Minute

// ErrRegistryClosed is returned by Decide after the registry has been shut down.
var ErrRegistryClosed = errors.New("actor registry is closed")

// RegistryOpts represents options for Registry.
type RegistryOpts struct {
	// ShardCount is the number of shards in the actor table.
	ShardCount int

	// IdleTimeout determines how long an actor without queued work stays alive.
	IdleTimeout time.Duration

	// CountRejected makes rejected attempts consume capacity (see ratelimit.DecideOpts).
	CountRejected bool
}

// Registry resolves keys to their actors. Resolution is deterministic and
// stable: while an actor for a key is alive, every caller gets the same one.
type Registry struct {
	store       keystate.Store
	decideOpts  ratelimit.DecideOpts
	idleTimeout time.Duration

	shards []*registryShard

	closedMu sync.RWMutex
	closed   bool

	numActive atomic.Int64
}

type registryShard struct {
	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry creates a new Registry with default options.
func NewRegistry(store keystate.Store) *Registry {
	return NewRegistryWithOpts(store, RegistryOpts{})
}

// NewRegistryWithOpts is a more configurable version of NewRegistry.
func NewRegistryWithOpts(store keystate.Store, opts RegistryOpts) *Registry {
	shardCount := opts.ShardCount
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	shards := make([]*registryShard, shardCount)
	for i := range shards {
		shards[i] = &registryShard{actors: make(map[string]*Actor)}
	}
	return &Registry{
		store:       store,
		decideOpts:  ratelimit.DecideOpts{CountRejected: opts.CountRejected},
		idleTimeout: idleTimeout,
		shards:      shards,
	}
}

// Decide routes the call to the key's actor and waits for the decision.
// Calls for the same key are executed one at a time in arrival order;
// calls for different keys proceed in parallel.
func (r *Registry) Decide(ctx context.Context, key string, rules []ratelimit.Rule, now int64) (ratelimit.Decision, error) {
	if err := ratelimit.ValidateRules(rules); err != nil {
		return ratelimit.Decision{}, err
	}

	c := call{ctx: ctx, rules: rules, now: now, reply: make(chan callResult, 1)}
	if err := r.enqueue(key, c); err != nil {
		return ratelimit.Decision{}, err
	}

	select {
	case res := <-c.reply:
		return res.decision, res.err
	case <-ctx.Done():
		return ratelimit.Decision{}, ctx.Err()
	}
}

// enqueue hands the call to the key's actor, resolving (or re-creating) it as
// needed. A retiring actor refuses new work, in which case the key is resolved
// again; the loop terminates because a refused enqueue means the actor is
// already unregistered.
func (r *Registry) enqueue(key string, c call) error {
	sh := r.shard(key)
	for {
		r.closedMu.RLock()
		if r.closed {
			r.closedMu.RUnlock()
			return ErrRegistryClosed
		}

		sh.mu.Lock()
		a := sh.actors[key]
		if a == nil {
			a = newActor(key, r.store, r.decideOpts, r.idleTimeout)
			sh.actors[key] = a
			r.numActive.Inc()
			go a.run(func(a *Actor) bool { return r.tryRetire(sh, a) })
		}
		ok := a.enqueue(c)
		sh.mu.Unlock()
		r.closedMu.RUnlock()

		if ok {
			return nil
		}
	}
}

func (r *Registry) shard(key string) *registryShard {
	return r.shards[xxhash.Sum64String(key)%uint64(len(r.shards))]
}

// tryRetire unregisters an idle actor. Shard and actor locks are taken in the
// same order as on the enqueue path.
func (r *Registry) tryRetire(sh *registryShard, a *Actor) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	if sh.actors[a.key] != a {
		// Already unregistered by Shutdown; the quit signal will stop the loop.
		return false
	}
	if len(a.queue) != 0 {
		return false
	}
	a.draining = true
	delete(sh.actors, a.key)
	r.numActive.Dec()
	return true
}

// ActiveActors returns the number of currently alive actors.
func (r *Registry) ActiveActors() int64 {
	return r.numActive.Load()
}

// Shutdown stops accepting new calls, lets every actor serve its queued calls,
// and waits for all actors to stop or for the context to be canceled.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.closedMu.Lock()
	if r.closed {
		r.closedMu.Unlock()
		return nil
	}
	r.closed = true
	r.closedMu.Unlock()

	var stopping []*Actor
	for _, sh := range r.shards {
		sh.mu.Lock()
		for key, a := range sh.actors {
			a.mu.Lock()
			a.draining = true
			a.mu.Unlock()
			delete(sh.actors, key)
			r.numActive.Dec()
			stopping = append(stopping, a)
		}
		sh.mu.Unlock()
	}

	for _, a := range stopping {
		close(a.quit)
	}
	for _, a := range stopping {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
