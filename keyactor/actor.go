/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keyactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/go-ratekeeper/keystate"
	"github.com/acronis/go-ratekeeper/ratelimit"
)

type call struct {
	ctx   context.Context
	rules []ratelimit.Rule
	now   int64
	reply chan callResult
}

type callResult struct {
	decision ratelimit.Decision
	err      error
}

// Actor owns the admission state of one key. Its goroutine executes queued
// decisions strictly in enqueue order; the durable-state write of a decision
// must complete before the decision is returned, so a crash after a reply
// cannot leave state unpersisted.
type Actor struct {
	key         string
	store       keystate.Store
	decideOpts  ratelimit.DecideOpts
	idleTimeout time.Duration

	mu       sync.Mutex
	queue    []call
	draining bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newActor(key string, store keystate.Store, decideOpts ratelimit.DecideOpts, idleTimeout time.Duration) *Actor {
	return &Actor{
		key:         key,
		store:       store,
		decideOpts:  decideOpts,
		idleTimeout: idleTimeout,
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Key returns the key this actor is bound to.
func (a *Actor) Key() string {
	return a.key
}

// enqueue adds a call to the actor's mailbox.
// It reports false when the actor is draining and cannot accept work anymore;
// the caller should re-resolve the key then.
func (a *Actor) enqueue(c call) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return false
	}
	a.queue = append(a.queue, c)
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *Actor) pop() (call, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return call{}, false
	}
	c := a.queue[0]
	a.queue = a.queue[1:]
	return c, true
}

// run is the actor's mailbox loop. tryRetire is called on idle timeout; it must
// atomically mark the actor draining and unregister it when the mailbox is
// empty, reporting whether it did so.
func (a *Actor) run(tryRetire func(*Actor) bool) {
	defer close(a.done)

	idle := time.NewTimer(a.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-a.wake:
			a.processQueued()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(a.idleTimeout)
		case <-idle.C:
			if tryRetire(a) {
				return
			}
			idle.Reset(a.idleTimeout)
		case <-a.quit:
			// Shutdown: the registry has already marked the actor draining,
			// only the queued calls are left to serve.
			a.processQueued()
			return
		}
	}
}

func (a *Actor) processQueued() {
	for {
		c, ok := a.pop()
		if !ok {
			return
		}
		c.reply <- a.process(c)
	}
}

func (a *Actor) process(c call) callResult {
	l, _, err := a.store.Get(c.ctx, a.key)
	if err != nil {
		return callResult{err: fmt.Errorf("load state of key %q: %w", a.key, err)}
	}

	decision, newLog := ratelimit.DecideWithOpts(l, c.rules, c.now, a.decideOpts)

	// The trimmed log is persisted even on rejection, keeping storage bounded.
	if err = a.store.Put(c.ctx, a.key, newLog); err != nil {
		return callResult{err: fmt.Errorf("persist state of key %q: %w", a.key, err)}
	}
	return callResult{decision: decision}
}
