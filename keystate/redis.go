/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keystate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-ratekeeper/ratelimit"
	"github.com/acronis/go-ratekeeper/retry"
)

const defaultRedisKeyPrefix = "ratekeeper:keystate:"

// RedisStoreOpts represents options for RedisStore.
type RedisStoreOpts struct {
	// KeyPrefix is prepended to every storage key. Defaults to "ratekeeper:keystate:".
	KeyPrefix string

	// EntryTTL bounds the lifetime of a stored log. Logs self-prune via
	// trimming on every decision, but a key that stops receiving requests
	// would otherwise keep its last log forever. Zero disables expiration.
	EntryTTL time.Duration

	// RetryPolicy is applied to transient errors on Get and Put.
	// Nil disables retries.
	RetryPolicy retry.Policy
}

// RedisStore is a Store implementation backed by Redis, for deployments where
// actors of different keys are spread over multiple processes.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	entryTTL  time.Duration
	retryP    retry.Policy
}

var _ Store = (*RedisStore)(nil)
var _ Pinger = (*RedisStore)(nil)

// NewRedisStore creates a new RedisStore with default options.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return NewRedisStoreWithOpts(client, RedisStoreOpts{})
}

// NewRedisStoreWithOpts is a more configurable version of NewRedisStore.
func NewRedisStoreWithOpts(client redis.UniversalClient, opts RedisStoreOpts) *RedisStore {
	keyPrefix := opts.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		entryTTL:  opts.EntryTTL,
		retryP:    opts.RetryPolicy,
	}
}

// Get loads the admission log of the key.
func (s *RedisStore) Get(ctx context.Context, key string) (ratelimit.Log, bool, error) {
	var data []byte
	err := s.doWithRetry(ctx, func(ctx context.Context) error {
		var cmdErr error
		data, cmdErr = s.client.Get(ctx, s.keyPrefix+key).Bytes()
		return cmdErr
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get key state for %q: %w", key, err)
	}
	var l ratelimit.Log
	if err = json.Unmarshal(data, &l); err != nil {
		return nil, false, fmt.Errorf("unmarshal key state for %q: %w", key, err)
	}
	return l, true, nil
}

// Put persists the admission log of the key.
func (s *RedisStore) Put(ctx context.Context, key string, log ratelimit.Log) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal key state for %q: %w", key, err)
	}
	err = s.doWithRetry(ctx, func(ctx context.Context) error {
		return s.client.Set(ctx, s.keyPrefix+key, data, s.entryTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("put key state for %q: %w", key, err)
	}
	return nil
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.retryP == nil {
		return fn(ctx)
	}
	return retry.DoWithRetry(ctx, s.retryP, isTransientRedisError, nil, fn)
}

// isTransientRedisError tells transient (network-level) errors from persistent
// ones like redis.Nil or a malformed command.
func isTransientRedisError(err error) bool {
	if errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
