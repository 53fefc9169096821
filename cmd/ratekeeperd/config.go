/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"time"

	"github.com/acronis/go-ratekeeper/config"
	"github.com/acronis/go-ratekeeper/httpserver"
	"github.com/acronis/go-ratekeeper/keyactor"
	"github.com/acronis/go-ratekeeper/keystate"
	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/profserver"
	"github.com/acronis/go-ratekeeper/ratelimit"
	"github.com/acronis/go-ratekeeper/respcache"
)

const cfgDefaultKeyPrefix = "rateKeeper"

const (
	cfgKeyRules                = "rules"
	cfgKeyCountRejected        = "countRejected"
	cfgKeyActorShardCount      = "actor.shardCount"
	cfgKeyActorIdleTimeout     = "actor.idleTimeout"
	cfgKeyCacheEnabled         = "cache.enabled"
	cfgKeyCacheMaxEntries      = "cache.maxEntries"
	cfgKeyCacheCleanupInterval = "cache.cleanupInterval"
	cfgKeyThrottleEnabled      = "throttle.enabled"
	cfgKeyThrottleRate         = "throttle.rate"
	cfgKeyThrottleMaxBurst     = "throttle.maxBurst"
	cfgKeyMaxInFlight          = "maxInFlight"
)

const (
	defaultCacheCleanupInterval = time.Minute
	defaultThrottleRate         = "1000:1"
)

// RateKeeperConfig represents a set of configuration parameters for the admission control itself:
// the enforced rules, the per-key actor table and the rejection cache.
type RateKeeperConfig struct {
	Rules         []ratelimit.Rule
	CountRejected bool

	Actor struct {
		ShardCount  int
		IdleTimeout config.TimeDuration
	}

	Cache struct {
		Enabled         bool
		MaxEntries      int
		CleanupInterval config.TimeDuration
	}

	Throttle struct {
		Enabled  bool
		Rate     ratelimit.Rule
		MaxBurst int
	}

	MaxInFlight int

	keyPrefix string
}

var _ config.Config = (*RateKeeperConfig)(nil)
var _ config.KeyPrefixProvider = (*RateKeeperConfig)(nil)

// NewRateKeeperConfig creates a new instance of the RateKeeperConfig.
func NewRateKeeperConfig() *RateKeeperConfig {
	return &RateKeeperConfig{keyPrefix: cfgDefaultKeyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *RateKeeperConfig) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *RateKeeperConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyActorShardCount, keyactor.DefaultShardCount)
	dp.SetDefault(cfgKeyActorIdleTimeout, keyactor.DefaultIdleTimeout)
	dp.SetDefault(cfgKeyCacheEnabled, true)
	dp.SetDefault(cfgKeyCacheMaxEntries, respcache.DefaultMaxEntries)
	dp.SetDefault(cfgKeyCacheCleanupInterval, defaultCacheCleanupInterval)
	dp.SetDefault(cfgKeyThrottleRate, defaultThrottleRate)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *RateKeeperConfig) Set(dp config.DataProvider) error {
	var err error

	var ruleStrs []string
	if ruleStrs, err = dp.GetStringSlice(cfgKeyRules); err != nil {
		return err
	}
	if len(ruleStrs) == 0 {
		return dp.WrapKeyErr(cfgKeyRules, fmt.Errorf("at least one rule is required"))
	}
	c.Rules = c.Rules[:0]
	for _, ruleStr := range ruleStrs {
		rule, parseErr := ratelimit.ParseRule(ruleStr)
		if parseErr != nil {
			return dp.WrapKeyErr(cfgKeyRules, parseErr)
		}
		c.Rules = append(c.Rules, rule)
	}
	if err = ratelimit.ValidateRules(c.Rules); err != nil {
		return dp.WrapKeyErr(cfgKeyRules, err)
	}

	if c.CountRejected, err = dp.GetBool(cfgKeyCountRejected); err != nil {
		return err
	}

	if c.Actor.ShardCount, err = dp.GetInt(cfgKeyActorShardCount); err != nil {
		return err
	}
	if c.Actor.ShardCount <= 0 {
		return dp.WrapKeyErr(cfgKeyActorShardCount, fmt.Errorf("must be positive"))
	}
	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyActorIdleTimeout); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyActorIdleTimeout, fmt.Errorf("must be positive"))
	}
	c.Actor.IdleTimeout = config.TimeDuration(dur)

	if c.Cache.Enabled, err = dp.GetBool(cfgKeyCacheEnabled); err != nil {
		return err
	}
	if c.Cache.MaxEntries, err = dp.GetInt(cfgKeyCacheMaxEntries); err != nil {
		return err
	}
	if c.Cache.MaxEntries <= 0 {
		return dp.WrapKeyErr(cfgKeyCacheMaxEntries, fmt.Errorf("must be positive"))
	}
	if dur, err = dp.GetDuration(cfgKeyCacheCleanupInterval); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyCacheCleanupInterval, fmt.Errorf("must be positive"))
	}
	c.Cache.CleanupInterval = config.TimeDuration(dur)

	if c.Throttle.Enabled, err = dp.GetBool(cfgKeyThrottleEnabled); err != nil {
		return err
	}
	var rateStr string
	if rateStr, err = dp.GetString(cfgKeyThrottleRate); err != nil {
		return err
	}
	if c.Throttle.Rate, err = ratelimit.ParseRule(rateStr); err != nil {
		return dp.WrapKeyErr(cfgKeyThrottleRate, err)
	}
	if c.Throttle.MaxBurst, err = dp.GetInt(cfgKeyThrottleMaxBurst); err != nil {
		return err
	}
	if c.Throttle.MaxBurst < 0 {
		return dp.WrapKeyErr(cfgKeyThrottleMaxBurst, fmt.Errorf("must not be negative"))
	}

	if c.MaxInFlight, err = dp.GetInt(cfgKeyMaxInFlight); err != nil {
		return err
	}
	if c.MaxInFlight < 0 {
		return dp.WrapKeyErr(cfgKeyMaxInFlight, fmt.Errorf("must not be negative"))
	}

	return nil
}

// AppConfig is a full configuration of the ratekeeperd service.
type AppConfig struct {
	RateKeeper *RateKeeperConfig
	Storage    *keystate.Config
	Server     *httpserver.Config
	ProfServer *profserver.Config
	Log        *log.Config
}

// NewAppConfig creates a new instance of the AppConfig.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		RateKeeper: NewRateKeeperConfig(),
		Storage:    keystate.NewConfig(),
		Server:     httpserver.NewConfig(),
		ProfServer: profserver.NewConfig(),
		Log:        log.NewConfig(),
	}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set sets configuration values from config.DataProvider.
func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}
