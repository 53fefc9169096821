/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keystate

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-ratekeeper/config"
	"github.com/acronis/go-ratekeeper/retry"
)

const cfgDefaultKeyPrefix = "storage"

const (
	cfgKeyStorageType          = "type"
	cfgKeyStorageRedisAddress  = "redis.address"
	cfgKeyStorageRedisPassword = "redis.password" // nolint:gosec // it's a config key, not a credential
	cfgKeyStorageRedisDatabase = "redis.database"
	cfgKeyStorageRedisTimeout  = "redis.timeout"
	cfgKeyStorageRedisEntryTTL = "redis.entryTTL"
)

const (
	defaultRedisAddress = "127.0.0.1:6379"
	defaultRedisTimeout = time.Second * 3
)

// StorageType defines possible values for the storage backend.
type StorageType string

// Supported storage backends.
const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeRedis  StorageType = "redis"
)

var availableStorageTypes = []string{string(StorageTypeMemory), string(StorageTypeRedis)}

// Config represents a set of configuration parameters for the key-state storage.
type Config struct {
	Type  StorageType `mapstructure:"type" yaml:"type" json:"type"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// RedisConfig represents configuration parameters for the Redis storage backend.
type RedisConfig struct {
	Address  string              `mapstructure:"address" yaml:"address" json:"address"`
	Password string              `mapstructure:"password" yaml:"password" json:"password"`
	Database int                 `mapstructure:"database" yaml:"database" json:"database"`
	Timeout  config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	EntryTTL config.TimeDuration `mapstructure:"entryTTL" yaml:"entryTTL" json:"entryTTL"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Type:      StorageTypeMemory,
		Redis: RedisConfig{
			Address: defaultRedisAddress,
			Timeout: config.TimeDuration(defaultRedisTimeout),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the storage in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyStorageType, string(StorageTypeMemory))
	dp.SetDefault(cfgKeyStorageRedisAddress, defaultRedisAddress)
	dp.SetDefault(cfgKeyStorageRedisTimeout, defaultRedisTimeout)
}

// Set sets storage configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	var typeStr string
	if typeStr, err = dp.GetStringFromSet(cfgKeyStorageType, availableStorageTypes, true); err != nil {
		return err
	}
	c.Type = StorageType(strings.ToLower(typeStr))

	if c.Redis.Address, err = dp.GetString(cfgKeyStorageRedisAddress); err != nil {
		return err
	}
	if c.Type == StorageTypeRedis && c.Redis.Address == "" {
		return dp.WrapKeyErr(cfgKeyStorageRedisAddress, fmt.Errorf("cannot be empty when %q storage is used", StorageTypeRedis))
	}

	if c.Redis.Password, err = dp.GetString(cfgKeyStorageRedisPassword); err != nil {
		return err
	}
	if c.Redis.Database, err = dp.GetInt(cfgKeyStorageRedisDatabase); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyStorageRedisTimeout); err != nil {
		return err
	}
	c.Redis.Timeout = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyStorageRedisEntryTTL); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyStorageRedisEntryTTL, fmt.Errorf("should be >= 0"))
	}
	c.Redis.EntryTTL = config.TimeDuration(dur)

	return nil
}

// NewStore creates a Store for the configured backend.
func NewStore(cfg *Config) (Store, error) {
	switch cfg.Type {
	case StorageTypeMemory, "":
		return NewMemoryStore(), nil
	case StorageTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.Database,
			DialTimeout:  time.Duration(cfg.Redis.Timeout),
			ReadTimeout:  time.Duration(cfg.Redis.Timeout),
			WriteTimeout: time.Duration(cfg.Redis.Timeout),
		})
		return NewRedisStoreWithOpts(client, RedisStoreOpts{
			EntryTTL:    time.Duration(cfg.Redis.EntryTTL),
			RetryPolicy: retry.NewExponentialBackoffPolicy(time.Millisecond*50, 3),
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
