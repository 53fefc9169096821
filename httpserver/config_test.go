/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-ratekeeper/config"
)

func TestConfig(t *testing.T) {
	cfgData := `
server:
  address: "127.0.0.1:8080"
  timeouts:
    write: 1h
    read: 7m
    readHeader: 1m
    idle: 20m
    shutdown: 30s
  limits:
    maxRequests: 10
    maxBodySize: 1M
  log:
    requestStart: true
    slowRequestThreshold: 2s
`
	expectedCfg := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Address = "127.0.0.1:8080"
		cfg.Timeouts.Write = config.TimeDuration(time.Hour)
		cfg.Timeouts.Read = config.TimeDuration(time.Minute * 7)
		cfg.Timeouts.ReadHeader = config.TimeDuration(time.Minute)
		cfg.Timeouts.Idle = config.TimeDuration(time.Minute * 20)
		cfg.Timeouts.Shutdown = config.TimeDuration(time.Second * 30)
		cfg.Limits.MaxRequests = 10
		cfg.Limits.MaxBodySizeBytes = 1024 * 1024
		cfg.Log.RequestStart = true
		cfg.Log.SlowRequestThreshold = config.TimeDuration(2 * time.Second)
		return cfg
	}

	// Load config using config.Loader.
	cfg := NewDefaultConfig()
	cfgLoader := config.NewLoader(config.NewViperAdapter())
	err := cfgLoader.LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, expectedCfg(), cfg)

	// Load config using yaml.Unmarshal directly.
	var appCfg struct {
		Server *Config `yaml:"server"`
	}
	appCfg.Server = NewDefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(cfgData), &appCfg))
	require.Equal(t, expectedCfg(), appCfg.Server)
}

func TestNewDefaultConfig(t *testing.T) {
	// Empty config, all defaults for the data provider should be used.
	cfg := NewConfig()
	require.NoError(t, config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer(nil), config.DataTypeYAML, cfg))
	require.Equal(t, NewDefaultConfig(), cfg)

	// yaml.Unmarshal
	cfg = NewDefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(""), &cfg))
	require.Equal(t, NewDefaultConfig(), cfg)

	// json.Unmarshal
	cfg = NewDefaultConfig()
	require.NoError(t, json.Unmarshal([]byte("{}"), &cfg))
	require.Equal(t, NewDefaultConfig(), cfg)
}

func TestWithKeyPrefix(t *testing.T) {
	t.Run("custom key prefix", func(t *testing.T) {
		cfgData := `
customServer:
  address: "127.0.0.1:9999"
`
		expectedCfg := NewDefaultConfig(WithKeyPrefix("customServer"))
		expectedCfg.Address = "127.0.0.1:9999"

		cfg := NewConfig(WithKeyPrefix("customServer"))
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, expectedCfg, cfg)
	})

	t.Run("default key prefix, empty struct initialization", func(t *testing.T) {
		cfgData := `
server:
  address: "127.0.0.1:9999"
`
		cfg := &Config{}
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:9999", cfg.Address)
	})
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name           string
		yamlData       string
		expectedErrMsg string
	}{
		{
			name: "error, invalid address",
			yamlData: `
server:
  address: []
`,
			expectedErrMsg: `server.address: unable to cast`,
		},
		{
			name: "error, empty address",
			yamlData: `
server:
  address: ""
`,
			expectedErrMsg: `server.address: cannot be empty`,
		},
		{
			name: "error, negative maxRequests",
			yamlData: `
server:
  limits:
    maxRequests: -1
`,
			expectedErrMsg: `server.limits.maxRequests: maxRequests must be positive`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(tt.yamlData)), config.DataTypeYAML, cfg)
			require.ErrorContains(t, err, tt.expectedErrMsg)
		})
	}
}
