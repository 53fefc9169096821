/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"io"
)

// Loader reads configuration data into a DataProvider, applies the defaults
// of the passed configuration objects and then fills them in.
type Loader struct {
	DataProvider DataProvider
}

// NewLoader creates a new Loader on top of dp.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{dp}
}

// NewDefaultLoader creates a Loader backed by viper with environment variable
// support under the given prefix.
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// LoadFromFile loads configuration values from a file into the passed objects.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

// LoadFromReader loads configuration values from a reader into the passed objects.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

func (l *Loader) load(cfgs []Config) error {
	dpForCfg := func(cfg Config) DataProvider {
		if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
			return NewKeyPrefixedDataProvider(l.DataProvider, kp.KeyPrefix())
		}
		return l.DataProvider
	}
	// Defaults for all objects go in first, so one object's Set may rely on
	// another object's defaulted keys.
	for _, cfg := range cfgs {
		cfg.SetProviderDefaults(dpForCfg(cfg))
	}
	for _, cfg := range cfgs {
		if err := cfg.Set(dpForCfg(cfg)); err != nil {
			return err
		}
	}
	return nil
}
