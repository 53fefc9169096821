/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import "reflect"

// Config is the interface Loader expects from configuration objects.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider reports the key prefix under which a configuration
// object's parameters live.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

// forEachConfigField walks the exported, non-nil fields of obj that implement
// Config and calls fn with each of them, wrapping dp with the field's key
// prefix when it provides one.
func forEachConfigField(obj interface{}, dp DataProvider, fn func(Config, DataProvider) error) error {
	el := reflect.ValueOf(obj).Elem()
	for i := 0; i < el.NumField(); i++ {
		if !el.Type().Field(i).IsExported() {
			continue
		}
		v := el.Field(i).Interface()
		if reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil() {
			continue
		}
		c, ok := v.(Config)
		if !ok {
			continue
		}
		fieldDp := dp
		if kp, ok := v.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
			fieldDp = NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
		}
		if err := fn(c, fieldDp); err != nil {
			return err
		}
	}
	return nil
}

// CallSetProviderDefaultsForFields calls SetProviderDefaults on every
// exported non-nil field of obj that implements Config.
func CallSetProviderDefaultsForFields(obj interface{}, dp DataProvider) {
	_ = forEachConfigField(obj, dp, func(c Config, fieldDp DataProvider) error {
		c.SetProviderDefaults(fieldDp)
		return nil
	})
}

// CallSetForFields calls Set on every exported non-nil field of obj that
// implements Config, stopping at the first error.
func CallSetForFields(obj interface{}, dp DataProvider) error {
	return forEachConfigField(obj, dp, func(c Config, fieldDp DataProvider) error {
		return c.Set(fieldDp)
	})
}
