/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testAdmissionConfigYAML = `
admission:
  enabled: true
  mode: enforce
  maxTracked: 4096
  idleTimeout: 90s
  maxBodySize: 1Mi
  zones:
    - api
    - internal
`

func newTestAdapter(t *testing.T) *ViperAdapter {
	t.Helper()
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(testAdmissionConfigYAML), DataTypeYAML))
	return va
}

func TestViperAdapter_BasicGetters(t *testing.T) {
	va := newTestAdapter(t)

	enabled, err := va.GetBool("admission.enabled")
	require.NoError(t, err)
	require.True(t, enabled)

	maxTracked, err := va.GetInt("admission.maxTracked")
	require.NoError(t, err)
	require.Equal(t, 4096, maxTracked)

	mode, err := va.GetString("admission.mode")
	require.NoError(t, err)
	require.Equal(t, "enforce", mode)

	zones, err := va.GetStringSlice("admission.zones")
	require.NoError(t, err)
	require.Equal(t, []string{"api", "internal"}, zones)

	// Missing slice keys yield a nil slice, not an error.
	missing, err := va.GetStringSlice("admission.missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	// Type mismatches are reported with the key in the error.
	_, err = va.GetInt("admission.mode")
	require.Error(t, err)
	require.Contains(t, err.Error(), "admission.mode")
}

func TestViperAdapter_GetDuration(t *testing.T) {
	va := newTestAdapter(t)

	idle, err := va.GetDuration("admission.idleTimeout")
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, idle)

	missing, err := va.GetDuration("admission.missing")
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), missing)

	_, err = va.GetDuration("admission.mode")
	require.Error(t, err)
}

func TestViperAdapter_GetStringFromSet(t *testing.T) {
	va := newTestAdapter(t)

	mode, err := va.GetStringFromSet("admission.mode", []string{"enforce", "dryRun"}, false)
	require.NoError(t, err)
	require.Equal(t, "enforce", mode)

	mode, err = va.GetStringFromSet("admission.mode", []string{"ENFORCE", "DRYRUN"}, true)
	require.NoError(t, err)
	require.Equal(t, "enforce", mode)

	_, err = va.GetStringFromSet("admission.mode", []string{"allow", "deny"}, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown value "enforce"`)
}

func TestViperAdapter_GetBytesCount(t *testing.T) {
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(`
plain: 1024
human: 10M
k8s: 1Mi
negative: -5
`), DataTypeYAML))

	plain, err := va.GetBytesCount("plain")
	require.NoError(t, err)
	require.Equal(t, BytesCount(1024), plain)

	human, err := va.GetBytesCount("human")
	require.NoError(t, err)
	require.Equal(t, BytesCount(10*1024*1024), human)

	k8s, err := va.GetBytesCount("k8s")
	require.NoError(t, err)
	require.Equal(t, BytesCount(1024*1024), k8s)

	missing, err := va.GetBytesCount("missing")
	require.NoError(t, err)
	require.Equal(t, BytesCount(0), missing)

	_, err = va.GetBytesCount("negative")
	require.Error(t, err)
}

func TestViperAdapter_UseEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("RKTEST_ADMISSION_MODE", "dryRun"))
	defer func() {
		require.NoError(t, os.Unsetenv("RKTEST_ADMISSION_MODE"))
	}()

	va := NewViperAdapter()
	va.UseEnvVars("rktest")
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(testAdmissionConfigYAML), DataTypeYAML))

	mode, err := va.GetString("admission.mode")
	require.NoError(t, err)
	require.Equal(t, "dryRun", mode)
}

func TestViperAdapter_UnmarshalKey(t *testing.T) {
	va := newTestAdapter(t)

	var admission struct {
		Mode       string   `mapstructure:"mode"`
		MaxTracked int      `mapstructure:"maxTracked"`
		Zones      []string `mapstructure:"zones"`
	}
	require.NoError(t, va.UnmarshalKey("admission", &admission))
	require.Equal(t, "enforce", admission.Mode)
	require.Equal(t, 4096, admission.MaxTracked)
	require.Equal(t, []string{"api", "internal"}, admission.Zones)
}

func TestWrapKeyErrIfNeeded(t *testing.T) {
	require.NoError(t, WrapKeyErrIfNeeded("some.key", nil))

	err := WrapKeyErrIfNeeded("some.key", errors.New("boom"))
	require.Error(t, err)
	require.Equal(t, "some.key: boom", err.Error())
}
