/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	logger := NewLoggerWithOpts(LoggerOpts{Output: w})

	logger.Errorf("key store is unreachable")
	require.NoError(t, w.Flush())

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "error", entry["level"])
	require.Equal(t, "key store is unreachable", entry["msg"])
}
