/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil provides assertion helpers shared by tests across the project.
package testutil

import (
	"github.com/stretchr/testify/require"
)

type tHelper interface {
	Helper()
}

func markHelper(t interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
}

// RequireNoErrorInChannel asserts that the buffered channel holds no error.
func RequireNoErrorInChannel(t require.TestingT, c <-chan error, msgAndArgs ...interface{}) {
	markHelper(t)
	var err error
	select {
	case err = <-c:
	default:
	}
	require.NoError(t, err, msgAndArgs...)
}
