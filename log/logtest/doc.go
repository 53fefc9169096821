/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides log.FieldLogger implementations for tests:
// a recorder that keeps entries in memory for assertions
// and a synchronous logger writing JSON to a configurable output.
package logtest
