/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service ties together long-running components and drives their lifecycle.
package service

// Unit is a component with its own start/stop lifecycle.
type Unit interface {
	// Start launches the unit. An implementation may return once initialization
	// is done or keep blocking for the unit's whole lifetime.
	//
	// A failure that makes the unit unable to continue goes to fatalErr.
	// The channel must not be written to after Start has returned,
	// and nothing may be written on success.
	Start(fatalErr chan<- error)

	// Stop shuts the unit down, draining in-progress work first when gracefully is true.
	// It may be called whether or not Start succeeded or was called at all.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that own Prometheus collectors.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
