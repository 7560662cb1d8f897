// File: config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Immutable per-poller configuration.

package ioready

import "io"

// Config holds parameters fixed at Open time. Platform selection is a
// compile-time decision and is deliberately absent here.
type Config struct {
	BatchSize   int       // Max native events dequeued per Wait call
	TraceWriter io.Writer // Destination for trace logging; nil disables it
}

// DefaultConfig returns the defaults used by Open.
func DefaultConfig() *Config {
	return &Config{
		BatchSize: 1024, // Matches typical native event batch sizing
	}
}
