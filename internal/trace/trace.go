// File: internal/trace/trace.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Trace-level logging for poller internals. Disabled (nop) unless a
// writer is installed, so the wait hot path pays one atomic load.

package trace

import (
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	logger.Store(&nop)
}

// Enable routes trace output to w at trace level. Passing nil restores
// the nop logger.
func Enable(w io.Writer) {
	if w == nil {
		nop := zerolog.Nop()
		logger.Store(&nop)
		return
	}
	l := zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger()
	logger.Store(&l)
}

// Log returns the current trace logger.
func Log() *zerolog.Logger {
	return logger.Load()
}
