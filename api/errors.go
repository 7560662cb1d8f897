// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error taxonomy for the ioready library.

package api

import "fmt"

// Errors surfaced across the library. OS-level failures are wrapped
// with %w around the originating errno so callers can unwrap them.
var (
	// ErrAlreadyRegistered is returned by Add when the handle is
	// already tracked; delete it first.
	ErrAlreadyRegistered = fmt.Errorf("handle already registered")
	// ErrNotRegistered is returned by Modify and Delete for handles
	// that were never added or were already deleted.
	ErrNotRegistered = fmt.Errorf("handle not registered")
	// ErrBackendUnavailable is returned at construction when the
	// platform readiness primitive cannot be created. There is no
	// degraded mode.
	ErrBackendUnavailable = fmt.Errorf("platform backend unavailable")
	// ErrPollerClosed is returned by every operation after Close.
	ErrPollerClosed = fmt.Errorf("poller is closed")
	// ErrReservedKey is returned by Add for the key value the wake
	// channel uses internally.
	ErrReservedKey = fmt.Errorf("key is reserved for internal use")
)

// NotifyKey is the registration key reserved for the wake channel.
// Events carrying it are consumed inside the backends and never reach
// the caller's collector.
const NotifyKey = ^uint64(0)
