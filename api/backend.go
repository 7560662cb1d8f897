// File: api/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral backend contract for readiness multiplexing.
// Exactly one implementation is compiled per target platform.

package api

// Backend abstracts the native readiness facility (epoll, kqueue,
// poll(2) tables, IOCP). Implementations normalize their native
// semantics to the oneshot-then-rearm interest model: an interest that
// fired is disarmed until the next Modify for that handle.
//
// Backends deal in raw handles only; key translation and registration
// bookkeeping belong to the caller (the Poller facade).
type Backend interface {
	// Add registers a handle with the native facility.
	Add(fd Handle, interest Interest) error

	// Modify replaces the interest of an already-registered handle and
	// re-arms it for the next wait cycle.
	Modify(fd Handle, interest Interest) error

	// Delete removes a handle from the native facility. Backends
	// tolerate handles the caller already closed.
	Delete(fd Handle) error

	// Wait blocks until readiness, wake, or timeout and fills buf with
	// raw events. timeoutMs < 0 blocks indefinitely, 0 polls without
	// blocking. Wake-channel traffic is consumed internally and never
	// written to buf. Returns the number of events filled.
	Wait(buf []RawEvent, timeoutMs int) (int, error)

	// Notify wakes the current or next Wait call. Safe from any
	// thread, with or without a concurrent Wait in flight.
	Notify() error

	// Close releases the native facility. Registered handles stay
	// open; closing them is the caller's job.
	Close() error
}
