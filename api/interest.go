// File: api/interest.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interest masks and raw readiness events shared by the poller facade
// and the platform backends.

package api

import "strings"

// Handle is a raw OS resource identifier: a file descriptor on Unix
// platforms, a socket handle on Windows. The library never creates or
// closes handles; ownership stays with the caller.
type Handle = uintptr

// Interest selects the readiness classes a registration watches.
// Interests fire once per wait cycle and must be re-armed through
// Modify before the next event can be delivered (oneshot model).
type Interest uint8

const (
	// Readable requests notification when the handle can be read
	// without blocking.
	Readable Interest = 1 << iota
	// Writable requests notification when the handle can be written
	// without blocking.
	Writable
	// Priority requests notification for out-of-band/priority data on
	// platforms that report it; silently unsupported elsewhere.
	Priority
)

// IsReadable reports whether the mask includes read interest.
func (i Interest) IsReadable() bool { return i&(Readable|Priority) != 0 }

// IsWritable reports whether the mask includes write interest.
func (i Interest) IsWritable() bool { return i&Writable != 0 }

// String renders the mask for trace logs.
func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	parts := make([]string, 0, 3)
	if i&Readable != 0 {
		parts = append(parts, "readable")
	}
	if i&Writable != 0 {
		parts = append(parts, "writable")
	}
	if i&Priority != 0 {
		parts = append(parts, "priority")
	}
	return strings.Join(parts, "|")
}

// EventFlags carries out-of-band readiness conditions reported by the
// native facility alongside the readable/writable bits.
type EventFlags uint8

const (
	// FlagHangup is set when the peer closed its end of the handle.
	FlagHangup EventFlags = 1 << iota
	// FlagError is set when the handle is in an error state; the caller
	// observes the concrete error on its next I/O attempt.
	FlagError
	// FlagPriority is set when out-of-band data is pending.
	FlagPriority
)

// RawEvent is one readiness tuple as reported by a backend, keyed by
// handle. The facade translates handles to caller keys; backends never
// see keys.
type RawEvent struct {
	Fd       Handle
	Readable bool
	Writable bool
	Flags    EventFlags
}
