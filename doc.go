// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package ioready is a portable abstraction over the operating system's
// readiness-notification facilities (epoll, kqueue, poll tables, IOCP).
// A Poller tracks interest in raw handles, blocks until one becomes
// ready or a timeout elapses, and can be woken from any thread with
// Notify. It performs no I/O of its own and never closes caller
// handles; it is the layer an async reactor drives in a loop.
//
// Interests are oneshot: once an event for a handle is delivered, the
// handle stays silent until it is re-armed with Modify. This is the one
// model every native facility can honor, so callers see identical
// behavior on every platform.
package ioready
