//go:build darwin || dragonfly || freebsd

// File: backend/backend_kqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue(2) backend: readiness-queue variant. Read and write interest
// are independent kevent filters, so a registration submits a two-entry
// changelist (ADD for wanted filters, DELETE for unwanted ones) with
// EV_RECEIPT so per-change results come back without dequeuing pending
// events. EV_ONESHOT gives the normalized oneshot-then-rearm model.
// The wake channel is an EVFILT_USER event with EV_CLEAR, which
// coalesces triggers and needs no descriptor at all.

package backend

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioready/api"
	"github.com/momentics/ioready/internal/trace"
)

type kqueueBackend struct {
	kqfd int

	waitMu sync.Mutex // serializes Wait; guards events
	events []unix.Kevent_t
}

// New constructs the kqueue backend and registers the user wake event.
func New() (api.Backend, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("%w: kqueue: %v", api.ErrBackendUnavailable, err)
	}
	unix.CloseOnExec(kqfd)
	b := &kqueueBackend{kqfd: kqfd}
	err = b.submit([]unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR | unix.EV_RECEIPT,
	}})
	if err != nil {
		unix.Close(kqfd)
		return nil, fmt.Errorf("%w: register wake event: %v", api.ErrBackendUnavailable, err)
	}
	trace.Log().Trace().Int("kqfd", kqfd).Msg("kqueue backend open")
	return b, nil
}

// changesFor builds the two-filter changelist for an interest mask.
// Filters not covered by the mask are deleted, which makes add, modify
// and delete the same upsert operation, the way kqueue itself works.
func changesFor(fd api.Handle, interest api.Interest) []unix.Kevent_t {
	readFlags := uint16(unix.EV_DELETE)
	if interest&api.Readable != 0 {
		readFlags = unix.EV_ADD | unix.EV_ONESHOT
	}
	writeFlags := uint16(unix.EV_DELETE)
	if interest&api.Writable != 0 {
		writeFlags = unix.EV_ADD | unix.EV_ONESHOT
	}
	return []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: readFlags | unix.EV_RECEIPT},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: writeFlags | unix.EV_RECEIPT},
	}
}

// submit applies a changelist and checks each EV_RECEIPT result.
// ENOENT (deleting a filter that was never added) and EPIPE (see
// https://github.com/tokio-rs/mio/issues/582) are not failures.
func (b *kqueueBackend) submit(changes []unix.Kevent_t) error {
	receipts := make([]unix.Kevent_t, len(changes))
	n, err := unix.Kevent(b.kqfd, changes, receipts, nil)
	if err == unix.EINTR {
		n, err = unix.Kevent(b.kqfd, changes, receipts, nil)
	}
	if err != nil {
		return fmt.Errorf("kevent changelist: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := receipts[i]
		if ev.Flags&unix.EV_ERROR != 0 && ev.Data != 0 &&
			ev.Data != int64(unix.ENOENT) && ev.Data != int64(unix.EPIPE) {
			return unix.Errno(ev.Data)
		}
	}
	return nil
}

func (b *kqueueBackend) Add(fd api.Handle, interest api.Interest) error {
	// kqueue upserts: adding is modifying.
	return b.Modify(fd, interest)
}

func (b *kqueueBackend) Modify(fd api.Handle, interest api.Interest) error {
	return b.submit(changesFor(fd, interest))
}

func (b *kqueueBackend) Delete(fd api.Handle) error {
	err := b.submit(changesFor(fd, 0))
	// The caller may have closed the handle before deleting its
	// registration; kqueue drops filters of a closed fd on its own.
	if err == unix.EBADF {
		return nil
	}
	return err
}

func (b *kqueueBackend) Wait(buf []api.RawEvent, timeoutMs int) (int, error) {
	b.waitMu.Lock()
	defer b.waitMu.Unlock()

	want := len(buf) + 1
	if cap(b.events) < want {
		b.events = make([]unix.Kevent_t, want)
	}
	native := b.events[:want]

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(b.kqfd, nil, native, ts)
	if err == unix.EINTR {
		n, err = unix.Kevent(b.kqfd, nil, native, ts)
	}
	if err != nil {
		return 0, fmt.Errorf("kevent wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		ev := native[i]
		if ev.Filter == unix.EVFILT_USER {
			// Wake event; EV_CLEAR already reset it.
			continue
		}
		if out == len(buf) {
			break
		}
		re := api.RawEvent{Fd: api.Handle(ev.Ident)}
		switch ev.Filter {
		case unix.EVFILT_READ:
			re.Readable = true
			// Closing the read end of a pipe wakes up writers, but the
			// event arrives as EVFILT_READ with EV_EOF. See
			// https://github.com/golang/go/commit/23aad448b1e3
			if ev.Flags&unix.EV_EOF != 0 {
				re.Writable = true
			}
		case unix.EVFILT_WRITE:
			re.Writable = true
		default:
			continue
		}
		if ev.Flags&unix.EV_EOF != 0 {
			re.Flags |= api.FlagHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			re.Flags |= api.FlagError
		}
		buf[out] = re
		out++
	}
	return out, nil
}

// Notify triggers the EVFILT_USER wake event. Triggers before the
// waiter runs collapse into a single delivery (EV_CLEAR).
func (b *kqueueBackend) Notify() error {
	return b.submit([]unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_RECEIPT,
		Fflags: unix.NOTE_TRIGGER,
	}})
}

func (b *kqueueBackend) Close() error {
	trace.Log().Trace().Int("kqfd", b.kqfd).Msg("kqueue backend close")
	return unix.Close(b.kqfd)
}
