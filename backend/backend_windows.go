//go:build windows

// File: backend/backend_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows IOCP backend: completion-queue variant. IOCP reports I/O
// completions, not readiness, so readiness is emulated with zero-byte
// probe operations: an empty WSARecv stands in for read interest and an
// empty WSASend for write interest. The probe completes exactly when
// the socket would have been reported ready, and it is not re-issued
// until the caller re-arms through Modify, which matches the
// oneshot-then-rearm model of the other backends. The wake channel is
// PostQueuedCompletionStatus under a reserved completion key.

package backend

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/ioready/api"
	"github.com/momentics/ioready/internal/trace"
)

// wakeKey is the completion key reserved for Notify packets.
const wakeKey = ^uintptr(0)

type probeKind uint8

const (
	probeRead probeKind = iota
	probeWrite
)

// probe is the overlapped carrier for one in-flight zero-byte
// operation. The Overlapped must stay the first field: completions
// hand back *Overlapped and Wait recovers the probe by pointer
// identity.
type probe struct {
	o    windows.Overlapped
	fd   api.Handle
	kind probeKind
}

type iocpReg struct {
	interest   api.Interest
	readProbe  *probe
	writeProbe *probe
}

type iocpBackend struct {
	port windows.Handle

	mu   sync.Mutex // guards regs and probe issue/cancel
	regs map[api.Handle]*iocpReg

	waitMu sync.Mutex // serializes Wait
}

// New creates the completion port.
func New() (api.Backend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: CreateIoCompletionPort: %v", api.ErrBackendUnavailable, err)
	}
	trace.Log().Trace().Uint64("port", uint64(port)).Msg("iocp backend open")
	return &iocpBackend{port: port, regs: make(map[api.Handle]*iocpReg)}, nil
}

func (b *iocpBackend) Add(fd api.Handle, interest api.Interest) error {
	// Associate the handle with the port. The association is permanent
	// for the handle's lifetime; re-adding a previously deleted handle
	// finds it already associated, which is not a failure.
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), b.port, uintptr(fd), 0)
	if err != nil && err != windows.ERROR_INVALID_PARAMETER {
		return fmt.Errorf("iocp associate: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	reg := &iocpReg{interest: interest}
	b.regs[fd] = reg
	return b.armLocked(fd, reg)
}

func (b *iocpBackend) Modify(fd api.Handle, interest api.Interest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.regs[fd]
	if !ok {
		return api.ErrNotRegistered
	}
	reg.interest = interest
	if interest&api.Readable == 0 && reg.readProbe != nil {
		b.cancelProbe(fd, reg.readProbe)
		reg.readProbe = nil
	}
	if interest&api.Writable == 0 && reg.writeProbe != nil {
		b.cancelProbe(fd, reg.writeProbe)
		reg.writeProbe = nil
	}
	return b.armLocked(fd, reg)
}

func (b *iocpBackend) Delete(fd api.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.regs[fd]
	if !ok {
		return nil
	}
	delete(b.regs, fd)
	if reg.readProbe != nil {
		b.cancelProbe(fd, reg.readProbe)
	}
	if reg.writeProbe != nil {
		b.cancelProbe(fd, reg.writeProbe)
	}
	return nil
}

// armLocked issues the missing probes for the current interest.
func (b *iocpBackend) armLocked(fd api.Handle, reg *iocpReg) error {
	if reg.interest&api.Readable != 0 && reg.readProbe == nil {
		p := &probe{fd: fd, kind: probeRead}
		var qty, flags uint32
		buf := windows.WSABuf{}
		err := windows.WSARecv(windows.Handle(fd), &buf, 1, &qty, &flags, &p.o, nil)
		if err != nil && err != windows.ERROR_IO_PENDING {
			return fmt.Errorf("read probe: %w", err)
		}
		reg.readProbe = p
	}
	if reg.interest&api.Writable != 0 && reg.writeProbe == nil {
		p := &probe{fd: fd, kind: probeWrite}
		var qty uint32
		buf := windows.WSABuf{}
		err := windows.WSASend(windows.Handle(fd), &buf, 1, &qty, 0, &p.o, nil)
		if err != nil && err != windows.ERROR_IO_PENDING {
			return fmt.Errorf("write probe: %w", err)
		}
		reg.writeProbe = p
	}
	return nil
}

// cancelProbe aborts an in-flight probe. The aborted completion still
// arrives and is dropped in Wait because the probe pointer no longer
// matches the registration.
func (b *iocpBackend) cancelProbe(fd api.Handle, p *probe) {
	err := windows.CancelIoEx(windows.Handle(fd), &p.o)
	if err != nil && err != windows.ERROR_NOT_FOUND {
		// The handle may already be closed; nothing left to cancel.
		trace.Log().Trace().Uint64("fd", uint64(fd)).Err(err).Msg("cancel probe")
	}
}

func (b *iocpBackend) Wait(buf []api.RawEvent, timeoutMs int) (int, error) {
	b.waitMu.Lock()
	defer b.waitMu.Unlock()

	first := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		first = uint32(timeoutMs)
	}

	out := 0
	timeout := first
	for out < len(buf) {
		var qty uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(b.port, &qty, &key, &ov, timeout)
		if err != nil && ov == nil {
			if err == syscall.Errno(windows.WAIT_TIMEOUT) {
				break
			}
			return out, fmt.Errorf("GetQueuedCompletionStatus: %w", err)
		}
		if ov == nil {
			if key == wakeKey {
				// Caller notification: return with whatever is batched.
				return out, nil
			}
			continue
		}

		// A failed dequeue with a non-nil overlapped is a completed
		// probe whose operation errored (reset, abort); that is still
		// a readiness signal unless the probe was canceled.
		p := (*probe)(unsafe.Pointer(ov))
		if re, ok := b.consume(p, err); ok {
			buf[out] = re
			out++
		}

		// Drain whatever else is already queued without blocking.
		timeout = 0
	}
	return out, nil
}

// consume retires a completed probe and translates it to a raw event.
// Stale completions (probe canceled or registration deleted) report
// not-ok and are dropped.
func (b *iocpBackend) consume(p *probe, opErr error) (api.RawEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.regs[p.fd]
	if !ok {
		return api.RawEvent{}, false
	}
	switch p.kind {
	case probeRead:
		if reg.readProbe != p {
			return api.RawEvent{}, false
		}
		reg.readProbe = nil
	case probeWrite:
		if reg.writeProbe != p {
			return api.RawEvent{}, false
		}
		reg.writeProbe = nil
	}
	re := api.RawEvent{
		Fd:       p.fd,
		Readable: p.kind == probeRead,
		Writable: p.kind == probeWrite,
	}
	if opErr != nil {
		if opErr == windows.ERROR_OPERATION_ABORTED {
			return api.RawEvent{}, false
		}
		re.Flags |= api.FlagError
	}
	return re, true
}

func (b *iocpBackend) Notify() error {
	if err := windows.PostQueuedCompletionStatus(b.port, 0, wakeKey, nil); err != nil {
		return fmt.Errorf("PostQueuedCompletionStatus: %w", err)
	}
	return nil
}

func (b *iocpBackend) Close() error {
	trace.Log().Trace().Msg("iocp backend close")
	return windows.CloseHandle(b.port)
}
