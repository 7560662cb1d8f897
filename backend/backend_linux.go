//go:build linux

// File: backend/backend_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) backend: readiness-queue variant. The interest set
// lives in the kernel; add/modify/delete are single epoll_ctl calls and
// wait is one blocking epoll_wait. EPOLLONESHOT gives the normalized
// oneshot-then-rearm model natively. The wake channel is an eventfd
// registered level-triggered under a reserved slot and drained inside
// Wait, so notifications coalesce in the eventfd counter.

package backend

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioready/api"
	"github.com/momentics/ioready/internal/trace"
)

type epollBackend struct {
	epfd   int
	wakeFd int

	waitMu sync.Mutex // serializes Wait; guards events
	events []unix.EpollEvent
}

// New constructs the epoll backend with its eventfd wake channel.
func New() (api.Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: epoll_create1: %v", api.ErrBackendUnavailable, err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("%w: eventfd: %v", api.ErrBackendUnavailable, err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("%w: register wake eventfd: %v", api.ErrBackendUnavailable, err)
	}
	trace.Log().Trace().Int("epfd", epfd).Int("wake_fd", wakeFd).Msg("epoll backend open")
	return &epollBackend{epfd: epfd, wakeFd: wakeFd}, nil
}

func epollEventFor(fd api.Handle, interest api.Interest) *unix.EpollEvent {
	ev := &unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLONESHOT}
	if interest&api.Readable != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&api.Writable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if interest&api.Priority != 0 {
		ev.Events |= unix.EPOLLPRI
	}
	return ev
}

func (b *epollBackend) Add(fd api.Handle, interest api.Interest) error {
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(fd), epollEventFor(fd, interest)); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (b *epollBackend) Modify(fd api.Handle, interest api.Interest) error {
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(fd), epollEventFor(fd, interest)); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (b *epollBackend) Delete(fd api.Handle) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	// EBADF / ENOENT mean the caller closed the handle before deleting
	// its registration; the kernel already dropped the interest.
	if err == unix.EBADF || err == unix.ENOENT {
		return nil
	}
	if err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (b *epollBackend) Wait(buf []api.RawEvent, timeoutMs int) (int, error) {
	b.waitMu.Lock()
	defer b.waitMu.Unlock()

	// One extra native slot so a pending wake cannot crowd out events.
	want := len(buf) + 1
	if cap(b.events) < want {
		b.events = make([]unix.EpollEvent, want)
	}
	native := b.events[:want]

	n, err := unix.EpollWait(b.epfd, native, timeoutMs)
	if err == unix.EINTR {
		n, err = unix.EpollWait(b.epfd, native, timeoutMs)
	}
	if err != nil {
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		ev := native[i]
		if int(ev.Fd) == b.wakeFd {
			b.drainWake()
			continue
		}
		if out == len(buf) {
			break
		}
		m := ev.Events
		re := api.RawEvent{
			Fd:       api.Handle(ev.Fd),
			Readable: m&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLPRI) != 0,
			Writable: m&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		}
		if m&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			re.Flags |= api.FlagHangup
		}
		if m&unix.EPOLLERR != 0 {
			re.Flags |= api.FlagError
		}
		if m&unix.EPOLLPRI != 0 {
			re.Flags |= api.FlagPriority
		}
		buf[out] = re
		out++
	}
	return out, nil
}

// drainWake resets the eventfd counter; one read consumes every
// notification posted since the last wake.
func (b *epollBackend) drainWake() {
	var tmp [8]byte
	for {
		if _, err := unix.Read(b.wakeFd, tmp[:]); err != nil {
			return
		}
	}
}

func (b *epollBackend) Notify() error {
	var val [8]byte
	binary.NativeEndian.PutUint64(val[:], 1)
	_, err := unix.Write(b.wakeFd, val[:])
	// EAGAIN means the counter is saturated: a wake is already pending,
	// which is all a notification has to guarantee.
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (b *epollBackend) Close() error {
	trace.Log().Trace().Int("epfd", b.epfd).Msg("epoll backend close")
	err := unix.Close(b.epfd)
	if cerr := unix.Close(b.wakeFd); err == nil {
		err = cerr
	}
	return err
}
