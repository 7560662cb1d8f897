//go:build aix || netbsd || openbsd || solaris

// File: backend/backend_poll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// poll(2) backend: polling-table variant for platforms without a
// persistent kernel-side interest set (and BSDs where the kqueue user
// filter is unavailable). The full interest table lives in user memory
// (see polltable.go) and is rebuilt into a pollfd array on every wait;
// registry changes are queued and a self-pipe ping interrupts an
// in-flight poll so they take effect before the next block.
//
// The pipe serves two roles: caller notifications and internal rebuild
// pings. Only the former may return an empty wait, so Notify marks an
// atomic flag the wait loop checks after draining the pipe.

package backend

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioready/api"
	"github.com/momentics/ioready/internal/trace"
)

type pollBackend struct {
	table    *pollTable
	readFd   int // wake pipe, read end
	writeFd  int // wake pipe, write end
	notified atomic.Bool

	waitMu  sync.Mutex // serializes Wait; guards pfds/entries
	pfds    []unix.PollFd
	entries []pollEntry
}

// New constructs the poll backend with its self-pipe wake channel.
func New() (api.Backend, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("%w: pipe: %v", api.ErrBackendUnavailable, err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, fmt.Errorf("%w: pipe nonblock: %v", api.ErrBackendUnavailable, err)
		}
	}
	trace.Log().Trace().Int("pipe_r", p[0]).Int("pipe_w", p[1]).Msg("poll backend open")
	return &pollBackend{table: newPollTable(), readFd: p[0], writeFd: p[1]}, nil
}

func (b *pollBackend) Add(fd api.Handle, interest api.Interest) error {
	b.table.push(pollOp{kind: opAdd, fd: fd, interest: interest})
	b.ping()
	return nil
}

func (b *pollBackend) Modify(fd api.Handle, interest api.Interest) error {
	b.table.push(pollOp{kind: opModify, fd: fd, interest: interest})
	b.ping()
	return nil
}

func (b *pollBackend) Delete(fd api.Handle) error {
	// Queued deletes are inherently tolerant of already-closed handles:
	// nothing native refers to the fd between table edits.
	b.table.push(pollOp{kind: opDelete, fd: fd})
	b.ping()
	return nil
}

func (b *pollBackend) Wait(buf []api.RawEvent, timeoutMs int) (int, error) {
	b.waitMu.Lock()
	defer b.waitMu.Unlock()

	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	for {
		b.table.apply()

		// Rebuild the table: wake pipe at position 0, then one row per
		// armed registration.
		b.pfds = append(b.pfds[:0], unix.PollFd{Fd: int32(b.readFd), Events: unix.POLLIN})
		b.entries = b.table.snapshot(b.entries[:0])
		for _, e := range b.entries {
			var events int16
			if e.read {
				events |= unix.POLLIN
			}
			if e.wri {
				events |= unix.POLLOUT
			}
			if e.pri {
				events |= unix.POLLPRI
			}
			b.pfds = append(b.pfds, unix.PollFd{Fd: int32(e.fd), Events: events})
		}

		remaining := timeoutMs
		if timeoutMs > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return 0, nil
			}
			remaining = int(left.Milliseconds())
			if remaining == 0 {
				remaining = 1
			}
		}

		n, err := unix.Poll(b.pfds, remaining)
		if err == unix.EINTR {
			n, err = unix.Poll(b.pfds, remaining)
		}
		if err != nil {
			return 0, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return 0, nil // timeout
		}

		woken := false
		if b.pfds[0].Revents != 0 {
			b.drainWake()
			woken = b.notified.CompareAndSwap(true, false)
		}

		out := 0
		for i := 1; i < len(b.pfds) && out < len(buf); i++ {
			rev := b.pfds[i].Revents
			if rev == 0 {
				continue
			}
			e := b.entries[i-1]
			b.table.disarm(e.pos, e.fd)
			if rev&unix.POLLNVAL != 0 {
				// Closed under us; the registration is stale and the
				// slot stays disarmed until the caller deletes it.
				continue
			}
			re := api.RawEvent{
				Fd:       e.fd,
				Readable: rev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLPRI) != 0,
				Writable: rev&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0,
			}
			if rev&unix.POLLHUP != 0 {
				re.Flags |= api.FlagHangup
			}
			if rev&unix.POLLERR != 0 {
				re.Flags |= api.FlagError
			}
			if rev&unix.POLLPRI != 0 {
				re.Flags |= api.FlagPriority
			}
			buf[out] = re
			out++
		}

		if out > 0 || woken || timeoutMs == 0 {
			return out, nil
		}
		// Internal rebuild ping: go around with the fresh table.
	}
}

// ping interrupts a blocked poll so it re-reads the pending-op queue.
func (b *pollBackend) ping() {
	var one = [1]byte{1}
	_, _ = unix.Write(b.writeFd, one[:]) // EAGAIN: a ping is already pending
}

func (b *pollBackend) drainWake() {
	var tmp [64]byte
	for {
		if _, err := unix.Read(b.readFd, tmp[:]); err != nil {
			return
		}
	}
}

func (b *pollBackend) Notify() error {
	b.notified.Store(true)
	var one = [1]byte{1}
	if _, err := unix.Write(b.writeFd, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("wake pipe write: %w", err)
	}
	return nil
}

func (b *pollBackend) Close() error {
	trace.Log().Trace().Msg("poll backend close")
	err := unix.Close(b.readFd)
	if cerr := unix.Close(b.writeFd); err == nil {
		err = cerr
	}
	return err
}
