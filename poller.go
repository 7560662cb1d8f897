// File: poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poller facade: composes the handle registry and the platform backend
// behind the add/modify/delete/wait/notify surface and enforces the
// concurrency contract. Registry operations are individually atomic and
// never wait behind a blocked Wait; Notify coalesces through an atomic
// flag so concurrent notifications produce at most one pending wake.

package ioready

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/ioready/api"
	"github.com/momentics/ioready/backend"
	"github.com/momentics/ioready/internal/trace"
	"github.com/momentics/ioready/registry"
)

// Poller multiplexes readiness interest over one native facility. A
// single instance may be shared across threads: typically one thread
// calls Wait while others call Add/Modify/Delete/Notify.
type Poller struct {
	backend api.Backend
	regs    *registry.Table

	notified atomic.Bool // at-most-one pending wake
	closed   atomic.Bool

	waitMu sync.Mutex // serializes Wait; guards raw
	raw    []api.RawEvent
}

// Open creates a Poller with default configuration.
func Open() (*Poller, error) {
	return OpenConfig(nil)
}

// OpenConfig creates a Poller. Fails with api.ErrBackendUnavailable
// when the platform primitive cannot be created.
func OpenConfig(cfg *Config) (*Poller, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TraceWriter != nil {
		trace.Enable(cfg.TraceWriter)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultConfig().BatchSize
	}
	b, err := backend.New()
	if err != nil {
		return nil, err
	}
	trace.Log().Trace().Int("batch", batch).Msg("poller open")
	return &Poller{
		backend: b,
		regs:    registry.NewTable(),
		raw:     make([]api.RawEvent, batch),
	}, nil
}

// Add registers a handle under the caller's key. The handle must not
// already be registered; the caller owns it and must keep it open for
// the registration's lifetime.
func (p *Poller) Add(fd api.Handle, key uint64, interest api.Interest) error {
	if p.closed.Load() {
		return api.ErrPollerClosed
	}
	if key == api.NotifyKey {
		return api.ErrReservedKey
	}
	if err := p.regs.Add(fd, key, interest); err != nil {
		return err
	}
	if err := p.backend.Add(fd, interest); err != nil {
		p.regs.Remove(fd)
		return err
	}
	trace.Log().Trace().Uint64("fd", uint64(fd)).Uint64("key", key).
		Stringer("interest", interest).Msg("add")
	return nil
}

// Modify replaces the interest of a registered handle and re-arms it
// for the next wait cycle.
func (p *Poller) Modify(fd api.Handle, interest api.Interest) error {
	if p.closed.Load() {
		return api.ErrPollerClosed
	}
	if err := p.regs.Update(fd, interest); err != nil {
		return err
	}
	if err := p.backend.Modify(fd, interest); err != nil {
		return err
	}
	trace.Log().Trace().Uint64("fd", uint64(fd)).
		Stringer("interest", interest).Msg("modify")
	return nil
}

// Delete removes a registration. Deleting a handle the caller already
// closed is tolerated: the registry entry is dropped either way and no
// error is reported for the vanished native state.
func (p *Poller) Delete(fd api.Handle) error {
	if p.closed.Load() {
		return api.ErrPollerClosed
	}
	if _, err := p.regs.Remove(fd); err != nil {
		return err
	}
	if err := p.backend.Delete(fd); err != nil {
		return err
	}
	trace.Log().Trace().Uint64("fd", uint64(fd)).Msg("delete")
	return nil
}

// Wait blocks until at least one registered handle is ready, the
// timeout elapses, or Notify wakes it, whichever comes first. A
// negative timeout blocks indefinitely; zero polls and returns
// immediately. ev is cleared on entry and filled with the deduplicated
// ready set; the count is returned. Timeout and notify wakes return 0
// events and a nil error — a notify is not a distinguished status, the
// caller re-checks its own state between waits.
func (p *Poller) Wait(ev *Events, timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, api.ErrPollerClosed
	}
	ev.clear()

	timeoutMs := -1
	switch {
	case timeout == 0:
		timeoutMs = 0
	case timeout > 0:
		timeoutMs = int(timeout.Milliseconds())
		if timeoutMs == 0 {
			timeoutMs = 1 // round sub-millisecond timeouts up, never spin
		}
	}

	p.waitMu.Lock()
	n, err := p.backend.Wait(p.raw, timeoutMs)
	p.waitMu.Unlock()
	p.notified.Store(false)
	if err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		re := p.raw[i]
		reg, ok := p.regs.Lookup(re.Fd)
		if !ok {
			// Deleted while the wait was in flight; stale, drop it.
			continue
		}
		ev.push(Event{
			Key:      reg.Key,
			Readable: re.Readable,
			Writable: re.Writable,
			Flags:    re.Flags,
		})
	}
	trace.Log().Trace().Int("events", ev.Len()).Msg("wait done")
	return ev.Len(), nil
}

// Notify wakes the current or next Wait call. Safe from any thread at
// any time; notifications before a wait consumes them coalesce into a
// single wake. A failed OS-level signal is reported here only and can
// never fail a concurrent Wait.
func (p *Poller) Notify() error {
	if p.closed.Load() {
		return api.ErrPollerClosed
	}
	if !p.notified.CompareAndSwap(false, true) {
		return nil // a wake is already pending
	}
	if err := p.backend.Notify(); err != nil {
		p.notified.Store(false)
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Close releases the backend. Registered handles stay open — closing
// them is the caller's job. Close does not interrupt a Wait already in
// progress; notify first when shutting down a waiter.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return api.ErrPollerClosed
	}
	trace.Log().Trace().Msg("poller close")
	return p.backend.Close()
}
