// File: registry/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle registry: tracks registered handles, their interest and the
// caller-supplied key. Pure bookkeeping, no syscalls. Registrations
// live in a flat reusable slot arena so slots are recycled without
// churning the allocator and lookups stay O(1).

package registry

import (
	"sync"

	"github.com/momentics/ioready/api"
)

// Registration is the (handle, key, interest) tuple tracked per handle.
type Registration struct {
	Fd       api.Handle
	Key      uint64
	Interest api.Interest
}

type slot struct {
	reg  Registration
	used bool
}

// Table is the thread-safe handle registry. The zero value is not
// usable; construct with NewTable.
type Table struct {
	mu    sync.RWMutex
	slots []slot
	free  []int
	index map[api.Handle]int // fd -> slot position
}

// NewTable creates an empty registry.
func NewTable() *Table {
	return &Table{index: make(map[api.Handle]int)}
}

// Add records a new registration. Fails with api.ErrAlreadyRegistered
// when the handle is already tracked.
func (t *Table) Add(fd api.Handle, key uint64, interest api.Interest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[fd]; ok {
		return api.ErrAlreadyRegistered
	}
	reg := Registration{Fd: fd, Key: key, Interest: interest}
	var pos int
	if n := len(t.free); n > 0 {
		pos = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[pos] = slot{reg: reg, used: true}
	} else {
		pos = len(t.slots)
		t.slots = append(t.slots, slot{reg: reg, used: true})
	}
	t.index[fd] = pos
	return nil
}

// Update replaces the stored interest of a tracked handle. Fails with
// api.ErrNotRegistered for unknown handles.
func (t *Table) Update(fd api.Handle, interest api.Interest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.index[fd]
	if !ok {
		return api.ErrNotRegistered
	}
	t.slots[pos].reg.Interest = interest
	return nil
}

// Remove drops a registration and returns it so the caller can forward
// the native delete. Fails with api.ErrNotRegistered for unknown
// handles.
func (t *Table) Remove(fd api.Handle) (Registration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.index[fd]
	if !ok {
		return Registration{}, api.ErrNotRegistered
	}
	reg := t.slots[pos].reg
	t.slots[pos] = slot{}
	t.free = append(t.free, pos)
	delete(t.index, fd)
	return reg, nil
}

// Lookup returns the registration for fd, if tracked. Used by the
// facade to translate backend events to caller keys; events for
// handles deleted mid-wait miss here and are dropped.
func (t *Table) Lookup(fd api.Handle) (Registration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.index[fd]
	if !ok {
		return Registration{}, false
	}
	return t.slots[pos].reg, true
}

// Len returns the number of tracked handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}
