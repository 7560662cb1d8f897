// File: backend/polltable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// User-space interest table for the polling-table backend. The native
// facility there is stateless (a "check this table now" call with no
// kernel-side registration), so the backend keeps the full (fd,
// interest) table itself: a flat slot arena with an fd index, edited in
// O(1), rebuilt into a native pollfd array on every wait.
//
// Registry changes issued while a wait is blocked are queued rather
// than applied in place, and the wait loop drains the queue before it
// rebuilds the table. A queued change therefore takes effect before the
// next block at the latest, and is never lost.

package backend

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/ioready/api"
)

type pollOpKind uint8

const (
	opAdd pollOpKind = iota
	opModify
	opDelete
)

type pollOp struct {
	kind     pollOpKind
	fd       api.Handle
	interest api.Interest
}

type pollSlot struct {
	fd       api.Handle
	interest api.Interest
	armed    bool
	used     bool
}

// pollEntry is one row of the rebuilt wait table. pos remembers the
// slot position so a revents hit translates back to its slot in O(1)
// without searching the arena.
type pollEntry struct {
	fd   api.Handle
	pos  int
	read bool
	wri  bool
	pri  bool
}

// pollTable holds the arena, the fd index and the pending-op FIFO.
// All methods are thread-safe; the lock is never held across a blocked
// native call.
type pollTable struct {
	mu      sync.Mutex
	slots   []pollSlot
	free    []int
	index   map[api.Handle]int
	pending *queue.Queue
}

func newPollTable() *pollTable {
	return &pollTable{
		index:   make(map[api.Handle]int),
		pending: queue.New(),
	}
}

// push queues a registry change for the next apply.
func (t *pollTable) push(op pollOp) {
	t.mu.Lock()
	t.pending.Add(op)
	t.mu.Unlock()
}

// apply drains queued changes into the slot arena.
func (t *pollTable) apply() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.pending.Length() > 0 {
		op := t.pending.Remove().(pollOp)
		switch op.kind {
		case opAdd:
			if _, ok := t.index[op.fd]; ok {
				// Duplicate adds are rejected upstream by the handle
				// registry; an entry here means add-after-delete raced
				// ahead of the delete op, which apply ordering forbids.
				continue
			}
			s := pollSlot{fd: op.fd, interest: op.interest, armed: true, used: true}
			if n := len(t.free); n > 0 {
				pos := t.free[n-1]
				t.free = t.free[:n-1]
				t.slots[pos] = s
				t.index[op.fd] = pos
			} else {
				t.slots = append(t.slots, s)
				t.index[op.fd] = len(t.slots) - 1
			}
		case opModify:
			if pos, ok := t.index[op.fd]; ok {
				t.slots[pos].interest = op.interest
				t.slots[pos].armed = true
			}
		case opDelete:
			if pos, ok := t.index[op.fd]; ok {
				t.slots[pos] = pollSlot{}
				t.free = append(t.free, pos)
				delete(t.index, op.fd)
			}
		}
	}
}

// snapshot appends one entry per armed slot with a non-empty interest.
func (t *pollTable) snapshot(dst []pollEntry) []pollEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	for pos, s := range t.slots {
		if !s.used || !s.armed || s.interest == 0 {
			continue
		}
		dst = append(dst, pollEntry{
			fd:   s.fd,
			pos:  pos,
			read: s.interest&api.Readable != 0,
			wri:  s.interest&api.Writable != 0,
			pri:  s.interest&api.Priority != 0,
		})
	}
	return dst
}

// disarm clears the armed bit after the slot fired (oneshot). The fd
// guard protects against the slot being recycled between snapshot and
// disarm.
func (t *pollTable) disarm(pos int, fd api.Handle) {
	t.mu.Lock()
	if pos < len(t.slots) && t.slots[pos].used && t.slots[pos].fd == fd {
		t.slots[pos].armed = false
	}
	t.mu.Unlock()
}
