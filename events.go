// File: events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reusable event collector filled by Poller.Wait.

package ioready

import "github.com/momentics/ioready/api"

// Event is one readiness report. Key is the caller-supplied value from
// Add, returned verbatim so the caller can correlate without a reverse
// lookup. Multiple raised conditions for one handle within one wait
// collapse into a single Event.
type Event struct {
	Key      uint64
	Readable bool
	Writable bool
	Flags    api.EventFlags
}

// Events is the output buffer for Wait. It is cleared at the start of
// every Wait call and reused across calls, so steady-state waiting does
// not allocate. Not safe for concurrent use; each waiter passes its
// own collector.
type Events struct {
	list  []Event
	index map[uint64]int // key -> position in list, for per-key merging
}

// NewEvents creates a collector with the default capacity.
func NewEvents() *Events {
	return NewEventsCap(128)
}

// NewEventsCap creates a collector pre-sized for n events per wait.
func NewEventsCap(n int) *Events {
	return &Events{
		list:  make([]Event, 0, n),
		index: make(map[uint64]int, n),
	}
}

// Len returns the number of events from the last wait.
func (e *Events) Len() int { return len(e.list) }

// All returns the collected events. The slice is valid until the next
// Wait call with this collector.
func (e *Events) All() []Event { return e.list }

func (e *Events) clear() {
	e.list = e.list[:0]
	clear(e.index)
}

// push inserts an event, merging readable/writable bits into an
// existing event for the same key. Order across keys follows backend
// report order; the two bits of one key never split across events.
func (e *Events) push(ev Event) {
	if pos, ok := e.index[ev.Key]; ok {
		e.list[pos].Readable = e.list[pos].Readable || ev.Readable
		e.list[pos].Writable = e.list[pos].Writable || ev.Writable
		e.list[pos].Flags |= ev.Flags
		return
	}
	e.index[ev.Key] = len(e.list)
	e.list = append(e.list, ev)
}
