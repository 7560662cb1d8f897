// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/ioready/api"
)

func snapshotFds(tbl *pollTable) map[api.Handle]pollEntry {
	out := make(map[api.Handle]pollEntry)
	for _, e := range tbl.snapshot(nil) {
		out[e.fd] = e
	}
	return out
}

func TestPendingOpsApplyBeforeSnapshot(t *testing.T) {
	tbl := newPollTable()
	tbl.push(pollOp{kind: opAdd, fd: 3, interest: api.Readable})
	tbl.push(pollOp{kind: opAdd, fd: 4, interest: api.Writable})

	// Nothing visible until the wait loop drains the queue.
	assert.Empty(t, tbl.snapshot(nil))

	tbl.apply()
	got := snapshotFds(tbl)
	require.Len(t, got, 2)
	assert.True(t, got[3].read)
	assert.False(t, got[3].wri)
	assert.True(t, got[4].wri)
}

func TestQueuedDeleteNeverLost(t *testing.T) {
	tbl := newPollTable()
	tbl.push(pollOp{kind: opAdd, fd: 3, interest: api.Readable})
	tbl.apply()
	tbl.push(pollOp{kind: opDelete, fd: 3})
	tbl.push(pollOp{kind: opModify, fd: 3, interest: api.Writable})
	tbl.apply()

	// The modify raced behind the delete and must not resurrect it.
	assert.Empty(t, tbl.snapshot(nil))
}

func TestDisarmUntilModify(t *testing.T) {
	tbl := newPollTable()
	tbl.push(pollOp{kind: opAdd, fd: 3, interest: api.Readable})
	tbl.apply()

	entries := tbl.snapshot(nil)
	require.Len(t, entries, 1)
	tbl.disarm(entries[0].pos, entries[0].fd)

	// Fired slots drop out of the table until re-armed.
	assert.Empty(t, tbl.snapshot(nil))

	tbl.push(pollOp{kind: opModify, fd: 3, interest: api.Readable})
	tbl.apply()
	assert.Len(t, tbl.snapshot(nil), 1)
}

func TestDisarmIgnoresRecycledSlot(t *testing.T) {
	tbl := newPollTable()
	tbl.push(pollOp{kind: opAdd, fd: 3, interest: api.Readable})
	tbl.apply()
	entries := tbl.snapshot(nil)
	require.Len(t, entries, 1)
	stale := entries[0]

	// Recycle the slot under a different fd.
	tbl.push(pollOp{kind: opDelete, fd: 3})
	tbl.push(pollOp{kind: opAdd, fd: 9, interest: api.Writable})
	tbl.apply()

	tbl.disarm(stale.pos, stale.fd)
	got := snapshotFds(tbl)
	require.Len(t, got, 1)
	assert.True(t, got[9].wri)
}

func TestSlotPositionsReused(t *testing.T) {
	tbl := newPollTable()
	for fd := api.Handle(3); fd < 8; fd++ {
		tbl.push(pollOp{kind: opAdd, fd: fd, interest: api.Readable})
	}
	tbl.apply()
	before := len(tbl.slots)

	for fd := api.Handle(3); fd < 8; fd++ {
		tbl.push(pollOp{kind: opDelete, fd: fd})
		tbl.push(pollOp{kind: opAdd, fd: fd + 10, interest: api.Readable})
	}
	tbl.apply()

	assert.Equal(t, before, len(tbl.slots))
	assert.Len(t, tbl.snapshot(nil), 5)
}

func TestEmptyInterestExcludedFromSnapshot(t *testing.T) {
	tbl := newPollTable()
	tbl.push(pollOp{kind: opAdd, fd: 3, interest: 0})
	tbl.apply()
	assert.Empty(t, tbl.snapshot(nil))
}
