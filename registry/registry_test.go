// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/ioready/api"
)

func TestAddLookup(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(3, 7, api.Readable))

	reg, ok := tbl.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, api.Handle(3), reg.Fd)
	assert.Equal(t, uint64(7), reg.Key)
	assert.Equal(t, api.Readable, reg.Interest)
	assert.Equal(t, 1, tbl.Len())
}

func TestAddDuplicateFails(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(3, 7, api.Readable))
	assert.ErrorIs(t, tbl.Add(3, 8, api.Writable), api.ErrAlreadyRegistered)

	// The original registration is untouched.
	reg, ok := tbl.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, uint64(7), reg.Key)
}

func TestRemoveThenAddSucceeds(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(3, 7, api.Readable))

	reg, err := tbl.Remove(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), reg.Key)

	// Registry state is fully reversible.
	require.NoError(t, tbl.Add(3, 9, api.Writable))
	reg, ok := tbl.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, uint64(9), reg.Key)
	assert.Equal(t, api.Writable, reg.Interest)
}

func TestUnregisteredOperationsFail(t *testing.T) {
	tbl := NewTable()
	assert.ErrorIs(t, tbl.Update(42, api.Readable), api.ErrNotRegistered)
	_, err := tbl.Remove(42)
	assert.ErrorIs(t, err, api.ErrNotRegistered)
}

func TestUpdateReplacesInterest(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(5, 1, api.Readable))
	require.NoError(t, tbl.Update(5, api.Readable|api.Writable))

	reg, ok := tbl.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, api.Readable|api.Writable, reg.Interest)
}

func TestSlotReuseKeepsGenerationsApart(t *testing.T) {
	tbl := NewTable()
	for fd := api.Handle(10); fd < 20; fd++ {
		require.NoError(t, tbl.Add(fd, uint64(fd)*100, api.Readable))
	}
	for fd := api.Handle(10); fd < 20; fd++ {
		_, err := tbl.Remove(fd)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, tbl.Len())

	// Recycled slots must not leak old keys.
	for fd := api.Handle(10); fd < 20; fd++ {
		require.NoError(t, tbl.Add(fd, uint64(fd)+1, api.Writable))
	}
	for fd := api.Handle(10); fd < 20; fd++ {
		reg, ok := tbl.Lookup(fd)
		require.True(t, ok)
		assert.Equal(t, uint64(fd)+1, reg.Key)
	}
}
