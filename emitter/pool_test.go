//go:build amd64
// +build amd64

package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPoolAllocatesDistinctRegisters(t *testing.T) {
	p := newRegisterPool()

	seen := map[int16]bool{}
	for id := 0; id < len(gpRegisters); id++ {
		reg, needsLoad, _, _, _, evicted := p.ensure(id)
		assert.False(t, needsLoad)
		assert.False(t, evicted)
		assert.False(t, seen[reg], "register %d reused before any release", reg)
		seen[reg] = true
	}
	assert.Len(t, seen, len(gpRegisters))

	// Every id is already resident; asking again must be a no-op returning the same register.
	reg, needsLoad, _, _, _, evicted := p.ensure(0)
	assert.Equal(t, gpRegisters[0], reg)
	assert.False(t, needsLoad)
	assert.False(t, evicted)
}

func TestRegisterPoolEvictsOldestOnExhaustion(t *testing.T) {
	p := newRegisterPool()
	for id := 0; id < len(gpRegisters); id++ {
		_, _, _, _, _, evicted := p.ensure(id)
		require.False(t, evicted)
	}

	// The pool is full; the next id must evict id 0, the oldest resident, to spill slot 0.
	reg, needsLoad, loadSlot, evictedID, evictedSlot, evicted := p.ensure(len(gpRegisters))
	assert.True(t, evicted)
	assert.Equal(t, 0, evictedID)
	assert.Equal(t, int64(0), evictedSlot)
	assert.False(t, needsLoad)
	assert.Equal(t, int64(0), loadSlot)
	assert.Equal(t, gpRegisters[0], reg, "evicted id's physical register is reassigned to the new id")

	// id 0 is now spilled, not released: asking for it again must report a reload rather than a fresh
	// allocation, and must in turn evict id 1, now the oldest resident.
	reg, needsLoad, loadSlot, evictedID, evictedSlot, evicted = p.ensure(0)
	assert.True(t, needsLoad)
	assert.Equal(t, int64(0), loadSlot)
	assert.True(t, evicted)
	assert.Equal(t, 1, evictedID)
	assert.Equal(t, int64(8), evictedSlot)
	assert.Equal(t, gpRegisters[1], reg)
}

func TestRegisterPoolReleaseFreesSlotForReuse(t *testing.T) {
	p := newRegisterPool()

	reg0, _, _, _, _, evicted := p.ensure(0)
	require.False(t, evicted)
	assert.Equal(t, gpRegisters[0], reg0)

	p.release(0)

	reg1, needsLoad, _, _, _, evicted := p.ensure(1)
	assert.False(t, needsLoad)
	assert.False(t, evicted)
	assert.Equal(t, gpRegisters[0], reg1, "released slot is handed to the next allocation")
}

func TestRegisterPoolReleaseDropsSpilledID(t *testing.T) {
	p := newRegisterPool()
	for id := 0; id < len(gpRegisters); id++ {
		p.ensure(id)
	}
	_, _, _, _, _, evicted := p.ensure(len(gpRegisters))
	require.True(t, evicted)

	// id 0 was evicted to the spill area above; releasing it must drop the spill slot rather than panic.
	p.release(0)

	_, needsLoad, _, _, _, _ := p.ensure(0)
	assert.False(t, needsLoad, "a released id starts over as a fresh allocation, not a reload")
}

func TestRegisterPoolSpillAll(t *testing.T) {
	p := newRegisterPool()
	p.ensure(0)
	p.ensure(1)
	p.ensure(2)

	spilled := p.spillAll()
	require.Len(t, spilled, 3)
	assert.Equal(t, spilledReg{id: 0, reg: gpRegisters[0], slot: 0}, spilled[0])
	assert.Equal(t, spilledReg{id: 1, reg: gpRegisters[1], slot: 8}, spilled[1])
	assert.Equal(t, spilledReg{id: 2, reg: gpRegisters[2], slot: 16}, spilled[2])
	assert.Equal(t, int64(24), p.spillAreaSize())

	// The pool is entirely free again: a brand new id allocates without eviction.
	_, needsLoad, _, _, _, evicted := p.ensure(3)
	assert.False(t, needsLoad)
	assert.False(t, evicted)
}
