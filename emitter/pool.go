//go:build amd64
// +build amd64

package emitter

import (
	"github.com/twitchyliquid64/golang-asm/obj/x86"
	"github.com/willf/bitset"
)

// Reserved registers: the compiled function body never touches these through the general allocator. They hold
// state that must survive across every opcode and every exit to the host, mirroring the reserved-register
// convention of a baseline JIT that keeps its own bookkeeping out of the virtual register pool.
const (
	machineReg   = x86.REG_R15 // *exec.Machine, used when exiting to a host import
	memoryReg    = x86.REG_R14 // cached base pointer of linear memory
	spillBaseReg = x86.REG_R13 // base pointer of this function's spill area
)

// Sentinel RegHandle ids for the reserved registers above, so callers can pass them through the same Mov/Load/
// Store primitives as ordinary virtual registers without the pool ever trying to spill or reassign them.
const (
	reservedMemoryID = -1
	reservedSpillID  = -2
)

// gpRegisters is the fixed pool available to new_reg. Baseline compilation never needs more live values than
// this affords for the supported opcode subset; when it does, the pool spills the oldest live register to the
// spill area rather than failing.
var gpRegisters = []int16{
	x86.REG_AX, x86.REG_CX, x86.REG_DX, x86.REG_BX,
	x86.REG_SI, x86.REG_DI, x86.REG_R8, x86.REG_R9,
	x86.REG_R10, x86.REG_R11, x86.REG_R12,
}

// registerPool tracks which physical registers currently back a live RegHandle, spilling to a per-function
// shadow stack on exhaustion. Liveness is tracked with a bitset rather than a map, since pool indices are dense
// small integers.
type registerPool struct {
	free     *bitset.BitSet    // indices into gpRegisters currently unassigned
	owner    map[uint]int      // pool index -> RegHandle id currently resident
	resident map[int]uint      // RegHandle id -> pool index, if currently in a register
	spilled  map[int]int64     // RegHandle id -> spill slot offset, if not currently in a register
	order    []int             // FIFO of RegHandle ids currently resident, oldest first
	nextSlot int64
}

func newRegisterPool() *registerPool {
	p := &registerPool{
		free:     bitset.New(uint(len(gpRegisters))),
		owner:    map[uint]int{},
		resident: map[int]uint{},
		spilled:  map[int]int64{},
	}
	for i := uint(0); i < uint(len(gpRegisters)); i++ {
		p.free.Set(i)
	}
	return p
}

// ensure guarantees id is resident in a physical register, allocating one if id is brand new, reloading it if it
// was previously spilled, and evicting the oldest resident register to the spill area if the pool is exhausted.
// The caller is responsible for emitting, in order: a store of the evicted register's old value (if evicted) to
// evictedSlot, then a load from loadSlot into the returned register (if needsLoad).
func (p *registerPool) ensure(id int) (reg int16, needsLoad bool, loadSlot int64, evictedID int, evictedSlot int64, evicted bool) {
	if i, ok := p.resident[id]; ok {
		return gpRegisters[i], false, 0, 0, 0, false
	}
	if slot, ok := p.spilled[id]; ok {
		loadSlot, needsLoad = slot, true
		delete(p.spilled, id)
	}

	if i, ok := p.free.NextSet(0); ok {
		p.free.Clear(i)
		p.owner[i] = id
		p.resident[id] = i
		p.order = append(p.order, id)
		return gpRegisters[i], needsLoad, loadSlot, 0, 0, false
	}

	evictedID = p.order[0]
	p.order = p.order[1:]
	i := p.resident[evictedID]
	delete(p.resident, evictedID)

	evictedSlot = p.nextSlot
	p.nextSlot += 8
	p.spilled[evictedID] = evictedSlot

	p.owner[i] = id
	p.resident[id] = i
	p.order = append(p.order, id)
	tracer.Printf("register pool exhausted: evicting id=%d to spill slot %d for id=%d", evictedID, evictedSlot, id)
	return gpRegisters[i], needsLoad, loadSlot, evictedID, evictedSlot, true
}

// release frees the physical register or spill slot backing id, if any. Called once a RegHandle is provably
// dead (popped off every operand stack that referenced it).
func (p *registerPool) release(id int) {
	if i, ok := p.resident[id]; ok {
		delete(p.resident, id)
		delete(p.owner, i)
		p.free.Set(i)
		for j, oid := range p.order {
			if oid == id {
				p.order = append(p.order[:j], p.order[j+1:]...)
				break
			}
		}
		return
	}
	delete(p.spilled, id)
}

func (p *registerPool) spillAreaSize() int64 {
	return p.nextSlot
}

// spilledReg describes one register forced out to the spill area by spillAll.
type spilledReg struct {
	id   int
	reg  int16
	slot int64
}

// spillAll evicts every resident register to a fresh spill slot, leaving the pool entirely free. Used before
// exiting to the host, since no physical register's value is guaranteed to survive the round trip through Go.
func (p *registerPool) spillAll() []spilledReg {
	out := make([]spilledReg, 0, len(p.order))
	for _, id := range p.order {
		i := p.resident[id]
		slot := p.nextSlot
		p.nextSlot += 8
		p.spilled[id] = slot
		out = append(out, spilledReg{id: id, reg: gpRegisters[i], slot: slot})
		delete(p.resident, id)
		delete(p.owner, i)
		p.free.Set(i)
	}
	p.order = nil
	return out
}
