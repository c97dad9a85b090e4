package jit

import (
	"fmt"
	"math"

	"github.com/pgavlin/wjit/emitter"
	"github.com/pgavlin/wjit/exec"
	"github.com/pgavlin/wjit/wasm"
)

// globalBinding is one entry of the module's constant pool: a global variable's value, folded in at translation
// time. This is only correct for immutable globals — global.set is not a supported opcode in this
// subset, so no handler ever needs to invalidate a binding once it is folded in.
type globalBinding struct {
	kind  ValueKind
	value uint64
}

// Module is the translation-time module context: the function table, the global constant pool, and linear
// memory. Compiled loads and stores do not embed memory's base address as an immediate; they address it through
// the reserved memory-base register, which is seeded from exec.Machine.MemoryBase (see MemoryBasePointer).
type Module struct {
	ctx        *emitter.Context
	Functions  *FunctionTable
	globals    []globalBinding
	globalRegs map[uint32]RegHandle

	memory     *exec.Memory
	hasMemory  bool
	memorySize uint32

	traps              []exec.Trap
	unreachableTrap    uint32
	hasUnreachableTrap bool
	outOfBoundsTrap    uint32
	hasOutOfBoundsTrap bool
}

// NewModule builds the translation-time module context for m: it allocates every function's label up front
// and evaluates every defined global's initializer into the constant pool.
// mem may be nil if the module declares no memory.
func NewModule(ctx *emitter.Context, m *wasm.Module, mem *exec.Memory) (*Module, error) {
	mc := &Module{
		ctx:       ctx,
		Functions: NewFunctionTable(ctx, m),
		memory:    mem,
		hasMemory: mem != nil,
	}
	if mem != nil {
		mc.memorySize = uint32(len(mem.Bytes()))
	}

	if m.Global != nil {
		for idx, g := range m.Global.Globals {
			v, err := exec.EvalConstantExpression(nil, g.Init)
			if err != nil {
				return nil, newError(UnsupportedFeature, -1, "global.get", fmt.Errorf("evaluating global %d initializer: %w", idx, err))
			}
			kind, bits := encodeConst(g.Type.Type, v)
			mc.globals = append(mc.globals, globalBinding{kind: kind, value: bits})
		}
	}

	return mc, nil
}

// encodeConst folds an evaluated constant-expression result into the bit pattern the constant pool stores it as.
func encodeConst(t wasm.ValueType, v interface{}) (ValueKind, uint64) {
	switch x := v.(type) {
	case int32:
		return KindI32, uint64(uint32(x))
	case int64:
		return KindI64, uint64(x)
	case float32:
		return KindF32, uint64(math.Float32bits(x))
	case float64:
		return KindF64, math.Float64bits(x)
	default:
		return KindOf(t), 0
	}
}

// beginFunction clears the per-function global materialization cache. RegHandles don't survive past the
// function that allocated them, so each function starts out needing to re-materialize every global it reads,
// exactly once.
func (mc *Module) beginFunction() {
	mc.globalRegs = make(map[uint32]RegHandle)
}

// GlobalGet returns the register holding global index idx's value. The first read within a function
// materializes it from the constant pool into a fresh register; every later read of the same index within
// that function hands back the same RegHandle, aliasing it the same way a local's fixed register is aliased.
func (mc *Module) GlobalGet(idx uint32) (RegHandle, error) {
	if reg, ok := mc.globalRegs[idx]; ok {
		return reg, nil
	}
	if int(idx) >= len(mc.globals) {
		return RegHandle{}, newError(TypeError, -1, "global.get", fmt.Errorf("global index %d out of range", idx))
	}
	g := mc.globals[idx]
	reg := mc.ctx.NewReg(g.kind.Width())
	mc.ctx.MovImm(reg, int64(g.value))
	mc.globalRegs[idx] = reg
	return reg, nil
}

// RegisterTrap adds t to the module's trap table and returns its index, stable for the lifetime of the module
// (exec.Machine.Traps is indexed by exactly this value via Machine.FuncIndex on a StatusTrap exit).
func (mc *Module) RegisterTrap(t exec.Trap) uint32 {
	mc.traps = append(mc.traps, t)
	return uint32(len(mc.traps) - 1)
}

// UnreachableTrapIndex returns the shared trap table index for an `unreachable` opcode, registering it on first
// use so every occurrence in the module reuses the same row.
func (mc *Module) UnreachableTrapIndex() uint32 {
	if !mc.hasUnreachableTrap {
		mc.unreachableTrap = mc.RegisterTrap(exec.TrapUnreachable)
		mc.hasUnreachableTrap = true
	}
	return mc.unreachableTrap
}

// OutOfBoundsTrapIndex returns the shared trap table index for an out-of-bounds memory access, registering it
// on first use so every load/store bounds check in the module reuses the same row.
func (mc *Module) OutOfBoundsTrapIndex() uint32 {
	if !mc.hasOutOfBoundsTrap {
		mc.outOfBoundsTrap = mc.RegisterTrap(exec.TrapOutOfBoundsMemoryAccess)
		mc.hasOutOfBoundsTrap = true
	}
	return mc.outOfBoundsTrap
}

// Traps returns the module's trap table, for seeding exec.Machine.Traps before Resume is called.
func (mc *Module) Traps() []exec.Trap {
	return mc.traps
}

// MemorySize returns linear memory's byte length as it stood when the module was compiled. This subset has no
// memory.grow opcode, so every load/store bounds check can use this snapshot as a compile-time immediate instead
// of re-reading memory's current size at every access.
func (mc *Module) MemorySize() uint32 {
	return mc.memorySize
}

// HasMemory reports whether the module declares linear memory.
func (mc *Module) HasMemory() bool {
	return mc.hasMemory
}

// MemoryBasePointer returns the host pointer to the start of linear memory, for seeding exec.Machine.MemoryBase
// before a function is entered or resumed.
func (mc *Module) MemoryBasePointer() uintptr {
	if mc.memory == nil {
		return 0
	}
	return mc.memory.BasePointer()
}
