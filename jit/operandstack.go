package jit

import (
	"fmt"

	"github.com/willf/bitset"

	"github.com/pgavlin/wjit/emitter"
)

// OperandStack is the virtual operand stack of register handles a block tracks: an ordered list
// of RegHandles with an optional frozen depth below which push/pop may not reach. Every Block owns one.
type OperandStack struct {
	slots       []Slot
	frozenDepth int
}

// NewOperandStack returns an empty stack with no frozen depth.
func NewOperandStack() *OperandStack {
	return &OperandStack{}
}

// NewOperandStackWithCapacity returns an empty stack whose backing slice is preallocated to capacity slots, to
// avoid reallocation while translating a function whose decoded body already reports its maximum observed
// operand-stack depth (wasm/code.Body.Metrics.MaxStackDepth).
func NewOperandStackWithCapacity(capacity int) *OperandStack {
	return &OperandStack{slots: make([]Slot, 0, capacity)}
}

// Size returns the number of live slots.
func (s *OperandStack) Size() int {
	return len(s.slots)
}

// FrozenDepth returns the current frozen depth: push/pop may not reach below this index.
func (s *OperandStack) FrozenDepth() int {
	return s.frozenDepth
}

// Push appends a new slot at the top of the stack.
func (s *OperandStack) Push(slot Slot) {
	s.slots = append(s.slots, slot)
}

// Pop removes and returns the top slot. Popping at or below the frozen depth means the decoded body underflowed
// its own operand stack, which is a bug in the decoder rather than a user error, so this panics rather than
// returning an error.
func (s *OperandStack) Pop() Slot {
	if len(s.slots) <= s.frozenDepth {
		panic(fmt.Sprintf("jit: operand stack underflow (size=%d, frozenDepth=%d)", len(s.slots), s.frozenDepth))
	}
	top := s.slots[len(s.slots)-1]
	s.slots = s.slots[:len(s.slots)-1]
	return top
}

// Peek returns the top slot without removing it.
func (s *OperandStack) Peek() Slot {
	if len(s.slots) <= s.frozenDepth {
		panic(fmt.Sprintf("jit: operand stack underflow on peek (size=%d, frozenDepth=%d)", len(s.slots), s.frozenDepth))
	}
	return s.slots[len(s.slots)-1]
}

// At returns the slot at absolute index i (0 = bottom of stack).
func (s *OperandStack) At(i int) Slot {
	return s.slots[i]
}

// Freeze marks every slot currently on the stack as below the new frozen depth, returning the previous frozen
// depth so the caller can restore it once the nested region ends. A block's own pushed values always live at or
// above its frozen depth.
func (s *OperandStack) Freeze() int {
	prev := s.frozenDepth
	s.frozenDepth = len(s.slots)
	return prev
}

// Unfreeze restores a previously saved frozen depth, clearing it at the end of the nested region that set it.
func (s *OperandStack) Unfreeze(prev int) {
	s.frozenDepth = prev
}

// InitFrom seeds this stack with the top inArity slots of parent, for a block that receives operands as block
// parameters. WASM 1.0 never has block-level input arities greater than zero (blocks only carry a result type),
// but the merge algorithm is written generically, so InitFrom supports a nonzero inArity without change.
func (s *OperandStack) InitFrom(parent *OperandStack, inArity int) {
	n := parent.Size()
	for i := n - inArity; i < n; i++ {
		s.Push(parent.At(i))
	}
}

// Dedup enforces the stack's deduplication contract: before a branch-edge use of this stack, if a handle
// appears more than once (the usual cause is local.get aliasing the same local into two stack positions), every
// repeat is materialized into a fresh handle so the merge that follows cannot clobber a value still referenced
// lower in the stack. The stack is walked once, bottom to top; a bitset of already-seen register ids is enough
// since handle ids are allocated densely from zero.
func (s *OperandStack) Dedup(ctx *emitter.Context) {
	seen := bitset.New(64)
	for i, slot := range s.slots {
		id := uint(slot.Reg.ID())
		if seen.Test(id) {
			fresh := ctx.NewReg(slot.Reg.Width())
			ctx.Mov(fresh, slot.Reg)
			s.slots[i].Reg = fresh
			continue
		}
		seen.Set(id)
	}
}

// TransferFrom implements the exact control-flow merge formula: the top count values of source are
// merged onto this stack, above its current frozen depth, so that a branch target's operand stack ends up
// holding source's top count values regardless of how this stack's own top count values were laid out. Callers
// must call source.Dedup(ctx) first if source's stack might alias a handle deeper than count from the top — this
// method performs the merge, not the deduplication.
func (s *OperandStack) TransferFrom(ctx *emitter.Context, source *OperandStack, count int) {
	k := s.Size() - s.frozenDepth
	n := count
	sn := source.Size()

	overlap := k
	if n < overlap {
		overlap = n
	}

	for i := 0; i < overlap; i++ {
		dst := s.slots[s.frozenDepth+i]
		src := source.slots[sn-n+i]
		if dst.Reg.ID() != src.Reg.ID() {
			ctx.Mov(dst.Reg, src.Reg)
		}
	}

	for i := overlap; i < n; i++ {
		src := source.slots[sn-n+i]
		s.Push(src)
	}

	newSize := s.frozenDepth + k
	if n > k {
		newSize = s.frozenDepth + n
	}
	s.slots = s.slots[:newSize]
}
