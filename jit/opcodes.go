package jit

import (
	"github.com/pgavlin/wjit/emitter"
	"github.com/pgavlin/wjit/wasm/code"
)

// handleUnreachable emits the trap exit for an `unreachable` opcode and marks the active block dead: everything
// lexically after it, up to the next structural opcode, can never execute.
func (t *Translator) handleUnreachable() {
	t.ctx.Trap(t.mc.UnreachableTrapIndex())
	t.killActive()
}

// killActive marks the active block unreachable and drops whatever it still holds above its own frozen depth, the
// same truncation the decoder itself performs when it hits unreachable code.
func (t *Translator) killActive() {
	active := t.blocks.Active()
	active.unreachable = true
	truncateToFrozen(active.Stack)
}

// blockArity resolves the in/out shape a block/loop/if header declares, via its blocktype immediate.
func (t *Translator) blockArity(instr *code.Instruction) (inArity, outArity int, outKind ValueKind) {
	in, out, _ := instr.BlockType(t.scope)
	outKind = KindVoid
	if len(out) > 0 {
		outKind = KindOf(out[0])
	}
	return len(in), len(out), outKind
}

// handleBlockOpen pushes a new plain or loop block. A loop's label is bound immediately at its header, since a
// `br` targeting it means "re-enter the loop body", not "jump past it" the way every other block kind's label
// means.
func (t *Translator) handleBlockOpen(instr *code.Instruction, kind BlockKind) {
	active := t.blocks.Active()
	in, out, outKind := t.blockArity(instr)

	b := &Block{
		Kind:     kind,
		Label:    t.ctx.NewLabel(),
		InArity:  in,
		OutArity: out,
		OutKind:  outKind,
		Stack:    NewOperandStack(),
	}
	b.Stack.InitFrom(active.Stack, in)
	b.parentFrozenDepth = active.Stack.Freeze()

	if kind == BlockLoop {
		b.BindLabel(t.ctx)
	}

	tracer.Printf("func %d: enter block kind=%d in=%d out=%d", t.funcIdx, kind, in, out)
	t.blocks.Push(b)
}

// handleIf pops the condition, jumps to the else arm (or the end, if none appears) when it is zero, and pushes
// the then-arm's block.
func (t *Translator) handleIf(instr *code.Instruction) {
	active := t.blocks.Active()
	cond := active.Stack.Pop()
	in, out, outKind := t.blockArity(instr)

	b := &Block{
		Kind:      BlockIfThen,
		Label:     t.ctx.NewLabel(),
		ElseLabel: t.ctx.NewLabel(),
		InArity:   in,
		OutArity:  out,
		OutKind:   outKind,
		Stack:     NewOperandStack(),
	}
	b.Stack.InitFrom(active.Stack, in)
	b.parentFrozenDepth = active.Stack.Freeze()

	t.ctx.Test(cond.Reg)
	t.ctx.Jz(b.ElseLabel)

	tracer.Printf("func %d: enter if in=%d out=%d", t.funcIdx, in, out)
	t.blocks.Push(b)
}

// handleElse closes out the then-arm in place: its result merges into the parent the same way any block's does,
// control jumps over the else-arm's code when the then-arm fell through to here, and a fresh operand stack is
// seeded for the else-arm from the same block-params the then-arm started with.
func (t *Translator) handleElse() {
	b := t.blocks.Active()

	if !b.unreachable {
		b.Stack.Dedup(t.ctx)
	}
	t.padArity(b.Stack, b.OutArity, b.OutKind)

	parent := t.blocks.Parent()
	parent.Stack.TransferFrom(t.ctx, b.Stack, b.OutArity)

	t.ctx.Jmp(b.Label)
	t.ctx.Bind(b.ElseLabel)

	b.hasElse = true
	b.Kind = BlockIfElse
	b.unreachable = false
	b.Stack = NewOperandStack()
	b.Stack.InitFrom(parent.Stack, b.InArity)
}

// handleEnd closes the active block. At function-frame depth this emits the implicit return instead.
func (t *Translator) handleEnd() (bool, error) {
	if t.blocks.Active().Kind == BlockFunction {
		return t.endFunction()
	}
	t.closeActive()
	return false, nil
}

// closeActive pops the active block, merges its result into the newly-active parent, and binds whatever labels
// were never reached during the block's body: its own Label always, and additionally ElseLabel for an `if` that
// never saw an `else` (the then-arm falling straight through to `end` then lands exactly where the else-arm
// would have started).
func (t *Translator) closeActive() *Block {
	b := t.blocks.Pop()
	parent := t.blocks.Active()

	if !b.unreachable {
		b.Stack.Dedup(t.ctx)
	}
	t.padArity(b.Stack, b.OutArity, b.OutKind)
	parent.Stack.TransferFrom(t.ctx, b.Stack, b.OutArity)
	parent.Stack.Unfreeze(b.parentFrozenDepth)

	if b.Kind == BlockIfThen && !b.hasElse {
		t.ctx.Bind(b.ElseLabel)
	}
	if !b.labelBound {
		b.BindLabel(t.ctx)
	}

	tracer.Printf("func %d: exit block kind=%d", t.funcIdx, b.Kind)
	return b
}

// endFunction emits the function's implicit trailing return and signals TranslateFunction to stop walking.
func (t *Translator) endFunction() (bool, error) {
	fn := t.blocks.Active()
	t.emitReturnFrom(fn.Stack, fn.OutArity, fn.OutKind)
	return true, nil
}

// emitReturnFrom pops the returned value (if any) off s and emits the function return sequence.
func (t *Translator) emitReturnFrom(s *OperandStack, arity int, kind ValueKind) {
	t.padArity(s, arity, kind)
	if arity == 1 {
		v := s.Pop()
		t.ctx.Ret(&v.Reg)
	} else {
		t.ctx.Ret(nil)
	}
}

// pushDeadBlock tracks nesting for a block/loop/if header encountered while the enclosing block is already
// unreachable, without touching any operand stack: the real merge work happens, harmlessly, when this block's own
// `else`/`end` closes it, since those structural opcodes always run even inside dead code.
func (t *Translator) pushDeadBlock(instr *code.Instruction) {
	if instr.Opcode == code.OpIf {
		t.blocks.Push(&Block{
			Kind:        BlockIfThen,
			Label:       t.ctx.NewLabel(),
			ElseLabel:   t.ctx.NewLabel(),
			Stack:       NewOperandStack(),
			unreachable: true,
		})
		return
	}

	kind := BlockPlain
	if instr.Opcode == code.OpLoop {
		kind = BlockLoop
	}
	t.blocks.Push(&Block{
		Kind:        kind,
		Label:       t.ctx.NewLabel(),
		Stack:       NewOperandStack(),
		unreachable: true,
	})
}

// emitBranch implements the shared half of br/br_if: merge the active stack's top count values into the target's
// landing point and jump there. A branch to the function frame has no landing block to merge into — it is just an
// early return — so it is emitted as one inline.
func (t *Translator) emitBranch(depth int) {
	active := t.blocks.Active()
	target := t.blocks.Relative(depth)

	if target.Kind == BlockFunction {
		t.emitReturnFrom(active.Stack, target.OutArity, target.OutKind)
		return
	}

	count := target.OutArity
	if target.Kind == BlockLoop {
		// Re-entering a loop needs its input arity, not its output arity; this subset never gives a block a
		// nonzero input arity in practice, since blocktypes only ever encode a result type, but the distinction
		// is kept for fidelity with how branch targets are typed.
		count = target.InArity
	}

	// target.Label is the block's own exit point, bound at its own `end` (Block.Label's doc comment; closeActive)
	// exactly like a plain block's — an if-then target is no different, and using anything else (its parent's
	// label, say) skips past everything the branch's own target was supposed to land just after.
	landing := t.blocks.Relative(depth + 1)
	active.Stack.Dedup(t.ctx)
	landing.Stack.TransferFrom(t.ctx, active.Stack, count)
	t.ctx.Jmp(target.Label)
}

// handleBr is an unconditional branch: after it, the remainder of the active block is dead code.
func (t *Translator) handleBr(depth int) {
	t.emitBranch(depth)
	t.killActive()
}

// handleBrIf conditionally takes the branch and otherwise falls through; unlike handleBr, control can reach past
// it, so the active block stays live either way.
func (t *Translator) handleBrIf(depth int) {
	active := t.blocks.Active()
	cond := active.Stack.Pop()

	skip := t.ctx.NewLabel()
	t.ctx.Test(cond.Reg)
	t.ctx.Jz(skip)
	t.emitBranch(depth)
	t.ctx.Bind(skip)
}

// handleReturn is an explicit early return from anywhere in the function body.
func (t *Translator) handleReturn() {
	active := t.blocks.Active()
	fn := t.blocks.Bottom()
	t.emitReturnFrom(active.Stack, fn.OutArity, fn.OutKind)
	t.killActive()
}

// handleCall pops arguments in reverse (the last-pushed argument is the final parameter), dispatches to a native
// or host call depending on the callee's origin, and pushes the result if the callee's signature has one.
func (t *Translator) handleCall(instr *code.Instruction) error {
	idx := instr.Funcidx()
	entry := t.mc.Functions.Entry(idx)

	active := t.blocks.Active()
	n := len(entry.Sig.ParamTypes)
	args := make([]RegHandle, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = active.Stack.Pop().Reg
	}

	hasResult := len(entry.Sig.ReturnTypes) > 0
	var resultKind ValueKind
	var resultWidth emitter.Width
	if hasResult {
		resultKind = KindOf(entry.Sig.ReturnTypes[0])
		resultWidth = resultKind.Width()
	}

	var call *emitter.Call
	if entry.IsHost {
		call = t.ctx.InvokeHost(entry.HostIndex, hasResult, resultWidth)
	} else {
		call = t.ctx.Invoke(entry.Label, hasResult, resultWidth)
	}
	for i, a := range args {
		call.Arg(i, a)
	}
	result := call.Do()

	if hasResult {
		active.Stack.Push(Slot{Reg: *result, Kind: resultKind})
	}
	return nil
}

// handleLocalGet pushes the local's own RegHandle: an alias, not a copy. The same physical register can end up
// sitting at more than one stack position at once (twice on the same stack, or once on each side of a branch);
// OperandStack.Dedup is what keeps a later merge from clobbering a copy that's still live on some other path.
func (t *Translator) handleLocalGet(idx uint32) {
	active := t.blocks.Active()
	src := t.locals()[idx]
	kind := t.localKind(idx)

	active.Stack.Push(Slot{Reg: src, Kind: kind})
}

// handleLocalSet mutates a local's fixed register in place, per the decoded opcode's own semantics. A stack slot
// elsewhere may still be aliasing this same register from an earlier local.get; that hazard is resolved before it
// can matter by Dedup running ahead of every branch-edge merge, not by local.get avoiding aliasing in the first
// place.
func (t *Translator) handleLocalSet(idx uint32) {
	active := t.blocks.Active()
	v := active.Stack.Pop()
	t.ctx.Mov(t.locals()[idx], v.Reg)
}

// localKind resolves a local's value kind via the static scope that was populated for this function.
func (t *Translator) localKind(idx uint32) ValueKind {
	vt, _ := t.scope.GetLocalType(idx)
	return KindOf(vt)
}

// handleGlobalGet materializes a constant-pool global and pushes it.
func (t *Translator) handleGlobalGet(idx uint32) error {
	reg, err := t.mc.GlobalGet(idx)
	if err != nil {
		return err
	}
	g, _ := t.scope.GetGlobalType(idx)
	active := t.blocks.Active()
	active.Stack.Push(Slot{Reg: reg, Kind: KindOf(g.Type)})
	return nil
}

func (t *Translator) handleI32Const(v int32) {
	active := t.blocks.Active()
	reg := t.ctx.NewReg(emitter.Width32)
	t.ctx.MovImm(reg, int64(v))
	active.Stack.Push(Slot{Reg: reg, Kind: KindI32})
}

func (t *Translator) handleI32Add() {
	active := t.blocks.Active()
	rhs := active.Stack.Pop()
	lhs := active.Stack.Pop()
	dst := t.ctx.NewReg(emitter.Width32)
	t.ctx.Add(dst, lhs.Reg, rhs.Reg)
	active.Stack.Push(Slot{Reg: dst, Kind: KindI32})
}

func (t *Translator) handleI32GtS() {
	active := t.blocks.Active()
	rhs := active.Stack.Pop()
	lhs := active.Stack.Pop()
	t.ctx.Cmp(lhs.Reg, rhs.Reg)
	dst := t.ctx.NewReg(emitter.Width32)
	t.ctx.SetGreaterZeroExtend(dst)
	active.Stack.Push(Slot{Reg: dst, Kind: KindI32})
}

// effectiveAddress folds a load/store's static offset immediate into the dynamic address popped off the stack,
// via a scratch add, then guards the resulting index against a 4-byte access running past linear memory's end
// before the caller's Load/Store ever indexes at [base+idx*1].
func (t *Translator) effectiveAddress(addr RegHandle, offset uint32) RegHandle {
	sum := addr
	if offset != 0 {
		off := t.ctx.NewReg(emitter.Width32)
		t.ctx.MovImm(off, int64(offset))
		sum = t.ctx.NewReg(emitter.Width32)
		t.ctx.Add(sum, addr, off)
	}
	t.emitBoundsCheck(sum)
	return sum
}

// emitBoundsCheck traps when idx lands a 4-byte access past linear memory's last in-bounds address. The
// comparison happens against memorySize-4 rather than memorySize so a 4-byte access starting right at the last
// 4 bytes still passes.
func (t *Translator) emitBoundsCheck(idx RegHandle) {
	limit := t.ctx.NewReg(emitter.Width32)
	t.ctx.MovImm(limit, int64(t.mc.MemorySize())-4)

	trap := t.ctx.NewLabel()
	ok := t.ctx.NewLabel()
	t.ctx.Cmp(limit, idx)
	t.ctx.Jb(trap)
	t.ctx.Jmp(ok)
	t.ctx.Bind(trap)
	t.ctx.Trap(t.mc.OutOfBoundsTrapIndex())
	t.ctx.Bind(ok)
}

func (t *Translator) handleI32Load(instr *code.Instruction) {
	offset, _ := instr.Memarg()
	active := t.blocks.Active()
	addr := active.Stack.Pop()

	idx := t.effectiveAddress(addr.Reg, offset)
	dst := t.ctx.NewReg(emitter.Width32)
	t.ctx.Load(dst, t.ctx.MemoryBaseReg(), idx)
	active.Stack.Push(Slot{Reg: dst, Kind: KindI32})
}

func (t *Translator) handleI32Store(instr *code.Instruction) {
	offset, _ := instr.Memarg()
	active := t.blocks.Active()
	value := active.Stack.Pop()
	addr := active.Stack.Pop()

	idx := t.effectiveAddress(addr.Reg, offset)
	t.ctx.Store(t.ctx.MemoryBaseReg(), idx, value.Reg)
}
