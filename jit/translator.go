package jit

import (
	"fmt"

	"github.com/pgavlin/wjit/emitter"
	"github.com/pgavlin/wjit/wasm"
	"github.com/pgavlin/wjit/wasm/code"
)

// Translator drives the single-pass walk of one function's decoded body: it owns the
// emitter context, the module-wide translation context, and the BlockStack tracking which block is active. One
// Translator is built per module and reused for every function; the emitter.Context and Module it wraps are
// shared across the whole module so intra-module calls and the constant pool stay visible everywhere.
type Translator struct {
	ctx   *emitter.Context
	mc    *Module
	scope *code.StaticScope

	funcIdx uint32
	entry   *FunctionEntry
	blocks  *BlockStack
}

// NewTranslator returns a Translator ready to compile functions against mc using scope for type lookups. scope's
// Locals must be refreshed via scope.SetFunction before each call to TranslateFunction.
func NewTranslator(ctx *emitter.Context, mc *Module, scope *code.StaticScope) *Translator {
	return &Translator{ctx: ctx, mc: mc, scope: scope}
}

// TranslateFunction compiles one function's decoded body in full: prologue, every instruction, and the epilogue
// emitted by whichever terminator instruction closes the function's outermost implicit block. It corresponds to
// the prologue/dispatch-loop/epilogue sequence, collapsed into one call since nothing else
// may interleave with a function's translation once it starts.
func (t *Translator) TranslateFunction(funcIdx uint32, sig wasm.FunctionSig, body code.Body) error {
	t.funcIdx = funcIdx
	t.startFunction(funcIdx, sig, body.Metrics.MaxStackDepth)

	for i := range body.Instructions {
		instr := &body.Instructions[i]
		done, err := t.step(instr)
		if err != nil {
			return newError(InvalidBinary, int(funcIdx), instr.OpString(), err)
		}
		if done {
			t.ctx.EndFrame()
			t.ctx.Bind(t.entry.endLabel)
			t.mc.Functions.markBound(funcIdx)
			return nil
		}
	}

	return newError(InvalidBinary, int(funcIdx), "", fmt.Errorf("function body has no terminating end"))
}

func (t *Translator) startFunction(funcIdx uint32, sig wasm.FunctionSig, maxStackDepth int) {
	entry := t.mc.Functions.Entry(funcIdx)
	t.entry = entry
	t.ctx.Bind(entry.Label)
	t.ctx.BeginFrame()
	t.mc.beginFunction()

	t.blocks = NewBlockStack()

	locals := make([]RegHandle, len(t.scope.Locals))
	for i, vt := range sig.ParamTypes {
		locals[i] = t.ctx.LoadArg(i, KindOf(vt).Width())
	}
	for i := len(sig.ParamTypes); i < len(t.scope.Locals); i++ {
		kind := KindOf(t.scope.Locals[i])
		reg := t.ctx.NewReg(kind.Width())
		t.ctx.MovImm(reg, 0)
		locals[i] = reg
	}

	outArity := 0
	outKind := KindVoid
	if len(sig.ReturnTypes) > 0 {
		outArity = 1
		outKind = KindOf(sig.ReturnTypes[0])
	}

	t.blocks.Push(&Block{
		Kind:     BlockFunction,
		OutArity: outArity,
		OutKind:  outKind,
		Stack:    NewOperandStackWithCapacity(maxStackDepth),
		Locals:   locals,
	})
}

func (t *Translator) locals() []RegHandle {
	return t.blocks.Bottom().Locals
}

// step dispatches one decoded instruction, returning done=true once the function's outermost block has closed.
func (t *Translator) step(instr *code.Instruction) (done bool, err error) {
	active := t.blocks.Active()

	if active.unreachable {
		switch instr.Opcode {
		case code.OpBlock, code.OpLoop, code.OpIf:
			t.pushDeadBlock(instr)
			return false, nil
		case code.OpElse:
			t.handleElse()
			return false, nil
		case code.OpEnd:
			return t.handleEnd()
		default:
			return false, nil
		}
	}

	switch instr.Opcode {
	case code.OpUnreachable:
		t.handleUnreachable()
	case code.OpNop:
		// no-op by definition.

	case code.OpBlock:
		t.handleBlockOpen(instr, BlockPlain)
	case code.OpLoop:
		t.handleBlockOpen(instr, BlockLoop)
	case code.OpIf:
		t.handleIf(instr)
	case code.OpElse:
		t.handleElse()
	case code.OpEnd:
		return t.handleEnd()

	case code.OpBr:
		t.handleBr(instr.Labelidx())
	case code.OpBrIf:
		t.handleBrIf(instr.Labelidx())
	case code.OpReturn:
		t.handleReturn()

	case code.OpCall:
		if err := t.handleCall(instr); err != nil {
			return false, err
		}

	case code.OpLocalGet:
		t.handleLocalGet(instr.Localidx())
	case code.OpLocalSet:
		t.handleLocalSet(instr.Localidx())
	case code.OpGlobalGet:
		if err := t.handleGlobalGet(instr.Globalidx()); err != nil {
			return false, err
		}

	case code.OpI32Const:
		t.handleI32Const(instr.I32())
	case code.OpI32Add:
		t.handleI32Add()
	case code.OpI32GtS:
		t.handleI32GtS()
	case code.OpI32Load:
		t.handleI32Load(instr)
	case code.OpI32Store:
		t.handleI32Store(instr)

	default:
		return false, newError(UnsupportedFeature, int(t.funcIdx), instr.OpString(), fmt.Errorf("opcode not supported in this subset"))
	}

	return false, nil
}

// padArity pads s, if short, with a fresh zero-valued slot of the given kind so a block-closing merge never
// underflows when the path into it was unreachable. A real validator would have proven the stack polymorphic in
// that case; this translator assumes well-formed input and synthesizes a placeholder instead of re-deriving that
// proof, since unreachable code's actual value is never observed.
func (t *Translator) padArity(s *OperandStack, arity int, kind ValueKind) {
	if arity == 0 {
		return
	}
	if s.Size()-s.FrozenDepth() >= arity {
		return
	}
	reg := t.ctx.NewReg(kind.Width())
	t.ctx.MovImm(reg, 0)
	s.Push(Slot{Reg: reg, Kind: kind})
}

// truncateToFrozen drops every slot s holds above its own frozen depth, mirroring the decoder's unreachable()
// truncation: once a block's remaining body is dead, its operand stack no longer needs to reflect any real
// value shape, and leaving stale slots behind would let a later, live sibling edge merge against the wrong data.
func truncateToFrozen(s *OperandStack) {
	for s.Size() > s.FrozenDepth() {
		s.Pop()
	}
}
