package code

import (
	"fmt"
	"strings"

	"github.com/pgavlin/wjit/wasm"
)

type Instruction struct {
	Opcode    byte   `json:"opcode"`
	Immediate uint64 `json:"immediate"`
	Labels    []int  `json:"labels"`
}

func (i *Instruction) Continuation() int {
	return i.Labels[0]
}

func (i *Instruction) Else() int {
	return i.Labels[1]
}

func (i *Instruction) StackHeight() int {
	return int((i.Immediate & StackHeightMask) >> 32)
}

func (i *Instruction) Labelidx() int {
	return int(i.Immediate)
}

func (i *Instruction) Funcidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Localidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Globalidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Typeidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Memarg() (offset uint32, align uint32) {
	return uint32(i.Immediate), uint32(i.Immediate >> 32)
}

func (i *Instruction) I32() int32 {
	return int32(i.Immediate)
}

// BlockType resolves a block/loop/if header's own input and result types. This subset's blocktypes are always
// either empty or a bare i32 result; multi-value block signatures (the scope.GetType path) never occur in
// practice but are kept so decode can still reject a malformed typeidx-encoded blocktype cleanly.
func (i *Instruction) BlockType(scope Scope) (in, out []wasm.ValueType, ok bool) {
	switch i.Immediate & BlockTypeMask {
	case BlockTypeEmpty:
		return nil, nil, true
	case BlockTypeI32:
		return nil, []wasm.ValueType{wasm.ValueTypeI32}, true
	default:
		sig, ok := scope.GetType(i.Typeidx())
		if !ok {
			return nil, nil, false
		}
		return sig.ParamTypes, sig.ReturnTypes, true
	}
}

func memarg(offset, align uint32) uint64 {
	return uint64(align)<<32 | uint64(offset)
}

func (i *Instruction) blockString(op string) string {
	switch i.Immediate & BlockTypeMask {
	case BlockTypeEmpty:
		return op
	case BlockTypeI32:
		return fmt.Sprintf("%s (result i32)", op)
	default:
		return fmt.Sprintf("%s (type %v)", op, i.Typeidx())
	}
}

func (i *Instruction) memString(op string) string {
	var b strings.Builder
	b.WriteString(op)
	offset, align := i.Memarg()
	if offset != 0 {
		fmt.Fprintf(&b, " offset=%v", offset)
	}
	if align != 0 {
		fmt.Fprintf(&b, " align=%v", align)
	}
	return b.String()
}

func (i *Instruction) String() string {
	switch i.Opcode {
	case OpBlock, OpLoop, OpIf:
		return i.blockString(i.OpString())
	case OpBr, OpBrIf:
		return fmt.Sprintf("%s %d", i.OpString(), i.Labelidx())
	case OpCall:
		return fmt.Sprintf("call %d", i.Funcidx())
	case OpLocalGet, OpLocalSet:
		return fmt.Sprintf("%s %v", i.OpString(), i.Localidx())
	case OpGlobalGet:
		return fmt.Sprintf("%s %v", i.OpString(), i.Globalidx())
	case OpI32Load, OpI32Store:
		return i.memString(i.OpString())
	case OpI32Const:
		return fmt.Sprintf("i32.const %d", i.I32())
	default:
		return i.OpString()
	}
}

func (i *Instruction) OpString() string {
	switch i.Opcode {
	case OpUnreachable:
		return "unreachable"
	case OpNop:
		return "nop"
	case OpBlock:
		return "block"
	case OpLoop:
		return "loop"
	case OpIf:
		return "if"
	case OpElse:
		return "else"
	case OpEnd:
		return "end"
	case OpBr:
		return "br"
	case OpBrIf:
		return "br_if"
	case OpReturn:
		return "return"
	case OpCall:
		return "call"
	case OpLocalGet:
		return "local.get"
	case OpLocalSet:
		return "local.set"
	case OpGlobalGet:
		return "global.get"
	case OpI32Load:
		return "i32.load"
	case OpI32Store:
		return "i32.store"
	case OpI32Const:
		return "i32.const"
	case OpI32GtS:
		return "i32.gt_s"
	case OpI32Add:
		return "i32.add"
	}
	return "invalid"
}
