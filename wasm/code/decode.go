package code

import (
	"errors"
	"fmt"
	"io"

	"github.com/pgavlin/wjit/wasm"
	"github.com/pgavlin/wjit/wasm/leb128"
)

var ErrInvalidInstruction = errors.New("wasm: invalid instruction")

// ErrUnsupportedOpcode is returned by Decode when a function body contains an opcode outside the subset this
// decoder understands. Rejecting it here, rather than letting it through to fail later in the translator, keeps
// a single definition of "supported" in one place.
var ErrUnsupportedOpcode = errors.New("wasm: opcode not supported in this subset")

func decodeBlockType(body []byte) (uint64, []byte, error) {
	// Block encoding
	if len(body) == 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}

	switch body[0] {
	case 0x40, 0x7f:
		return uint64(body[0]) | 0x8000000000000000, body[1:], nil
	default:
		index, read, err := leb128.GetVarint64(body)
		if err != nil {
			return 0, nil, err
		}
		return uint64(index) & 0x7fffffffffffffff, body[read:], nil
	}
}

type Metrics struct {
	MaxNesting    int  // The maximum block nesting for the function.
	MaxStackDepth int  // The maximum stack depth for the function.
	LabelCount    int  // The number of labels in the function.
	HasLoops      bool // True if this function has loops
}

type block struct {
	*Instruction

	in, out     []wasm.ValueType
	stackHeight int
	unreachable bool
}

type decoder struct {
	Scope

	ibuf    []Instruction
	metrics Metrics

	blocks []block
	stack  []wasm.ValueType
}

type Body struct {
	Instructions []Instruction
	Metrics      Metrics
}

func Decode(body []byte, scope Scope, out []wasm.ValueType) (Body, error) {
	decoder := decoder{Scope: scope}
	return decoder.decode(body, out)
}

func (d *decoder) GetStackType(num int) wasm.ValueType {
	if num > len(d.stack) {
		return wasm.ValueTypeT
	}
	return d.stack[len(d.stack)-1-num]
}

func (d *decoder) popOpd() (wasm.ValueType, error) {
	b := &d.blocks[len(d.blocks)-1]
	if b.unreachable && len(d.stack) == b.stackHeight {
		return wasm.ValueTypeT, nil
	}
	if len(d.stack) == b.stackHeight {
		return 0, wasm.ValidationError("stack underflow")
	}
	t := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	return t, nil
}

func (d *decoder) popOpds(types ...wasm.ValueType) error {
	for i := len(types) - 1; i >= 0; i-- {
		expected := types[i]
		actual, err := d.popOpd()
		if err != nil {
			return err
		}
		if actual != wasm.ValueTypeT && expected != wasm.ValueTypeT && actual != expected {
			return wasm.ValidationError("stack type mismatch")
		}
	}
	return nil
}

func (d *decoder) pushOpds(types ...wasm.ValueType) {
	d.stack = append(d.stack, types...)

	if len(d.stack) > d.metrics.MaxStackDepth {
		d.metrics.MaxStackDepth = len(d.stack)
	}
}

func (d *decoder) pushBlock(instr *Instruction, in, out []wasm.ValueType) {
	d.blocks = append(d.blocks, block{
		Instruction: instr,
		in:          in,
		out:         out,
		stackHeight: len(d.stack),
	})
	d.pushOpds(in...)

	if len(d.blocks) > d.metrics.MaxNesting {
		d.metrics.MaxNesting = len(d.blocks)
	}
	d.metrics.LabelCount++
}

func (d *decoder) popBlock() (*block, error) {
	if len(d.blocks) == 0 {
		return nil, wasm.ValidationError("label stack underflow")
	}
	b := &d.blocks[len(d.blocks)-1]
	if err := d.popOpds(b.out...); err != nil {
		return nil, err
	}
	if b.Instruction != nil && len(d.stack) != b.stackHeight {
		return nil, wasm.ValidationError("unbalanced stack")
	}
	d.blocks = d.blocks[:len(d.blocks)-1]
	return b, nil
}

func (d *decoder) labelTypes(n int) ([]wasm.ValueType, error) {
	if len(d.blocks)-1 < n {
		return nil, wasm.ValidationError("invalid label")
	}

	b := &d.blocks[len(d.blocks)-1-n]
	if b.Instruction != nil && b.Opcode == OpLoop {
		return b.in, nil
	}
	return b.out, nil
}

func (d *decoder) unreachable() {
	b := &d.blocks[len(d.blocks)-1]
	d.stack = d.stack[:b.stackHeight]
	b.unreachable = true
}

// doStack applies an instruction's stack effect. Only the opcodes the translator actually dispatches have a
// case here; decodeInstruction rejects everything else before doStack ever sees it.
func (d *decoder) doStack(i *Instruction) error {
	const I32 = wasm.ValueTypeI32

	switch i.Opcode {
	case OpLocalSet:
		t, ok := d.GetLocalType(i.Localidx())
		if !ok {
			return wasm.ValidationError("unknown local")
		}
		return d.popOpds(t)

	case OpI32Store:
		if !d.HasMemory(0) {
			return wasm.ValidationError("unknown memory")
		}
		return d.popOpds(I32, I32)

	case OpLocalGet:
		t, ok := d.GetLocalType(i.Localidx())
		if !ok {
			return wasm.ValidationError("unknown local")
		}
		d.pushOpds(t)

	case OpGlobalGet:
		t, ok := d.GetGlobalType(i.Globalidx())
		if !ok {
			return wasm.ValidationError("unknown global")
		}
		d.pushOpds(t.Type)

	case OpI32Load:
		if !d.HasMemory(0) {
			return wasm.ValidationError("unknown memory")
		}
		if err := d.popOpds(I32); err != nil {
			return err
		}
		d.pushOpds(I32)

	case OpI32Const:
		d.pushOpds(I32)

	case OpI32GtS, OpI32Add:
		if err := d.popOpds(I32, I32); err != nil {
			return err
		}
		d.pushOpds(I32)

	case OpCall:
		sig, ok := d.GetFunctionSignature(i.Funcidx())
		if !ok {
			return wasm.ValidationError("unknown function")
		}
		if err := d.popOpds(sig.ParamTypes...); err != nil {
			return err
		}
		d.pushOpds(sig.ReturnTypes...)
	}

	return nil
}

// supportedOpcode reports whether opcode is one this decoder (and the translator behind it) knows how to
// handle. WASM 1.0 defines many more instructions than this subset implements; anything outside it is rejected
// at decode time rather than carried through to fail later.
func supportedOpcode(opcode byte) bool {
	switch opcode {
	case OpUnreachable, OpNop,
		OpBlock, OpLoop, OpIf, OpElse, OpEnd,
		OpBr, OpBrIf, OpReturn, OpCall,
		OpLocalGet, OpLocalSet, OpGlobalGet,
		OpI32Const, OpI32Add, OpI32GtS,
		OpI32Load, OpI32Store:
		return true
	default:
		return false
	}
}

func (d *decoder) decodeInstruction(body []byte) (*Instruction, []byte, error) {
	if len(body) == 0 {
		return nil, nil, io.ErrUnexpectedEOF
	}

	ip := len(d.ibuf)
	opcode := body[0]
	body = body[1:]

	if !supportedOpcode(opcode) {
		return nil, nil, fmt.Errorf("%w: opcode 0x%02x", ErrUnsupportedOpcode, opcode)
	}

	var immediate uint64
	var labels []int
	var err error
	switch opcode {
	case OpBlock:
		immediate, body, err = decodeBlockType(body)
		if err != nil {
			return nil, nil, err
		}
		labels = []int{0}
	case OpLoop:
		d.metrics.HasLoops = true

		immediate, body, err = decodeBlockType(body)
		if err != nil {
			return nil, nil, err
		}
		labels = []int{ip}
	case OpIf:
		immediate, body, err = decodeBlockType(body)
		if err != nil {
			return nil, nil, err
		}
		labels = []int{0, 0}
	case OpElse:
		labels = []int{0}
	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpGlobalGet:
		// Index encoding
		index, read, err := leb128.GetVarUint32(body)
		if err != nil {
			return nil, nil, err
		}
		immediate, body = uint64(index), body[read:]
	case OpI32Load, OpI32Store:
		// Memory encoding
		align, read, err := leb128.GetVarUint32(body)
		if err != nil {
			return nil, nil, err
		}
		body = body[read:]

		offset, read, err := leb128.GetVarUint32(body)
		if err != nil {
			return nil, nil, err
		}
		body = body[read:]

		immediate = memarg(offset, align)
	case OpI32Const:
		value, read, err := leb128.GetVarint32(body)
		if err != nil {
			return nil, nil, err
		}
		immediate, body = uint64(value), body[read:]
	default:
		// Single-byte encoding; already done (unreachable, nop, end, return, i32.add, i32.gt_s).
	}

	instr := Instruction{
		Opcode:    opcode,
		Immediate: immediate,
		Labels:    labels,
	}
	d.ibuf = append(d.ibuf, instr)
	return &d.ibuf[len(d.ibuf)-1], body, nil
}

func (d *decoder) decode(body []byte, out []wasm.ValueType) (Body, error) {
	d.ibuf = make([]Instruction, 0, len(body))

	var instr *Instruction
	d.pushBlock(instr, nil, out)

	var err error
	for {
		ip := len(d.ibuf)
		if instr, body, err = d.decodeInstruction(body); err != nil {
			return Body{}, err
		}

		switch instr.Opcode {
		default:
			if err := d.doStack(instr); err != nil {
				return Body{}, err
			}

		case OpUnreachable:
			d.unreachable()

		case OpIf:
			d.popOpds(wasm.ValueTypeI32)
			fallthrough

		case OpBlock, OpLoop:
			in, out, ok := instr.BlockType(d)
			if !ok {
				return Body{}, wasm.ValidationError("unknown type")
			}
			if err := d.popOpds(in...); err != nil {
				return Body{}, err
			}
			d.pushBlock(instr, in, out)

			stackHeight := d.blocks[len(d.blocks)-1].stackHeight
			instr.Immediate |= (uint64(stackHeight) << 32) & StackHeightMask

		case OpElse:
			b, err := d.popBlock()
			if err != nil {
				return Body{}, err
			}

			if b.Opcode != OpIf || b.Labels[1] != 0 {
				return Body{}, wasm.ValidationError("invalid nesting")
			}
			b.Labels[1] = ip

			d.pushBlock(b.Instruction, b.in, b.out)

		case OpEnd:
			b, err := d.popBlock()
			if err != nil {
				return Body{}, err
			}

			switch {
			case b.Instruction != nil:
				if b.Opcode != OpLoop {
					b.Labels[0] = ip + 1
				}
				if b.Opcode == OpIf && b.Labels[1] != 0 {
					d.ibuf[b.Labels[1]].Labels[0] = ip + 1
				}
				d.pushOpds(b.out...)
			case len(body) != 0:
				return Body{}, wasm.ValidationError("unexpected end instruction")
			default:
				if len(d.stack) != 0 {
					return Body{}, wasm.ValidationError("type mismatch")
				}

				// Condense the instruction list.
				if cap(d.ibuf)-len(d.ibuf) > len(d.ibuf)/10 {
					result := make([]Instruction, len(d.ibuf))
					copy(result, d.ibuf)
					d.ibuf = result
				}
				return Body{
					Instructions: d.ibuf,
					Metrics:      d.metrics,
				}, nil
			}

		case OpBr:
			pop, err := d.labelTypes(instr.Labelidx())
			if err != nil {
				return Body{}, err
			}
			if err := d.popOpds(pop...); err != nil {
				return Body{}, err
			}
			d.unreachable()

		case OpBrIf:
			pop, err := d.labelTypes(instr.Labelidx())
			if err != nil {
				return Body{}, err
			}
			if err := d.popOpds(wasm.ValueTypeI32); err != nil {
				return Body{}, err
			}
			if err := d.popOpds(pop...); err != nil {
				return Body{}, err
			}
			d.pushOpds(pop...)

		case OpReturn:
			if err := d.popOpds(d.blocks[0].out...); err != nil {
				return Body{}, err
			}
			d.unreachable()
		}
	}
}
