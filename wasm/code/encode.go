package code

import (
	"io"

	"github.com/pgavlin/wjit/wasm/leb128"
)

func encodeBlockType(w io.Writer, instr Instruction) error {
	if instr.Immediate&0x8000000000000000 != 0 {
		_, err := w.Write([]byte{byte(instr.Immediate)})
		return err
	}

	_, err := leb128.WriteVarint64(w, int64(instr.Immediate))
	return err
}

func encodeInstruction(w io.Writer, instr Instruction) error {
	if _, err := w.Write([]byte{byte(instr.Opcode)}); err != nil {
		return err
	}

	switch instr.Opcode {
	case OpBlock, OpLoop, OpIf:
		// Block encoding
		if err := encodeBlockType(w, instr); err != nil {
			return err
		}
	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpGlobalGet:
		// Index encoding
		if _, err := leb128.WriteVarUint32(w, uint32(instr.Immediate)); err != nil {
			return err
		}
	case OpI32Load, OpI32Store:
		// Memory encoding
		offset, align := instr.Memarg()
		if _, err := leb128.WriteVarUint32(w, align); err != nil {
			return err
		}
		if _, err := leb128.WriteVarUint32(w, offset); err != nil {
			return err
		}
	case OpI32Const:
		if _, err := leb128.WriteVarint64(w, int64(int32(instr.Immediate))); err != nil {
			return err
		}
	default:
		// Single-byte encoding; already done.
	}

	return nil
}

func Encode(w io.Writer, body []Instruction) error {
	for {
		if len(body) == 0 {
			return io.ErrUnexpectedEOF
		}

		if err := encodeInstruction(w, body[0]); err != nil {
			return err
		}
		if body[0].Opcode == OpEnd && len(body) == 1 {
			return nil
		}
		body = body[1:]
	}
}
