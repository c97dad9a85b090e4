// Package jit implements the single-pass baseline translator: it walks decoded WASM function bodies one opcode
// at a time and drives the emitter façade to produce native x86-64 code, with no intermediate representation and
// no optimization passes.
package jit

import (
	"fmt"

	"github.com/pgavlin/wjit/emitter"
	"github.com/pgavlin/wjit/wasm"
)

// ValueKind is the translator's own value-type lattice: i32, i64, f32, f64, and void. It exists separately from
// wasm.ValueType because void (a block or function producing no result) has no WASM value type of its own — it
// is represented by the empty block type byte 0x40 or an empty result list, not by one of the four value bytes.
type ValueKind byte

const (
	KindI32 ValueKind = iota
	KindI64
	KindF32
	KindF64
	KindVoid
)

func (k ValueKind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindVoid:
		return "void"
	default:
		return fmt.Sprintf("ValueKind(%d)", byte(k))
	}
}

// KindOf maps a decoded wasm.ValueType onto the translator's lattice.
func KindOf(t wasm.ValueType) ValueKind {
	switch t {
	case wasm.ValueTypeI32:
		return KindI32
	case wasm.ValueTypeI64:
		return KindI64
	case wasm.ValueTypeF32:
		return KindF32
	case wasm.ValueTypeF64:
		return KindF64
	default:
		return KindVoid
	}
}

// Width reports the native register width that backs values of this kind. Floating-point values are routed
// through integer registers of matching width, a documented known limitation (SPEC_FULL.md §8): there is no
// native floating-point codegen in this subset, only bit-pattern-preserving integer moves.
func (k ValueKind) Width() emitter.Width {
	switch k {
	case KindI64, KindF64:
		return emitter.Width64
	default:
		return emitter.Width32
	}
}
