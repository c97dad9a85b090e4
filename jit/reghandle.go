package jit

import "github.com/pgavlin/wjit/emitter"

// RegHandle is the operand stack's view of a value: an opaque register handle plus the value kind it carries.
// The handle itself is owned by emitter.RegHandle (identity by id); jit only ever compares/copies it, never
// inspects its internals.
type RegHandle = emitter.RegHandle

// Slot is one entry on an OperandStack: a RegHandle together with the ValueKind it was pushed as. Kind travels
// with the handle because the stack, not the emitter, is responsible for knowing what a value means.
type Slot struct {
	Reg  RegHandle
	Kind ValueKind
}
