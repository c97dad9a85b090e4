package code

// Opcode values for the subset of WASM 1.0 this decoder understands. The full instruction set defines many
// more opcodes than these; anything else is rejected by Decode before it ever reaches the translator.
const (
	OpUnreachable = 0x00
	OpNop         = 0x01
	OpBlock       = 0x02
	OpLoop        = 0x03
	OpIf          = 0x04
	OpElse        = 0x05
	OpEnd         = 0x0b
	OpBr          = 0x0c
	OpBrIf        = 0x0d
	OpReturn      = 0x0f
	OpCall        = 0x10

	OpLocalGet  = 0x20
	OpLocalSet  = 0x21
	OpGlobalGet = 0x23

	OpI32Load  = 0x28
	OpI32Store = 0x36

	OpI32Const = 0x41
	// OpI64Const, OpF32Const, and OpF64Const never appear in a decoded function body in this subset, but a
	// global's initializer expression (exec.EvalConstantExpression) is parsed independently of Decode and can
	// fold a global of any of the four numeric types into the constant pool.
	OpI64Const = 0x42
	OpF32Const = 0x43
	OpF64Const = 0x44

	OpI32GtS = 0x4a

	OpI32Add = 0x6a
)
