package code

import "github.com/pgavlin/wjit/wasm"

// Scope resolves the type information a function body's instruction stream needs to decode against: its own
// locals, the module's globals and function signatures, and whether a memory exists for a load/store to target.
// This subset has no call_indirect, so a scope never needs to answer whether a table exists.
type Scope interface {
	GetLocalType(localidx uint32) (wasm.ValueType, bool)
	GetGlobalType(globalidx uint32) (wasm.GlobalVar, bool)
	GetFunctionSignature(funcidx uint32) (wasm.FunctionSig, bool)
	GetType(typeidx uint32) (wasm.FunctionSig, bool)

	HasMemory(memoryidx uint32) bool
}
