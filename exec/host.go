package exec

import (
	"fmt"
	"math"
	"reflect"

	"github.com/pgavlin/wjit/wasm"
)

// HostFunc is a single entry in the host import table: a Go function made callable from compiled code under a
// WASM-shaped signature. The jit package never calls through a raw machine pointer to reach one of these;
// instead the compiled code exits to the driving Machine with the function's table index, and the Machine
// performs the reflect call on its behalf and resumes the compiled code at the call's continuation point.
type HostFunc struct {
	sig wasm.FunctionSig
	fn  reflect.Value
}

// NewHostFunc wraps a Go function as a host import. fn's parameter and result types must each correspond to one
// of the four WASM value types (int32/uint32, int64/uint64, float32, float64).
func NewHostFunc(fn interface{}) HostFunc {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		panic(fmt.Errorf("wjit: host import must be a function, got %v", t))
	}

	params := make([]wasm.ValueType, t.NumIn())
	for i := range params {
		vt := wasmType(t.In(i).Kind())
		if vt == 0 {
			panic(fmt.Errorf("wjit: host import has unsupported parameter type %v", t.In(i)))
		}
		params[i] = vt
	}

	returns := make([]wasm.ValueType, t.NumOut())
	for i := range returns {
		vt := wasmType(t.Out(i).Kind())
		if vt == 0 {
			panic(fmt.Errorf("wjit: host import has unsupported result type %v", t.Out(i)))
		}
		returns[i] = vt
	}

	return HostFunc{
		sig: wasm.FunctionSig{Form: 0x60, ParamTypes: params, ReturnTypes: returns},
		fn:  v,
	}
}

// Signature returns the import's WASM-visible signature.
func (h HostFunc) Signature() wasm.FunctionSig {
	return h.sig
}

// Invoke calls the wrapped Go function with arguments taken from the raw 64-bit register encoding the jit core
// uses on its operand stack, and returns results in the same encoding.
func (h HostFunc) Invoke(args []uint64) []uint64 {
	t := h.fn.Type()

	in := make([]reflect.Value, len(args))
	for i, raw := range args {
		pt := h.sig.ParamTypes[i]
		it := t.In(i)
		switch pt {
		case wasm.ValueTypeI32, wasm.ValueTypeI64:
			in[i] = reflect.ValueOf(raw).Convert(it)
		case wasm.ValueTypeF32:
			in[i] = reflect.ValueOf(math.Float32frombits(uint32(raw))).Convert(it)
		case wasm.ValueTypeF64:
			in[i] = reflect.ValueOf(math.Float64frombits(raw)).Convert(it)
		default:
			panic("unreachable")
		}
	}

	out := h.fn.Call(in)

	results := make([]uint64, len(out))
	for i, v := range out {
		switch h.sig.ReturnTypes[i] {
		case wasm.ValueTypeI32:
			if v.Kind() == reflect.Uint32 {
				results[i] = v.Uint()
			} else {
				results[i] = uint64(uint32(v.Int()))
			}
		case wasm.ValueTypeI64:
			if v.Kind() == reflect.Uint64 {
				results[i] = v.Uint()
			} else {
				results[i] = uint64(v.Int())
			}
		case wasm.ValueTypeF32:
			results[i] = uint64(math.Float32bits(float32(v.Float())))
		case wasm.ValueTypeF64:
			results[i] = math.Float64bits(v.Float())
		default:
			panic("unreachable")
		}
	}
	return results
}

// ImportKey identifies an import by its two-level WASM name.
type ImportKey struct {
	Module string
	Field  string
}

// ImportTable resolves (module, field) import references to host functions, per the two-level WASM import
// namespace.
type ImportTable map[ImportKey]HostFunc

// Bind registers fn as the host implementation of module.field.
func (t ImportTable) Bind(module, field string, fn interface{}) {
	t[ImportKey{module, field}] = NewHostFunc(fn)
}

// Resolve looks up the host function backing an import entry.
func (t ImportTable) Resolve(module, field string) (HostFunc, bool) {
	f, ok := t[ImportKey{module, field}]
	return f, ok
}
