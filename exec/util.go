package exec

import (
	"reflect"

	"github.com/pgavlin/wjit/wasm"
)

func wasmType(kind reflect.Kind) wasm.ValueType {
	switch kind {
	case reflect.Int32, reflect.Uint32:
		return wasm.ValueTypeI32
	case reflect.Int64, reflect.Uint64:
		return wasm.ValueTypeI64
	case reflect.Float32:
		return wasm.ValueTypeF32
	case reflect.Float64:
		return wasm.ValueTypeF64
	default:
		return 0
	}
}
