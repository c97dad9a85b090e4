package jit_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wjit/exec"
	"github.com/pgavlin/wjit/jit"
	"github.com/pgavlin/wjit/wasm"
	"github.com/pgavlin/wjit/wasm/code"
)

func i32() []wasm.ValueType {
	return []wasm.ValueType{wasm.ValueTypeI32}
}

// encode hand-assembles a function body's instruction stream via the same encoder the decoder's round trip
// relies on, so these fixtures never need to construct a full binary module.
func encode(t *testing.T, instrs []code.Instruction) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, code.Encode(&buf, instrs))
	return buf.Bytes()
}

func mustCompile(t *testing.T, m *wasm.Module, imports exec.ImportTable) *jit.CompiledModule {
	t.Helper()
	cm, err := jit.Compile(m, imports)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, cm.Release())
	})
	return cm
}

func invoke(t *testing.T, cm *jit.CompiledModule, export string, args ...uint64) (uint64, error) {
	t.Helper()
	machine := cm.NewMachine(exec.DefaultSpillAreaSize)
	return cm.Invoke(machine, export, args...)
}

func TestConstant(t *testing.T) {
	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ReturnTypes: i32()},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code: &wasm.SectionCode{Bodies: []wasm.FunctionBody{
			{Code: encode(t, []code.Instruction{
				{Opcode: code.OpI32Const, Immediate: uint64(uint32(42))},
				{Opcode: code.OpEnd},
			})},
		}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "answer", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)
	result, err := invoke(t, cm, "answer")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result)
}

func TestAdd(t *testing.T) {
	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ParamTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, ReturnTypes: i32()},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code: &wasm.SectionCode{Bodies: []wasm.FunctionBody{
			{Code: encode(t, []code.Instruction{
				{Opcode: code.OpLocalGet, Immediate: 0},
				{Opcode: code.OpLocalGet, Immediate: 1},
				{Opcode: code.OpI32Add},
				{Opcode: code.OpEnd},
			})},
		}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "add", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)
	result, err := invoke(t, cm, "add", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), result)
}

func TestIfElse(t *testing.T) {
	body := encode(t, []code.Instruction{
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpI32Const, Immediate: uint64(uint32(10))},
		{Opcode: code.OpI32GtS},
		{Opcode: code.OpIf, Immediate: code.BlockTypeI32},
		{Opcode: code.OpI32Const, Immediate: uint64(uint32(1))},
		{Opcode: code.OpElse},
		{Opcode: code.OpI32Const, Immediate: uint64(uint32(0))},
		{Opcode: code.OpEnd},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ParamTypes: i32(), ReturnTypes: i32()},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code:     &wasm.SectionCode{Bodies: []wasm.FunctionBody{{Code: body}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "gt10", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)

	lo, err := invoke(t, cm, "gt10", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lo)

	hi, err := invoke(t, cm, "gt10", 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hi)
}

// TestBranchOutOfIfWithoutElse covers `if (cond) { br 0 } end` sitting directly in a function body: br 0's
// target is the if block itself, whose own parent is the synthetic function frame rather than another real
// block. Both the branch-taken and fall-through paths land on the same instruction after the if closes.
func TestBranchOutOfIfWithoutElse(t *testing.T) {
	body := encode(t, []code.Instruction{
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpIf, Immediate: code.BlockTypeEmpty},
		{Opcode: code.OpBr, Immediate: 0},
		{Opcode: code.OpEnd},
		{Opcode: code.OpI32Const, Immediate: uint64(uint32(100))},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ParamTypes: i32(), ReturnTypes: i32()},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code:     &wasm.SectionCode{Bodies: []wasm.FunctionBody{{Code: body}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "branchpastif", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)

	taken, err := invoke(t, cm, "branchpastif", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), taken)

	fallthru, err := invoke(t, cm, "branchpastif", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), fallthru)
}

func TestLoop(t *testing.T) {
	// sums 1..n using a local accumulator and a local loop counter, exiting the loop through a forward
	// branch out of its enclosing block rather than falling off the loop's own end.
	body := encode(t, []code.Instruction{
		{Opcode: code.OpI32Const, Immediate: 0},
		{Opcode: code.OpLocalSet, Immediate: 1},
		{Opcode: code.OpI32Const, Immediate: 1},
		{Opcode: code.OpLocalSet, Immediate: 2},
		{Opcode: code.OpBlock, Immediate: code.BlockTypeEmpty},
		{Opcode: code.OpLoop, Immediate: code.BlockTypeEmpty},
		{Opcode: code.OpLocalGet, Immediate: 2},
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpI32GtS},
		{Opcode: code.OpBrIf, Immediate: 1},
		{Opcode: code.OpLocalGet, Immediate: 1},
		{Opcode: code.OpLocalGet, Immediate: 2},
		{Opcode: code.OpI32Add},
		{Opcode: code.OpLocalSet, Immediate: 1},
		{Opcode: code.OpLocalGet, Immediate: 2},
		{Opcode: code.OpI32Const, Immediate: 1},
		{Opcode: code.OpI32Add},
		{Opcode: code.OpLocalSet, Immediate: 2},
		{Opcode: code.OpBr, Immediate: 0},
		{Opcode: code.OpEnd},
		{Opcode: code.OpEnd},
		{Opcode: code.OpLocalGet, Immediate: 1},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ParamTypes: i32(), ReturnTypes: i32()},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code: &wasm.SectionCode{Bodies: []wasm.FunctionBody{{
			Locals: []wasm.LocalEntry{{Count: 2, Type: wasm.ValueTypeI32}},
			Code:   body,
		}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "sumto", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)
	result, err := invoke(t, cm, "sumto", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), result)
}

// TestLocalGetAliasBranchMerge covers a local read twice in a row, with the second copy consumed as a branch
// condition and the first carried across the branch as the merged value: br_if's target and the fall-through
// path must agree on where that value physically ends up, even though both originate from the same aliased
// register.
func TestLocalGetAliasBranchMerge(t *testing.T) {
	body := encode(t, []code.Instruction{
		{Opcode: code.OpBlock, Immediate: code.BlockTypeI32},
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpBrIf, Immediate: 0},
		{Opcode: code.OpI32Const, Immediate: uint64(uint32(100))},
		{Opcode: code.OpI32Add},
		{Opcode: code.OpEnd},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ParamTypes: i32(), ReturnTypes: i32()},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code:     &wasm.SectionCode{Bodies: []wasm.FunctionBody{{Code: body}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "aliasmerge", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)

	zero, err := invoke(t, cm, "aliasmerge", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), zero)

	nonzero, err := invoke(t, cm, "aliasmerge", 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonzero)
}

func TestCall(t *testing.T) {
	doubleBody := encode(t, []code.Instruction{
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpI32Add},
		{Opcode: code.OpEnd},
	})
	callerBody := encode(t, []code.Instruction{
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpCall, Immediate: 0},
		{Opcode: code.OpI32Const, Immediate: 1},
		{Opcode: code.OpI32Add},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ParamTypes: i32(), ReturnTypes: i32()},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0, 0}},
		Code: &wasm.SectionCode{Bodies: []wasm.FunctionBody{
			{Code: doubleBody},
			{Code: callerBody},
		}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "calldouble", Kind: wasm.ExternalFunction, Index: 1},
		}},
	}

	cm := mustCompile(t, m, nil)
	result, err := invoke(t, cm, "calldouble", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), result)
}

func TestMemoryLoadStore(t *testing.T) {
	body := encode(t, []code.Instruction{
		{Opcode: code.OpI32Const, Immediate: 0},
		{Opcode: code.OpI32Const, Immediate: uint64(uint32(123))},
		{Opcode: code.OpI32Store, Immediate: 0},
		{Opcode: code.OpI32Const, Immediate: 0},
		{Opcode: code.OpI32Load, Immediate: 0},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types:    &wasm.SectionTypes{Entries: []wasm.FunctionSig{{ReturnTypes: i32()}}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Memory:   &wasm.SectionMemories{Entries: []wasm.Memory{{Limits: wasm.ResizableLimits{Minimum: 1}}}},
		Code:     &wasm.SectionCode{Bodies: []wasm.FunctionBody{{Code: body}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "roundtrip", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)
	result, err := invoke(t, cm, "roundtrip")
	require.NoError(t, err)
	assert.Equal(t, uint64(123), result)
	assert.Equal(t, uint32(123), cm.Memory().Uint32At(0))
}

func TestMemoryLoadOutOfBounds(t *testing.T) {
	body := encode(t, []code.Instruction{
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpI32Load, Immediate: 0},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types:    &wasm.SectionTypes{Entries: []wasm.FunctionSig{{ParamTypes: i32(), ReturnTypes: i32()}}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Memory:   &wasm.SectionMemories{Entries: []wasm.Memory{{Limits: wasm.ResizableLimits{Minimum: 1}}}},
		Code:     &wasm.SectionCode{Bodies: []wasm.FunctionBody{{Code: body}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "loadat", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)

	inBounds, err := invoke(t, cm, "loadat", 65532)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), inBounds)

	_, err = invoke(t, cm, "loadat", 65533)
	assert.ErrorIs(t, err, exec.TrapOutOfBoundsMemoryAccess)
}

func TestUnreachableTrap(t *testing.T) {
	body := encode(t, []code.Instruction{
		{Opcode: code.OpUnreachable},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types:    &wasm.SectionTypes{Entries: []wasm.FunctionSig{{ReturnTypes: i32()}}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code:     &wasm.SectionCode{Bodies: []wasm.FunctionBody{{Code: body}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "boom", Kind: wasm.ExternalFunction, Index: 0},
		}},
	}

	cm := mustCompile(t, m, nil)
	_, err := invoke(t, cm, "boom")
	assert.ErrorIs(t, err, exec.TrapUnreachable)
}

func TestHostImport(t *testing.T) {
	body := encode(t, []code.Instruction{
		{Opcode: code.OpLocalGet, Immediate: 0},
		{Opcode: code.OpCall, Immediate: 0},
		{Opcode: code.OpI32Const, Immediate: 1},
		{Opcode: code.OpI32Add},
		{Opcode: code.OpEnd},
	})

	m := &wasm.Module{
		Types: &wasm.SectionTypes{Entries: []wasm.FunctionSig{
			{ParamTypes: i32(), ReturnTypes: i32()},
		}},
		Import: &wasm.SectionImports{Entries: []wasm.ImportEntry{
			{ModuleName: "env", FieldName: "double", Type: wasm.FuncImport{Type: 0}},
		}},
		Function: &wasm.SectionFunctions{Types: []uint32{0}},
		Code:     &wasm.SectionCode{Bodies: []wasm.FunctionBody{{Code: body}}},
		Export: &wasm.SectionExports{Entries: []wasm.ExportEntry{
			{FieldStr: "callImport", Kind: wasm.ExternalFunction, Index: 1},
		}},
	}

	imports := exec.ImportTable{}
	imports.Bind("env", "double", func(x int32) int32 { return x * 2 })

	cm := mustCompile(t, m, imports)
	result, err := invoke(t, cm, "callImport", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), result)
}
