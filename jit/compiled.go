package jit

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/pgavlin/wjit/emitter"
	"github.com/pgavlin/wjit/exec"
	"github.com/pgavlin/wjit/wasm"
	"github.com/pgavlin/wjit/wasm/code"
)

// CompiledModule is the finished product of Compile: a finalized executable image plus everything a host needs
// to drive it through exec.Machine.Resume — the function table (for resolving an export's entry offset), the
// ordered host-import slice Machine.SetImports expects, and the module's declared memory, if any.
type CompiledModule struct {
	image   *emitter.Image
	mc      *Module
	exports map[string]uint32

	memory  *exec.Memory
	imports exec.ImportTable
	ordered []exec.HostFunc
}

// Compile translates every defined function in m and finalizes the result into one executable image. imports
// resolves the module's host function imports by their two-level (module, field) name; it may be nil if m
// declares none.
func Compile(m *wasm.Module, imports exec.ImportTable) (*CompiledModule, error) {
	ctx, err := emitter.NewContext()
	if err != nil {
		return nil, newError(CodegenFailure, -1, "", err)
	}

	mem, err := newModuleMemory(m)
	if err != nil {
		return nil, err
	}

	mc, err := NewModule(ctx, m, mem)
	if err != nil {
		return nil, err
	}

	ordered, err := resolveOrderedImports(m, imports)
	if err != nil {
		return nil, newError(UnsupportedFeature, -1, "", err)
	}

	scope := code.NewStaticScope(m)
	translator := NewTranslator(ctx, mc, scope)

	importedFuncs := len(scope.ImportedFunctions)
	if m.Function != nil && m.Code != nil {
		for i, typeidx := range m.Function.Types {
			if i >= len(m.Code.Bodies) {
				return nil, newError(InvalidBinary, importedFuncs+i, "", fmt.Errorf("function %d has no code entry", i))
			}
			sig := m.Types.Entries[typeidx]
			body := m.Code.Bodies[i]

			scope.SetFunction(sig, body)
			decoded, err := code.Decode(body.Code, scope, sig.ReturnTypes)
			if err != nil {
				return nil, newError(InvalidBinary, importedFuncs+i, "", err)
			}

			funcIdx := uint32(importedFuncs + i)
			if err := translator.TranslateFunction(funcIdx, sig, decoded); err != nil {
				return nil, err
			}
		}
	}

	image, err := ctx.Finalize()
	if err != nil {
		kind := CodegenFailure
		if errors.Is(err, syscall.ENOMEM) {
			kind = OutOfMemory
		}
		return nil, newError(kind, -1, "", err)
	}

	if err := mc.Functions.ResolveOffsets(ctx); err != nil {
		_ = image.Release()
		return nil, newError(CodegenFailure, -1, "", err)
	}

	exports := map[string]uint32{}
	if m.Export != nil {
		for _, e := range m.Export.Entries {
			if e.Kind == wasm.ExternalFunction {
				exports[e.FieldStr] = e.Index
			}
		}
	}

	return &CompiledModule{
		image:   image,
		mc:      mc,
		exports: exports,
		memory:  mem,
		imports: imports,
		ordered: ordered,
	}, nil
}

// newModuleMemory allocates the module's declared linear memory, if it has one. Only a single memory is
// supported, matching the one memory section a binary module may declare.
func newModuleMemory(m *wasm.Module) (*exec.Memory, error) {
	if m.Memory == nil || len(m.Memory.Entries) == 0 {
		return nil, nil
	}
	if len(m.Memory.Entries) > 1 {
		return nil, newError(UnsupportedFeature, -1, "", fmt.Errorf("multiple memories are not supported"))
	}
	limits := m.Memory.Entries[0].Limits
	max := limits.Maximum
	if limits.Flags&0x1 == 0 {
		max = 65536
	}
	mem := exec.NewMemory(limits.Minimum, max)
	return &mem, nil
}

// resolveOrderedImports resolves every function import in m against imports, in the same order
// FunctionTable assigns host indices, matching Machine.SetImports's call-order contract.
func resolveOrderedImports(m *wasm.Module, imports exec.ImportTable) ([]exec.HostFunc, error) {
	if m.Import == nil {
		return nil, nil
	}
	var ordered []exec.HostFunc
	for _, entry := range m.Import.Entries {
		if _, ok := entry.Type.(wasm.FuncImport); !ok {
			continue
		}
		fn, ok := imports.Resolve(entry.ModuleName, entry.FieldName)
		if !ok {
			return nil, fmt.Errorf("missing host import %s.%s", entry.ModuleName, entry.FieldName)
		}
		ordered = append(ordered, fn)
	}
	return ordered, nil
}

// Release unmaps the module's executable image. The module must not be invoked again afterward.
func (cm *CompiledModule) Release() error {
	return cm.image.Release()
}

// Exports lists the names of every function this module exports.
func (cm *CompiledModule) Exports() []string {
	names := make([]string, 0, len(cm.exports))
	for name := range cm.exports {
		names = append(names, name)
	}
	return names
}

// NewMachine returns a Machine ready to invoke any of this module's exports, backed by a fresh spill area of the
// given size. Pass exec.DefaultSpillAreaSize unless the module's call depth demands more.
func (cm *CompiledModule) NewMachine(spillAreaSize int) *exec.Machine {
	spill := exec.NewSpillArea(spillAreaSize)
	machine := &exec.Machine{
		CodeBase:   cm.image.Base(),
		MemoryBase: cm.mc.MemoryBasePointer(),
		SpillBase:  spill.BasePointer(),
		Traps:      cm.mc.Traps(),
	}
	machine.SetImports(cm.imports, cm.ordered)
	return machine
}

// Invoke resumes machine at the named export's entry point. Arguments beyond the first are accepted (the ABI
// reserves eight argument slots) but the translator only ever compiles single-result functions.
func (cm *CompiledModule) Invoke(machine *exec.Machine, name string, args ...uint64) (uint64, error) {
	idx, ok := cm.exports[name]
	if !ok {
		return 0, fmt.Errorf("jit: no export named %q", name)
	}
	entry := cm.mc.Functions.Entry(idx)
	if entry.IsHost {
		return 0, fmt.Errorf("jit: export %q resolves to a host import", name)
	}

	copy(machine.Args[:], args)
	entryAddr := cm.image.Base() + uintptr(cm.mc.Functions.Offset(idx))
	return machine.Resume(entryAddr)
}

// Memory returns the module's linear memory, or nil if it declares none.
func (cm *CompiledModule) Memory() *exec.Memory {
	return cm.memory
}

// CodeSize returns the number of bytes of machine code emitted for the defined function at WASM function index
// idx, for callers (the stats CLI) that report per-function compilation output size.
func (cm *CompiledModule) CodeSize(idx uint32) int64 {
	start, end := cm.mc.Functions.CodeRange(idx)
	return end - start
}
