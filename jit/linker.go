package jit

import (
	"github.com/pgavlin/wjit/emitter"
	"github.com/pgavlin/wjit/wasm"
)

// FunctionEntry is one row of the FunctionTable: the forward-declared label a call opcode may already reference
// before that function's body has been translated, its signature, and (once Finalize has run) its offset into
// the finished image. Host imports never get an offset; they are dispatched through the exit-to-host protocol
// instead of a native call.
type FunctionEntry struct {
	Label     emitter.Label
	Sig       wasm.FunctionSig
	IsHost    bool
	HostIndex uint32 // index into the module's host import table, valid only when IsHost

	bound    bool
	offset   int64
	endLabel emitter.Label // bound by Translator right after the function's frame closes; not allocated for hosts
	end      int64
}

// FunctionTable holds one label per function in the module, indexed by WASM function index (imports first, then
// module-defined functions, matching StaticScope's numbering), allocated up front at module load so that a call
// opcode can reference any function's label before that function's own body has been translated.
type FunctionTable struct {
	entries []FunctionEntry
}

// NewFunctionTable allocates a label for every function in m, imported and defined, in WASM function-index
// order.
func NewFunctionTable(ctx *emitter.Context, m *wasm.Module) *FunctionTable {
	ft := &FunctionTable{}

	var hostIndex uint32
	if m.Import != nil {
		for _, entry := range m.Import.Entries {
			fi, ok := entry.Type.(wasm.FuncImport)
			if !ok {
				continue
			}
			sig := m.Types.Entries[fi.Type]
			ft.entries = append(ft.entries, FunctionEntry{
				Label:     ctx.NewLabel(),
				Sig:       sig,
				IsHost:    true,
				HostIndex: hostIndex,
			})
			hostIndex++
		}
	}

	if m.Function != nil {
		for _, typeidx := range m.Function.Types {
			sig := m.Types.Entries[typeidx]
			ft.entries = append(ft.entries, FunctionEntry{
				Label:    ctx.NewLabel(),
				Sig:      sig,
				endLabel: ctx.NewLabel(),
			})
		}
	}

	return ft
}

// Entry returns the table row for WASM function index i.
func (ft *FunctionTable) Entry(i uint32) *FunctionEntry {
	return &ft.entries[i]
}

// Len returns the number of functions in the table, imports included.
func (ft *FunctionTable) Len() int {
	return len(ft.entries)
}

// markBound records that entry i's labels have been bound (called by Translator.TranslateFunction once the
// function's end label is bound). Offset and ResolveOffsets do not consult this flag.
func (ft *FunctionTable) markBound(i uint32) {
	ft.entries[i].bound = true
}

// Range calls f once per defined (non-host) function, in index order, for callers that need to walk every
// function once translation and finalization are complete.
func (ft *FunctionTable) Range(f func(index uint32, entry *FunctionEntry)) {
	for i := range ft.entries {
		if ft.entries[i].IsHost {
			continue
		}
		f(uint32(i), &ft.entries[i])
	}
}

// ResolveOffsets queries ctx for the final byte offset of every defined function's label, once Finalize has run.
// Host entries are skipped; they never occupy a position in the image.
func (ft *FunctionTable) ResolveOffsets(ctx *emitter.Context) error {
	for i := range ft.entries {
		e := &ft.entries[i]
		if e.IsHost {
			continue
		}
		off, err := ctx.Offset(e.Label)
		if err != nil {
			return err
		}
		e.offset = off

		end, err := ctx.Offset(e.endLabel)
		if err != nil {
			return err
		}
		e.end = end
	}
	return nil
}

// Offset returns function i's byte offset into the finalized image. Valid only after ResolveOffsets.
func (ft *FunctionTable) Offset(i uint32) int64 {
	return ft.entries[i].offset
}

// CodeRange returns function i's emitted byte range [start, end) in the finalized image. Valid only after
// ResolveOffsets; a zero-length range would mean no code was emitted for that function, which should never
// happen for a defined function whose translation completed.
func (ft *FunctionTable) CodeRange(i uint32) (start, end int64) {
	e := &ft.entries[i]
	return e.offset, e.end
}
