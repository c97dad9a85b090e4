//go:build amd64
// +build amd64

package exec

import "fmt"

// Status codes Machine.Status holds when compiled code returns control to Resume. Resume sets StatusReturned
// before every entry; compiled code writes StatusCallHost or StatusTrap when it exits early.
const (
	StatusReturned  uint32 = 0 // the function ran to completion; Machine.Args[0] holds the i32/i64 result, if any
	StatusCallHost  uint32 = 1 // Machine.FuncIndex names a host import; Machine.Args holds its arguments
	StatusTrap      uint32 = 2 // Machine.FuncIndex names a Trap value registered via RegisterTrap
)

const maxInlineArgs = 8

// Machine is the Go-side driver compiled code exits to whenever it cannot safely continue running native
// instructions on its own: calling a host import, or raising a trap. Its field layout is part of the exit-to-host
// ABI the emitter package compiles against — emitter bakes these field offsets into generated MOV instructions
// via unsafe.Offsetof at Go-compile time, so a reordering of the fields is picked up when emitter is rebuilt.
type Machine struct {
	Status       uint32
	FuncIndex    uint32
	Continuation uintptr // byte offset from CodeBase to resume at, valid only while Status != StatusReturned
	CodeBase     uintptr // base address of the finalized executable image owning the call in progress
	MemoryBase   uintptr // base address of the module's linear memory, reloaded into a reserved register on entry
	SpillBase    uintptr // base address of this call's spill area, reloaded into a reserved register on entry

	Args    [maxInlineArgs]uint64
	Results [maxInlineArgs]uint64

	Imports        ImportTable
	orderedImports []HostFunc
	Traps          []Trap
}

// Resume drives entry to completion, servicing every host-call exit along the way, and returns the raw 64-bit
// encoding of the function's single result (zero if the function is niladic in its return). m.CodeBase must
// already hold the base address of the finalized image entry belongs to: every Continuation a host-call exit
// records is an offset from that image base, not from entry itself, since entry may be any function's offset
// into a shared image.
func (m *Machine) Resume(entry uintptr) (uint64, error) {
	memBase := m.MemoryBase
	spillBase := m.SpillBase

	for {
		m.Status = StatusReturned
		jitcall(entry, m, memBase, spillBase)

		switch m.Status {
		case StatusReturned:
			return m.Args[0], nil

		case StatusCallHost:
			if int(m.FuncIndex) >= len(m.hostFuncs()) {
				return 0, fmt.Errorf("exec: host import index %d out of range", m.FuncIndex)
			}
			fn := m.hostFuncs()[m.FuncIndex]
			n := len(fn.sig.ParamTypes)
			results := fn.Invoke(m.Args[:n])
			copy(m.Results[:], results)
			entry = m.CodeBase + m.Continuation
			// The compiled frame wrote its current spill-base pointer back into m.SpillBase before exiting, so
			// the next jitcall resumes with R13 exactly where this frame left it rather than its original base.
			// m.MemoryBase is re-read too: a host import reached through Invoke may grow linear memory, which
			// reallocates its backing slice and moves the base address the reserved memory register must hold.
			memBase = m.MemoryBase
			spillBase = m.SpillBase

		case StatusTrap:
			return 0, m.Traps[m.FuncIndex]

		default:
			return 0, fmt.Errorf("exec: unknown machine status %d", m.Status)
		}
	}
}

// hostFuncs snapshots the import table in call order; the order is fixed at module-link time by the jit
// package's function linker, which assigns each host import a table index matching this slice.
func (m *Machine) hostFuncs() []HostFunc {
	return m.orderedImports
}

// SetImports installs the import table and its fixed call-order slice, both assigned by the function linker.
func (m *Machine) SetImports(t ImportTable, ordered []HostFunc) {
	m.Imports = t
	m.orderedImports = ordered
}
