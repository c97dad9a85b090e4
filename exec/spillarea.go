package exec

import "unsafe"

// DefaultSpillAreaSize is used when a caller does not size a SpillArea explicitly: generous enough for the call
// depths a single-pass translator whose register pool spills only on exhaustion produces in practice.
const DefaultSpillAreaSize = 1 << 20

// SpillArea is the shadow stack compiled functions address through the reserved spill-base register. Every
// function's prologue bumps the shared base pointer by its own spill usage on entry and releases it on every
// return path (emitter.Context.BeginFrame/EndFrame), so nested calls each get a disjoint region of the same
// buffer the same way native call frames nest on the ordinary stack.
type SpillArea struct {
	bytes []byte
}

// NewSpillArea allocates a spill area of the given size in bytes.
func NewSpillArea(size int) SpillArea {
	return SpillArea{bytes: make([]byte, size)}
}

// BasePointer returns the address of the first byte of the spill area, for seeding Machine.SpillBase.
func (s *SpillArea) BasePointer() uintptr {
	if len(s.bytes) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s.bytes[0]))
}
