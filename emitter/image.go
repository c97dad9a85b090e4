//go:build amd64
// +build amd64

package emitter

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Image is a finalized, executable, read-only code buffer. Produced once per module by Context.Finalize;
// nothing may be emitted into the owning Context afterward.
type Image struct {
	base uintptr
	mem  []byte
}

// Base returns the address of the first byte of the image, suitable as a native function pointer once added to
// a label's offset.
func (img *Image) Base() uintptr {
	return img.base
}

// Offset returns the byte offset of l within the image. l must have been bound before Finalize was called.
func (c *Context) Offset(l Label) (int64, error) {
	st, ok := c.labels[l.name]
	if !ok || st.prog == nil {
		return 0, fmt.Errorf("emitter: label %s was never bound", l.name)
	}
	return st.prog.Pc, nil
}

// Finalize runs the back end's encoder over every instruction emitted so far, then maps the resulting bytes into
// an executable page. It does no register allocation: the register pool assigned physical registers as each
// instruction was emitted. The Context must not be used again afterward.
func (c *Context) Finalize() (*Image, error) {
	code := c.builder.Assemble()
	if len(code) == 0 {
		return nil, fmt.Errorf("emitter: no code emitted")
	}

	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("emitter: mmap: %w", err)
	}
	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("emitter: mprotect: %w", err)
	}

	tracer.Printf("finalize: %d bytes", len(code))
	return &Image{base: uintptr(unsafe.Pointer(&mem[0])), mem: mem}, nil
}

// Release unmaps the image's backing memory. The image must not be invoked again afterward.
func (img *Image) Release() error {
	return unix.Munmap(img.mem)
}
