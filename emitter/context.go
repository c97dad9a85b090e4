//go:build amd64
// +build amd64

package emitter

import (
	"fmt"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Context is the thin façade over the native assembler that spec §6 requires: it issues virtual registers and
// labels, encodes the supported instruction set, and finalizes a module's worth of emitted code into an
// executable image. It owns no knowledge of WebAssembly; the jit package is the only caller.
type Context struct {
	builder *asm.Builder
	pool    *registerPool

	nextRegID   int
	nextLabelID int
	labels      map[string]*labelState

	// frameBaseReg is the physical register spill slots are currently addressed relative to: the reserved
	// spill-base register itself before any function has called BeginFrame, or a function-private copy of it
	// captured by BeginFrame so that a function this one calls can advance the shared spill-base pointer
	// without invalidating this function's own spill slots.
	frameBaseReg  int16
	frameBumpProg *obj.Prog
	frameRestores []*obj.Prog
}

// NewContext creates an emitter ready to translate one module. One Context is used for every function in the
// module, so that intra-module calls can address each other's labels.
func NewContext() (*Context, error) {
	builder, err := asm.NewBuilder("amd64", 1<<16)
	if err != nil {
		return nil, fmt.Errorf("emitter: creating assembler: %w", err)
	}
	return &Context{
		builder:      builder,
		pool:         newRegisterPool(),
		labels:       map[string]*labelState{},
		frameBaseReg: spillBaseReg,
	}, nil
}

func (c *Context) newProg() *obj.Prog {
	return c.builder.NewProg()
}

func (c *Context) add(prog *obj.Prog) {
	c.builder.AddInstruction(prog)
}

// NewReg allocates a fresh virtual register of the given width. If the physical register pool is exhausted, the
// oldest live register is spilled to the function's shadow stack first.
func (c *Context) NewReg(width Width) RegHandle {
	id := c.nextRegID
	c.nextRegID++

	reg, _, _, _, evictedSlot, evicted := c.pool.ensure(id)
	if evicted {
		c.emitSpillStore(reg, evictedSlot)
	}
	return RegHandle{id: id, width: width}
}

// NewLabel allocates an unbound label. It may be referenced by branches before it is bound; every forward
// reference is patched once Bind fires.
func (c *Context) NewLabel() Label {
	name := fmt.Sprintf("L%d", c.nextLabelID)
	c.nextLabelID++
	c.labels[name] = &labelState{}
	return Label{name: name}
}

// Bind fixes a label at the current position in the instruction stream. A label may be bound at most once.
func (c *Context) Bind(l Label) {
	st := c.labels[l.name]
	if st.prog != nil {
		panic(fmt.Sprintf("emitter: label %s bound twice", l.name))
	}

	marker := c.newProg()
	marker.As = obj.ANOP
	c.add(marker)

	st.prog = marker
	for _, cb := range st.pending {
		cb(marker)
	}
	st.pending = nil
}

// MemoryBaseReg returns the sentinel handle for the reserved register holding linear memory's base pointer.
// exec's jitcall trampoline loads it from exec.Machine.MemoryBase on every entry from Resume, including each
// host-call resume; intra-module calls leave it unchanged.
func (c *Context) MemoryBaseReg() RegHandle {
	return RegHandle{id: reservedMemoryID, width: Width64}
}

// materialize guarantees h is resident in a physical register and returns it, spilling/reloading as needed.
func (c *Context) materialize(h RegHandle) int16 {
	switch h.id {
	case reservedMemoryID:
		return memoryReg
	case reservedSpillID:
		return spillBaseReg
	}

	reg, needsLoad, loadSlot, _, evictedSlot, evicted := c.pool.ensure(h.id)
	if evicted {
		c.emitSpillStore(reg, evictedSlot)
	}
	if needsLoad {
		c.emitSpillLoad(reg, loadSlot)
	}
	return reg
}

func (c *Context) emitSpillStore(reg int16, slot int64) {
	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = reg
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = c.frameBaseReg
	prog.To.Offset = slot
	c.add(prog)
}

func (c *Context) emitSpillLoad(reg int16, slot int64) {
	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = c.frameBaseReg
	prog.From.Offset = slot
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = reg
	c.add(prog)
}

// SpillBaseReg returns the sentinel handle for the reserved register holding the shared spill-area pointer.
// Only BeginFrame/EndFrame address it directly; ordinary spill traffic goes through the per-function frame base
// BeginFrame captures.
func (c *Context) SpillBaseReg() RegHandle {
	return RegHandle{id: reservedSpillID, width: Width64}
}

// BeginFrame opens a fresh spill frame for the function about to be translated: it captures the spill-base
// pointer this function inherited (from whatever called it, or from the very first jitcall into the module) into
// a private register this function addresses its own spill slots through, then reserves this function's frame
// by advancing the shared spill-base pointer — so a nested call this function makes gets a disjoint region of
// the same buffer. The advance amount is a placeholder, patched by EndFrame once the function's total spill
// usage is known; every Ret emitted in between reserves a matching placeholder to release the frame on that
// return path.
func (c *Context) BeginFrame() {
	c.pool = newRegisterPool()
	c.frameRestores = nil

	base := c.NewReg(Width64)
	b := c.materialize(base)
	mov := c.newProg()
	mov.As = movOpcode(Width64)
	mov.From.Type = obj.TYPE_REG
	mov.From.Reg = spillBaseReg
	mov.To.Type = obj.TYPE_REG
	mov.To.Reg = b
	c.add(mov)
	c.frameBaseReg = b

	bump := c.newProg()
	bump.As = x86.AADDQ
	bump.From.Type = obj.TYPE_CONST
	bump.From.Offset = 0
	bump.To.Type = obj.TYPE_REG
	bump.To.Reg = spillBaseReg
	c.add(bump)
	c.frameBumpProg = bump
}

// EndFrame patches the frame-reservation bump and every return path's release with this function's final spill
// usage, and restores frameBaseReg to the raw spill-base register for the next function's BeginFrame.
func (c *Context) EndFrame() {
	size := c.pool.spillAreaSize()
	c.frameBumpProg.From.Offset = size
	for _, p := range c.frameRestores {
		p.From.Offset = size
	}
	c.frameBaseReg = spillBaseReg
	c.frameBumpProg = nil
	c.frameRestores = nil
}

func movOpcode(w Width) obj.As {
	if w == Width64 {
		return x86.AMOVQ
	}
	return x86.AMOVL
}

func addOpcode(w Width) obj.As {
	if w == Width64 {
		return x86.AADDQ
	}
	return x86.AADDL
}

func leaOpcode(w Width) obj.As {
	if w == Width64 {
		return x86.ALEAQ
	}
	return x86.ALEAL
}

func cmpOpcode(w Width) obj.As {
	if w == Width64 {
		return x86.ACMPQ
	}
	return x86.ACMPL
}

func testOpcode(w Width) obj.As {
	if w == Width64 {
		return x86.ATESTQ
	}
	return x86.ATESTL
}

// Mov emits dst := src.
func (c *Context) Mov(dst, src RegHandle) {
	if dst.id == src.id {
		return
	}
	d, s := c.materialize(dst), c.materialize(src)
	prog := c.newProg()
	prog.As = movOpcode(dst.width)
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = s
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = d
	c.add(prog)
}

// MovImm emits dst := k.
func (c *Context) MovImm(dst RegHandle, k int64) {
	d := c.materialize(dst)
	prog := c.newProg()
	prog.As = movOpcode(dst.width)
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = k
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = d
	c.add(prog)
}

// Add emits dst = lhs + rhs, preferring the lea-style three-operand form when dst and lhs differ so lhs is left
// unclobbered, and falling back to a two-operand add when dst and lhs are the same handle.
func (c *Context) Add(dst, lhs, rhs RegHandle) {
	d, l, r := c.materialize(dst), c.materialize(lhs), c.materialize(rhs)
	if dst.id == lhs.id {
		prog := c.newProg()
		prog.As = addOpcode(dst.width)
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = r
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = d
		c.add(prog)
		return
	}

	prog := c.newProg()
	prog.As = leaOpcode(dst.width)
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = l
	prog.From.Index = r
	prog.From.Scale = 1
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = d
	c.add(prog)
}

// Cmp emits cmp lhs, rhs.
func (c *Context) Cmp(lhs, rhs RegHandle) {
	l, r := c.materialize(lhs), c.materialize(rhs)
	prog := c.newProg()
	prog.As = cmpOpcode(lhs.width)
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = l
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = r
	c.add(prog)
}

// Test emits test r, r (used to evaluate a branch condition against zero).
func (c *Context) Test(r RegHandle) {
	reg := c.materialize(r)
	prog := c.newProg()
	prog.As = testOpcode(r.width)
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = reg
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = reg
	c.add(prog)
}

// SetGreaterZeroExtend emits `setg` into dst's own low byte and zero-extends that byte across dst, per spec §4.4's
// i32.gt_s contract; the preceding Cmp must have already compared lhs against rhs.
func (c *Context) SetGreaterZeroExtend(dst RegHandle) {
	d := c.materialize(dst)

	setg := c.newProg()
	setg.As = x86.ASETGT
	setg.To.Type = obj.TYPE_REG
	setg.To.Reg = d
	c.add(setg)

	movzx := c.newProg()
	movzx.As = x86.AMOVBLZX
	movzx.From.Type = obj.TYPE_REG
	movzx.From.Reg = d
	movzx.To.Type = obj.TYPE_REG
	movzx.To.Reg = d
	c.add(movzx)
}

// Ret emits a return, optionally carrying a result in r. The result is left in AX for a native caller and also
// written to exec.Machine.Args[0], where Resume reads it once the outermost function returns. Every return path
// releases this function's spill frame (restoring the shared spill-base pointer to the value it held on entry)
// before handing control back, so a sibling call made by whoever called this function reuses the same frame this
// function just vacated.
func (c *Context) Ret(r *RegHandle) {
	if r != nil {
		reg := c.materialize(*r)
		prog := c.newProg()
		prog.As = movOpcode(r.width)
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = reg
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = x86.REG_AX
		c.add(prog)

		store := c.newProg()
		store.As = x86.AMOVQ
		store.From.Type = obj.TYPE_REG
		store.From.Reg = x86.REG_AX
		store.To.Type = obj.TYPE_MEM
		store.To.Reg = machineReg
		store.To.Offset = machineArgsOffset
		c.add(store)
	}
	c.emitFrameRestore()
	ret := c.newProg()
	ret.As = obj.ARET
	c.add(ret)
}

// emitFrameRestore subtracts this function's eventual frame size back out of the shared spill-base pointer. The
// amount is a placeholder until EndFrame learns the function's final spill usage.
func (c *Context) emitFrameRestore() {
	sub := c.newProg()
	sub.As = x86.ASUBQ
	sub.From.Type = obj.TYPE_CONST
	sub.From.Offset = 0
	sub.To.Type = obj.TYPE_REG
	sub.To.Reg = spillBaseReg
	c.add(sub)
	c.frameRestores = append(c.frameRestores, sub)
}

// jumpTo emits an instruction of kind `as` (AJMP for unconditional, AJEQ for branch-if-zero) targeting l,
// patching the branch once l is bound if it is not bound yet.
func (c *Context) jumpTo(as obj.As, l Label) {
	prog := c.newProg()
	prog.As = as
	prog.To.Type = obj.TYPE_BRANCH
	c.add(prog)

	st := c.labels[l.name]
	if st.prog != nil {
		prog.To.Val = st.prog
		return
	}
	st.pending = append(st.pending, func(target *obj.Prog) {
		prog.To.Val = target
	})
}

// Jmp emits an unconditional jump to l.
func (c *Context) Jmp(l Label) {
	c.jumpTo(obj.AJMP, l)
}

// Jz emits a branch to l taken when the most recently tested/compared value is zero.
func (c *Context) Jz(l Label) {
	c.jumpTo(x86.AJEQ, l)
}

// Jb emits a branch to l taken when the preceding Cmp's left-hand operand is unsigned-below its right-hand
// operand (the subtraction borrowed).
func (c *Context) Jb(l Label) {
	c.jumpTo(x86.AJCS, l)
}

// Load emits dst := [base + idx], per spec §6's pinned "load from [base+idx]" primitive. base holds a host
// pointer (linear memory's start, or a constant-pool base) and idx is the dynamic offset already computed by
// the caller.
func (c *Context) Load(dst, base, idx RegHandle) {
	d, b, i := c.materialize(dst), c.materialize(base), c.materialize(idx)
	prog := c.newProg()
	prog.As = movOpcode(dst.width)
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = b
	prog.From.Index = i
	prog.From.Scale = 1
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = d
	c.add(prog)
}

// Store emits [base + idx] := value.
func (c *Context) Store(base, idx, value RegHandle) {
	b, i, v := c.materialize(base), c.materialize(idx), c.materialize(value)
	prog := c.newProg()
	prog.As = movOpcode(value.width)
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = v
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = b
	prog.To.Index = i
	prog.To.Scale = 1
	c.add(prog)
}

// Release frees the physical register or spill slot backing h, once the caller has proven h is dead (no operand
// stack references it any longer).
func (c *Context) Release(h RegHandle) {
	c.pool.release(h.id)
}

// SpillAreaSize reports the number of bytes the shadow stack has grown to, for the function prologue to reserve.
func (c *Context) SpillAreaSize() int64 {
	return c.pool.spillAreaSize()
}
