//go:build amd64
// +build amd64

package emitter

import (
	"unsafe"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/pgavlin/wjit/exec"
)

// Field offsets into exec.Machine that compiled code reads and writes directly. Resolved via unsafe.Offsetof at
// Go build time (not at JIT-run time), so these are always correct for the exec.Machine this binary was built
// against; if exec.Machine's layout changes, these recompute automatically.
var (
	machineStatusOffset       = int64(unsafe.Offsetof(exec.Machine{}.Status))
	machineFuncIndexOffset    = int64(unsafe.Offsetof(exec.Machine{}.FuncIndex))
	machineContinuationOffset = int64(unsafe.Offsetof(exec.Machine{}.Continuation))
	machineMemoryBaseOffset   = int64(unsafe.Offsetof(exec.Machine{}.MemoryBase))
	machineSpillBaseOffset    = int64(unsafe.Offsetof(exec.Machine{}.SpillBase))
	machineArgsOffset         = int64(unsafe.Offsetof(exec.Machine{}.Args))
	machineResultsOffset      = int64(unsafe.Offsetof(exec.Machine{}.Results))
)

// Call represents an in-flight invocation being built by Context.Invoke / Context.InvokeHost: the handle spec §6
// describes for "binding argument and return positions".
type Call struct {
	ctx *Context

	target    Label
	isHost    bool
	hostIndex uint32

	resultWidth Width
	hasResult   bool
}

// Invoke begins an intra-module call to the function bound at target.
func (c *Context) Invoke(target Label, hasResult bool, resultWidth Width) *Call {
	return &Call{ctx: c, target: target, hasResult: hasResult, resultWidth: resultWidth}
}

// InvokeHost begins a call into the host import at table index index.
func (c *Context) InvokeHost(index uint32, hasResult bool, resultWidth Width) *Call {
	return &Call{ctx: c, isHost: true, hostIndex: index, hasResult: hasResult, resultWidth: resultWidth}
}

// Arg binds h as the call's i-th argument, in source order, by writing it into exec.Machine.Args[i]. Every call,
// intra-module or host, passes arguments through the Machine struct rather than a register/stack convention:
// the callee's prologue copies them out into its own locals before making any further call of its own, so the
// next call's argument writes can never clobber the ones a still-executing callee is reading. This keeps one
// calling convention for both call shapes, appropriate for a baseline compiler that does not optimize call
// sequences.
func (call *Call) Arg(i int, h RegHandle) {
	c := call.ctx
	reg := c.materialize(h)

	prog := c.newProg()
	prog.As = movOpcode(h.width)
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = reg
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = machineReg
	prog.To.Offset = machineArgsOffset + int64(i)*8
	c.add(prog)
}

// LoadArg materializes the i-th incoming argument (written into exec.Machine.Args[i] by whatever call reached
// this function, intra-module or the first jitcall from exec.Machine.Resume) into a fresh register. Every
// function's prologue calls this once per parameter before doing anything else, so that a later call this
// function makes, which reuses Machine.Args for its own arguments, can never clobber a parameter still needed.
func (c *Context) LoadArg(i int, width Width) RegHandle {
	dst := c.NewReg(width)
	d := c.materialize(dst)
	prog := c.newProg()
	prog.As = movOpcode(width)
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = machineReg
	prog.From.Offset = machineArgsOffset + int64(i)*8
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = d
	c.add(prog)
	return dst
}

// Do emits the call itself (a native CALL for an intra-module target, or the exit-to-host sequence for a host
// import) and, if the callee returns a value, allocates and returns a fresh RegHandle bound to that result.
func (call *Call) Do() *RegHandle {
	c := call.ctx

	if call.isHost {
		c.emitHostExit(call.hostIndex)
	} else {
		prog := c.newProg()
		prog.As = obj.ACALL
		prog.To.Type = obj.TYPE_BRANCH
		st := c.labels[call.target.name]
		if st.prog != nil {
			prog.To.Val = st.prog
		} else {
			st.pending = append(st.pending, func(target *obj.Prog) { prog.To.Val = target })
		}
		c.add(prog)
	}

	if !call.hasResult {
		return nil
	}

	dst := c.NewReg(call.resultWidth)
	d := c.materialize(dst)
	prog := c.newProg()
	prog.As = movOpcode(call.resultWidth)
	if call.isHost {
		prog.From.Type = obj.TYPE_MEM
		prog.From.Reg = machineReg
		prog.From.Offset = machineResultsOffset
	} else {
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = x86.REG_AX
	}
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = d
	c.add(prog)
	return &dst
}

// emitHostExit flushes every live register to the spill area, records the call's status/index/continuation in
// the Machine struct, and returns control to exec.Machine.Resume via RET. Resume performs the actual call via
// reflection and re-enters the compiled function at the recorded continuation offset once the host call
// returns — compiled code never calls through a raw pointer into a Go closure, since pure Go cannot build that
// trampoline without cgo.
func (c *Context) emitHostExit(index uint32) {
	for _, sr := range c.pool.spillAll() {
		c.emitSpillStore(sr.reg, sr.slot)
	}

	status := c.newProg()
	status.As = x86.AMOVL
	status.From.Type = obj.TYPE_CONST
	status.From.Offset = int64(exec.StatusCallHost)
	status.To.Type = obj.TYPE_MEM
	status.To.Reg = machineReg
	status.To.Offset = machineStatusOffset
	c.add(status)

	funcIndex := c.newProg()
	funcIndex.As = x86.AMOVL
	funcIndex.From.Type = obj.TYPE_CONST
	funcIndex.From.Offset = int64(index)
	funcIndex.To.Type = obj.TYPE_MEM
	funcIndex.To.Reg = machineReg
	funcIndex.To.Offset = machineFuncIndexOffset
	c.add(funcIndex)

	continuation := c.newProg()
	continuation.As = x86.AMOVQ
	continuation.From.Type = obj.TYPE_CONST
	continuation.To.Type = obj.TYPE_MEM
	continuation.To.Reg = machineReg
	continuation.To.Offset = machineContinuationOffset
	c.add(continuation)

	// Persist the spill-base pointer's current (already-bumped-for-this-frame) value so that the next jitcall,
	// issued by exec.Machine.Resume once the host call returns, reloads R13 at exactly the position this frame
	// left it rather than resetting it to the buffer's original base.
	saveSpill := c.newProg()
	saveSpill.As = x86.AMOVQ
	saveSpill.From.Type = obj.TYPE_REG
	saveSpill.From.Reg = spillBaseReg
	saveSpill.To.Type = obj.TYPE_MEM
	saveSpill.To.Reg = machineReg
	saveSpill.To.Offset = machineSpillBaseOffset
	c.add(saveSpill)

	ret := c.newProg()
	ret.As = obj.ARET
	c.add(ret)

	// The continuation offset is the byte position, in the eventually-assembled image, of the instruction
	// immediately following this RET. golang-asm's Assemble() may be queried incrementally for exactly this
	// purpose (the same technique a reference amd64 JIT back end uses to learn an in-progress offset before the
	// final Assemble() call).
	assembled := c.builder.Assemble()
	continuation.From.Offset = int64(len(assembled))
}
