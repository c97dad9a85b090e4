//go:build amd64
// +build amd64

package emitter

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/pgavlin/wjit/exec"
)

// Trap emits the exit-to-host sequence for a runtime trap: index names a row of the module's trap table
// (exec.Machine.Traps), populated by the caller in the same order trap indices are handed out. Unlike
// emitHostExit, nothing is saved for a later resume — a trap always terminates exec.Machine.Resume, so there is
// no continuation offset and no spill-base write-back to perform.
func (c *Context) Trap(index uint32) {
	status := c.newProg()
	status.As = x86.AMOVL
	status.From.Type = obj.TYPE_CONST
	status.From.Offset = int64(exec.StatusTrap)
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

	ret := c.newProg()
	ret.As = obj.ARET
	c.add(ret)
}
