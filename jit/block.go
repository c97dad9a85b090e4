package jit

import (
	"fmt"

	"github.com/pgavlin/wjit/emitter"
)

// BlockKind distinguishes the five block shapes a function body can nest. Function is the synthetic outermost frame
// every BlockStack is seeded with.
type BlockKind int

const (
	BlockFunction BlockKind = iota
	BlockPlain
	BlockLoop
	BlockIfThen
	BlockIfElse
)

// Block is one entry in the BlockStack: a label, its arity, and the operand stack and locals visible while it is
// the active block. Only one Block is ever active at a time; the rest are suspended
// ancestors reachable via BlockStack.Relative.
type Block struct {
	Kind BlockKind

	// Label is bound at the point this block's structured control flow resolves to: at `end` for plain/if-then/
	// if-else blocks, at the top of the loop body for loop blocks (so `br` to a loop re-enters it). The function
	// frame is given no Label; a branch to it is emitted as a return.
	Label emitter.Label

	// ElseLabel is only meaningful for BlockIfThen: the point the `else` opcode, if present, jumps to.
	ElseLabel emitter.Label
	hasElse   bool

	InArity  int
	OutArity int
	OutKind  ValueKind

	Stack  *OperandStack
	Locals []RegHandle

	labelBound bool

	// parentFrozenDepth is the frozen depth BindLabel's owning parent stack held before this block pushed,
	// restored via Stack.Unfreeze when this block closes.
	parentFrozenDepth int

	// unreachable marks a block whose remaining body is dead code: every opcode handler but the structural
	// ones (block/loop/if/else/end) is a no-op while this is set, per the decoder's own unreachable() contract.
	unreachable bool
}

// BindLabel binds this block's label exactly once. A second call is an internal invariant violation.
func (b *Block) BindLabel(ctx *emitter.Context) {
	if b.labelBound {
		panic(fmt.Sprintf("jit: block label bound twice (kind=%v)", b.Kind))
	}
	ctx.Bind(b.Label)
	b.labelBound = true
}

// BlockStack is the LIFO stack of active/suspended blocks a function's control flow nests. Depth 0 is always the
// innermost (currently active) block; the outermost entry is the synthetic function frame pushed by
// Translator.startFunction.
type BlockStack struct {
	blocks []*Block
}

// NewBlockStack returns an empty stack.
func NewBlockStack() *BlockStack {
	return &BlockStack{}
}

// Push makes b the new active block.
func (bs *BlockStack) Push(b *Block) {
	bs.blocks = append(bs.blocks, b)
}

// Pop removes and returns the active block. Popping the function frame or an empty stack is an internal
// invariant violation.
func (bs *BlockStack) Pop() *Block {
	if len(bs.blocks) == 0 {
		panic("jit: block stack underflow")
	}
	top := bs.blocks[len(bs.blocks)-1]
	bs.blocks = bs.blocks[:len(bs.blocks)-1]
	return top
}

// Active returns the currently active (innermost) block.
func (bs *BlockStack) Active() *Block {
	return bs.Relative(0)
}

// Parent returns the block that was active before the current one was pushed, equivalent to Relative(1).
func (bs *BlockStack) Parent() *Block {
	return bs.Relative(1)
}

// Relative returns the block d levels below the active one: d=0 is the active block itself, d=1 its immediate
// parent, and so on. This is the indexing br/br_if targets use directly (branch depth d targets Relative(d)).
func (bs *BlockStack) Relative(d int) *Block {
	i := len(bs.blocks) - 1 - d
	if i < 0 || i >= len(bs.blocks) {
		panic(fmt.Sprintf("jit: block stack relative(%d) out of range (size=%d)", d, len(bs.blocks)))
	}
	return bs.blocks[i]
}

// Bottom returns the synthetic function frame every BlockStack is seeded with, regardless of how many blocks
// are currently nested above it.
func (bs *BlockStack) Bottom() *Block {
	return bs.blocks[0]
}

// Empty reports whether the stack has no blocks at all (including no function frame).
func (bs *BlockStack) Empty() bool {
	return len(bs.blocks) == 0
}

// Size returns the number of active/suspended blocks, including the function frame.
func (bs *BlockStack) Size() int {
	return len(bs.blocks)
}

// Clear discards every block. Used when a function's translation aborts and its state must not be reused.
func (bs *BlockStack) Clear() {
	bs.blocks = nil
}
