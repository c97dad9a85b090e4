package code

// Block result types. This subset has no multi-value blocks and no f32/f64/i64 values, so a block's own
// signature is always either empty or a single i32.
const (
	BlockTypeSpecial = 0x8000000000000000
	BlockTypeMask    = 0x80000000ffffffff
	StackHeightMask  = 0x7fffffff00000000

	BlockTypeEmpty = 0x40 | BlockTypeSpecial
	BlockTypeI32   = 0x7f | BlockTypeSpecial
)

func BlockType(typeidx uint32) uint64 {
	return uint64(typeidx)
}
