package chunk

import "fmt"

// Dimension identifies one of the separate coordinate spaces of a world. The values are the
// ones Bedrock edition writes to disk.
type Dimension int32

const (
	Overworld Dimension = iota
	Nether
	End
)

// String ...
func (d Dimension) String() string {
	switch d {
	case Overworld:
		return "overworld"
	case Nether:
		return "nether"
	case End:
		return "end"
	}
	return fmt.Sprintf("dimension(%d)", int32(d))
}

// Pos is the position of a chunk column: the X and Z block coordinates divided by 16, rounded
// down.
type Pos [2]int32

// X ...
func (p Pos) X() int32 { return p[0] }

// Z ...
func (p Pos) Z() int32 { return p[1] }

// String ...
func (p Pos) String() string { return fmt.Sprintf("(%d, %d)", p[0], p[1]) }

// BlockPos is the position of a block in world coordinates.
type BlockPos [3]int

// Chunk returns the position of the chunk holding the block.
func (p BlockPos) Chunk() Pos {
	return Pos{int32(p[0] >> 4), int32(p[2] >> 4)}
}

// Local returns the position of the block within its chunk.
func (p BlockPos) Local() LocalPos {
	return LocalPos{p[0] & 0xf, p[1], p[2] & 0xf}
}

// String ...
func (p BlockPos) String() string { return fmt.Sprintf("(%d, %d, %d)", p[0], p[1], p[2]) }

// LocalPos is the position of a block within a chunk. X and Z are in [0, 16), Y is the
// absolute height of the block.
type LocalPos [3]int

// World returns the world position of the block at p in the chunk at pos.
func (p LocalPos) World(pos Pos) BlockPos {
	return BlockPos{int(pos[0])<<4 | p[0], p[1], int(pos[1])<<4 | p[2]}
}

// Range is the vertical extent of a chunk, holding the lowest and highest Y value a block may
// have. Both ends are aligned to sections, so the height is a multiple of 16.
type Range [2]int

// Min ...
func (r Range) Min() int { return r[0] }

// Max ...
func (r Range) Max() int { return r[1] }

// Height returns the number of blocks in the range.
func (r Range) Height() int { return r[1] - r[0] + 1 }

// Sections returns the number of 16-block sections in the range.
func (r Range) Sections() int { return r.Height() >> 4 }

// Contains reports if y lies within the range.
func (r Range) Contains(y int) bool { return y >= r[0] && y <= r[1] }

// Valid reports if the range is aligned to sections and non-empty.
func (r Range) Valid() bool {
	return r[0]&0xf == 0 && (r[1]+1)&0xf == 0 && r[1] > r[0]
}
