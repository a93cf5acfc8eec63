package chunk

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/cqdetdev/worldstore/nbt"
)

// SectionSize is the number of blocks in a 16x16x16 section.
const SectionSize = 4096

// Chunk is a column of blocks with a vertical Range. Blocks are stored as indices into a
// per-chunk Palette, in sections of 16x16x16 blocks that are only allocated once a non-empty
// block is set in them. A Chunk is not safe for concurrent use.
type Chunk struct {
	r        Range
	palette  *Palette
	sections [][]uint16
	meta     map[LocalPos]*nbt.Compound
	dirty    bool

	// Raw holds format specific data that is read along with the chunk but not interpreted,
	// so that it can be written back unchanged. It is never nil.
	Raw *nbt.Compound
}

// New returns an empty chunk with the vertical range r, filled with the empty block passed.
// New panics if r is not aligned to sections.
func New(r Range, empty BlockRef) *Chunk {
	if !r.Valid() {
		panic(fmt.Sprintf("chunk: invalid range %v", r))
	}
	return &Chunk{
		r:        r,
		palette:  NewPalette(empty),
		sections: make([][]uint16, r.Sections()),
		meta:     make(map[LocalPos]*nbt.Compound),
		Raw:      nbt.NewCompound(),
	}
}

// Range returns the vertical range of the chunk.
func (c *Chunk) Range() Range { return c.r }

// Palette returns the palette of the chunk. Blocks may be added to it directly, for example
// when decoding, but never removed.
func (c *Chunk) Palette() *Palette { return c.palette }

// Empty returns the block that fills unset parts of the chunk.
func (c *Chunk) Empty() BlockRef { return c.palette.Block(0) }

// Sections returns the number of sections in the chunk.
func (c *Chunk) Sections() int { return len(c.sections) }

// SectionY returns the section Y coordinate (block Y >> 4) of the section at index i.
func (c *Chunk) SectionY(i int) int { return c.r[0]>>4 + i }

// SectionIndex returns the index of the section with the section Y coordinate passed, and
// whether the chunk has such a section.
func (c *Chunk) SectionIndex(y int) (int, bool) {
	i := y - c.r[0]>>4
	return i, i >= 0 && i < len(c.sections)
}

// Section returns the palette indices of the section at index i, laid out as y<<8|z<<4|x. The
// slice returned is nil if the section holds only the empty block, and must not be modified.
func (c *Chunk) Section(i int) []uint16 { return c.sections[i] }

// SetSection replaces the section at index i with s, which must either be nil or hold
// SectionSize indices that are all present in the palette. The chunk takes ownership of s.
func (c *Chunk) SetSection(i int, s []uint16) {
	if s != nil {
		if len(s) != SectionSize {
			panic(fmt.Sprintf("chunk: section of %d indices", len(s)))
		}
		n := c.palette.Len()
		for _, v := range s {
			if int(v) >= n {
				panic(fmt.Sprintf("chunk: palette index %d out of range [0, %d)", v, n))
			}
		}
	}
	c.sections[i] = s
	c.dirty = true
}

// SectionEmpty reports if the section at index i holds only the empty block.
func (c *Chunk) SectionEmpty(i int) bool {
	for _, v := range c.sections[i] {
		if v != 0 {
			return false
		}
	}
	return true
}

func (c *Chunk) offset(x, y, z int) (int, int) {
	if x < 0 || x > 15 || z < 0 || z > 15 || !c.r.Contains(y) {
		panic(fmt.Sprintf("chunk: local position (%d, %d, %d) out of bounds (range %v)", x, y, z, c.r))
	}
	return (y - c.r[0]) >> 4, (y&0xf)<<8 | z<<4 | x
}

// Block returns the block at the local position passed. Block panics if x or z are not in
// [0, 16) or y is outside the chunk's range.
func (c *Chunk) Block(x, y, z int) BlockRef {
	i, off := c.offset(x, y, z)
	if s := c.sections[i]; s != nil {
		return c.palette.Block(s[off])
	}
	return c.palette.Block(0)
}

// SetBlock sets the block at the local position passed, adding it to the palette if needed,
// and marks the chunk dirty. SetBlock panics for positions Block panics for.
func (c *Chunk) SetBlock(x, y, z int, b BlockRef) {
	i, off := c.offset(x, y, z)
	idx, ok := c.palette.Index(b)
	if !ok {
		if c.palette.Full() {
			c.Compact()
		}
		idx = c.palette.Add(b)
	}
	c.dirty = true
	s := c.sections[i]
	if s == nil {
		if idx == 0 {
			return
		}
		s = make([]uint16, SectionSize)
		c.sections[i] = s
	}
	s[off] = idx
}

// Compact rebuilds the palette so that it only holds the empty block and blocks still used by
// the chunk, and drops sections left holding only the empty block. Indices keep the relative
// order they had. Compact does not mark the chunk dirty.
func (c *Chunk) Compact() {
	used := make([]bool, c.palette.Len())
	used[0] = true
	for i, s := range c.sections {
		empty := true
		for _, v := range s {
			used[v] = true
			empty = empty && v == 0
		}
		if empty {
			c.sections[i] = nil
		}
	}
	if !slices.Contains(used, false) {
		return
	}
	remap := make([]uint16, len(used))
	p := &Palette{lookup: make(map[uint64][]uint16, len(used))}
	for i, u := range used {
		if u {
			remap[i] = p.Add(c.palette.blocks[i])
		}
	}
	for _, s := range c.sections {
		for j, v := range s {
			s[j] = remap[v]
		}
	}
	c.palette = p
}

func (c *Chunk) checkLocal(pos LocalPos) {
	_, _ = c.offset(pos[0], pos[1], pos[2])
}

// Metadata returns the metadata stored at pos. The compound returned must not be modified.
func (c *Chunk) Metadata(pos LocalPos) (*nbt.Compound, bool) {
	c.checkLocal(pos)
	m, ok := c.meta[pos]
	return m, ok
}

// SetMetadata stores a copy of m at pos and marks the chunk dirty.
func (c *Chunk) SetMetadata(pos LocalPos, m *nbt.Compound) {
	c.checkLocal(pos)
	c.meta[pos] = m.Clone()
	c.dirty = true
}

// RemoveMetadata removes the metadata at pos, marking the chunk dirty if there was any.
func (c *Chunk) RemoveMetadata(pos LocalPos) {
	c.checkLocal(pos)
	if _, ok := c.meta[pos]; ok {
		delete(c.meta, pos)
		c.dirty = true
	}
}

// MetadataPositions returns the positions holding metadata, sorted by Y, then Z, then X.
func (c *Chunk) MetadataPositions() []LocalPos {
	return slices.SortedFunc(maps.Keys(c.meta), func(a, b LocalPos) int {
		return cmp.Or(cmp.Compare(a[1], b[1]), cmp.Compare(a[2], b[2]), cmp.Compare(a[0], b[0]))
	})
}

// MetadataLen returns the number of positions holding metadata.
func (c *Chunk) MetadataLen() int { return len(c.meta) }

// Dirty reports if the chunk was changed since it was created or last marked clean.
func (c *Chunk) Dirty() bool { return c.dirty }

// MarkClean clears the dirty flag.
func (c *Chunk) MarkClean() { c.dirty = false }

// MarkDirty sets the dirty flag.
func (c *Chunk) MarkDirty() { c.dirty = true }

// Equal reports if a and b have the same range, the same block at every position and the same
// metadata. Neither palette order nor Raw data is compared.
func Equal(a, b *Chunk) bool {
	if a.r != b.r || len(a.meta) != len(b.meta) {
		return false
	}
	for pos, m := range a.meta {
		if o, ok := b.meta[pos]; !ok || !nbt.Equal(m, o) {
			return false
		}
	}
	for i := range a.sections {
		sa, sb := a.sections[i], b.sections[i]
		if sa == nil && sb == nil {
			if !a.Empty().Equal(b.Empty()) {
				return false
			}
			continue
		}
		for off := range SectionSize {
			var va, vb uint16
			if sa != nil {
				va = sa[off]
			}
			if sb != nil {
				vb = sb[off]
			}
			if !a.palette.Block(va).Equal(b.palette.Block(vb)) {
				return false
			}
		}
	}
	return true
}
