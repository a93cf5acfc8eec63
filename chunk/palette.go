package chunk

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// BlockRef identifies a block. ID is the format's block identifier, such as a namespaced name
// or a decimal numeric id, and State is an opaque blob of extra state stored next to it. The
// package never interprets either.
type BlockRef struct {
	ID    string
	State []byte
}

// Equal reports if b and o have the same ID and State.
func (b BlockRef) Equal(o BlockRef) bool {
	return b.ID == o.ID && bytes.Equal(b.State, o.State)
}

// String ...
func (b BlockRef) String() string {
	if len(b.State) == 0 {
		return b.ID
	}
	return fmt.Sprintf("%v[%x]", b.ID, b.State)
}

func (b BlockRef) hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(b.ID)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(b.State)
	return d.Sum64()
}

// MaxPaletteLen is the number of distinct blocks a palette can hold.
const MaxPaletteLen = math.MaxUint16 + 1

// Palette is an ordered set of blocks. Blocks are referred to by their index in the palette,
// which is the order they were added in. Index 0 always holds the chunk's empty block.
type Palette struct {
	blocks []BlockRef
	lookup map[uint64][]uint16
}

// NewPalette returns a palette holding only the empty block passed.
func NewPalette(empty BlockRef) *Palette {
	p := &Palette{lookup: make(map[uint64][]uint16, 16)}
	p.Add(empty)
	return p
}

// Len returns the number of blocks in the palette.
func (p *Palette) Len() int { return len(p.blocks) }

// Block returns the block at index i. The State of the returned block must not be modified.
func (p *Palette) Block(i uint16) BlockRef { return p.blocks[i] }

// Blocks returns the blocks of the palette in index order.
func (p *Palette) Blocks() []BlockRef { return slices.Clone(p.blocks) }

// Index returns the index of b in the palette.
func (p *Palette) Index(b BlockRef) (uint16, bool) {
	for _, i := range p.lookup[b.hash()] {
		if p.blocks[i].Equal(b) {
			return i, true
		}
	}
	return 0, false
}

// Add returns the index of b, adding it to the palette first if it is not yet present. It
// panics if the palette is full.
func (p *Palette) Add(b BlockRef) uint16 {
	h := b.hash()
	for _, i := range p.lookup[h] {
		if p.blocks[i].Equal(b) {
			return i
		}
	}
	if len(p.blocks) == MaxPaletteLen {
		panic("chunk: palette full")
	}
	i := uint16(len(p.blocks))
	p.blocks = append(p.blocks, BlockRef{ID: b.ID, State: bytes.Clone(b.State)})
	p.lookup[h] = append(p.lookup[h], i)
	return i
}

// TryAdd is like Add, but reports false instead of panicking if b is not present and the
// palette is full.
func (p *Palette) TryAdd(b BlockRef) (uint16, bool) {
	if i, ok := p.Index(b); ok {
		return i, true
	}
	if p.Full() {
		return 0, false
	}
	return p.Add(b), true
}

// Full reports if no more blocks can be added.
func (p *Palette) Full() bool { return len(p.blocks) == MaxPaletteLen }
