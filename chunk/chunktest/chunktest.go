// Package chunktest generates chunks with random content for testing chunk formats.
package chunktest

import (
	"math/rand/v2"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/nbt"
)

// DefaultPaletteSizes are section palette sizes on both sides of the bit widths palette
// indices are packed with.
var DefaultPaletteSizes = []int{1, 2, 3, 4, 5, 8, 9, 16, 17, 32, 33, 64, 65, 256, 257, 4096}

// Generator fills chunks with random blocks and metadata. The blocks and metadata it uses are
// supplied by the format under test, so that every generated chunk can be stored by it.
type Generator struct {
	// Block returns the n-th block of a section palette. It must return different blocks for
	// different n, none of which equal the empty block of the chunk.
	Block func(n int) chunk.BlockRef
	// Metadata returns random metadata. If nil, chunks have no metadata.
	Metadata func(r *rand.Rand) *nbt.Compound
	// PaletteSizes are the numbers of distinct blocks a section may hold. DefaultPaletteSizes
	// is used if empty.
	PaletteSizes []int
	// MaxMetadata is the largest number of positions with metadata in a chunk. Defaults to 8.
	MaxMetadata int
}

// Chunk returns a chunk with the range and empty block passed. The same seed always produces
// the same chunk. About a quarter of the sections are left empty; every other section holds
// all blocks of a palette with a size taken from PaletteSizes.
func (g Generator) Chunk(seed uint64, rg chunk.Range, empty chunk.BlockRef) *chunk.Chunk {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	sizes := g.PaletteSizes
	if len(sizes) == 0 {
		sizes = DefaultPaletteSizes
	}
	c := chunk.New(rg, empty)
	for i := range c.Sections() {
		if r.IntN(4) == 0 {
			continue
		}
		n := sizes[r.IntN(len(sizes))]
		palette := make([]chunk.BlockRef, n)
		for j := range palette {
			palette[j] = g.Block(j)
		}
		// The first n blocks use every palette entry once.
		order := r.Perm(chunk.SectionSize)
		base := c.SectionY(i) << 4
		for k, off := range order {
			b := palette[r.IntN(n)]
			if k < n {
				b = palette[k]
			}
			c.SetBlock(off&0xf, base+off>>8, off>>4&0xf, b)
		}
	}
	if g.Metadata == nil {
		return c
	}
	maxMeta := g.MaxMetadata
	if maxMeta == 0 {
		maxMeta = 8
	}
	for range r.IntN(maxMeta + 1) {
		pos := chunk.LocalPos{r.IntN(16), rg.Min() + r.IntN(rg.Height()), r.IntN(16)}
		c.SetMetadata(pos, g.Metadata(r))
	}
	return c
}

// Word returns a random lowercase word of 1 to 12 letters.
func Word(r *rand.Rand) string {
	b := make([]byte, 1+r.IntN(12))
	for i := range b {
		b[i] = 'a' + byte(r.IntN(26))
	}
	return string(b)
}

// Entity returns a block entity compound with an id and a few random values of different
// types.
func Entity(r *rand.Rand) *nbt.Compound {
	m := nbt.NewCompound()
	m.Set("id", nbt.String("test:"+Word(r)))
	m.Set("CustomName", nbt.String(Word(r)))
	m.Set("Count", nbt.Int(r.Int32()))
	m.Set("Lock", nbt.Byte(r.IntN(2)))
	items := &nbt.List{Elem: nbt.TagCompound}
	for range r.IntN(4) {
		item := nbt.NewCompound()
		item.Set("Slot", nbt.Byte(r.IntN(27)))
		item.Set("id", nbt.String("test:"+Word(r)))
		item.Set("Count", nbt.Byte(1+r.IntN(64)))
		items.Append(item)
	}
	m.Set("Items", items)
	return m
}
