package chunktest

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/cqdetdev/worldstore/chunk"
)

var (
	air   = chunk.BlockRef{ID: "air"}
	block = func(n int) chunk.BlockRef { return chunk.BlockRef{ID: fmt.Sprintf("block_%d", n)} }
)

func TestDeterministic(t *testing.T) {
	g := Generator{Block: block, Metadata: Entity}
	r := chunk.Range{-64, 319}
	a, b := g.Chunk(42, r, air), g.Chunk(42, r, air)
	if !chunk.Equal(a, b) {
		t.Fatal("same seed produced different chunks")
	}
	if chunk.Equal(a, g.Chunk(43, r, air)) {
		t.Fatal("different seeds produced the same chunk")
	}
}

func TestPaletteSizes(t *testing.T) {
	sizes := []int{1, 17, 257}
	g := Generator{Block: block, PaletteSizes: sizes}
	c := g.Chunk(7, chunk.Range{0, 255}, air)
	filled := 0
	for i := range c.Sections() {
		if c.Section(i) == nil {
			continue
		}
		filled++
		seen := make(map[string]struct{})
		base := c.SectionY(i) << 4
		for off := range chunk.SectionSize {
			seen[c.Block(off&0xf, base+off>>8, off>>4&0xf).ID] = struct{}{}
		}
		if _, ok := seen[air.ID]; ok {
			t.Fatalf("section %d holds the empty block", i)
		}
		if !slices.Contains(sizes, len(seen)) {
			t.Fatalf("section %d holds %d distinct blocks", i, len(seen))
		}
	}
	if filled == 0 {
		t.Fatal("no section filled")
	}
	if c.MetadataLen() != 0 {
		t.Fatal("metadata added without Metadata func")
	}
}

func TestMetadata(t *testing.T) {
	g := Generator{Block: block, Metadata: Entity, MaxMetadata: 3}
	r := chunk.Range{0, 127}
	for seed := range uint64(20) {
		c := g.Chunk(seed, r, air)
		if c.MetadataLen() > 3 {
			t.Fatalf("seed %d: %d positions with metadata", seed, c.MetadataLen())
		}
		for _, pos := range c.MetadataPositions() {
			m, _ := c.Metadata(pos)
			if id, ok := m.String("id"); !ok || id == "" || !r.Contains(pos[1]) {
				t.Fatalf("seed %d: bad metadata at %v", seed, pos)
			}
		}
	}
	if w := Word(rand.New(rand.NewPCG(1, 1))); len(w) == 0 || len(w) > 12 {
		t.Fatalf("unexpected word %q", w)
	}
}
