package anvil

import (
	"fmt"
	"strconv"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/internal/errs"
	"github.com/cqdetdev/worldstore/nbt"
)

// McRegion chunks are 128 blocks high and store numeric block ids with a 4-bit data value.
const (
	legacyHeight = 128
	legacyBlocks = 16 * 16 * legacyHeight
)

var legacyAir = chunk.BlockRef{ID: "0", State: []byte{0}}

// legacyIndex returns the index of a block in the Blocks and Data arrays.
func legacyIndex(x, y, z int) int { return y + z*legacyHeight + x*legacyHeight*16 }

func decodeLegacy(pos chunk.Pos, data []byte) (*chunk.Chunk, error) {
	root, err := nbt.UnmarshalCompound(nbt.BigEndian, data)
	if err != nil {
		return nil, err
	}
	level, ok := root.Compound("Level")
	if !ok {
		return nil, errs.Format("chunk without Level compound")
	}
	if err := checkPos(level, pos); err != nil {
		return nil, err
	}
	blocks, _ := level.ByteArray("Blocks")
	meta, _ := level.ByteArray("Data")
	if len(blocks) != legacyBlocks || len(meta) != legacyBlocks/2 {
		return nil, errs.Format("%d block ids and %d data bytes, expected %d and %d", len(blocks), len(meta), legacyBlocks, legacyBlocks/2)
	}

	c := chunk.New(chunk.Range{0, legacyHeight - 1}, legacyAir)
	refs := map[uint16]uint16{0: 0}
	sections := make([][]uint16, c.Sections())
	for x := range 16 {
		for z := range 16 {
			for y := range legacyHeight {
				i := legacyIndex(x, y, z)
				id, d := blocks[i], meta[i>>1]>>((i&1)*4)&0xf
				key := uint16(id)<<4 | uint16(d)
				idx, ok := refs[key]
				if !ok {
					idx = c.Palette().Add(chunk.BlockRef{ID: strconv.Itoa(int(id)), State: []byte{d}})
					refs[key] = idx
				}
				if idx == 0 {
					continue
				}
				s := sections[y>>4]
				if s == nil {
					s = make([]uint16, chunk.SectionSize)
					sections[y>>4] = s
				}
				s[(y&0xf)<<8|z<<4|x] = idx
			}
		}
	}
	for i, s := range sections {
		if s != nil {
			c.SetSection(i, s)
		}
	}
	if l, ok := level.List("TileEntities"); ok {
		if err := readBlockEntities(c, pos, l); err != nil {
			return nil, err
		}
	}
	for _, name := range []string{"xPos", "zPos", "Blocks", "Data", "TileEntities"} {
		level.Delete(name)
	}
	c.Raw = level
	return c, nil
}

type legacyBlock struct{ id, data byte }

// legacyBlockOf converts a block to its numeric id and data value. Only blocks with a decimal
// id below 256 and a state of at most one byte below 16 can be stored.
func legacyBlockOf(b chunk.BlockRef) (legacyBlock, error) {
	id, err := strconv.ParseUint(b.ID, 10, 8)
	if err != nil {
		return legacyBlock{}, fmt.Errorf("block %v has no numeric id", b)
	}
	lb := legacyBlock{id: byte(id)}
	switch {
	case len(b.State) > 1 || len(b.State) == 1 && b.State[0] > 0xf:
		return legacyBlock{}, fmt.Errorf("block %v has a state that is not a 4-bit data value", b)
	case len(b.State) == 1:
		lb.data = b.State[0]
	}
	return lb, nil
}

func encodeLegacy(pos chunk.Pos, c *chunk.Chunk) ([]byte, error) {
	if c.Range() != (chunk.Range{0, legacyHeight - 1}) {
		return nil, fmt.Errorf("chunk range %v cannot be stored as McRegion", c.Range())
	}
	conv := make([]legacyBlock, c.Palette().Len())
	for i := range conv {
		lb, err := legacyBlockOf(c.Palette().Block(uint16(i)))
		if err != nil {
			return nil, err
		}
		conv[i] = lb
	}
	blocks, meta := make([]byte, legacyBlocks), make([]byte, legacyBlocks/2)
	for si := range c.Sections() {
		s := c.Section(si)
		for y := range 16 {
			for z := range 16 {
				for x := range 16 {
					var v uint16
					if s != nil {
						v = s[y<<8|z<<4|x]
					}
					lb := conv[v]
					i := legacyIndex(x, si<<4|y, z)
					blocks[i] = lb.id
					meta[i>>1] |= lb.data << ((i & 1) * 4)
				}
			}
		}
	}
	level := c.Raw.Clone()
	level.Set("xPos", nbt.Int(pos[0]))
	level.Set("zPos", nbt.Int(pos[1]))
	level.Set("Blocks", nbt.ByteArray(blocks))
	level.Set("Data", nbt.ByteArray(meta))
	level.Set("TileEntities", writeBlockEntities(c, pos))
	root := nbt.NewCompound()
	root.Set("Level", level)
	return nbt.Marshal(nbt.BigEndian, "", root)
}
