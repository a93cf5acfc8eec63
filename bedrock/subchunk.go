package bedrock

import (
	"encoding/binary"
	"slices"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/internal/errs"
	"github.com/cqdetdev/worldstore/nbt"
)

var air = chunk.BlockRef{ID: "minecraft:air", State: mustState(nbt.NewCompound())}

// mustState returns the State blob of a block with the states passed and the current block
// version.
func mustState(states *nbt.Compound) []byte {
	c := nbt.NewCompound()
	c.Set("states", states)
	c.Set("version", nbt.Int(BlockVersion))
	b, err := nbt.Marshal(nbt.LittleEndian, "", c)
	if err != nil {
		panic(err)
	}
	return b
}

// validBits holds the sizes palette indices may be stored with, in increasing order.
var validBits = []int{0, 1, 2, 3, 4, 5, 6, 8, 16}

func bitsFor(n int) int {
	need := chunk.BitsFor(n)
	for _, b := range validBits {
		if b >= need {
			return b
		}
	}
	return 16
}

// subChunkOffset converts between the x<<8|z<<4|y layout of a Bedrock storage and the
// y<<8|z<<4|x layout of a chunk section. It is its own inverse.
func subChunkOffset(i int) int {
	return (i&0xf)<<8 | i&0xf0 | i>>8
}

// storage is a paletted block storage decoded from a sub-chunk, with indices in section order.
type storage struct {
	palette []chunk.BlockRef
	indices []uint16
}

// decodeSubChunk reads the sub-chunk in data. The first storage is returned decoded; the raw
// bytes of any further storages are returned with their count.
func decodeSubChunk(data []byte) (y int8, hasY bool, first *storage, extra []byte, extraCount int, err error) {
	if len(data) < 2 {
		return 0, false, nil, nil, 0, errs.Format("sub-chunk of %d bytes", len(data))
	}
	off := 2
	switch data[0] {
	case 8:
	case 9:
		if len(data) < 3 {
			return 0, false, nil, nil, 0, errs.Format("sub-chunk of %d bytes", len(data))
		}
		y, hasY, off = int8(data[2]), true, 3
	default:
		return 0, false, nil, nil, 0, errs.Format("unsupported sub-chunk version %d", data[0])
	}
	n := int(data[1])
	if n == 0 {
		return y, hasY, nil, nil, 0, nil
	}
	first, read, err := decodeStorage(data[off:])
	if err != nil {
		return 0, false, nil, nil, 0, err
	}
	off += read
	start := off
	for range n - 1 {
		_, read, err := decodeStorage(data[off:])
		if err != nil {
			return 0, false, nil, nil, 0, err
		}
		off += read
	}
	if off != len(data) {
		return 0, false, nil, nil, 0, errs.Format("%d trailing bytes after sub-chunk", len(data)-off)
	}
	return y, hasY, first, slices.Clone(data[start:off]), n - 1, nil
}

// decodeStorage decodes a single paletted storage at the start of data and returns it with the
// number of bytes it occupied.
func decodeStorage(data []byte) (*storage, int, error) {
	if len(data) < 1 {
		return nil, 0, errs.Format("storage header missing")
	}
	if data[0]&1 != 0 {
		return nil, 0, errs.Format("storage uses runtime ids")
	}
	size := int(data[0] >> 1)
	if !slices.Contains(validBits, size) {
		return nil, 0, errs.Format("storage with %d bits per block", size)
	}
	off := 1
	words := make([]uint32, chunk.PackedLen[uint32](chunk.SectionSize, size))
	if len(data) < off+len(words)*4 {
		return nil, 0, errs.Format("storage words truncated")
	}
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	count := 1
	if size != 0 {
		if len(data) < off+4 {
			return nil, 0, errs.Format("storage palette size missing")
		}
		count = int(int32(binary.LittleEndian.Uint32(data[off:])))
		off += 4
		if count <= 0 || count > chunk.SectionSize {
			return nil, 0, errs.Format("storage palette of %d entries", count)
		}
	}
	s := &storage{palette: make([]chunk.BlockRef, count), indices: make([]uint16, chunk.SectionSize)}
	dec := nbt.NewDecoder(data[off:], nbt.LittleEndian)
	for i := range s.palette {
		_, t, err := dec.Decode()
		if err != nil {
			return nil, 0, err
		}
		e, ok := t.(*nbt.Compound)
		if !ok {
			return nil, 0, errs.Format("palette entry of type %v", t.ID())
		}
		name, ok := e.String("name")
		if !ok {
			return nil, 0, errs.Format("palette entry without name")
		}
		e.Delete("name")
		state, err := nbt.Marshal(nbt.LittleEndian, "", e)
		if err != nil {
			return nil, 0, err
		}
		s.palette[i] = chunk.BlockRef{ID: name, State: state}
	}
	off = len(data) - dec.Remaining()

	raw := make([]uint16, chunk.SectionSize)
	if err := chunk.UnpackIndices(words, size, raw); err != nil {
		return nil, 0, err
	}
	for i, v := range raw {
		if int(v) >= count {
			return nil, 0, errs.Format("palette index %d out of range [0, %d)", v, count)
		}
		s.indices[subChunkOffset(i)] = v
	}
	return s, off, nil
}

// appendStorage appends the storage of the section passed, using the chunk palette p.
func appendStorage(b []byte, p *chunk.Palette, section []uint16, local []uint16) ([]byte, error) {
	var order []uint16
	indices := make([]uint16, chunk.SectionSize)
	for i := range indices {
		var v uint16
		if section != nil {
			v = section[subChunkOffset(i)]
		}
		if local[v] == unassigned {
			local[v] = uint16(len(order))
			order = append(order, v)
		}
		indices[i] = local[v]
	}
	for _, v := range order {
		local[v] = unassigned
	}

	size := bitsFor(len(order))
	b = append(b, byte(size<<1))
	for _, w := range chunk.PackIndices[uint32](indices, size) {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	if size != 0 {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(order)))
	}
	for _, v := range order {
		e, err := entryOf(p.Block(v))
		if err != nil {
			return nil, err
		}
		if b, err = nbt.AppendTag(b, nbt.LittleEndian, "", e); err != nil {
			return nil, err
		}
	}
	return b, nil
}

const unassigned = 0xffff

// entryOf builds the palette entry of a block: its name followed by the entries of its state.
func entryOf(b chunk.BlockRef) (*nbt.Compound, error) {
	e := nbt.NewCompound()
	e.Set("name", nbt.String(b.ID))
	if len(b.State) == 0 {
		e.Set("states", nbt.NewCompound())
		e.Set("version", nbt.Int(BlockVersion))
		return e, nil
	}
	state, err := nbt.UnmarshalCompound(nbt.LittleEndian, b.State)
	if err != nil {
		return nil, err
	}
	for name, t := range state.All() {
		e.Set(name, t)
	}
	return e, nil
}
