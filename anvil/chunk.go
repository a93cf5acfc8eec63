package anvil

import (
	"cmp"
	"slices"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/internal/errs"
	"github.com/cqdetdev/worldstore/nbt"
)

var air = chunk.BlockRef{ID: "minecraft:air"}

// minIndexBits is the smallest number of bits Anvil stores block state indices with.
const minIndexBits = 4

// decodeAnvil parses a chunk in the 1.18+ Anvil layout. Tags that are not interpreted end up
// in the Raw compound of the chunk, including everything in sections apart from their block
// states.
func decodeAnvil(pos chunk.Pos, r chunk.Range, data []byte) (*chunk.Chunk, error) {
	root, err := nbt.UnmarshalCompound(nbt.BigEndian, data)
	if err != nil {
		return nil, err
	}
	if root.Has("Level") {
		return nil, errs.Format("chunk uses the pre-1.18 layout")
	}
	if err := checkPos(root, pos); err != nil {
		return nil, err
	}
	root.Delete("xPos")
	root.Delete("zPos")
	root.Delete("yPos")

	c := chunk.New(r, air)
	if l, ok := root.List("sections"); ok {
		kept := &nbt.List{Elem: nbt.TagCompound}
		for _, item := range l.Items {
			sec, ok := item.(*nbt.Compound)
			if !ok {
				return nil, errs.Format("section of type %v", item.ID())
			}
			y, ok := sec.Byte("Y")
			if !ok {
				return nil, errs.Format("section without Y")
			}
			states, hasStates := sec.Compound("block_states")
			if i, inRange := c.SectionIndex(int(y)); inRange && hasStates {
				if err := readSection(c, i, states); err != nil {
					return nil, errs.Format("section %d: %v", y, err)
				}
				sec.Delete("block_states")
			}
			if sec.Len() > 1 {
				kept.Append(sec)
			}
		}
		root.Delete("sections")
		if kept.Len() > 0 {
			root.Set("sections", kept)
		}
	}
	if l, ok := root.List("block_entities"); ok {
		if err := readBlockEntities(c, pos, l); err != nil {
			return nil, err
		}
		root.Delete("block_entities")
	}
	c.Raw = root
	return c, nil
}

func checkPos(c *nbt.Compound, pos chunk.Pos) error {
	x, okX := c.Int("xPos")
	z, okZ := c.Int("zPos")
	if okX && okZ && (x != pos[0] || z != pos[1]) {
		return errs.Format("chunk holds position (%d, %d)", x, z)
	}
	return nil
}

func readSection(c *chunk.Chunk, i int, states *nbt.Compound) error {
	pl, ok := states.List("palette")
	if !ok || pl.Len() == 0 {
		return errs.Format("block states without palette")
	}
	remap := make([]uint16, pl.Len())
	for j, item := range pl.Items {
		e, ok := item.(*nbt.Compound)
		if !ok {
			return errs.Format("palette entry of type %v", item.ID())
		}
		ref, err := blockFromEntry(e)
		if err != nil {
			return err
		}
		idx, ok := c.Palette().TryAdd(ref)
		if !ok {
			return errs.Format("too many distinct blocks in chunk")
		}
		remap[j] = idx
	}

	s := make([]uint16, chunk.SectionSize)
	if len(remap) == 1 {
		if remap[0] == 0 {
			return nil
		}
		for k := range s {
			s[k] = remap[0]
		}
		c.SetSection(i, s)
		return nil
	}
	data, ok := states.LongArray("data")
	if !ok {
		return errs.Format("block states of %d blocks without data", len(remap))
	}
	words := make([]uint64, len(data))
	for k, w := range data {
		words[k] = uint64(w)
	}
	if err := chunk.UnpackIndices(words, max(minIndexBits, chunk.BitsFor(len(remap))), s); err != nil {
		return err
	}
	empty := true
	for k, v := range s {
		if int(v) >= len(remap) {
			return errs.Format("palette index %d out of range [0, %d)", v, len(remap))
		}
		s[k] = remap[v]
		empty = empty && s[k] == 0
	}
	if !empty {
		c.SetSection(i, s)
	}
	return nil
}

// blockFromEntry converts a block state palette entry. The Properties compound, if present,
// is kept as its big-endian encoding.
func blockFromEntry(e *nbt.Compound) (chunk.BlockRef, error) {
	name, ok := e.String("Name")
	if !ok {
		return chunk.BlockRef{}, errs.Format("palette entry without name")
	}
	ref := chunk.BlockRef{ID: name}
	if props, ok := e.Compound("Properties"); ok && props.Len() > 0 {
		state, err := nbt.Marshal(nbt.BigEndian, "", props)
		if err != nil {
			return chunk.BlockRef{}, err
		}
		ref.State = state
	}
	return ref, nil
}

func entryFromBlock(b chunk.BlockRef) (*nbt.Compound, error) {
	e := nbt.NewCompound()
	e.Set("Name", nbt.String(b.ID))
	if len(b.State) > 0 {
		props, err := nbt.UnmarshalCompound(nbt.BigEndian, b.State)
		if err != nil {
			return nil, err
		}
		e.Set("Properties", props)
	}
	return e, nil
}

func encodeAnvil(pos chunk.Pos, c *chunk.Chunk, dataVersion int32) ([]byte, error) {
	root := c.Raw.Clone()
	if !root.Has("DataVersion") {
		root.Set("DataVersion", nbt.Int(dataVersion))
	}
	root.Set("xPos", nbt.Int(pos[0]))
	root.Set("zPos", nbt.Int(pos[1]))
	root.Set("yPos", nbt.Int(int32(c.Range().Min()>>4)))
	if !root.Has("Status") {
		root.Set("Status", nbt.String("minecraft:full"))
	}

	extras := make(map[int8]*nbt.Compound)
	if l, ok := root.List("sections"); ok {
		for _, item := range l.Items {
			if sec, ok := item.(*nbt.Compound); ok {
				y, _ := sec.Byte("Y")
				extras[y] = sec
			}
		}
	}
	sections := make([]*nbt.Compound, 0, c.Sections()+len(extras))
	local := make([]uint16, c.Palette().Len())
	for i := range local {
		local[i] = unassigned
	}
	for i := range c.Sections() {
		y := int8(c.SectionY(i))
		sec, ok := extras[y]
		if ok {
			delete(extras, y)
		} else {
			sec = nbt.NewCompound()
			sec.Set("Y", nbt.Byte(y))
		}
		states, err := writeSection(c, i, local)
		if err != nil {
			return nil, errs.Format("section %d: %v", y, err)
		}
		sec.Set("block_states", states)
		sections = append(sections, sec)
	}
	for _, sec := range extras {
		sections = append(sections, sec)
	}
	slices.SortFunc(sections, func(a, b *nbt.Compound) int {
		ya, _ := a.Byte("Y")
		yb, _ := b.Byte("Y")
		return cmp.Compare(ya, yb)
	})
	l := &nbt.List{Elem: nbt.TagCompound, Items: make([]nbt.Tag, len(sections))}
	for i, sec := range sections {
		l.Items[i] = sec
	}
	root.Set("sections", l)
	root.Set("block_entities", writeBlockEntities(c, pos))
	return nbt.Marshal(nbt.BigEndian, "", root)
}

const unassigned = 0xffff

// writeSection builds the block_states compound of a section. local maps chunk palette indices
// to section palette indices and must hold only unassigned on entry; it is reset before
// returning.
func writeSection(c *chunk.Chunk, i int, local []uint16) (*nbt.Compound, error) {
	s := c.Section(i)
	if s == nil {
		s = make([]uint16, chunk.SectionSize)
	}
	var order []uint16
	indices := make([]uint16, chunk.SectionSize)
	for k, v := range s {
		if local[v] == unassigned {
			local[v] = uint16(len(order))
			order = append(order, v)
		}
		indices[k] = local[v]
	}
	for _, v := range order {
		local[v] = unassigned
	}

	pl := &nbt.List{Elem: nbt.TagCompound, Items: make([]nbt.Tag, len(order))}
	for k, v := range order {
		e, err := entryFromBlock(c.Palette().Block(v))
		if err != nil {
			return nil, err
		}
		pl.Items[k] = e
	}
	states := nbt.NewCompound()
	states.Set("palette", pl)
	if len(order) > 1 {
		words := chunk.PackIndices[uint64](indices, max(minIndexBits, chunk.BitsFor(len(order))))
		data := make(nbt.LongArray, len(words))
		for k, w := range words {
			data[k] = int64(w)
		}
		states.Set("data", data)
	}
	return states, nil
}

// readBlockEntities moves block entities into the metadata of c, dropping their absolute
// coordinates.
func readBlockEntities(c *chunk.Chunk, pos chunk.Pos, l *nbt.List) error {
	for _, item := range l.Items {
		e, ok := item.(*nbt.Compound)
		if !ok {
			return errs.Format("block entity of type %v", item.ID())
		}
		x, okX := e.Int("x")
		y, okY := e.Int("y")
		z, okZ := e.Int("z")
		if !okX || !okY || !okZ {
			return errs.Format("block entity without position")
		}
		if x>>4 != pos[0] || z>>4 != pos[1] || !c.Range().Contains(int(y)) {
			return errs.Format("block entity at (%d, %d, %d) outside of chunk", x, y, z)
		}
		e.Delete("x")
		e.Delete("y")
		e.Delete("z")
		c.SetMetadata(chunk.LocalPos{int(x & 0xf), int(y), int(z & 0xf)}, e)
	}
	return nil
}

func writeBlockEntities(c *chunk.Chunk, pos chunk.Pos) *nbt.List {
	l := &nbt.List{Elem: nbt.TagCompound}
	for _, lp := range c.MetadataPositions() {
		m, _ := c.Metadata(lp)
		e := m.Clone()
		w := lp.World(pos)
		e.Set("x", nbt.Int(int32(w[0])))
		e.Set("y", nbt.Int(int32(w[1])))
		e.Set("z", nbt.Int(int32(w[2])))
		l.Append(e)
	}
	return l
}
