package luanti

import (
	"fmt"
	"strconv"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/internal/errs"
	"github.com/cqdetdev/worldstore/nbt"
)

// air is the empty node. The State of a node holds its param1 and param2.
var air = chunk.BlockRef{ID: "air", State: []byte{0, 0}}

// rawBlocks is the entry of chunk.Raw holding the headers, static objects and node timers of
// every decoded mapblock by mapblock Y.
const rawBlocks = "mapblocks"

// Header is the header of a mapblock.
type Header struct {
	Flags     byte
	Lighting  uint16
	Timestamp uint32
}

// Underground reports if the mapblock is believed to be underground.
func (h Header) Underground() bool { return h.Flags&FlagUnderground != 0 }

// DayNightDiffers reports if the lighting of the mapblock differs between day and night.
func (h Header) DayNightDiffers() bool { return h.Flags&FlagDayNightDiffers != 0 }

// LightingExpired reports if the lighting of the mapblock needs to be updated.
func (h Header) LightingExpired() bool { return h.Flags&FlagLightingExpired != 0 }

// Generated reports if the mapblock was generated by the map generator.
func (h Header) Generated() bool { return h.Flags&FlagNotGenerated == 0 }

// BlockHeader returns the header of the mapblock at section Y y of a chunk decoded by the
// provider.
func BlockHeader(c *chunk.Chunk, y int) (Header, bool) {
	blocks, ok := c.Raw.Compound(rawBlocks)
	if !ok {
		return Header{}, false
	}
	b, ok := blocks.Compound(strconv.Itoa(y))
	if !ok {
		return Header{}, false
	}
	flags, _ := b.Byte("flags")
	lighting, _ := b.Short("lighting")
	timestamp, _ := b.Int("timestamp")
	return Header{Flags: byte(flags), Lighting: uint16(lighting), Timestamp: uint32(timestamp)}, true
}

// SetBlockHeader sets the header written for the mapblock at section Y y, keeping its static
// objects and node timers.
func SetBlockHeader(c *chunk.Chunk, y int, h Header) {
	blocks, ok := c.Raw.Compound(rawBlocks)
	if !ok {
		blocks = nbt.NewCompound()
		c.Raw.Set(rawBlocks, blocks)
	}
	b, ok := blocks.Compound(strconv.Itoa(y))
	if !ok {
		b = nbt.NewCompound()
		blocks.Set(strconv.Itoa(y), b)
	}
	b.Set("flags", nbt.Byte(h.Flags))
	b.Set("lighting", nbt.Short(h.Lighting))
	b.Set("timestamp", nbt.Int(h.Timestamp))
	c.MarkDirty()
}

// Decode parses the mapblocks of the column at loc.
func (p *Provider) Decode(loc chunk.Locator, payloads chunk.Payloads) (*chunk.Chunk, error) {
	c, err := p.decode(loc, payloads)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w", loc.Pos, err)
	}
	c.MarkClean()
	return c, nil
}

func (p *Provider) decode(loc chunk.Locator, payloads chunk.Payloads) (*chunk.Chunk, error) {
	c := chunk.New(p.conf.Range, air)
	blocks := nbt.NewCompound()
	for _, pl := range payloads {
		h, ok := p.hash(pl.Key)
		if !ok {
			return nil, fmt.Errorf("invalid mapblock key %x", pl.Key)
		}
		x, y, z := Unhash(h)
		i, inRange := c.SectionIndex(y)
		if int32(x) != loc.Pos[0] || int32(z) != loc.Pos[1] || !inRange {
			return nil, fmt.Errorf("mapblock (%d, %d, %d) does not belong to the chunk", x, y, z)
		}
		b, err := decodeMapBlock(pl.Data, p.conf.MaxBlockSize)
		if err != nil {
			return nil, fmt.Errorf("mapblock %d: %w", y, err)
		}
		if err := decodeSection(c, i, y, b); err != nil {
			return nil, fmt.Errorf("mapblock %d: %w", y, err)
		}
		raw := nbt.NewCompound()
		raw.Set("flags", nbt.Byte(b.flags))
		raw.Set("lighting", nbt.Short(b.lighting))
		raw.Set("timestamp", nbt.Int(b.timestamp))
		raw.Set("objects", nbt.ByteArray(b.objects))
		raw.Set("timers", nbt.ByteArray(b.timers))
		blocks.Set(strconv.Itoa(y), raw)
	}
	if blocks.Len() > 0 {
		c.Raw.Set(rawBlocks, blocks)
	}
	return c, nil
}

func decodeSection(c *chunk.Chunk, i, y int, b *mapBlock) error {
	remap := make(map[uint32]uint16)
	section := make([]uint16, chunk.SectionSize)
	empty := true
	for n := range nodeCount {
		key := uint32(b.param0[n])<<16 | uint32(b.param1[n])<<8 | uint32(b.param2[n])
		idx, ok := remap[key]
		if !ok {
			if idx, ok = c.Palette().TryAdd(chunk.BlockRef{
				ID:    b.names[b.param0[n]],
				State: []byte{b.param1[n], b.param2[n]},
			}); !ok {
				return errs.Format("too many distinct nodes in chunk")
			}
			remap[key] = idx
		}
		// Mapblocks are z-major, chunk sections y-major.
		section[n&0xf00>>4|n&0xf0<<4|n&0xf] = idx
		empty = empty && idx == 0
	}
	if !empty {
		c.SetSection(i, section)
	}
	for pos, m := range b.meta {
		c.SetMetadata(chunk.LocalPos{int(pos & 0xf), y<<4 | int(pos>>4&0xf), int(pos >> 8)}, m.tag())
	}
	return nil
}

// tag converts node metadata to the compound {fields, private, inventory}.
func (m *nodeMeta) tag() *nbt.Compound {
	fields, private := nbt.NewCompound(), &nbt.List{Elem: nbt.TagString}
	for _, f := range m.fields {
		fields.Set(f[0], nbt.String(f[1]))
		if m.private[f[0]] {
			private.Append(nbt.String(f[0]))
		}
	}
	t := nbt.NewCompound()
	t.Set("fields", fields)
	t.Set("private", private)
	t.Set("inventory", nbt.String(m.inventory))
	return t
}

// metaFromTag is the inverse of nodeMeta.tag. All entries of the compound are optional.
func metaFromTag(t *nbt.Compound) (*nodeMeta, error) {
	m := &nodeMeta{private: make(map[string]bool)}
	if fields, ok := t.Compound("fields"); ok {
		for name, v := range fields.All() {
			s, ok := v.(nbt.String)
			if !ok {
				return nil, fmt.Errorf("field %q of type %v", name, v.ID())
			}
			m.fields = append(m.fields, [2]string{name, string(s)})
		}
	}
	if private, ok := t.List("private"); ok {
		for _, v := range private.Items {
			s, ok := v.(nbt.String)
			if !ok {
				return nil, fmt.Errorf("private field name of type %v", v.ID())
			}
			m.private[string(s)] = true
		}
	}
	if inv, ok := t.String("inventory"); ok {
		m.inventory = inv
	}
	return m, nil
}

// Encode serialises c into one payload for every mapblock that holds nodes other than unlit
// air, node metadata, or was read from the database.
func (p *Provider) Encode(loc chunk.Locator, c *chunk.Chunk) (chunk.Payloads, error) {
	payloads, err := p.encode(loc, c)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", loc.Pos, err)
	}
	return payloads, nil
}

func (p *Provider) encode(loc chunk.Locator, c *chunk.Chunk) (chunk.Payloads, error) {
	if c.Range() != p.conf.Range {
		return nil, fmt.Errorf("chunk range %v differs from %v", c.Range(), p.conf.Range)
	}
	c.Compact()
	blocks, _ := c.Raw.Compound(rawBlocks)
	meta := make(map[int][]chunk.LocalPos)
	for _, lp := range c.MetadataPositions() {
		meta[lp[1]>>4] = append(meta[lp[1]>>4], lp)
	}

	var payloads chunk.Payloads
	for i := range c.Sections() {
		y := c.SectionY(i)
		var raw *nbt.Compound
		if blocks != nil {
			raw, _ = blocks.Compound(strconv.Itoa(y))
		}
		if c.Section(i) == nil && raw == nil && len(meta[y]) == 0 {
			continue
		}
		b := newMapBlock()
		if raw != nil {
			flags, _ := raw.Byte("flags")
			lighting, _ := raw.Short("lighting")
			timestamp, _ := raw.Int("timestamp")
			b.flags, b.lighting, b.timestamp = byte(flags), uint16(lighting), uint32(timestamp)
			if objects, ok := raw.ByteArray("objects"); ok {
				b.objects = objects
			}
			if timers, ok := raw.ByteArray("timers"); ok {
				b.timers = timers
			}
		}
		if err := encodeSection(c, i, b); err != nil {
			return nil, fmt.Errorf("mapblock %d: %w", y, err)
		}
		for _, lp := range meta[y] {
			t, _ := c.Metadata(lp)
			m, err := metaFromTag(t)
			if err != nil {
				return nil, fmt.Errorf("node metadata at %v: %w", lp, err)
			}
			b.meta[uint16(nodeIndex(lp[0], lp[1]&0xf, lp[2]))] = m
		}
		data, err := b.encode()
		if err != nil {
			return nil, fmt.Errorf("mapblock %d: %w", y, err)
		}
		h, err := Hash(int(loc.Pos[0]), y, int(loc.Pos[1]))
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, chunk.Payload{Key: p.key(h), Scheme: compression.None, Data: data})
	}
	return payloads, nil
}

func encodeSection(c *chunk.Chunk, i int, b *mapBlock) error {
	type node struct {
		content        uint16
		param1, param2 byte
	}
	nodes := make(map[uint16]node)
	ids := make(map[string]uint16)
	section := c.Section(i)
	for n := range nodeCount {
		var v uint16
		if section != nil {
			v = section[n&0xf00>>4|n&0xf0<<4|n&0xf]
		}
		nd, ok := nodes[v]
		if !ok {
			ref := c.Palette().Block(v)
			switch len(ref.State) {
			case 0:
			case 2:
				nd.param1, nd.param2 = ref.State[0], ref.State[1]
			default:
				return errs.Format("node %v has a state of %d bytes", ref.ID, len(ref.State))
			}
			id, known := ids[ref.ID]
			if !known {
				id = uint16(len(b.names))
				ids[ref.ID] = id
				b.names = append(b.names, ref.ID)
			}
			nd.content = id
			nodes[v] = nd
		}
		b.param0[n], b.param1[n], b.param2[n] = nd.content, nd.param1, nd.param2
	}
	return nil
}
