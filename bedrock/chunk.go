package bedrock

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/internal/errs"
	"github.com/cqdetdev/worldstore/kv"
	"github.com/cqdetdev/worldstore/nbt"
)

// Names of the entries of chunk.Raw used by the provider. Records it does not interpret are kept
// under rawRecords by the hex encoding of their key suffix; storages after the first one of a
// sub-chunk are kept under rawLayers by section Y.
const (
	rawRecords = "records"
	rawLayers  = "layers"
)

// finalisedPopulated is the finalisation state of a fully generated chunk.
const finalisedPopulated = 2

// Decode parses the records of the chunk at loc.
func (p *Provider) Decode(loc chunk.Locator, payloads chunk.Payloads) (*chunk.Chunk, error) {
	c, err := p.decode(loc, payloads)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w", loc.Pos, err)
	}
	c.MarkClean()
	return c, nil
}

func (p *Provider) decode(loc chunk.Locator, payloads chunk.Payloads) (*chunk.Chunk, error) {
	c := chunk.New(p.Range(loc.Dim), air)
	records, layers := nbt.NewCompound(), nbt.NewCompound()
	for _, pl := range payloads {
		info, ok := kv.ParseChunkKey(pl.Key)
		if !ok || info.Dim != loc.Dim || info.Pos != loc.Pos {
			return nil, fmt.Errorf("record %x does not belong to the chunk", pl.Key)
		}
		switch info.Kind {
		case kv.KindVersion, kv.KindLegacyVersion:
			if len(pl.Data) != 1 {
				return nil, errs.Format("version record of %d bytes", len(pl.Data))
			}
			continue
		case kv.KindSubChunk:
			i, inRange := c.SectionIndex(int(info.Index))
			if !inRange {
				break
			}
			if err := p.decodeSection(c, i, info.Index, pl.Data, layers); err != nil {
				return nil, fmt.Errorf("sub-chunk %d: %w", info.Index, err)
			}
			continue
		case kv.KindBlockEntities:
			if err := decodeBlockEntities(c, loc.Pos, pl.Data); err != nil {
				return nil, err
			}
			continue
		}
		p.log.Debug("Keeping uninterpreted chunk record.", "pos", loc.Pos, "key", hex.EncodeToString(pl.Key))
		records.Set(hex.EncodeToString(pl.Key[8+keyDimLen(loc.Dim):]), nbt.ByteArray(pl.Data))
	}
	if records.Len() > 0 {
		c.Raw.Set(rawRecords, records)
	}
	if layers.Len() > 0 {
		c.Raw.Set(rawLayers, layers)
	}
	return c, nil
}

func keyDimLen(dim chunk.Dimension) int {
	if dim == chunk.Overworld {
		return 0
	}
	return 4
}

func (p *Provider) decodeSection(c *chunk.Chunk, i int, index int8, data []byte, layers *nbt.Compound) error {
	y, hasY, first, extra, extraCount, err := decodeSubChunk(data)
	if err != nil {
		return err
	}
	if hasY && y != index {
		return errs.Format("sub-chunk holds index %d", y)
	}
	if extraCount > 0 {
		l := nbt.NewCompound()
		l.Set("count", nbt.Byte(extraCount))
		l.Set("data", nbt.ByteArray(extra))
		layers.Set(strconv.Itoa(int(index)), l)
	}
	if first == nil {
		return nil
	}
	remap := make([]uint16, len(first.palette))
	for j, b := range first.palette {
		if b.ID == air.ID {
			// Air is stored with the block version it was saved with; all versions map to
			// the empty block.
			continue
		}
		idx, ok := c.Palette().TryAdd(b)
		if !ok {
			return errs.Format("too many distinct blocks in chunk")
		}
		remap[j] = idx
	}
	empty := true
	for k, v := range first.indices {
		first.indices[k] = remap[v]
		empty = empty && first.indices[k] == 0
	}
	if !empty {
		c.SetSection(i, first.indices)
	}
	return nil
}

// decodeBlockEntities reads the concatenated little-endian compounds of a block entity record.
func decodeBlockEntities(c *chunk.Chunk, pos chunk.Pos, data []byte) error {
	dec := nbt.NewDecoder(data, nbt.LittleEndian)
	for dec.More() {
		_, t, err := dec.Decode()
		if err != nil {
			return err
		}
		e, ok := t.(*nbt.Compound)
		if !ok {
			return errs.Format("block entity of type %v", t.ID())
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

// Encode serialises c into the records of the chunk at loc.
func (p *Provider) Encode(loc chunk.Locator, c *chunk.Chunk) (chunk.Payloads, error) {
	payloads, err := p.encode(loc, c)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", loc.Pos, err)
	}
	return payloads, nil
}

func (p *Provider) encode(loc chunk.Locator, c *chunk.Chunk) (chunk.Payloads, error) {
	c.Compact()
	records, _ := c.Raw.Compound(rawRecords)
	layers, _ := c.Raw.Compound(rawLayers)
	payloads := chunk.Payloads{{
		Key:    kv.ChunkKey(loc.Dim, loc.Pos, kv.KindVersion),
		Scheme: compression.None,
		Data:   []byte{ChunkVersion},
	}}
	add := func(key, data []byte) {
		payloads = append(payloads, chunk.Payload{Key: key, Scheme: compression.None, Data: data})
	}

	local := make([]uint16, c.Palette().Len())
	for i := range local {
		local[i] = unassigned
	}
	for i := range c.Sections() {
		y := int8(c.SectionY(i))
		var layer *nbt.Compound
		if layers != nil {
			layer, _ = layers.Compound(strconv.Itoa(int(y)))
		}
		if c.Section(i) == nil && layer == nil {
			continue
		}
		extraCount, extra := 0, []byte(nil)
		if layer != nil {
			n, _ := layer.Byte("count")
			extraCount = int(n)
			extra, _ = layer.ByteArray("data")
		}
		b := []byte{SubChunkVersion, byte(1 + extraCount), byte(y)}
		b, err := appendStorage(b, c.Palette(), c.Section(i), local)
		if err != nil {
			return nil, fmt.Errorf("sub-chunk %d: %w", y, err)
		}
		add(kv.SubChunkKey(loc.Dim, loc.Pos, y), append(b, extra...))
	}

	if c.MetadataLen() > 0 {
		var b []byte
		for _, lp := range c.MetadataPositions() {
			m, _ := c.Metadata(lp)
			e := m.Clone()
			w := lp.World(loc.Pos)
			e.Set("x", nbt.Int(int32(w[0])))
			e.Set("y", nbt.Int(int32(w[1])))
			e.Set("z", nbt.Int(int32(w[2])))
			var err error
			if b, err = nbt.AppendTag(b, nbt.LittleEndian, "", e); err != nil {
				return nil, fmt.Errorf("block entity at %v: %w", w, err)
			}
		}
		add(kv.ChunkKey(loc.Dim, loc.Pos, kv.KindBlockEntities), b)
	}

	prefix := kv.ChunkKey(loc.Dim, loc.Pos, 0)
	prefix = prefix[:len(prefix)-1]
	finalised := false
	if records != nil {
		for suffix, t := range records.All() {
			data, ok := t.(nbt.ByteArray)
			k, err := hex.DecodeString(suffix)
			if !ok || err != nil || len(k) == 0 {
				return nil, fmt.Errorf("invalid raw record %q", suffix)
			}
			finalised = finalised || kv.Kind(k[0]) == kv.KindFinalisation
			add(append(bytes.Clone(prefix), k...), data)
		}
	}
	if !finalised {
		add(kv.ChunkKey(loc.Dim, loc.Pos, kv.KindFinalisation), binary.LittleEndian.AppendUint32(nil, finalisedPopulated))
	}
	return payloads, nil
}
