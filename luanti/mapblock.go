package luanti

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/internal/errs"
)

const (
	// BlockVersion is the mapblock serialisation version that is read and written.
	BlockVersion = 29

	nodeCount = 4096

	contentWidth = 2
	paramsWidth  = 2
	timerLen     = 10
)

// Header flags of a mapblock.
const (
	FlagUnderground     = 0x01
	FlagDayNightDiffers = 0x02
	FlagLightingExpired = 0x04
	FlagNotGenerated    = 0x08
)

const (
	lightingComplete   = 0xffff
	timestampUndefined = 0xffffffff
)

// nodeMeta is the metadata of a single node.
type nodeMeta struct {
	fields    [][2]string
	private   map[string]bool
	inventory string
}

// mapBlock is a decoded mapblock of 16x16x16 nodes. Node indices are z*256+y*16+x.
type mapBlock struct {
	flags     byte
	lighting  uint16
	timestamp uint32

	names  []string
	param0 [nodeCount]uint16
	param1 [nodeCount]byte
	param2 [nodeCount]byte

	meta map[uint16]*nodeMeta
	// Static objects and node timers are kept serialised.
	objects []byte
	timers  []byte
}

func newMapBlock() *mapBlock {
	return &mapBlock{
		lighting:  lightingComplete,
		timestamp: timestampUndefined,
		meta:      make(map[uint16]*nodeMeta),
		objects:   []byte{0, 0, 0},
		timers:    []byte{timerLen, 0, 0},
	}
}

// reader reads big-endian values from a byte slice. The first read past the end of the slice
// sets err, after which all reads return zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = errs.Format("mapblock truncated at offset %d", r.off)
		return nil
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// decodeMapBlock decodes a serialised mapblock. The decompressed body may be at most limit
// bytes long.
func decodeMapBlock(data []byte, limit int) (*mapBlock, error) {
	if len(data) == 0 {
		return nil, errs.Format("empty mapblock")
	}
	if data[0] != BlockVersion {
		return nil, errs.Format("unsupported mapblock version %d", data[0])
	}
	body, err := compression.Inflate(compression.Zstd, data[1:], limit)
	if err != nil {
		return nil, err
	}
	r := &reader{b: body}
	b := &mapBlock{meta: make(map[uint16]*nodeMeta)}
	b.flags = r.u8()
	b.lighting = r.u16()
	b.timestamp = r.u32()

	if v := r.u8(); v != 0 && r.err == nil {
		return nil, errs.Format("unsupported name-id mapping version %d", v)
	}
	ids := make(map[uint16]string)
	for n := r.u16(); n > 0 && r.err == nil; n-- {
		id := r.u16()
		ids[id] = string(r.take(int(r.u16())))
	}
	if cw, pw := r.u8(), r.u8(); r.err == nil && (cw != contentWidth || pw != paramsWidth) {
		return nil, errs.Format("content width %d and params width %d", cw, pw)
	}
	// Content ids are renumbered to indices into names, in order of first use.
	local := make(map[uint16]uint16)
	for i := range b.param0 {
		id := r.u16()
		if r.err != nil {
			break
		}
		idx, ok := local[id]
		if !ok {
			name, known := ids[id]
			if !known {
				return nil, errs.Format("node %d has unmapped content id %d", i, id)
			}
			idx = uint16(len(b.names))
			local[id] = idx
			b.names = append(b.names, name)
		}
		b.param0[i] = idx
	}
	copy(b.param1[:], r.take(nodeCount))
	copy(b.param2[:], r.take(nodeCount))

	if err := b.readMeta(r); err != nil {
		return nil, err
	}
	start := r.off
	r.u8()
	for n := r.u16(); n > 0 && r.err == nil; n-- {
		r.take(1 + 12)
		r.take(int(r.u16()))
	}
	b.objects = slices.Clone(body[start:min(r.off, len(body))])

	start = r.off
	size := int(r.u8())
	r.take(int(r.u16()) * size)
	b.timers = slices.Clone(body[start:min(r.off, len(body))])
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(body) {
		return nil, errs.Format("%d trailing bytes after mapblock", len(body)-r.off)
	}
	return b, nil
}

func (b *mapBlock) readMeta(r *reader) error {
	v := r.u8()
	if r.err != nil || v == 0 {
		return r.err
	}
	if v != 2 {
		return errs.Format("unsupported node metadata version %d", v)
	}
	for n := r.u16(); n > 0 && r.err == nil; n-- {
		pos := r.u16()
		if pos >= nodeCount {
			return errs.Format("node metadata at index %d", pos)
		}
		m := &nodeMeta{private: make(map[string]bool)}
		for vars := r.u32(); vars > 0 && r.err == nil; vars-- {
			key := string(r.take(int(r.u16())))
			value := string(r.take(int(r.u32())))
			if r.u8() != 0 {
				m.private[key] = true
			}
			m.fields = append(m.fields, [2]string{key, value})
		}
		if r.err != nil {
			return r.err
		}
		inv, err := readInventory(r)
		if err != nil {
			return err
		}
		m.inventory = inv
		b.meta[pos] = m
	}
	return r.err
}

var endInventory = []byte("EndInventory\n")

// readInventory reads a serialised inventory, which is text ending with an EndInventory line.
func readInventory(r *reader) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	rest := r.b[r.off:]
	for i := 0; i < len(rest); {
		line := rest[i:]
		if bytes.HasPrefix(line, endInventory) {
			inv := string(rest[:i])
			r.off += i + len(endInventory)
			return inv, nil
		}
		nl := bytes.IndexByte(line, '\n')
		if nl < 0 {
			break
		}
		i += nl + 1
	}
	return "", errs.Format("node inventory without end")
}

// encode serialises the mapblock and compresses its body.
func (b *mapBlock) encode() ([]byte, error) {
	body := []byte{b.flags}
	body = binary.BigEndian.AppendUint16(body, b.lighting)
	body = binary.BigEndian.AppendUint32(body, b.timestamp)

	body = append(body, 0)
	body = binary.BigEndian.AppendUint16(body, uint16(len(b.names)))
	for id, name := range b.names {
		body = binary.BigEndian.AppendUint16(body, uint16(id))
		body = binary.BigEndian.AppendUint16(body, uint16(len(name)))
		body = append(body, name...)
	}
	body = append(body, contentWidth, paramsWidth)
	for _, v := range b.param0 {
		body = binary.BigEndian.AppendUint16(body, v)
	}
	body = append(body, b.param1[:]...)
	body = append(body, b.param2[:]...)

	if len(b.meta) == 0 {
		body = append(body, 0)
	} else {
		body = append(body, 2)
		body = binary.BigEndian.AppendUint16(body, uint16(len(b.meta)))
		positions := make([]uint16, 0, len(b.meta))
		for pos := range b.meta {
			positions = append(positions, pos)
		}
		slices.Sort(positions)
		for _, pos := range positions {
			m := b.meta[pos]
			body = binary.BigEndian.AppendUint16(body, pos)
			body = binary.BigEndian.AppendUint32(body, uint32(len(m.fields)))
			for _, f := range m.fields {
				body = binary.BigEndian.AppendUint16(body, uint16(len(f[0])))
				body = append(body, f[0]...)
				body = binary.BigEndian.AppendUint32(body, uint32(len(f[1])))
				body = append(body, f[1]...)
				private := byte(0)
				if m.private[f[0]] {
					private = 1
				}
				body = append(body, private)
			}
			body = append(body, m.inventory...)
			body = append(body, endInventory...)
		}
	}
	body = append(body, b.objects...)
	body = append(body, b.timers...)

	compressed, err := compression.Deflate(compression.Zstd, body)
	if err != nil {
		return nil, err
	}
	return append([]byte{BlockVersion}, compressed...), nil
}

// nodeIndex returns the index of the node at x, y, z within a mapblock.
func nodeIndex(x, y, z int) int { return z<<8 | y<<4 | x }
