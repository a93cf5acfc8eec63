package nbt

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/cqdetdev/worldstore/internal/errs"
)

// Unmarshal decodes a single root tag from data. All bytes of data must be consumed by the tag.
func Unmarshal(enc Encoding, data []byte) (string, Tag, error) {
	d := NewDecoder(data, enc)
	name, t, err := d.Decode()
	if err != nil {
		return "", nil, err
	}
	if d.More() {
		return "", nil, errs.Format("nbt: %d trailing bytes after root tag", d.Remaining())
	}
	return name, t, nil
}

// UnmarshalCompound decodes a single root tag from data and requires it to be a compound.
func UnmarshalCompound(enc Encoding, data []byte) (*Compound, error) {
	_, t, err := Unmarshal(enc, data)
	if err != nil {
		return nil, err
	}
	c, ok := t.(*Compound)
	if !ok {
		return nil, errs.Format("nbt: root tag is %v, expected Compound", t.ID())
	}
	return c, nil
}

// Decoder reads a sequence of root tags from a byte slice. Bedrock stores block entities as
// root compounds written back to back, which a Decoder reads one at a time.
type Decoder struct {
	// MaxDepth is the maximum nesting depth of lists and compounds. Values <= 0 mean
	// DefaultMaxDepth.
	MaxDepth int

	enc  Encoding
	data []byte
	off  int
}

// NewDecoder returns a Decoder reading tags from data.
func NewDecoder(data []byte, enc Encoding) *Decoder {
	return &Decoder{enc: enc, data: data}
}

// More reports if there are bytes left to decode.
func (d *Decoder) More() bool { return d.off < len(d.data) }

// Remaining returns the number of bytes not yet consumed.
func (d *Decoder) Remaining() int { return len(d.data) - d.off }

// Decode reads the next root tag and returns its name. A lone End byte decodes as End{} with an
// empty name. On error, the Decoder does not advance.
func (d *Decoder) Decode() (name string, t Tag, err error) {
	start := d.off
	defer func() {
		if err != nil {
			d.off = start
			err = fmt.Errorf("decode nbt (%v) at offset %d: %w", d.enc, start, err)
		}
	}()
	id, err := d.readID()
	if err != nil {
		return "", nil, err
	}
	if id == TagEnd {
		return "", End{}, nil
	}
	if name, err = d.readString(); err != nil {
		return "", nil, err
	}
	t, err = d.readPayload(id, 0)
	return name, t, err
}

func (d *Decoder) maxDepth() int {
	if d.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return d.MaxDepth
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || n > len(d.data)-d.off {
		return nil, ErrUnexpectedEOF
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) readID() (TagID, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	id := TagID(b[0])
	if !id.valid() {
		return 0, fmt.Errorf("%w %d", ErrUnknownTagID, b[0])
	}
	return id, nil
}

// readLen reads a 32-bit length prefix and checks that n elements of at least elemSize bytes
// each can still be present in the remaining data.
func (d *Decoder) readLen(elemSize int) (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	n := int32(d.enc.order.Uint32(b))
	if n < 0 {
		return 0, errs.Format("negative length %d", n)
	}
	if elemSize > 0 && int64(n)*int64(elemSize) > int64(d.Remaining()) {
		return 0, ErrUnexpectedEOF
	}
	return int(n), nil
}

func (d *Decoder) readString() (string, error) {
	b, err := d.take(2)
	if err != nil {
		return "", err
	}
	if b, err = d.take(int(d.enc.order.Uint16(b))); err != nil {
		return "", err
	}
	if d.enc.mutf8 {
		s, ok := decodeMUTF8(b)
		if !ok {
			return "", ErrInvalidString
		}
		return s, nil
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidString
	}
	return string(b), nil
}

// minPayloadSize is the smallest number of bytes the payload of a tag with the ID passed may
// occupy.
var minPayloadSize = [...]int{
	TagEnd:       0,
	TagByte:      1,
	TagShort:     2,
	TagInt:       4,
	TagLong:      8,
	TagFloat:     4,
	TagDouble:    8,
	TagByteArray: 4,
	TagString:    2,
	TagList:      5,
	TagCompound:  1,
	TagIntArray:  4,
	TagLongArray: 4,
}

func (d *Decoder) readPayload(id TagID, depth int) (Tag, error) {
	order := d.enc.order
	switch id {
	case TagByte:
		b, err := d.take(1)
		if err != nil {
			return nil, err
		}
		return Byte(b[0]), nil
	case TagShort:
		b, err := d.take(2)
		if err != nil {
			return nil, err
		}
		return Short(order.Uint16(b)), nil
	case TagInt:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return Int(order.Uint32(b)), nil
	case TagLong:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return Long(order.Uint64(b)), nil
	case TagFloat:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return Float(math.Float32frombits(order.Uint32(b))), nil
	case TagDouble:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return Double(math.Float64frombits(order.Uint64(b))), nil
	case TagByteArray:
		n, err := d.readLen(1)
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return ByteArray(append([]byte(nil), b...)), nil
	case TagString:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case TagIntArray:
		n, err := d.readLen(4)
		if err != nil {
			return nil, err
		}
		v := make(IntArray, n)
		for i := range v {
			b, _ := d.take(4)
			v[i] = int32(order.Uint32(b))
		}
		return v, nil
	case TagLongArray:
		n, err := d.readLen(8)
		if err != nil {
			return nil, err
		}
		v := make(LongArray, n)
		for i := range v {
			b, _ := d.take(8)
			v[i] = int64(order.Uint64(b))
		}
		return v, nil
	case TagList:
		if depth+1 > d.maxDepth() {
			return nil, ErrNestingTooDeep
		}
		elem, err := d.readID()
		if err != nil {
			return nil, err
		}
		n, err := d.readLen(minPayloadSize[elem])
		if err != nil {
			return nil, err
		}
		if elem == TagEnd && n > 0 {
			return nil, errs.Format("list of %d End tags", n)
		}
		l := &List{Elem: elem, Items: make([]Tag, 0, n)}
		for i := 0; i < n; i++ {
			t, err := d.readPayload(elem, depth+1)
			if err != nil {
				return nil, err
			}
			l.Items = append(l.Items, t)
		}
		return l, nil
	case TagCompound:
		if depth+1 > d.maxDepth() {
			return nil, ErrNestingTooDeep
		}
		c := NewCompound()
		for {
			id, err := d.readID()
			if err != nil {
				return nil, err
			}
			if id == TagEnd {
				return c, nil
			}
			name, err := d.readString()
			if err != nil {
				return nil, err
			}
			t, err := d.readPayload(id, depth+1)
			if err != nil {
				return nil, err
			}
			c.Set(name, t)
		}
	}
	return nil, fmt.Errorf("%w %d", ErrUnknownTagID, byte(id))
}
