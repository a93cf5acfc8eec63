package nbt

import (
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// Marshal encodes t as a named root tag using the encoding passed. Encoding the same tag twice
// always yields the same bytes.
func Marshal(enc Encoding, name string, t Tag) ([]byte, error) {
	return AppendTag(nil, enc, name, t)
}

// AppendTag is like Marshal, but appends the encoded root tag to b.
func AppendTag(b []byte, enc Encoding, name string, t Tag) ([]byte, error) {
	if t == nil {
		return b, errors.New("encode nbt: nil tag")
	}
	e := encoder{enc: enc, buf: b}
	e.buf = append(e.buf, byte(t.ID()))
	if t.ID() == TagEnd {
		return e.buf, nil
	}
	if err := e.writeString(name); err != nil {
		return b, fmt.Errorf("encode nbt: root name: %w", err)
	}
	if err := e.writePayload(t); err != nil {
		return b, fmt.Errorf("encode nbt: %w", err)
	}
	return e.buf, nil
}

// Encoder writes root tags to an io.Writer.
type Encoder struct {
	w   io.Writer
	enc Encoding
	buf []byte
}

// NewEncoder returns an Encoder writing to w using the encoding passed.
func NewEncoder(w io.Writer, enc Encoding) *Encoder {
	return &Encoder{w: w, enc: enc}
}

// Encode writes t as a root tag with the name passed.
func (e *Encoder) Encode(name string, t Tag) error {
	var err error
	if e.buf, err = AppendTag(e.buf[:0], e.enc, name, t); err != nil {
		return err
	}
	_, err = e.w.Write(e.buf)
	return err
}

type encoder struct {
	enc Encoding
	buf []byte
}

func (e *encoder) writePayload(t Tag) error {
	order := e.enc.order
	switch v := t.(type) {
	case End:
	case Byte:
		e.buf = append(e.buf, byte(v))
	case Short:
		e.buf = order.AppendUint16(e.buf, uint16(v))
	case Int:
		e.buf = order.AppendUint32(e.buf, uint32(v))
	case Long:
		e.buf = order.AppendUint64(e.buf, uint64(v))
	case Float:
		e.buf = order.AppendUint32(e.buf, math.Float32bits(float32(v)))
	case Double:
		e.buf = order.AppendUint64(e.buf, math.Float64bits(float64(v)))
	case ByteArray:
		if err := e.writeLen(len(v)); err != nil {
			return err
		}
		e.buf = append(e.buf, v...)
	case String:
		return e.writeString(string(v))
	case IntArray:
		if err := e.writeLen(len(v)); err != nil {
			return err
		}
		for _, n := range v {
			e.buf = order.AppendUint32(e.buf, uint32(n))
		}
	case LongArray:
		if err := e.writeLen(len(v)); err != nil {
			return err
		}
		for _, n := range v {
			e.buf = order.AppendUint64(e.buf, uint64(n))
		}
	case *List:
		return e.writeList(v)
	case *Compound:
		return e.writeCompound(v)
	default:
		return fmt.Errorf("unsupported tag type %T", t)
	}
	return nil
}

func (e *encoder) writeList(l *List) error {
	if l == nil {
		return errors.New("nil list")
	}
	elem := l.Elem
	if len(l.Items) > 0 && elem == TagEnd {
		return errors.New("list of End tags must be empty")
	}
	if !elem.valid() {
		return fmt.Errorf("list element type %v: %w", elem, ErrUnknownTagID)
	}
	e.buf = append(e.buf, byte(elem))
	if err := e.writeLen(len(l.Items)); err != nil {
		return err
	}
	for i, item := range l.Items {
		if item == nil || item.ID() != elem {
			return fmt.Errorf("list item %d is %T, list holds %v", i, item, elem)
		}
		if err := e.writePayload(item); err != nil {
			return fmt.Errorf("list item %d: %w", i, err)
		}
	}
	return nil
}

func (e *encoder) writeCompound(c *Compound) error {
	if c == nil {
		return errors.New("nil compound")
	}
	for name, t := range c.All() {
		if t == nil || t.ID() == TagEnd {
			return fmt.Errorf("compound entry %q: cannot store %T", name, t)
		}
		e.buf = append(e.buf, byte(t.ID()))
		if err := e.writeString(name); err != nil {
			return fmt.Errorf("compound entry name: %w", err)
		}
		if err := e.writePayload(t); err != nil {
			return fmt.Errorf("compound entry %q: %w", name, err)
		}
	}
	e.buf = append(e.buf, byte(TagEnd))
	return nil
}

func (e *encoder) writeLen(n int) error {
	if n > math.MaxInt32 {
		return fmt.Errorf("length %d does not fit in 32 bits", n)
	}
	e.buf = e.enc.order.AppendUint32(e.buf, uint32(n))
	return nil
}

func (e *encoder) writeString(s string) error {
	// Reserve the length prefix and fill it in once the encoded size is known.
	at := len(e.buf)
	e.buf = append(e.buf, 0, 0)
	if e.enc.mutf8 {
		var ok bool
		if e.buf, ok = appendMUTF8(e.buf, s); !ok {
			return ErrInvalidString
		}
	} else {
		if !utf8.ValidString(s) {
			return ErrInvalidString
		}
		e.buf = append(e.buf, s...)
	}
	n := len(e.buf) - at - 2
	if n > math.MaxUint16 {
		return fmt.Errorf("string of %d bytes is too long", n)
	}
	e.enc.order.PutUint16(e.buf[at:], uint16(n))
	return nil
}
