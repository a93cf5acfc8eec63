package nbt

import "fmt"

// TagID is the one-byte type identifier written in front of every tag.
type TagID byte

const (
	TagEnd TagID = iota
	TagByte
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagByteArray
	TagString
	TagList
	TagCompound
	TagIntArray
	TagLongArray
)

var tagNames = [...]string{
	TagEnd:       "End",
	TagByte:      "Byte",
	TagShort:     "Short",
	TagInt:       "Int",
	TagLong:      "Long",
	TagFloat:     "Float",
	TagDouble:    "Double",
	TagByteArray: "ByteArray",
	TagString:    "String",
	TagList:      "List",
	TagCompound:  "Compound",
	TagIntArray:  "IntArray",
	TagLongArray: "LongArray",
}

// String ...
func (id TagID) String() string {
	if int(id) < len(tagNames) {
		return tagNames[id]
	}
	return fmt.Sprintf("TagID(%d)", byte(id))
}

// valid reports if id is a tag type the codec knows about.
func (id TagID) valid() bool {
	return id <= TagLongArray
}

// Tag is a single value of the tagged binary format. It is implemented by End, Byte, Short,
// Int, Long, Float, Double, ByteArray, String, *List, *Compound, IntArray and LongArray.
type Tag interface {
	ID() TagID
}

type (
	// End is the marker terminating a compound. It only appears as a value when a root tag
	// is empty.
	End struct{}
	// Byte is a signed 8-bit integer.
	Byte int8
	// Short is a signed 16-bit integer.
	Short int16
	// Int is a signed 32-bit integer.
	Int int32
	// Long is a signed 64-bit integer.
	Long int64
	// Float is a 32-bit IEEE 754 floating point number.
	Float float32
	// Double is a 64-bit IEEE 754 floating point number.
	Double float64
	// ByteArray is a length-prefixed array of raw bytes.
	ByteArray []byte
	// String is a length-prefixed string. Its bytes are written as modified UTF-8 with the
	// BigEndian encoding and as UTF-8 with LittleEndian.
	String string
	// IntArray is a length-prefixed array of signed 32-bit integers.
	IntArray []int32
	// LongArray is a length-prefixed array of signed 64-bit integers.
	LongArray []int64
)

func (End) ID() TagID       { return TagEnd }
func (Byte) ID() TagID      { return TagByte }
func (Short) ID() TagID     { return TagShort }
func (Int) ID() TagID       { return TagInt }
func (Long) ID() TagID      { return TagLong }
func (Float) ID() TagID     { return TagFloat }
func (Double) ID() TagID    { return TagDouble }
func (ByteArray) ID() TagID { return TagByteArray }
func (String) ID() TagID    { return TagString }
func (IntArray) ID() TagID  { return TagIntArray }
func (LongArray) ID() TagID { return TagLongArray }

// List is a homogeneous sequence of tags. Elem is written even when the list is empty, so an
// empty list of compounds and an empty list of ints encode differently.
type List struct {
	Elem  TagID
	Items []Tag
}

// NewList returns a list holding the items passed. The element type is taken from the first
// item, or TagEnd if there are none.
func NewList(items ...Tag) *List {
	l := &List{Elem: TagEnd, Items: items}
	if len(items) > 0 {
		l.Elem = items[0].ID()
	}
	return l
}

// ID ...
func (*List) ID() TagID { return TagList }

// Len returns the number of items in the list.
func (l *List) Len() int { return len(l.Items) }

// Append adds a tag to the end of the list. If the list is still untyped (TagEnd), it takes on
// the type of t.
func (l *List) Append(t Tag) {
	if l.Elem == TagEnd && len(l.Items) == 0 {
		l.Elem = t.ID()
	}
	l.Items = append(l.Items, t)
}
