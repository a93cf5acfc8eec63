package nbt

import (
	"encoding/binary"
	"fmt"

	"github.com/cqdetdev/worldstore/internal/errs"
)

// Encoding is a byte layout of the tag format. The zero value is not usable; use BigEndian or
// LittleEndian.
type Encoding struct {
	name  string
	order interface {
		binary.ByteOrder
		binary.AppendByteOrder
	}
	// mutf8 is set if strings are stored as Java's modified UTF-8.
	mutf8 bool
}

var (
	// BigEndian is the layout used by Java edition files: region payloads, level.dat and
	// friends. Strings are written as modified UTF-8.
	BigEndian = Encoding{name: "big-endian", order: binary.BigEndian, mutf8: true}
	// LittleEndian is the layout Bedrock edition uses on disk. Strings are plain UTF-8.
	LittleEndian = Encoding{name: "little-endian", order: binary.LittleEndian}
)

// String ...
func (e Encoding) String() string { return e.name }

// DefaultMaxDepth is the nesting limit applied by a Decoder unless configured otherwise. It
// matches the limit the game itself enforces.
const DefaultMaxDepth = 512

var (
	// ErrUnexpectedEOF is returned when the data ends in the middle of a tag.
	ErrUnexpectedEOF = fmt.Errorf("%w: unexpected end of tag data", errs.ErrFormat)
	// ErrUnknownTagID is returned for a type byte outside of the known tag types.
	ErrUnknownTagID = fmt.Errorf("%w: unknown tag id", errs.ErrFormat)
	// ErrNestingTooDeep is returned when lists and compounds are nested deeper than the
	// configured limit.
	ErrNestingTooDeep = fmt.Errorf("%w: tags nested too deep", errs.ErrFormat)
	// ErrInvalidString is returned for string bytes that are not valid in the encoding used.
	ErrInvalidString = fmt.Errorf("%w: invalid string encoding", errs.ErrFormat)
)
