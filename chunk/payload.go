package chunk

import (
	"errors"

	"github.com/cqdetdev/worldstore/compression"
)

// Locator is the resolved storage location of a chunk. Dim and Pos are always set; Region
// and Local are filled in by formats that group chunks in region files.
type Locator struct {
	Dim Dimension
	Pos Pos

	Region [2]int32
	Local  [2]int
}

// Payload is a single stored blob of chunk data. Formats that store a chunk as one blob use
// a single payload with an empty Key; key-value formats store one payload per key.
type Payload struct {
	Key    []byte
	Scheme compression.Scheme
	Data   []byte
}

// Payloads is a list of payloads making up one chunk.
type Payloads []Payload

// Get returns the payload stored under key.
func (p Payloads) Get(key []byte) (Payload, bool) {
	for _, pl := range p {
		if string(pl.Key) == string(key) {
			return pl, true
		}
	}
	return Payload{}, false
}

// Size returns the total length of the data of all payloads.
func (p Payloads) Size() (n int) {
	for _, pl := range p {
		n += len(pl.Data)
	}
	return n
}

// ErrUnsupportedDimension is returned by formats for dimensions they cannot store.
var ErrUnsupportedDimension = errors.New("unsupported dimension")
