package region

import (
	"encoding/binary"
	"fmt"
	"time"
)

// location is a header entry: the sector offset in the upper 24 bits and the sector count in
// the lower 8. Zero means the chunk is absent.
type location uint32

func makeLocation(s Span) location { return location(s.Start<<8 | s.Count&0xff) }

func (l location) span() Span {
	return Span{Start: uint32(l) >> 8, Count: uint32(l) & 0xff}
}

// index is the in-memory copy of a region file header.
type index struct {
	locations  [Chunks]location
	timestamps [Chunks]uint32
}

// indexOf returns the header slot of the chunk at region-local x, z.
func indexOf(x, z int) int {
	if uint(x) >= Width || uint(z) >= Width {
		panic(fmt.Sprintf("region: local chunk position %d,%d out of range", x, z))
	}
	return x + z*Width
}

func (idx *index) decode(b []byte) {
	for i := range Chunks {
		idx.locations[i] = location(binary.BigEndian.Uint32(b[i*4:]))
		idx.timestamps[i] = binary.BigEndian.Uint32(b[SectorSize+i*4:])
	}
}

func (idx *index) encode() []byte {
	b := make([]byte, HeaderSize)
	for i := range Chunks {
		binary.BigEndian.PutUint32(b[i*4:], uint32(idx.locations[i]))
		binary.BigEndian.PutUint32(b[SectorSize+i*4:], idx.timestamps[i])
	}
	return b
}

// Entry describes a live chunk in a region file.
type Entry struct {
	// X and Z are the region-local chunk coordinates, in [0, 32).
	X, Z int
	// Sectors is the span of sectors holding the payload.
	Sectors Span
	// Modified is the last-modified time recorded in the header.
	Modified time.Time
}
