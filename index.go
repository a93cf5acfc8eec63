package worldstore

import (
	"cmp"
	"slices"

	"github.com/cqdetdev/worldstore/chunk"
)

// mortonEncode encodes 2D chunk coordinates into a Z-order (Morton) code, so that chunks close
// to each other are usually close in the order of their codes.
//
// The Morton code interleaves the bits of X and Z coordinates:
//
//	X: 0b1010 -> bits at positions 0, 2, 4, 6
//	Z: 0b1100 -> bits at positions 1, 3, 5, 7
func mortonEncode(pos chunk.Pos) uint64 {
	return spread(uint32(pos[0])) | spread(uint32(pos[1]))<<1
}

// spread moves bit i of v to bit 2i.
func spread(v uint32) uint64 {
	u := uint64(v)
	u = (u | u<<16) & 0x0000FFFF0000FFFF
	u = (u | u<<8) & 0x00FF00FF00FF00FF
	u = (u | u<<4) & 0x0F0F0F0F0F0F0F0F
	u = (u | u<<2) & 0x3333333333333333
	u = (u | u<<1) & 0x5555555555555555
	return u
}

// sortMorton sorts chunk positions by their Morton code. Coordinates are compared as unsigned
// values, so negative coordinates sort after positive ones.
func sortMorton(positions []chunk.Pos) {
	slices.SortFunc(positions, func(a, b chunk.Pos) int {
		return cmp.Compare(mortonEncode(a), mortonEncode(b))
	})
}
