package kv

import (
	"encoding/binary"

	"github.com/cqdetdev/worldstore/chunk"
)

// Kind is the byte in a chunk key that identifies the kind of data stored under it.
type Kind byte

// Kinds of per-chunk data in a Bedrock world database.
const (
	KindData3D         Kind = '+'
	KindVersion        Kind = ','
	KindData2D         Kind = '-'
	KindSubChunk       Kind = '/'
	KindBlockEntities  Kind = '1'
	KindEntities       Kind = '2'
	KindPendingTicks   Kind = '3'
	KindFinalisation   Kind = '6'
	KindBiomeState     Kind = '5'
	KindChecksums      Kind = ';'
	KindLegacyVersion  Kind = 'v'
	KindRandomTicks    Kind = ':'
	KindBlendingData   Kind = '@'
	KindActorDigestKey Kind = '\xfe'
)

// ChunkKey returns the key of the data of a kind for the chunk at pos. The key holds the x and
// z coordinates as little-endian int32s, the dimension as a little-endian int32 unless it is
// the overworld, and the kind byte.
func ChunkKey(dim chunk.Dimension, pos chunk.Pos, kind Kind) []byte {
	b := make([]byte, 0, 14)
	b = binary.LittleEndian.AppendUint32(b, uint32(pos[0]))
	b = binary.LittleEndian.AppendUint32(b, uint32(pos[1]))
	if dim != chunk.Overworld {
		b = binary.LittleEndian.AppendUint32(b, uint32(dim))
	}
	return append(b, byte(kind))
}

// SubChunkKey returns the key of the sub-chunk with the vertical index passed.
func SubChunkKey(dim chunk.Dimension, pos chunk.Pos, index int8) []byte {
	return append(ChunkKey(dim, pos, KindSubChunk), byte(index))
}

// KeyInfo is the parsed form of a chunk key.
type KeyInfo struct {
	Dim   chunk.Dimension
	Pos   chunk.Pos
	Kind  Kind
	Index int8
	// HasIndex is set for sub-chunk keys, which end with a vertical index.
	HasIndex bool
}

// ParseChunkKey parses a key produced by ChunkKey or SubChunkKey. Keys of other lengths, such
// as the string keys Bedrock stores world data under, are reported with ok set to false.
func ParseChunkKey(key []byte) (info KeyInfo, ok bool) {
	switch len(key) {
	case 9, 10, 13, 14:
	default:
		return KeyInfo{}, false
	}
	info.Pos = chunk.Pos{int32(binary.LittleEndian.Uint32(key)), int32(binary.LittleEndian.Uint32(key[4:]))}
	rest := key[8:]
	if len(rest) >= 5 {
		info.Dim = chunk.Dimension(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
		if info.Dim == chunk.Overworld {
			// The overworld never has its dimension written.
			return KeyInfo{}, false
		}
	}
	info.Kind = Kind(rest[0])
	if len(rest) == 2 {
		if info.Kind != KindSubChunk {
			return KeyInfo{}, false
		}
		info.Index, info.HasIndex = int8(rest[1]), true
	}
	return info, true
}
