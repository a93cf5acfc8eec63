package worldstore

import (
	"fmt"

	"github.com/cqdetdev/worldstore/chunk"
)

// ChunkIterator iterates over the chunks stored by a World's provider, one dimension after
// another and in Morton order within a dimension. Chunks are loaded through the World's cache.
//
// When an error is encountered, any call to Next will return false and will yield no more
// chunks. The error can be queried by calling the Error method. Calling Release is still
// necessary.
//
// An iterator must be released after use, but it is not necessary to read an iterator until
// exhaustion.
type ChunkIterator struct {
	w       *World
	keys    []chunkKey
	current int
	err     error
	h       *ChunkHandle
}

// NewChunkIterator returns an iterator over the chunks within r. A nil r iterates over all
// chunks.
func (w *World) NewChunkIterator(r *IteratorRange) *ChunkIterator {
	if r == nil {
		r = &IteratorRange{}
	}
	iter := &ChunkIterator{w: w, current: -1}
	if w.closed {
		iter.err = ErrClosed
		return iter
	}
	dims := r.Dimensions
	if len(dims) == 0 {
		dims = []chunk.Dimension{chunk.Overworld, chunk.Nether, chunk.End}
	}
	for _, dim := range dims {
		positions, err := w.p.Positions(dim)
		if err != nil {
			iter.err = fmt.Errorf("list chunks in %v: %w", dim, err)
			return iter
		}
		sortMorton(positions)
		for _, pos := range positions {
			if r.within(pos) {
				iter.keys = append(iter.keys, chunkKey{dim: dim, pos: pos})
			}
		}
	}
	return iter
}

// Next moves the iterator to the next chunk. It returns false if the iterator is exhausted.
func (iter *ChunkIterator) Next() bool {
	if iter.err != nil {
		return false
	}
	iter.current++
	if iter.current >= len(iter.keys) {
		iter.h = nil
		return false
	}
	key := iter.keys[iter.current]
	iter.h, iter.err = iter.w.Chunk(key.dim, key.pos)
	return iter.err == nil
}

// Chunk returns a handle to the current chunk, or nil if none.
func (iter *ChunkIterator) Chunk() *ChunkHandle {
	return iter.h
}

// Len returns the total number of chunks the iterator visits.
func (iter *ChunkIterator) Len() int {
	return len(iter.keys)
}

// Release releases resources associated with the iterator.
func (iter *ChunkIterator) Release() {
	iter.keys = nil
	iter.h = nil
}

// Error returns any accumulated error.
func (iter *ChunkIterator) Error() error {
	return iter.err
}

// IteratorRange limits what chunks are returned by a ChunkIterator.
type IteratorRange struct {
	// Min and Max limit what chunk positions are returned, Min inclusive and Max exclusive.
	// A zero value for both causes all positions to be within range.
	Min, Max chunk.Pos
	// Dimensions specifies what dimensions chunks should be from. If empty, the overworld,
	// nether and end are included.
	Dimensions []chunk.Dimension
}

// within checks if a position is within the IteratorRange.
func (r *IteratorRange) within(pos chunk.Pos) bool {
	return ((r.Min == chunk.Pos{}) && (r.Max == chunk.Pos{})) ||
		pos[0] >= r.Min[0] && pos[0] < r.Max[0] && pos[1] >= r.Min[1] && pos[1] < r.Max[1]
}
