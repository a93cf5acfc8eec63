package worldstore

import (
	"errors"
	"fmt"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/internal/errs"
)

// Provider implements a world storage format. A World calls a Provider from one goroutine at a
// time.
type Provider interface {
	// Name returns the name of the format, such as "anvil".
	Name() string
	// Range returns the vertical range of chunks in a dimension.
	Range(dim chunk.Dimension) chunk.Range
	// Empty returns the block that fills chunks that do not exist yet.
	Empty() chunk.BlockRef

	// Resolve returns where the chunk at pos in dim is stored. It returns an error matching
	// chunk.ErrUnsupportedDimension for dimensions the format cannot store.
	Resolve(dim chunk.Dimension, pos chunk.Pos) (chunk.Locator, error)
	// Read returns the payloads stored for a chunk as they are stored, still compressed with
	// their Scheme. The bool returned is false if the chunk does not exist.
	Read(loc chunk.Locator) (chunk.Payloads, bool, error)
	// Write replaces the stored chunk with the compressed payloads passed.
	Write(loc chunk.Locator, p chunk.Payloads) error
	// Delete removes a stored chunk. Deleting a chunk that does not exist is not an error.
	Delete(loc chunk.Locator) error
	// Positions returns the positions of all chunks stored in a dimension, in no particular
	// order.
	Positions(dim chunk.Dimension) ([]chunk.Pos, error)

	// Decode builds a chunk from decompressed payloads. The chunk returned is not dirty.
	Decode(loc chunk.Locator, p chunk.Payloads) (*chunk.Chunk, error)
	// Encode serialises a chunk into uncompressed payloads. The Scheme of every payload is the
	// scheme it should be stored with.
	Encode(loc chunk.Locator, c *chunk.Chunk) (chunk.Payloads, error)

	// Flush makes all writes durable.
	Flush() error
	// Close flushes and releases the storage.
	Close() error
}

// ChunkFlusher is implemented by providers that keep part of a write in memory until Flush,
// such as the index of a region file. A World calls FlushChunk after writing a chunk that is
// flushed or evicted on its own, so that the chunk survives without a full Flush.
type ChunkFlusher interface {
	// FlushChunk makes the last Write or Delete of the chunk at loc durable.
	FlushChunk(loc chunk.Locator) error
}

var (
	// ErrFormat is matched by all errors reporting malformed stored data.
	ErrFormat = errs.ErrFormat
	// ErrClosed is returned when a closed World is used.
	ErrClosed = errors.New("world closed")
	// ErrOutOfRange is returned for block positions outside of the vertical range of their
	// dimension.
	ErrOutOfRange = errors.New("block position out of range")
)

// ChunkLoadError is returned when a chunk could not be read from its provider. A chunk that
// failed to load is not cached, so loading it again retries the read.
type ChunkLoadError struct {
	Dim chunk.Dimension
	Pos chunk.Pos
	Err error
}

// Error ...
func (e *ChunkLoadError) Error() string {
	return fmt.Sprintf("load chunk %v in %v: %v", e.Pos, e.Dim, e.Err)
}

// Unwrap ...
func (e *ChunkLoadError) Unwrap() error { return e.Err }
