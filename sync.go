package worldstore

import (
	"sync"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/nbt"
)

// Sync wraps a World with a mutex so that it may be used by multiple goroutines. All calls are
// serialised, including the provider I/O they cause.
type Sync struct {
	mu sync.Mutex
	w  *World
}

// NewSync returns a Sync wrapping w. w must not be used directly afterwards.
func NewSync(w *World) *Sync {
	return &Sync{w: w}
}

// Block ...
func (s *Sync) Block(dim chunk.Dimension, pos chunk.BlockPos) (chunk.BlockRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Block(dim, pos)
}

// SetBlock ...
func (s *Sync) SetBlock(dim chunk.Dimension, pos chunk.BlockPos, b chunk.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.SetBlock(dim, pos, b)
}

// Metadata returns a copy of the metadata of the block at pos in dim.
func (s *Sync) Metadata(dim chunk.Dimension, pos chunk.BlockPos) (*nbt.Compound, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok, err := s.w.Metadata(dim, pos)
	if m != nil {
		m = m.Clone()
	}
	return m, ok, err
}

// SetMetadata ...
func (s *Sync) SetMetadata(dim chunk.Dimension, pos chunk.BlockPos, m *nbt.Compound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.SetMetadata(dim, pos, m)
}

// RemoveMetadata ...
func (s *Sync) RemoveMetadata(dim chunk.Dimension, pos chunk.BlockPos) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.RemoveMetadata(dim, pos)
}

// View loads the chunk at pos in dim and calls fn with it while holding the lock. exists
// reports if the chunk is stored by the provider.
func (s *Sync) View(dim chunk.Dimension, pos chunk.Pos, fn func(c *chunk.Chunk, exists bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.w.entry(chunkKey{dim: dim, pos: pos})
	if err != nil {
		return err
	}
	fn(e.c, e.exists)
	return nil
}

// FlushChunk ...
func (s *Sync) FlushChunk(dim chunk.Dimension, pos chunk.Pos) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.FlushChunk(dim, pos)
}

// FlushAll ...
func (s *Sync) FlushAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.FlushAll()
}

// Stats ...
func (s *Sync) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Stats()
}

// LogStats ...
func (s *Sync) LogStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.LogStats()
}

// Close ...
func (s *Sync) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
