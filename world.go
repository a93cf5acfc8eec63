package worldstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/nbt"
	"github.com/google/uuid"
)

// World provides access to the chunks of a world stored by a Provider. Chunks are loaded on
// first use and kept in an LRU cache; changes are written back to the provider when a chunk is
// flushed or evicted, and when the World is closed.
//
// A World is not safe for concurrent use. Use Sync to share one between goroutines.
type World struct {
	conf  Config
	log   *slog.Logger
	id    uuid.UUID
	p     Provider
	cache *chunkCache

	closed bool
	stats  Stats
}

func newWorld(conf Config, id uuid.UUID, p Provider) *World {
	return &World{
		conf:  conf,
		log:   conf.Options.Log,
		id:    id,
		p:     p,
		cache: newChunkCache(conf.Options.CacheCapacity),
	}
}

// ID returns the random identifier of this World handle, which is also attached to all of its
// log messages.
func (w *World) ID() uuid.UUID { return w.id }

// Provider returns the provider the World reads from and writes to.
func (w *World) Provider() Provider { return w.p }

// Range returns the vertical range of a dimension.
func (w *World) Range(dim chunk.Dimension) chunk.Range { return w.p.Range(dim) }

// Chunk returns a handle to the chunk at pos in dim, loading the chunk if it is not cached. If
// the chunk is not stored yet, the handle refers to an empty chunk and its Exists method
// returns false. Errors reading or decoding the chunk are returned as *ChunkLoadError.
func (w *World) Chunk(dim chunk.Dimension, pos chunk.Pos) (*ChunkHandle, error) {
	e, err := w.entry(chunkKey{dim: dim, pos: pos})
	if err != nil {
		return nil, err
	}
	return &ChunkHandle{w: w, key: e.key}, nil
}

// entry returns the cache entry of a chunk, loading it if needed.
func (w *World) entry(key chunkKey) (*cacheEntry, error) {
	if w.closed {
		return nil, ErrClosed
	}
	if e := w.cache.get(key); e != nil {
		return e, nil
	}
	e, err := w.load(key)
	if err != nil {
		return nil, &ChunkLoadError{Dim: key.dim, Pos: key.pos, Err: err}
	}
	w.makeRoom()
	w.cache.put(e)
	return e, nil
}

// load reads and decodes a chunk from the provider.
func (w *World) load(key chunkKey) (*cacheEntry, error) {
	loc, err := w.p.Resolve(key.dim, key.pos)
	if err != nil {
		return nil, err
	}
	payloads, exists, err := w.p.Read(loc)
	if err != nil {
		return nil, err
	}
	w.stats.ChunkReads++
	if !exists {
		return &cacheEntry{key: key, loc: loc, c: chunk.New(w.p.Range(key.dim), w.p.Empty())}, nil
	}

	start := time.Now()
	defer func() { w.stats.CodecTime += time.Since(start) }()
	if payloads, err = inflate(payloads, w.conf.Options.MaxPayloadSize); err != nil {
		return nil, err
	}
	c, err := w.p.Decode(loc, payloads)
	if err != nil {
		return nil, err
	}
	c.MarkClean()
	return &cacheEntry{key: key, loc: loc, c: c, exists: true}, nil
}

// makeRoom evicts entries until another one fits in the cache. Dirty entries are flushed
// before they are evicted. An entry that fails to flush stays cached, in which case the cache
// temporarily holds more entries than its capacity.
func (w *World) makeRoom() {
	for w.cache.full() {
		v := w.cache.victim()
		if v == nil {
			return
		}
		if v.c.Dirty() {
			if err := w.flush(v, true); err != nil {
				w.stats.FlushErrors++
				w.log.Error("Could not flush chunk selected for eviction, keeping it cached.", "dim", v.key.dim, "pos", v.key.pos, "error", err)
				return
			}
		}
		w.cache.remove(v.key)
		w.stats.Evictions++
		w.log.Debug("Evicted chunk from cache.", "dim", v.key.dim, "pos", v.key.pos)
	}
}

// flush encodes and writes a dirty chunk and marks it clean. If commit is set and the provider
// implements ChunkFlusher, the write is also made durable.
func (w *World) flush(e *cacheEntry, commit bool) error {
	start := time.Now()
	payloads, err := w.p.Encode(e.loc, e.c)
	if err == nil {
		payloads, err = deflate(payloads)
	}
	w.stats.CodecTime += time.Since(start)
	if err != nil {
		return fmt.Errorf("flush chunk %v in %v: %w", e.key.pos, e.key.dim, err)
	}
	if err := w.p.Write(e.loc, payloads); err != nil {
		return fmt.Errorf("flush chunk %v in %v: %w", e.key.pos, e.key.dim, err)
	}
	w.stats.ChunkWrites++
	e.c.MarkClean()
	e.exists = true
	if commit {
		if err := w.commit(e.loc); err != nil {
			return fmt.Errorf("flush chunk %v in %v: %w", e.key.pos, e.key.dim, err)
		}
	}
	return nil
}

// commit makes a write to the chunk at loc durable if the provider supports flushing single
// chunks.
func (w *World) commit(loc chunk.Locator) error {
	if f, ok := w.p.(ChunkFlusher); ok {
		return f.FlushChunk(loc)
	}
	return nil
}

// blockEntry returns the cache entry of the chunk holding pos and the position of the block
// within it.
func (w *World) blockEntry(dim chunk.Dimension, pos chunk.BlockPos) (*cacheEntry, chunk.LocalPos, error) {
	if !w.p.Range(dim).Contains(pos[1]) {
		return nil, chunk.LocalPos{}, fmt.Errorf("block %v in %v: %w", pos, dim, ErrOutOfRange)
	}
	e, err := w.entry(chunkKey{dim: dim, pos: pos.Chunk()})
	if err != nil {
		return nil, chunk.LocalPos{}, err
	}
	return e, pos.Local(), nil
}

// Block returns the block at pos in dim.
func (w *World) Block(dim chunk.Dimension, pos chunk.BlockPos) (chunk.BlockRef, error) {
	e, lp, err := w.blockEntry(dim, pos)
	if err != nil {
		return chunk.BlockRef{}, err
	}
	return e.c.Block(lp[0], lp[1], lp[2]), nil
}

// SetBlock sets the block at pos in dim.
func (w *World) SetBlock(dim chunk.Dimension, pos chunk.BlockPos, b chunk.BlockRef) error {
	e, lp, err := w.blockEntry(dim, pos)
	if err != nil {
		return err
	}
	e.c.SetBlock(lp[0], lp[1], lp[2], b)
	return nil
}

// Metadata returns the metadata of the block at pos in dim. The compound returned must not be
// modified; use SetMetadata to change it.
func (w *World) Metadata(dim chunk.Dimension, pos chunk.BlockPos) (*nbt.Compound, bool, error) {
	e, lp, err := w.blockEntry(dim, pos)
	if err != nil {
		return nil, false, err
	}
	m, ok := e.c.Metadata(lp)
	return m, ok, nil
}

// SetMetadata sets the metadata of the block at pos in dim.
func (w *World) SetMetadata(dim chunk.Dimension, pos chunk.BlockPos, m *nbt.Compound) error {
	e, lp, err := w.blockEntry(dim, pos)
	if err != nil {
		return err
	}
	e.c.SetMetadata(lp, m)
	return nil
}

// RemoveMetadata removes the metadata of the block at pos in dim, if it has any.
func (w *World) RemoveMetadata(dim chunk.Dimension, pos chunk.BlockPos) error {
	e, lp, err := w.blockEntry(dim, pos)
	if err != nil {
		return err
	}
	e.c.RemoveMetadata(lp)
	return nil
}

// FlushChunk writes the chunk at pos in dim to the provider if it is cached and has unsaved
// changes. The chunk can be read by other processes opening the world once FlushChunk returns.
func (w *World) FlushChunk(dim chunk.Dimension, pos chunk.Pos) error {
	if w.closed {
		return ErrClosed
	}
	e := w.cache.peek(chunkKey{dim: dim, pos: pos})
	if e == nil || !e.c.Dirty() {
		return nil
	}
	return w.flush(e, true)
}

// FlushAll writes all chunks with unsaved changes to the provider and flushes the provider.
// Chunks that fail to write stay dirty; all errors are returned joined.
func (w *World) FlushAll() error {
	if w.closed {
		return ErrClosed
	}
	var errs []error
	for _, e := range w.cache.dirty() {
		if err := w.flush(e, false); err != nil {
			w.stats.FlushErrors++
			errs = append(errs, err)
		}
	}
	if err := w.p.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush provider: %w", err))
	}
	return errors.Join(errs...)
}

// LoadArea loads all stored chunks within radius chunks of center, for example to warm the
// cache around a spawn point. Positions without a stored chunk are skipped. If more chunks
// are loaded than the cache holds, handles of evicted chunks load them again on use.
func (w *World) LoadArea(dim chunk.Dimension, center chunk.Pos, radius int) ([]*ChunkHandle, error) {
	var handles []*ChunkHandle
	for dx := -radius; dx <= radius; dx++ {
		for dz := -radius; dz <= radius; dz++ {
			pos := chunk.Pos{center[0] + int32(dx), center[1] + int32(dz)}
			h, err := w.Chunk(dim, pos)
			if err != nil {
				return nil, err
			}
			if h.Exists() {
				handles = append(handles, h)
			}
		}
	}
	return handles, nil
}

// Delete removes the chunk at pos in dim from the provider and the cache, discarding any unsaved
// changes.
func (w *World) Delete(dim chunk.Dimension, pos chunk.Pos) error {
	if w.closed {
		return ErrClosed
	}
	loc, err := w.p.Resolve(dim, pos)
	if err != nil {
		return fmt.Errorf("delete chunk %v in %v: %w", pos, dim, err)
	}
	if err := w.p.Delete(loc); err != nil {
		return fmt.Errorf("delete chunk %v in %v: %w", pos, dim, err)
	}
	if err := w.commit(loc); err != nil {
		return fmt.Errorf("delete chunk %v in %v: %w", pos, dim, err)
	}
	w.cache.remove(chunkKey{dim: dim, pos: pos})
	return nil
}

// Close writes all chunks with unsaved changes and closes the provider. The World and handles
// obtained from it cannot be used after Close, even if it returns an error.
func (w *World) Close() error {
	if w.closed {
		return ErrClosed
	}
	err := w.FlushAll()
	w.closed = true
	w.cache.clear()
	if cerr := w.p.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close provider: %w", cerr))
	}
	return err
}

// Stats holds statistics of a World.
type Stats struct {
	// ChunkReads is the number of chunks read from the provider, ChunkWrites the number of
	// chunks written to it.
	ChunkReads  int64
	ChunkWrites int64
	CacheHits   int64
	CacheMisses int64
	// Evictions counts chunks removed from the cache to make room.
	Evictions int64
	// FlushErrors counts failed writes of dirty chunks.
	FlushErrors int64
	// Cached is the number of chunks in the cache, Dirty the number of those with unsaved
	// changes.
	Cached int
	Dirty  int
	// CodecTime is the time spent compressing, decompressing, encoding and decoding chunks.
	CodecTime time.Duration
}

// Stats returns the current statistics of the World.
func (w *World) Stats() Stats {
	s := w.stats
	s.CacheHits, s.CacheMisses = w.cache.hits, w.cache.misses
	s.Cached, s.Dirty = w.cache.len(), len(w.cache.dirty())
	return s
}

// LogStats logs the current statistics once.
func (w *World) LogStats() {
	s := w.Stats()
	w.log.Info("World stats.",
		"reads", s.ChunkReads,
		"writes", s.ChunkWrites,
		"cache_hits", s.CacheHits,
		"cache_misses", s.CacheMisses,
		"cache_hit_rate", fmt.Sprintf("%.1f%%", w.cache.hitRate()*100),
		"evictions", s.Evictions,
		"flush_errors", s.FlushErrors,
		"cached", s.Cached,
		"dirty", s.Dirty,
		"codec_time", s.CodecTime,
	)
}

// ChunkHandle refers to a chunk of a World. A handle stays valid while the chunk is evicted
// from the cache: the chunk is loaded again when the handle is used. Handles become invalid
// when the World is closed.
type ChunkHandle struct {
	w   *World
	key chunkKey
}

// Dim returns the dimension of the chunk.
func (h *ChunkHandle) Dim() chunk.Dimension { return h.key.dim }

// Pos returns the position of the chunk.
func (h *ChunkHandle) Pos() chunk.Pos { return h.key.pos }

// Exists reports if the chunk is stored by the provider. Chunks that did not exist when
// loaded exist once they have been flushed.
func (h *ChunkHandle) Exists() bool {
	e, err := h.w.entry(h.key)
	return err == nil && e.exists
}

// Dirty reports if the chunk has changes that have not been written to the provider.
func (h *ChunkHandle) Dirty() bool {
	e := h.w.cache.peek(h.key)
	return e != nil && e.c.Dirty()
}

// View calls fn with the chunk. The chunk may be modified by fn but must not be used after fn
// returns.
func (h *ChunkHandle) View(fn func(c *chunk.Chunk)) error {
	e, err := h.w.entry(h.key)
	if err != nil {
		return err
	}
	fn(e.c)
	return nil
}

// Block returns the block at a position within the chunk.
func (h *ChunkHandle) Block(pos chunk.LocalPos) (chunk.BlockRef, error) {
	e, err := h.w.entry(h.key)
	if err != nil {
		return chunk.BlockRef{}, err
	}
	return e.c.Block(pos[0], pos[1], pos[2]), nil
}

// SetBlock sets the block at a position within the chunk.
func (h *ChunkHandle) SetBlock(pos chunk.LocalPos, b chunk.BlockRef) error {
	e, err := h.w.entry(h.key)
	if err != nil {
		return err
	}
	e.c.SetBlock(pos[0], pos[1], pos[2], b)
	return nil
}

// Flush writes the chunk to the provider if it has unsaved changes.
func (h *ChunkHandle) Flush() error { return h.w.FlushChunk(h.key.dim, h.key.pos) }
