package worldstore_test

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/cqdetdev/worldstore"
	"github.com/cqdetdev/worldstore/anvil"
	"github.com/cqdetdev/worldstore/bedrock"
	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/kv"
	"github.com/cqdetdev/worldstore/luanti"
	"github.com/cqdetdev/worldstore/nbt"
)

var (
	_ worldstore.ChunkFlusher = (*anvil.Provider)(nil)
	_ worldstore.Provider     = (*anvil.Provider)(nil)
	_ worldstore.Provider = (*bedrock.Provider)(nil)
	_ worldstore.Provider = (*luanti.Provider)(nil)
)

var stone = chunk.BlockRef{ID: "minecraft:stone"}

func openWorld(t *testing.T, p worldstore.Provider, o *worldstore.Options) *worldstore.World {
	t.Helper()
	w, err := worldstore.Config{Options: o}.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func openAnvil(t *testing.T, dir string) worldstore.Provider {
	t.Helper()
	p, err := anvil.Config{Dir: dir}.Open()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// memoryWorld returns a World over a Bedrock provider keeping its records in memory.
func memoryWorld(t *testing.T, o *worldstore.Options) (*worldstore.World, *kv.Memory) {
	t.Helper()
	st := kv.NewMemory()
	p, err := bedrock.Config{Store: st}.Open()
	if err != nil {
		t.Fatal(err)
	}
	w := openWorld(t, p, o)
	t.Cleanup(func() { _ = w.Close() })
	return w, st
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	w := openWorld(t, openAnvil(t, dir), nil)
	pos := chunk.BlockPos{0, 64, 0}
	if err := w.SetBlock(chunk.Overworld, pos, stone); err != nil {
		t.Fatal(err)
	}
	if err := w.FlushChunk(chunk.Overworld, pos.Chunk()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w = openWorld(t, openAnvil(t, dir), nil)
	defer w.Close()
	b, err := w.Block(chunk.Overworld, pos)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Equal(stone) {
		t.Fatalf("expected %v, got %v", stone, b)
	}
	h, err := w.Chunk(chunk.Overworld, pos.Chunk())
	if err != nil {
		t.Fatal(err)
	}
	if !h.Exists() || h.Dirty() {
		t.Fatal("expected a stored, clean chunk")
	}
}

// readBlock opens a second provider on dir, leaving any other provider on it open, and returns
// the block at pos.
func readBlock(t *testing.T, dir string, pos chunk.BlockPos) chunk.BlockRef {
	t.Helper()
	w := openWorld(t, openAnvil(t, dir), nil)
	defer w.Close()
	b, err := w.Block(chunk.Overworld, pos)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFlushChunkDurable(t *testing.T) {
	dir := t.TempDir()
	w := openWorld(t, openAnvil(t, dir), nil)
	defer w.Close()
	pos := chunk.BlockPos{3, 64, 3}
	if err := w.SetBlock(chunk.Overworld, pos, stone); err != nil {
		t.Fatal(err)
	}
	if err := w.FlushChunk(chunk.Overworld, pos.Chunk()); err != nil {
		t.Fatal(err)
	}
	if b := readBlock(t, dir, pos); b.ID != stone.ID {
		t.Fatalf("expected %v after flushing chunk, got %v", stone.ID, b.ID)
	}
}

func TestEvictDurable(t *testing.T) {
	dir := t.TempDir()
	w := openWorld(t, openAnvil(t, dir), &worldstore.Options{CacheCapacity: 1})
	defer w.Close()
	a := chunk.BlockPos{3, 64, 3}
	if err := w.SetBlock(chunk.Overworld, a, stone); err != nil {
		t.Fatal(err)
	}
	// Loading a chunk in the same region evicts the chunk of a.
	if _, err := w.Block(chunk.Overworld, chunk.BlockPos{40, 64, 3}); err != nil {
		t.Fatal(err)
	}
	if b := readBlock(t, dir, a); b.ID != stone.ID {
		t.Fatalf("expected %v after eviction, got %v", stone.ID, b.ID)
	}
}

func TestDeleteDurable(t *testing.T) {
	dir := t.TempDir()
	w := openWorld(t, openAnvil(t, dir), nil)
	defer w.Close()
	pos := chunk.BlockPos{3, 64, 3}
	if err := w.SetBlock(chunk.Overworld, pos, stone); err != nil {
		t.Fatal(err)
	}
	if err := w.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if err := w.Delete(chunk.Overworld, pos.Chunk()); err != nil {
		t.Fatal(err)
	}
	if b := readBlock(t, dir, pos); b.ID == stone.ID {
		t.Fatal("deleted chunk still stored")
	}
}

func TestMetadata(t *testing.T) {
	w, _ := memoryWorld(t, nil)
	pos := chunk.BlockPos{5, 70, -3}
	m := nbt.NewCompound()
	m.Set("id", nbt.String("Chest"))
	if err := w.SetMetadata(chunk.Overworld, pos, m); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := w.Metadata(chunk.Overworld, chunk.BlockPos{6, 70, -3}); err != nil || ok {
		t.Fatalf("expected no metadata at adjacent position, got %v %v", ok, err)
	}
	got, ok, err := w.Metadata(chunk.Overworld, pos)
	if err != nil || !ok {
		t.Fatalf("metadata missing: %v", err)
	}
	if !nbt.Equal(got, m) {
		t.Fatal("metadata changed")
	}

	if err := w.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveMetadata(chunk.Overworld, pos); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := w.Metadata(chunk.Overworld, pos); ok {
		t.Fatal("metadata still present after removing")
	}
}

func TestReadAfterEvict(t *testing.T) {
	w, _ := memoryWorld(t, &worldstore.Options{CacheCapacity: 1})
	a, b := chunk.BlockPos{1, 10, 1}, chunk.BlockPos{100, 10, 100}
	if err := w.SetBlock(chunk.Overworld, a, stone); err != nil {
		t.Fatal(err)
	}
	// Loading the chunk of b evicts the dirty chunk of a.
	if _, err := w.Block(chunk.Overworld, b); err != nil {
		t.Fatal(err)
	}
	got, err := w.Block(chunk.Overworld, a)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != stone.ID {
		t.Fatalf("expected %v after eviction, got %v", stone.ID, got.ID)
	}
	s := w.Stats()
	if s.Evictions != 2 || s.ChunkWrites != 1 || s.Cached != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestEvictPrefersClean(t *testing.T) {
	w, _ := memoryWorld(t, &worldstore.Options{CacheCapacity: 2})
	dirty, err := w.Chunk(chunk.Overworld, chunk.Pos{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := dirty.SetBlock(chunk.LocalPos{0, 0, 0}, stone); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Chunk(chunk.Overworld, chunk.Pos{1, 0}); err != nil {
		t.Fatal(err)
	}
	// The dirty chunk is the least recently used one, but the clean one is evicted.
	if _, err := w.Chunk(chunk.Overworld, chunk.Pos{2, 0}); err != nil {
		t.Fatal(err)
	}
	if !dirty.Dirty() {
		t.Fatal("dirty chunk was evicted")
	}
	if s := w.Stats(); s.ChunkWrites != 0 || s.Evictions != 1 || s.Dirty != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

var errWrite = errors.New("write failed")

// failingProvider fails all writes while fail is set.
type failingProvider struct {
	worldstore.Provider
	fail bool
}

func (p *failingProvider) Write(loc chunk.Locator, payloads chunk.Payloads) error {
	if p.fail {
		return errWrite
	}
	return p.Provider.Write(loc, payloads)
}

func TestFailedFlushKeepsChunk(t *testing.T) {
	inner, err := bedrock.Config{Store: kv.NewMemory()}.Open()
	if err != nil {
		t.Fatal(err)
	}
	p := &failingProvider{Provider: inner}
	w := openWorld(t, p, &worldstore.Options{CacheCapacity: 1})
	defer w.Close()

	a := chunk.BlockPos{0, 0, 0}
	if err := w.SetBlock(chunk.Overworld, a, stone); err != nil {
		t.Fatal(err)
	}
	p.fail = true
	if _, err := w.Chunk(chunk.Overworld, chunk.Pos{10, 10}); err != nil {
		t.Fatal(err)
	}
	if s := w.Stats(); s.FlushErrors != 1 || s.Cached != 2 || s.Dirty != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if err := w.FlushAll(); !errors.Is(err, errWrite) {
		t.Fatalf("expected write error, got %v", err)
	}

	p.fail = false
	if err := w.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if s := w.Stats(); s.Dirty != 0 {
		t.Fatalf("expected no dirty chunks, got %d", s.Dirty)
	}
	b, err := w.Block(chunk.Overworld, a)
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != stone.ID {
		t.Fatalf("unexpected block %v", b)
	}
}

func TestChunkLoadError(t *testing.T) {
	w, st := memoryWorld(t, nil)
	pos := chunk.Pos{3, 4}
	if err := st.Put(kv.ChunkKey(chunk.Overworld, pos, kv.KindVersion), []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	_, err := w.Chunk(chunk.Overworld, pos)
	var loadErr *worldstore.ChunkLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ChunkLoadError, got %v", err)
	}
	if loadErr.Pos != pos || loadErr.Dim != chunk.Overworld {
		t.Fatalf("unexpected error position %v %v", loadErr.Dim, loadErr.Pos)
	}
	if !errors.Is(err, worldstore.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if s := w.Stats(); s.Cached != 0 {
		t.Fatal("failed load left a cache entry")
	}
}

func TestPayloadTooLarge(t *testing.T) {
	dir := t.TempDir()
	w := openWorld(t, openAnvil(t, dir), nil)
	if err := w.SetBlock(chunk.Overworld, chunk.BlockPos{}, stone); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w = openWorld(t, openAnvil(t, dir), &worldstore.Options{MaxPayloadSize: 16})
	defer w.Close()
	if _, err := w.Block(chunk.Overworld, chunk.BlockPos{}); !errors.Is(err, compression.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestAbsentChunk(t *testing.T) {
	w, _ := memoryWorld(t, nil)
	h, err := w.Chunk(chunk.Overworld, chunk.Pos{7, 7})
	if err != nil {
		t.Fatal(err)
	}
	if h.Exists() {
		t.Fatal("new chunk reported as existing")
	}
	b, err := h.Block(chunk.LocalPos{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if !b.Equal(w.Provider().Empty()) {
		t.Fatalf("expected empty block, got %v", b)
	}
	// Flushing an unchanged new chunk does not store it.
	if err := h.Flush(); err != nil {
		t.Fatal(err)
	}
	if h.Exists() || w.Stats().ChunkWrites != 0 {
		t.Fatal("unchanged chunk was written")
	}

	if err := h.SetBlock(chunk.LocalPos{0, 0, 0}, stone); err != nil {
		t.Fatal(err)
	}
	if err := h.Flush(); err != nil {
		t.Fatal(err)
	}
	if !h.Exists() {
		t.Fatal("flushed chunk does not exist")
	}
}

func TestOutOfRange(t *testing.T) {
	w, _ := memoryWorld(t, nil)
	if _, err := w.Block(chunk.Overworld, chunk.BlockPos{0, 320, 0}); !errors.Is(err, worldstore.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := w.SetBlock(chunk.Nether, chunk.BlockPos{0, -1, 0}, stone); !errors.Is(err, worldstore.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestClosed(t *testing.T) {
	p, err := bedrock.Config{Store: kv.NewMemory()}.Open()
	if err != nil {
		t.Fatal(err)
	}
	w := openWorld(t, p, nil)
	h, err := w.Chunk(chunk.Overworld, chunk.Pos{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.SetBlock(chunk.Overworld, chunk.BlockPos{}, stone); !errors.Is(err, worldstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := h.Block(chunk.LocalPos{}); !errors.Is(err, worldstore.ErrClosed) {
		t.Fatalf("expected ErrClosed from handle, got %v", err)
	}
	if err := w.Close(); !errors.Is(err, worldstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	w, _ := memoryWorld(t, nil)
	pos := chunk.BlockPos{20, 5, 20}
	if err := w.SetBlock(chunk.Overworld, pos, stone); err != nil {
		t.Fatal(err)
	}
	if err := w.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if err := w.Delete(chunk.Overworld, pos.Chunk()); err != nil {
		t.Fatal(err)
	}
	h, err := w.Chunk(chunk.Overworld, pos.Chunk())
	if err != nil {
		t.Fatal(err)
	}
	if h.Exists() {
		t.Fatal("chunk exists after deleting")
	}
}

func TestChunkIterator(t *testing.T) {
	w, _ := memoryWorld(t, &worldstore.Options{CacheCapacity: 2})
	stored := []chunk.Pos{{3, 3}, {0, 0}, {1, 0}, {0, 1}, {-1, -1}, {8, 2}}
	for _, pos := range stored {
		if err := w.SetBlock(chunk.Overworld, chunk.BlockPos{int(pos[0]) << 4, 0, int(pos[1]) << 4}, stone); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.SetBlock(chunk.Nether, chunk.BlockPos{0, 0, 0}, stone); err != nil {
		t.Fatal(err)
	}
	if err := w.FlushAll(); err != nil {
		t.Fatal(err)
	}

	iter := w.NewChunkIterator(&worldstore.IteratorRange{Dimensions: []chunk.Dimension{chunk.Overworld}})
	defer iter.Release()
	var got []chunk.Pos
	for iter.Next() {
		h := iter.Chunk()
		if !h.Exists() || h.Dim() != chunk.Overworld {
			t.Fatalf("unexpected chunk %v", h.Pos())
		}
		got = append(got, h.Pos())
	}
	if err := iter.Error(); err != nil {
		t.Fatal(err)
	}
	want := []chunk.Pos{{0, 0}, {1, 0}, {0, 1}, {3, 3}, {8, 2}, {-1, -1}}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	iter = w.NewChunkIterator(&worldstore.IteratorRange{Min: chunk.Pos{0, 0}, Max: chunk.Pos{2, 2}})
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	// Three overworld chunks and the nether chunk.
	if n != 4 || iter.Len() != 4 {
		t.Fatalf("expected 4 chunks in range, got %d", n)
	}
}

func TestLoadArea(t *testing.T) {
	w, _ := memoryWorld(t, nil)
	for _, pos := range []chunk.Pos{{0, 0}, {1, 1}, {-1, 0}, {5, 5}} {
		if err := w.SetBlock(chunk.Overworld, chunk.BlockPos{int(pos[0]) << 4, 0, int(pos[1]) << 4}, stone); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.FlushAll(); err != nil {
		t.Fatal(err)
	}
	handles, err := w.LoadArea(chunk.Overworld, chunk.Pos{0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 3 {
		t.Fatalf("expected 3 stored chunks around the center, got %d", len(handles))
	}
}

func TestLuantiWorld(t *testing.T) {
	p, err := luanti.Config{Store: kv.NewMemory()}.Open()
	if err != nil {
		t.Fatal(err)
	}
	w := openWorld(t, p, &worldstore.Options{CacheCapacity: 1})
	defer w.Close()
	node := chunk.BlockRef{ID: "default:dirt_with_grass", State: []byte{15, 0}}
	pos := chunk.BlockPos{-17, 3, 40}
	if err := w.SetBlock(chunk.Overworld, pos, node); err != nil {
		t.Fatal(err)
	}
	// Evict the chunk by loading another one.
	if _, err := w.Chunk(chunk.Overworld, chunk.Pos{9, 9}); err != nil {
		t.Fatal(err)
	}
	b, err := w.Block(chunk.Overworld, pos)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Equal(node) {
		t.Fatalf("expected %v, got %v", node, b)
	}
	if _, err := w.Chunk(chunk.Nether, chunk.Pos{}); !errors.Is(err, chunk.ErrUnsupportedDimension) {
		t.Fatalf("expected ErrUnsupportedDimension, got %v", err)
	}
}

func TestSync(t *testing.T) {
	w, _ := memoryWorld(t, &worldstore.Options{CacheCapacity: 4})
	s := worldstore.NewSync(w)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 16 {
				if err := s.SetBlock(chunk.Overworld, chunk.BlockPos{i * 16, j, 0}, stone); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if err := s.FlushAll(); err != nil {
		t.Fatal(err)
	}
	for i := range 8 {
		b, err := s.Block(chunk.Overworld, chunk.BlockPos{i * 16, 15, 0})
		if err != nil {
			t.Fatal(err)
		}
		if b.ID != stone.ID {
			t.Fatalf("unexpected block %v", b)
		}
	}
	err := s.View(chunk.Overworld, chunk.Pos{0, 0}, func(c *chunk.Chunk, exists bool) {
		if !exists || c.Block(0, 7, 0).ID != stone.ID {
			t.Errorf("unexpected chunk: exists %v, block %v", exists, c.Block(0, 7, 0))
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}
