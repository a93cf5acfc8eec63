package bedrock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/chunk/chunktest"
	"github.com/cqdetdev/worldstore/internal/errs"
	"github.com/cqdetdev/worldstore/kv"
	"github.com/cqdetdev/worldstore/nbt"
	gtnbt "github.com/sandertv/gophertunnel/minecraft/nbt"
)

func openProvider(t *testing.T, conf Config) *Provider {
	t.Helper()
	if conf.Store == nil && conf.Dir == "" {
		conf.Store = kv.NewMemory()
	}
	p, err := conf.Open()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func block(t *testing.T, name string, props ...any) chunk.BlockRef {
	t.Helper()
	states := nbt.NewCompound()
	for i := 0; i < len(props); i += 2 {
		switch v := props[i+1].(type) {
		case string:
			states.Set(props[i].(string), nbt.String(v))
		case int32:
			states.Set(props[i].(string), nbt.Int(v))
		case bool:
			b := nbt.Byte(0)
			if v {
				b = 1
			}
			states.Set(props[i].(string), b)
		}
	}
	return chunk.BlockRef{ID: name, State: mustState(states)}
}

func store(t *testing.T, p *Provider, dim chunk.Dimension, pos chunk.Pos, c *chunk.Chunk) {
	t.Helper()
	loc, err := p.Resolve(dim, pos)
	if err != nil {
		t.Fatal(err)
	}
	payloads, err := p.Encode(loc, c)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Write(loc, payloads); err != nil {
		t.Fatal(err)
	}
}

func load(t *testing.T, p *Provider, dim chunk.Dimension, pos chunk.Pos) (*chunk.Chunk, bool) {
	t.Helper()
	loc, err := p.Resolve(dim, pos)
	if err != nil {
		t.Fatal(err)
	}
	payloads, ok, err := p.Read(loc)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		return nil, false
	}
	c, err := p.Decode(loc, payloads)
	if err != nil {
		t.Fatal(err)
	}
	return c, true
}

func testChunk(t *testing.T, p *Provider, dim chunk.Dimension) *chunk.Chunk {
	c := chunk.New(p.Range(dim), p.Empty())
	r := c.Range()
	for x := range 16 {
		for z := range 16 {
			c.SetBlock(x, r.Min(), z, block(t, "minecraft:bedrock", "infiniburn_bit", false))
			c.SetBlock(x, r.Min()+1+(x+z)%7, z, block(t, "minecraft:stone", "stone_type", "granite"))
		}
	}
	for i := range 70 {
		c.SetBlock(i%16, r.Min()+40+i/16, 8, block(t, "minecraft:wool", "color", int32(i)))
	}
	m := nbt.NewCompound()
	m.Set("id", nbt.String("Chest"))
	m.Set("Items", &nbt.List{Elem: nbt.TagCompound})
	c.SetMetadata(chunk.LocalPos{3, r.Min() + 1, 9}, m)
	return c
}

func TestRoundTrip(t *testing.T) {
	p := openProvider(t, Config{})
	for _, dim := range []chunk.Dimension{chunk.Overworld, chunk.Nether, chunk.End} {
		c := testChunk(t, p, dim)
		store(t, p, dim, chunk.Pos{-5, 12}, c)
		got, ok := load(t, p, dim, chunk.Pos{-5, 12})
		if !ok {
			t.Fatalf("%v: chunk not found", dim)
		}
		if !chunk.Equal(c, got) {
			t.Fatalf("%v: chunk read back differs", dim)
		}
		if got.Dirty() {
			t.Fatalf("%v: decoded chunk should be clean", dim)
		}
	}
	if _, ok := load(t, p, chunk.Overworld, chunk.Pos{-5, 13}); ok {
		t.Fatal("unexpected chunk")
	}
	positions, err := p.Positions(chunk.Nether)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(positions, []chunk.Pos{{-5, 12}}) {
		t.Fatalf("unexpected positions %v", positions)
	}
}

// randomBlock returns distinct blocks with one or two states.
func randomBlock(n int) chunk.BlockRef {
	states := nbt.NewCompound()
	states.Set("variant", nbt.Int(int32(n)))
	if n%2 == 0 {
		states.Set("open_bit", nbt.Byte(n>>1&1))
	}
	return chunk.BlockRef{ID: fmt.Sprintf("test:block_%d", n%64), State: mustState(states)}
}

func TestRandomChunks(t *testing.T) {
	p := openProvider(t, Config{Dir: t.TempDir()})
	g := chunktest.Generator{Block: randomBlock, Metadata: chunktest.Entity}
	for _, dim := range []chunk.Dimension{chunk.Overworld, chunk.Nether} {
		for seed := range uint64(6) {
			pos := chunk.Pos{int32(seed) - 3, int32(seed) * 5}
			c := g.Chunk(seed, p.Range(dim), p.Empty())
			store(t, p, dim, pos, c)
			got, ok := load(t, p, dim, pos)
			if !ok {
				t.Fatalf("%v %v: chunk not found", dim, pos)
			}
			if !chunk.Equal(c, got) {
				t.Fatalf("%v %v: chunk read back differs", dim, pos)
			}
		}
	}
}

func TestLevelDB(t *testing.T) {
	dir := t.TempDir()
	p, err := Config{Dir: dir}.Open()
	if err != nil {
		t.Fatal(err)
	}
	c := testChunk(t, p, chunk.Overworld)
	store(t, p, chunk.Overworld, chunk.Pos{1, 1}, c)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p = openProvider(t, Config{Dir: dir})
	got, ok := load(t, p, chunk.Overworld, chunk.Pos{1, 1})
	if !ok || !chunk.Equal(c, got) {
		t.Fatal("chunk not read back from leveldb")
	}
}

func TestRecords(t *testing.T) {
	mem := kv.NewMemory()
	p := openProvider(t, Config{Store: mem})
	c := testChunk(t, p, chunk.Overworld)
	store(t, p, chunk.Overworld, chunk.Pos{0, 0}, c)

	key := kv.SubChunkKey(chunk.Overworld, chunk.Pos{0, 0}, -4)
	data, err := mem.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != SubChunkVersion || data[1] != 1 || int8(data[2]) != -4 {
		t.Fatalf("unexpected sub-chunk header %v", data[:3])
	}
	if _, err := mem.Get(kv.ChunkKey(chunk.Overworld, chunk.Pos{0, 0}, kv.KindFinalisation)); err != nil {
		t.Fatalf("finalisation record missing: %v", err)
	}
	if v, err := mem.Get(kv.ChunkKey(chunk.Overworld, chunk.Pos{0, 0}, kv.KindVersion)); err != nil || v[0] != ChunkVersion {
		t.Fatalf("version record %v, %v", v, err)
	}

	// Records the provider does not interpret survive a rewrite.
	data3d := kv.ChunkKey(chunk.Overworld, chunk.Pos{0, 0}, kv.KindData3D)
	if err := mem.Put(data3d, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	got, _ := load(t, p, chunk.Overworld, chunk.Pos{0, 0})
	// Clearing the lowest section must remove its record.
	for x := range 16 {
		for z := range 16 {
			got.SetBlock(x, -64, z, p.Empty())
			got.SetBlock(x, -63+(x+z)%7, z, p.Empty())
		}
	}
	got.RemoveMetadata(chunk.LocalPos{3, -63, 9})
	store(t, p, chunk.Overworld, chunk.Pos{0, 0}, got)

	if v, err := mem.Get(data3d); err != nil || !bytes.Equal(v, []byte{1, 2, 3, 4}) {
		t.Fatalf("data3d record lost: %v, %v", v, err)
	}
	if _, err := mem.Get(key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("stale sub-chunk record kept: %v", err)
	}
	if _, err := mem.Get(kv.ChunkKey(chunk.Overworld, chunk.Pos{0, 0}, kv.KindBlockEntities)); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("stale block entity record kept: %v", err)
	}

	loc, _ := p.Resolve(chunk.Overworld, chunk.Pos{0, 0})
	if err := p.Delete(loc); err != nil {
		t.Fatal(err)
	}
	if mem.Len() != 0 {
		t.Fatalf("%d records left after delete", mem.Len())
	}
}

// batchStore counts the batches written to a Memory store and the operations applied outside
// of them.
type batchStore struct {
	*kv.Memory
	batches, direct int
}

func (s *batchStore) WriteBatch(b *kv.Batch) error {
	s.batches++
	return s.Memory.WriteBatch(b)
}

func (s *batchStore) Put(key, value []byte) error {
	s.direct++
	return s.Memory.Put(key, value)
}

func (s *batchStore) Delete(key []byte) error {
	s.direct++
	return s.Memory.Delete(key)
}

func TestWriteBatched(t *testing.T) {
	st := &batchStore{Memory: kv.NewMemory()}
	p := openProvider(t, Config{Store: st})
	store(t, p, chunk.Overworld, chunk.Pos{2, 2}, testChunk(t, p, chunk.Overworld))
	store(t, p, chunk.Overworld, chunk.Pos{2, 2}, chunk.New(p.Range(chunk.Overworld), p.Empty()))
	loc, _ := p.Resolve(chunk.Overworld, chunk.Pos{2, 2})
	if err := p.Delete(loc); err != nil {
		t.Fatal(err)
	}
	if st.batches != 3 || st.direct != 0 {
		t.Fatalf("expected 3 batches and no direct writes, got %d batches and %d writes", st.batches, st.direct)
	}
	if st.Len() != 0 {
		t.Fatalf("%d records left after delete", st.Len())
	}
}

// orderStore records the key of the last Put. It does not implement kv.Batcher.
type orderStore struct {
	kv.Store
	last []byte
}

func (s *orderStore) Put(key, value []byte) error {
	s.last = bytes.Clone(key)
	return s.Store.Put(key, value)
}

func TestVersionWrittenLast(t *testing.T) {
	st := &orderStore{Store: kv.NewMemory()}
	p := openProvider(t, Config{Store: st})
	store(t, p, chunk.Nether, chunk.Pos{-1, 4}, testChunk(t, p, chunk.Nether))
	if want := kv.ChunkKey(chunk.Nether, chunk.Pos{-1, 4}, kv.KindVersion); !bytes.Equal(st.last, want) {
		t.Fatalf("last key written %x, expected version key %x", st.last, want)
	}
}

func TestExtraLayersPreserved(t *testing.T) {
	mem := kv.NewMemory()
	p := openProvider(t, Config{Store: mem})
	water := block(t, "minecraft:water", "liquid_depth", int32(0))

	first := chunk.New(chunk.Range{0, 15}, air)
	first.SetBlock(1, 2, 3, block(t, "minecraft:seagrass"))
	second := chunk.New(chunk.Range{0, 15}, air)
	second.SetBlock(1, 2, 3, water)

	local := slices.Repeat([]uint16{unassigned}, 4)
	sub := []byte{SubChunkVersion, 2, 0}
	sub, err := appendStorage(sub, first.Palette(), first.Section(0), local)
	if err != nil {
		t.Fatal(err)
	}
	sub, err = appendStorage(sub, second.Palette(), second.Section(0), local)
	if err != nil {
		t.Fatal(err)
	}
	key := kv.SubChunkKey(chunk.Overworld, chunk.Pos{}, 0)
	_ = mem.Put(key, sub)
	_ = mem.Put(kv.ChunkKey(chunk.Overworld, chunk.Pos{}, kv.KindVersion), []byte{ChunkVersion})

	c, _ := load(t, p, chunk.Overworld, chunk.Pos{})
	if b := c.Block(1, 2, 3); b.ID != "minecraft:seagrass" {
		t.Fatalf("unexpected block %v", b)
	}
	store(t, p, chunk.Overworld, chunk.Pos{}, c)
	out, err := mem.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, sub) {
		t.Fatal("sub-chunk with two storages changed by a round trip")
	}
}

func TestDecodeVersion8SingleBlock(t *testing.T) {
	mem := kv.NewMemory()
	p := openProvider(t, Config{Store: mem})
	stone := block(t, "minecraft:stone")
	entry, err := entryOf(stone)
	if err != nil {
		t.Fatal(err)
	}
	// Version 8, one storage with 0 bits per block and no palette size.
	sub := []byte{8, 1, 0}
	if sub, err = nbt.AppendTag(sub, nbt.LittleEndian, "", entry); err != nil {
		t.Fatal(err)
	}
	_ = mem.Put(kv.SubChunkKey(chunk.Overworld, chunk.Pos{}, 2), sub)
	_ = mem.Put(kv.ChunkKey(chunk.Overworld, chunk.Pos{}, kv.KindLegacyVersion), []byte{15})

	c, ok := load(t, p, chunk.Overworld, chunk.Pos{})
	if !ok {
		t.Fatal("chunk with legacy version record not found")
	}
	if !c.Block(0, 32, 0).Equal(stone) || !c.Block(15, 47, 15).Equal(stone) || !c.Block(0, 48, 0).Equal(air) {
		t.Fatal("single block storage not filled")
	}
}

func TestDecodeMalformed(t *testing.T) {
	stone, _ := entryOf(block(t, "minecraft:stone"))
	palette, _ := nbt.Marshal(nbt.LittleEndian, "", stone)
	words := make([]byte, 512*4)
	cases := map[string][]byte{
		"version":       {7, 1, 0},
		"runtime ids":   {9, 1, 0, 1},
		"bits":          {9, 1, 0, 7 << 1},
		"words":         {9, 1, 0, 1 << 1, 0, 0},
		"palette size":  append(append([]byte{9, 1, 0, 1 << 1}, words[:512]...), 0, 0, 0, 0),
		"palette index": append(append(append([]byte{9, 1, 0, 1 << 1}, slices.Repeat([]byte{0xff}, 512)...), 1, 0, 0, 0), palette...),
		"trailing":      append(append([]byte{9, 1, 0, 0}, palette...), 0),
		"y mismatch":    append([]byte{9, 1, 3, 0}, palette...),
	}
	for name, sub := range cases {
		mem := kv.NewMemory()
		p := openProvider(t, Config{Store: mem})
		_ = mem.Put(kv.SubChunkKey(chunk.Overworld, chunk.Pos{}, 0), sub)
		_ = mem.Put(kv.ChunkKey(chunk.Overworld, chunk.Pos{}, kv.KindVersion), []byte{ChunkVersion})
		loc, _ := p.Resolve(chunk.Overworld, chunk.Pos{})
		payloads, _, _ := p.Read(loc)
		if _, err := p.Decode(loc, payloads); !errors.Is(err, errs.ErrFormat) {
			t.Errorf("%v: expected format error, got %v", name, err)
		}
	}
}

func TestGophertunnelInterop(t *testing.T) {
	mem := kv.NewMemory()
	p := openProvider(t, Config{Store: mem})
	pos := chunk.Pos{-2, 7}

	c := chunk.New(p.Range(chunk.Overworld), p.Empty())
	c.SetBlock(0, 0, 0, block(t, "minecraft:log", "pillar_axis", "y"))
	m := nbt.NewCompound()
	m.Set("id", nbt.String("Sign"))
	m.Set("Text", nbt.String("hi"))
	c.SetMetadata(chunk.LocalPos{15, 64, 0}, m)
	store(t, p, chunk.Overworld, pos, c)

	// Block entities are read back by gophertunnel with their absolute position.
	data, err := mem.Get(kv.ChunkKey(chunk.Overworld, pos, kv.KindBlockEntities))
	if err != nil {
		t.Fatal(err)
	}
	var be map[string]any
	if err := gtnbt.UnmarshalEncoding(data, &be, gtnbt.LittleEndian); err != nil {
		t.Fatal(err)
	}
	if be["id"] != "Sign" || be["x"] != int32(-17) || be["y"] != int32(64) || be["z"] != int32(112) {
		t.Fatalf("unexpected block entity %v", be)
	}

	// Palette entries are plain little-endian compounds.
	sub, err := mem.Get(kv.SubChunkKey(chunk.Overworld, pos, 0))
	if err != nil {
		t.Fatal(err)
	}
	if sub[3] != 1<<1 {
		t.Fatalf("expected 1 bit per block, got header %#x", sub[3])
	}
	off := 4 + 128*4
	if n := binary.LittleEndian.Uint32(sub[off:]); n != 2 {
		t.Fatalf("palette of %d entries", n)
	}
	dec := gtnbt.NewDecoderWithEncoding(bytes.NewReader(sub[off+4:]), gtnbt.LittleEndian)
	var entries [2]map[string]any
	for i := range entries {
		if err := dec.Decode(&entries[i]); err != nil {
			t.Fatal(err)
		}
	}
	// The log at x=0, z=0, y=0 is the first block of the storage.
	if entries[0]["name"] != "minecraft:log" || entries[1]["name"] != "minecraft:air" {
		t.Fatalf("unexpected palette %v", entries)
	}
	if states, _ := entries[0]["states"].(map[string]any); states["pillar_axis"] != "y" {
		t.Fatalf("unexpected states %v", entries[0]["states"])
	}

	// A block entity written by gophertunnel is read into metadata.
	data, err = gtnbt.MarshalEncoding(map[string]any{"id": "Chest", "x": int32(-32), "y": int32(-60), "z": int32(127)}, gtnbt.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	_ = mem.Put(kv.ChunkKey(chunk.Overworld, pos, kv.KindBlockEntities), data)
	got, _ := load(t, p, chunk.Overworld, pos)
	meta, ok := got.Metadata(chunk.LocalPos{0, -60, 15})
	if !ok {
		t.Fatal("block entity written by gophertunnel not found")
	}
	if id, _ := meta.String("id"); id != "Chest" || meta.Has("x") {
		t.Fatalf("unexpected metadata %v", meta.Names())
	}
}

func TestSubChunkOffset(t *testing.T) {
	// x=1, z=2, y=3
	if got := subChunkOffset(1<<8 | 2<<4 | 3); got != 3<<8|2<<4|1 {
		t.Fatalf("unexpected offset %#x", got)
	}
	for i := range chunk.SectionSize {
		if subChunkOffset(subChunkOffset(i)) != i {
			t.Fatalf("offset conversion of %d not symmetric", i)
		}
	}
}
