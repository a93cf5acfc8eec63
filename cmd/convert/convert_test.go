package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cqdetdev/worldstore"
	"github.com/cqdetdev/worldstore/anvil"
	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/nbt"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func openWorld(t *testing.T, format, dir string) *worldstore.World {
	t.Helper()
	p, err := openProvider(format, dir, 0, discard)
	if err != nil {
		t.Fatal(err)
	}
	w, err := worldstore.Config{Options: &worldstore.Options{Log: discard}}.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestConvert(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	stone := chunk.BlockRef{ID: "minecraft:stone"}
	chest := nbt.NewCompound()
	chest.Set("id", nbt.String("minecraft:chest"))

	w := openWorld(t, "anvil", src)
	for _, pos := range []chunk.BlockPos{{0, 64, 0}, {40, -10, -40}, {300, 200, 17}} {
		if err := w.SetBlock(chunk.Overworld, pos, stone); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.SetMetadata(chunk.Overworld, chunk.BlockPos{0, 64, 0}, chest); err != nil {
		t.Fatal(err)
	}
	if err := w.SetBlock(chunk.Nether, chunk.BlockPos{1, 1, 1}, stone); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		to     string
		chunks int
		meta   bool
	}{
		{to: "bedrock", chunks: 4},
		{to: "luanti", chunks: 3},
		{to: "anvil", chunks: 4, meta: true},
	}
	for _, tt := range tests {
		t.Run(tt.to, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "dst")
			n, err := run(Config{Source: src, Dest: dst, From: "anvil", To: tt.to, Compression: "zstd"}, discard, nil)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.chunks {
				t.Fatalf("expected %d chunks copied, got %d", tt.chunks, n)
			}

			w := openWorld(t, tt.to, dst)
			defer w.Close()
			for _, pos := range []chunk.BlockPos{{0, 64, 0}, {40, -10, -40}, {300, 200, 17}} {
				b, err := w.Block(chunk.Overworld, pos)
				if err != nil {
					t.Fatal(err)
				}
				if b.ID != stone.ID {
					t.Fatalf("expected %v at %v, got %v", stone.ID, pos, b.ID)
				}
			}
			_, ok, err := w.Metadata(chunk.Overworld, chunk.BlockPos{0, 64, 0})
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.meta {
				t.Fatalf("expected metadata copied: %v, got %v", tt.meta, ok)
			}
		})
	}
}

func TestConvertZstdAnvil(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	w := openWorld(t, "anvil", src)
	if err := w.SetBlock(chunk.Overworld, chunk.BlockPos{}, chunk.BlockRef{ID: "minecraft:dirt"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := run(Config{Source: src, Dest: dst, From: "anvil", To: "anvil", Compression: "zstd"}, discard, nil); err != nil {
		t.Fatal(err)
	}
	p, err := anvil.Config{Dir: dst}.Open()
	if err != nil {
		t.Fatal(err)
	}
	loc, err := p.Resolve(chunk.Overworld, chunk.Pos{})
	if err != nil {
		t.Fatal(err)
	}
	payloads, ok, err := p.Read(loc)
	if err != nil || !ok {
		t.Fatalf("chunk not stored: %v", err)
	}
	if s := payloads[0].Scheme.String(); s != "zstd" {
		t.Fatalf("expected zstd compressed chunk, got %v", s)
	}
	_ = p.Close()
}

func TestConvertInvalid(t *testing.T) {
	dir := t.TempDir()
	for name, conf := range map[string]Config{
		"same folder": {Source: dir, Dest: dir, From: "anvil", To: "bedrock"},
		"format":      {Source: dir, Dest: filepath.Join(dir, "x"), From: "alpha", To: "bedrock"},
		"dimension":   {Source: dir, Dest: filepath.Join(dir, "x"), From: "anvil", To: "bedrock", Dimensions: []string{"aether"}},
		"compression": {Source: dir, Dest: filepath.Join(dir, "x"), From: "anvil", To: "anvil", Compression: "brotli"},
	} {
		if _, err := run(conf, discard, nil); err == nil {
			t.Errorf("%v: expected error", name)
		}
	}
}
