// Package luanti implements the map format of Luanti (formerly Minetest) worlds, which store
// mapblocks of 16x16x16 nodes in an SQLite or LevelDB database selected by world.mt.
package luanti

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/kv"
)

// Map database backends that can be opened.
const (
	BackendSQLite  = "sqlite3"
	BackendLevelDB = "leveldb"
)

// DefaultMaxBlockSize is the limit on the decompressed size of a mapblock used if
// Config.MaxBlockSize is zero.
const DefaultMaxBlockSize = 4 << 20

// ErrUnsupportedBackend is returned by Config.Open for worlds using a map backend other than
// sqlite3 or leveldb.
var ErrUnsupportedBackend = errors.New("unsupported map backend")

// Config holds the settings of a Provider.
type Config struct {
	// Dir is the world directory. If Store is nil, world.mt in Dir selects the map database to
	// open. A world.mt is created if Dir does not have one yet.
	Dir string
	// Store is the key-value store mapblocks are kept in. If set, Dir is not used.
	Store kv.Store
	// Backend is the map backend of the store: sqlite3 stores use keys produced by
	// kv.Int64Key, leveldb stores use decimal keys. For worlds created by Open, Backend is
	// written to world.mt. Defaults to sqlite3.
	Backend string
	// GameID is written to the world.mt of new worlds. Defaults to DefaultGameID.
	GameID string
	// Range is the vertical range of chunks. Defaults to [-128, 255].
	Range chunk.Range
	// MaxBlockSize limits the decompressed size of a mapblock. Negative values remove the
	// limit.
	MaxBlockSize int
	// Log is the Logger used by the provider. If nil, slog.Default() is used.
	Log *slog.Logger
}

// Open returns a Provider using the settings of conf.
func (conf Config) Open() (*Provider, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Range == (chunk.Range{}) {
		conf.Range = chunk.Range{-128, 255}
	}
	if !conf.Range.Valid() || conf.Range.Min()>>4 < MinBlockPos || conf.Range.Max()>>4 > MaxBlockPos {
		return nil, fmt.Errorf("open luanti: invalid range %v", conf.Range)
	}
	if conf.MaxBlockSize == 0 {
		conf.MaxBlockSize = DefaultMaxBlockSize
	}
	if conf.Backend == "" {
		conf.Backend = BackendSQLite
	}
	p := &Provider{conf: conf, log: conf.Log.With("provider", "luanti")}
	if conf.Store != nil {
		if conf.Backend != BackendSQLite && conf.Backend != BackendLevelDB {
			return nil, fmt.Errorf("open luanti: %w %q", ErrUnsupportedBackend, conf.Backend)
		}
		return p, nil
	}
	if conf.Dir == "" {
		return nil, fmt.Errorf("open luanti: no world directory or store")
	}

	meta, err := ReadWorldMeta(conf.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		meta = &WorldMeta{}
		meta.Set("backend", conf.Backend)
		meta.Set("gameid", cmp.Or(conf.GameID, DefaultGameID))
		if err := writeWorldMeta(conf.Dir, meta); err != nil {
			return nil, fmt.Errorf("open luanti: %w", err)
		}
		p.log.Debug("Created world.mt.", "dir", conf.Dir, "backend", conf.Backend)
	} else if err != nil {
		return nil, fmt.Errorf("open luanti: %w", err)
	}
	p.meta = meta

	switch p.conf.Backend = meta.Backend(); p.conf.Backend {
	case BackendSQLite:
		p.conf.Store, err = kv.OpenSQLite(filepath.Join(conf.Dir, "map.sqlite"))
	case BackendLevelDB:
		p.conf.Store, err = kv.OpenLevelDB(filepath.Join(conf.Dir, "map.db"), nil)
	default:
		return nil, fmt.Errorf("open luanti: %w %q", ErrUnsupportedBackend, meta.Backend())
	}
	if err != nil {
		return nil, fmt.Errorf("open luanti: %w", err)
	}
	return p, nil
}

// Provider stores chunks as columns of mapblocks in a Luanti map database. Provider is safe for
// concurrent use if its Store is.
type Provider struct {
	conf Config
	meta *WorldMeta
	log  *slog.Logger
}

// Meta returns the world.mt settings the world was opened with, or nil if the provider was
// opened on a Store.
func (p *Provider) Meta() *WorldMeta { return p.meta }

// Name returns "luanti".
func (p *Provider) Name() string { return "luanti" }

// Range returns the configured vertical range. Luanti worlds only have one dimension.
func (p *Provider) Range(chunk.Dimension) chunk.Range { return p.conf.Range }

// Empty returns an unlit air node.
func (p *Provider) Empty() chunk.BlockRef { return air }

// Resolve ...
func (p *Provider) Resolve(dim chunk.Dimension, pos chunk.Pos) (chunk.Locator, error) {
	if dim != chunk.Overworld {
		return chunk.Locator{}, fmt.Errorf("resolve %v %v: %w", dim, pos, chunk.ErrUnsupportedDimension)
	}
	if _, err := Hash(int(pos[0]), 0, int(pos[1])); err != nil {
		return chunk.Locator{}, fmt.Errorf("resolve %v: %w", pos, err)
	}
	return chunk.Locator{Dim: dim, Pos: pos}, nil
}

// key returns the store key of the mapblock with the hash h.
func (p *Provider) key(h int64) []byte {
	if p.conf.Backend == BackendLevelDB {
		return strconv.AppendInt(nil, h, 10)
	}
	return kv.Int64Key(h)
}

// hash parses a store key into the hash of a mapblock position.
func (p *Provider) hash(key []byte) (int64, bool) {
	if p.conf.Backend == BackendLevelDB {
		h, err := strconv.ParseInt(string(key), 10, 64)
		return h, err == nil
	}
	h, err := kv.KeyInt64(key)
	return h, err == nil
}

// keys returns the store keys of all mapblocks of the column at loc within the range.
func (p *Provider) keys(loc chunk.Locator) [][]byte {
	r := p.conf.Range
	keys := make([][]byte, 0, r.Sections())
	for y := r.Min() >> 4; y <= r.Max()>>4; y++ {
		h, _ := Hash(int(loc.Pos[0]), y, int(loc.Pos[1]))
		keys = append(keys, p.key(h))
	}
	return keys
}

// Read returns one payload for every stored mapblock of the column at loc.
func (p *Provider) Read(loc chunk.Locator) (chunk.Payloads, bool, error) {
	var payloads chunk.Payloads
	for _, key := range p.keys(loc) {
		data, err := p.conf.Store.Get(key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, false, fmt.Errorf("read chunk %v: %w", loc.Pos, err)
		}
		payloads = append(payloads, chunk.Payload{Key: key, Scheme: compression.None, Data: data})
	}
	return payloads, len(payloads) > 0, nil
}

// Write stores the mapblocks passed and removes the other mapblocks of the column.
func (p *Provider) Write(loc chunk.Locator, payloads chunk.Payloads) error {
	var b kv.Batch
	for _, pl := range payloads {
		b.Put(pl.Key, pl.Data)
	}
	for _, key := range p.keys(loc) {
		if _, ok := payloads.Get(key); !ok {
			b.Delete(key)
		}
	}
	if err := kv.Write(p.conf.Store, &b); err != nil {
		return fmt.Errorf("write chunk %v: %w", loc.Pos, err)
	}
	return nil
}

// Delete removes the mapblocks of the column at loc within the range.
func (p *Provider) Delete(loc chunk.Locator) error {
	var b kv.Batch
	for _, key := range p.keys(loc) {
		b.Delete(key)
	}
	if err := kv.Write(p.conf.Store, &b); err != nil {
		return fmt.Errorf("delete chunk %v: %w", loc.Pos, err)
	}
	return nil
}

// Positions returns the positions of all columns holding at least one mapblock within the
// range.
func (p *Provider) Positions(dim chunk.Dimension) ([]chunk.Pos, error) {
	if dim != chunk.Overworld {
		return nil, nil
	}
	seen := make(map[chunk.Pos]struct{})
	var positions []chunk.Pos
	err := p.conf.Store.Iterate(nil, nil, func(key, _ []byte) bool {
		h, ok := p.hash(key)
		if !ok {
			return true
		}
		x, y, z := Unhash(h)
		if !p.conf.Range.Contains(y << 4) {
			return true
		}
		pos := chunk.Pos{int32(x), int32(z)}
		if _, ok := seen[pos]; !ok {
			seen[pos] = struct{}{}
			positions = append(positions, pos)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return positions, nil
}

// Flush is a no-op: mapblocks are written to the store immediately.
func (p *Provider) Flush() error { return nil }

// Close closes the store.
func (p *Provider) Close() error {
	if err := p.conf.Store.Close(); err != nil {
		return fmt.Errorf("close luanti: %w", err)
	}
	return nil
}
