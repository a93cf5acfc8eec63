// Package bedrock implements the chunk format of Bedrock edition worlds, which store every
// chunk as a set of records in a LevelDB database.
package bedrock

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/kv"
)

const (
	// ChunkVersion is the value written to the version record of every chunk.
	ChunkVersion = 40
	// SubChunkVersion is the version of the sub-chunk serialisation that is written.
	SubChunkVersion = 9
	// BlockVersion is the block state version written with palette entries of blocks that do
	// not carry one.
	BlockVersion int32 = 1<<24 | 21<<16 | 0<<8 | 3
)

// Config holds the settings of a Provider.
type Config struct {
	// Dir is the world directory. If Store is nil, the LevelDB database in Dir/db is opened.
	Dir string
	// Store is the key-value store records are kept in.
	Store kv.Store
	// Log is the Logger used by the provider. If nil, slog.Default() is used.
	Log *slog.Logger
}

// Open returns a Provider using the settings of conf.
func (conf Config) Open() (*Provider, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Store == nil {
		if conf.Dir == "" {
			return nil, fmt.Errorf("open bedrock: no world directory or store")
		}
		db, err := kv.OpenLevelDB(filepath.Join(conf.Dir, "db"), kv.BedrockOptions())
		if err != nil {
			return nil, fmt.Errorf("open bedrock: %w", err)
		}
		conf.Store = db
	}
	return &Provider{conf: conf, log: conf.Log.With("provider", "bedrock")}, nil
}

// Provider stores chunks in a Bedrock world database. Provider is safe for concurrent use if
// its Store is.
type Provider struct {
	conf Config
	log  *slog.Logger
}

// Name returns "bedrock".
func (p *Provider) Name() string { return "bedrock" }

// Range returns the vertical range of chunks in a dimension.
func (p *Provider) Range(dim chunk.Dimension) chunk.Range {
	switch dim {
	case chunk.Overworld:
		return chunk.Range{-64, 319}
	case chunk.Nether:
		return chunk.Range{0, 127}
	}
	return chunk.Range{0, 255}
}

// Empty returns the air block.
func (p *Provider) Empty() chunk.BlockRef { return air }

// Resolve ...
func (p *Provider) Resolve(dim chunk.Dimension, pos chunk.Pos) (chunk.Locator, error) {
	if dim < chunk.Overworld || dim > chunk.End {
		return chunk.Locator{}, fmt.Errorf("resolve %v %v: %w", dim, pos, chunk.ErrUnsupportedDimension)
	}
	return chunk.Locator{Dim: dim, Pos: pos}, nil
}

// records calls fn for every record stored for the chunk at loc.
func (p *Provider) records(loc chunk.Locator, fn func(info kv.KeyInfo, key, value []byte)) error {
	start, limit := kv.Prefix(binary.LittleEndian.AppendUint32(binary.LittleEndian.AppendUint32(nil, uint32(loc.Pos[0])), uint32(loc.Pos[1])))
	return p.conf.Store.Iterate(start, limit, func(key, value []byte) bool {
		if info, ok := kv.ParseChunkKey(key); ok && info.Dim == loc.Dim && info.Pos == loc.Pos {
			fn(info, key, value)
		}
		return true
	})
}

// Read returns every record of the chunk at loc as a payload. A chunk without a version
// record is reported as absent.
func (p *Provider) Read(loc chunk.Locator) (chunk.Payloads, bool, error) {
	var (
		payloads  chunk.Payloads
		versioned bool
	)
	err := p.records(loc, func(info kv.KeyInfo, key, value []byte) {
		if info.Kind == kv.KindVersion || info.Kind == kv.KindLegacyVersion {
			versioned = true
		}
		payloads = append(payloads, chunk.Payload{Key: bytes.Clone(key), Scheme: compression.None, Data: bytes.Clone(value)})
	})
	if err != nil {
		return nil, false, fmt.Errorf("read chunk %v: %w", loc.Pos, err)
	}
	if !versioned {
		return nil, false, nil
	}
	return payloads, true, nil
}

// Write stores the payloads of the chunk at loc and removes records of the chunk that are not
// among them, all in one batch. The version record is the last operation of the batch, so
// stores applying batches one operation at a time never expose a version without its
// subchunks.
func (p *Provider) Write(loc chunk.Locator, payloads chunk.Payloads) error {
	stale := make(map[string]struct{})
	err := p.records(loc, func(_ kv.KeyInfo, key, _ []byte) {
		stale[string(key)] = struct{}{}
	})
	if err != nil {
		return fmt.Errorf("write chunk %v: %w", loc.Pos, err)
	}
	versionKey := kv.ChunkKey(loc.Dim, loc.Pos, kv.KindVersion)
	var (
		b       kv.Batch
		version *chunk.Payload
	)
	for i, pl := range payloads {
		delete(stale, string(pl.Key))
		if bytes.Equal(pl.Key, versionKey) {
			version = &payloads[i]
			continue
		}
		b.Put(pl.Key, pl.Data)
	}
	for key := range stale {
		b.Delete([]byte(key))
	}
	if version != nil {
		b.Put(version.Key, version.Data)
	}
	if err := kv.Write(p.conf.Store, &b); err != nil {
		return fmt.Errorf("write chunk %v: %w", loc.Pos, err)
	}
	return nil
}

// Delete removes every record of the chunk at loc, starting with its version.
func (p *Provider) Delete(loc chunk.Locator) error {
	var keys [][]byte
	err := p.records(loc, func(info kv.KeyInfo, key, _ []byte) {
		if info.Kind == kv.KindVersion || info.Kind == kv.KindLegacyVersion {
			keys = append([][]byte{bytes.Clone(key)}, keys...)
			return
		}
		keys = append(keys, bytes.Clone(key))
	})
	if err != nil {
		return fmt.Errorf("delete chunk %v: %w", loc.Pos, err)
	}
	var b kv.Batch
	for _, key := range keys {
		b.Delete(key)
	}
	if err := kv.Write(p.conf.Store, &b); err != nil {
		return fmt.Errorf("delete chunk %v: %w", loc.Pos, err)
	}
	return nil
}

// Positions returns the positions of all chunks with a version record in a dimension.
func (p *Provider) Positions(dim chunk.Dimension) ([]chunk.Pos, error) {
	var positions []chunk.Pos
	seen := make(map[chunk.Pos]struct{})
	err := p.conf.Store.Iterate(nil, nil, func(key, _ []byte) bool {
		info, ok := kv.ParseChunkKey(key)
		if !ok || info.Dim != dim || (info.Kind != kv.KindVersion && info.Kind != kv.KindLegacyVersion) {
			return true
		}
		if _, dup := seen[info.Pos]; !dup {
			seen[info.Pos] = struct{}{}
			positions = append(positions, info.Pos)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return positions, nil
}

// Flush is a no-op: records are written to the store immediately.
func (p *Provider) Flush() error { return nil }

// Close closes the store.
func (p *Provider) Close() error {
	if err := p.conf.Store.Close(); err != nil {
		return fmt.Errorf("close bedrock: %w", err)
	}
	return nil
}
