// Package anvil implements the region file based chunk formats of Java edition: Anvil (.mca,
// 1.18 and later chunk layout) and its predecessor McRegion (.mcr).
package anvil

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/region"
)

// DataVersion is the data version written to chunks that were not read with one.
const DataVersion = 3953

// Config holds the settings of a Provider.
type Config struct {
	// Dir is the world directory. It is used to create a DirOpener when Opener is nil.
	Dir string
	// Opener supplies region storages. If nil, region files are opened under Dir.
	Opener Opener
	// Legacy selects the McRegion format instead of Anvil.
	Legacy bool
	// Compression is the scheme chunks are written with. Zlib is used if left zero.
	Compression compression.Scheme
	// DataVersion is written to chunks that do not carry a data version yet. DataVersion
	// (the constant) is used if left zero.
	DataVersion int32
	// SyncWrites syncs every payload to storage before it is made visible in the region index.
	SyncWrites bool
	// Log is the Logger used by the provider and its region files. If nil, slog.Default() is
	// used.
	Log *slog.Logger
}

// Open returns a Provider using the settings of conf.
func (conf Config) Open() (*Provider, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Compression == 0 {
		conf.Compression = compression.Zlib
	}
	if !conf.Compression.Valid() {
		return nil, fmt.Errorf("open %v: %w: %v", conf.name(), compression.ErrUnsupported, conf.Compression)
	}
	if conf.DataVersion == 0 {
		conf.DataVersion = DataVersion
	}
	if conf.Opener == nil {
		if conf.Dir == "" {
			return nil, fmt.Errorf("open %v: no world directory or opener", conf.name())
		}
		ext := "mca"
		if conf.Legacy {
			ext = "mcr"
		}
		conf.Opener = DirOpener{Dir: conf.Dir, Ext: ext}
	}
	conf.Log = conf.Log.With("provider", conf.name())
	return &Provider{conf: conf, regions: make(map[regionKey]*region.File)}, nil
}

func (conf Config) name() string {
	if conf.Legacy {
		return "mcregion"
	}
	return "anvil"
}

type regionKey struct {
	dim    chunk.Dimension
	rx, rz int32
}

// ErrClosed is returned when a closed Provider is used.
var ErrClosed = errors.New("provider closed")

// Provider stores chunks in region files. It keeps every region file it opens open until
// Close is called. Provider is safe for concurrent use.
type Provider struct {
	conf Config

	mu      sync.Mutex
	regions map[regionKey]*region.File
	closed  bool
}

// Name returns "anvil" or "mcregion".
func (p *Provider) Name() string { return p.conf.name() }

// Range returns the vertical range of chunks in a dimension.
func (p *Provider) Range(dim chunk.Dimension) chunk.Range {
	if p.conf.Legacy {
		return chunk.Range{0, 127}
	}
	if dim == chunk.Overworld {
		return chunk.Range{-64, 319}
	}
	return chunk.Range{0, 255}
}

// Empty returns the block unset positions of a chunk hold.
func (p *Provider) Empty() chunk.BlockRef {
	if p.conf.Legacy {
		return legacyAir
	}
	return air
}

// Resolve returns the location of the chunk at pos: the region holding it and its position
// within the region.
func (p *Provider) Resolve(dim chunk.Dimension, pos chunk.Pos) (chunk.Locator, error) {
	if dim < chunk.Overworld || dim > chunk.End {
		return chunk.Locator{}, fmt.Errorf("resolve %v %v: %w", dim, pos, chunk.ErrUnsupportedDimension)
	}
	rx, rz := region.Coord(pos[0], pos[1])
	lx, lz := region.Local(pos[0], pos[1])
	return chunk.Locator{Dim: dim, Pos: pos, Region: [2]int32{rx, rz}, Local: [2]int{lx, lz}}, nil
}

// region returns the open region file at the key passed, opening it first if needed. If the
// region does not exist and create is false, nil is returned without an error.
func (p *Provider) region(k regionKey, create bool) (*region.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if f, ok := p.regions[k]; ok {
		return f, nil
	}
	s, err := p.conf.Opener.OpenRegion(k.dim, k.rx, k.rz, create)
	if errors.Is(err, region.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("open region %d,%d: %w", k.rx, k.rz, err)
	}
	rc := region.Config{SyncWrites: p.conf.SyncWrites, Log: p.conf.Log}
	if eo, ok := p.conf.Opener.(ExternalOpener); ok && !p.conf.Legacy {
		if rc.External, err = eo.External(k.dim, k.rx, k.rz); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open region %d,%d: %w", k.rx, k.rz, err)
		}
	}
	f, err := rc.Open(s)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open region %d,%d: %w", k.rx, k.rz, err)
	}
	p.regions[k] = f
	return f, nil
}

func keyOf(loc chunk.Locator) regionKey {
	return regionKey{dim: loc.Dim, rx: loc.Region[0], rz: loc.Region[1]}
}

// Read returns the stored payload of the chunk at loc.
func (p *Provider) Read(loc chunk.Locator) (chunk.Payloads, bool, error) {
	f, err := p.region(keyOf(loc), false)
	if err != nil || f == nil {
		return nil, false, err
	}
	scheme, data, ok, err := f.ReadChunk(loc.Local[0], loc.Local[1])
	if err != nil || !ok {
		return nil, false, err
	}
	return chunk.Payloads{{Scheme: scheme, Data: data}}, true, nil
}

// Write stores the single payload of a chunk in its region, creating the region file if
// needed.
func (p *Provider) Write(loc chunk.Locator, payloads chunk.Payloads) error {
	if len(payloads) != 1 {
		return fmt.Errorf("write chunk %v: %d payloads, expected 1", loc.Pos, len(payloads))
	}
	f, err := p.region(keyOf(loc), true)
	if err != nil {
		return err
	}
	return f.WriteChunk(loc.Local[0], loc.Local[1], payloads[0].Scheme, payloads[0].Data)
}

// Delete removes the chunk at loc from its region.
func (p *Provider) Delete(loc chunk.Locator) error {
	f, err := p.region(keyOf(loc), false)
	if err != nil || f == nil {
		return err
	}
	return f.DeleteChunk(loc.Local[0], loc.Local[1])
}

// Positions returns the positions of all chunks stored in a dimension.
func (p *Provider) Positions(dim chunk.Dimension) ([]chunk.Pos, error) {
	regions, err := p.conf.Opener.Regions(dim)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	var positions []chunk.Pos
	for _, r := range regions {
		f, err := p.region(regionKey{dim: dim, rx: r[0], rz: r[1]}, false)
		if err != nil {
			return nil, err
		} else if f == nil {
			continue
		}
		for _, e := range f.Entries() {
			positions = append(positions, chunk.Pos{r[0]*region.Width + int32(e.X), r[1]*region.Width + int32(e.Z)})
		}
	}
	return positions, nil
}

// Flush writes the headers of all open region files.
func (p *Provider) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	var errs []error
	for k, f := range p.regions {
		if err := f.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush region %d,%d: %w", k.rx, k.rz, err))
		}
	}
	return errors.Join(errs...)
}

// FlushChunk writes the header of the region file holding the chunk at loc, so that the last
// write of the chunk can be read after reopening the region.
func (p *Provider) FlushChunk(loc chunk.Locator) error {
	f, err := p.region(keyOf(loc), false)
	if err != nil || f == nil {
		return err
	}
	if err := f.Flush(); err != nil {
		return fmt.Errorf("flush region %d,%d: %w", loc.Region[0], loc.Region[1], err)
	}
	return nil
}

// Close flushes and closes all open region files.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for k, f := range p.regions {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close region %d,%d: %w", k.rx, k.rz, err))
		}
	}
	p.regions = nil
	return errors.Join(errs...)
}

// Encode serialises c into the payload of the chunk at loc, to be compressed with the
// configured scheme.
func (p *Provider) Encode(loc chunk.Locator, c *chunk.Chunk) (chunk.Payloads, error) {
	c.Compact()
	var (
		data []byte
		err  error
	)
	if p.conf.Legacy {
		data, err = encodeLegacy(loc.Pos, c)
	} else {
		data, err = encodeAnvil(loc.Pos, c, p.conf.DataVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", loc.Pos, err)
	}
	return chunk.Payloads{{Scheme: p.conf.Compression, Data: data}}, nil
}

// Decode parses the decompressed payload of the chunk at loc.
func (p *Provider) Decode(loc chunk.Locator, payloads chunk.Payloads) (*chunk.Chunk, error) {
	if len(payloads) != 1 {
		return nil, fmt.Errorf("decode chunk %v: %d payloads, expected 1", loc.Pos, len(payloads))
	}
	var (
		c   *chunk.Chunk
		err error
	)
	if p.conf.Legacy {
		c, err = decodeLegacy(loc.Pos, payloads[0].Data)
	} else {
		c, err = decodeAnvil(loc.Pos, p.Range(loc.Dim), payloads[0].Data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w", loc.Pos, err)
	}
	c.MarkClean()
	return c, nil
}
