package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cqdetdev/worldstore"
	"github.com/cqdetdev/worldstore/anvil"
	"github.com/cqdetdev/worldstore/bedrock"
	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/luanti"
	"github.com/fatih/color"
)

var formats = []string{"anvil", "mcregion", "bedrock", "luanti"}

// family groups formats that share the encoding of block states and metadata.
func family(format string) string {
	if format == "mcregion" {
		return "anvil"
	}
	return format
}

// openProvider opens the world in dir using the format passed. The directory is created if it
// does not exist.
func openProvider(format, dir string, scheme compression.Scheme, log *slog.Logger) (worldstore.Provider, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	switch format {
	case "anvil", "mcregion":
		return anvil.Config{Dir: dir, Legacy: format == "mcregion", Compression: scheme, Log: log}.Open()
	case "bedrock":
		return bedrock.Config{Dir: dir, Log: log}.Open()
	case "luanti":
		return luanti.Config{Dir: dir, Log: log}.Open()
	}
	return nil, fmt.Errorf("unknown format %q (expected one of %v)", format, strings.Join(formats, ", "))
}

func parseDimensions(names []string) ([]chunk.Dimension, error) {
	if len(names) == 0 {
		return []chunk.Dimension{chunk.Overworld, chunk.Nether, chunk.End}, nil
	}
	dims := make([]chunk.Dimension, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "overworld":
			dims = append(dims, chunk.Overworld)
		case "nether":
			dims = append(dims, chunk.Nether)
		case "end":
			dims = append(dims, chunk.End)
		default:
			return nil, fmt.Errorf("unknown dimension %q", name)
		}
	}
	return dims, nil
}

// run opens both worlds of conf and copies all chunks from the source to the destination,
// calling progress after every chunk copied. It returns the number of chunks copied.
func run(conf Config, log *slog.Logger, progress func(n int)) (int, error) {
	if filepath.Clean(conf.Source) == filepath.Clean(conf.Dest) {
		return 0, errors.New("source and destination must be different folders")
	}
	dims, err := parseDimensions(conf.Dimensions)
	if err != nil {
		return 0, err
	}
	var scheme compression.Scheme
	if conf.Compression != "" {
		if scheme, err = compression.ParseScheme(conf.Compression); err != nil {
			return 0, err
		}
	}
	o := &worldstore.Options{CacheCapacity: conf.Cache, Log: log}

	sp, err := openProvider(conf.From, conf.Source, 0, log)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	if lp, ok := sp.(*luanti.Provider); ok {
		if users, err := lp.Users(); err != nil {
			log.Warn("Could not read player accounts.", "error", err)
		} else if len(users) > 0 {
			log.Warn("Player accounts are not converted.", "users", len(users))
		}
	}
	src, err := worldstore.Config{Options: o}.Open(sp)
	if err != nil {
		_ = sp.Close()
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dp, err := openProvider(conf.To, conf.Dest, scheme, log)
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	dst, err := worldstore.Config{Options: o}.Open(dp)
	if err != nil {
		_ = dp.Close()
		return 0, fmt.Errorf("open destination: %w", err)
	}

	c := copier{
		src:    src,
		dst:    dst,
		states: conf.From == conf.To,
		meta:   family(conf.From) == family(conf.To),
		log:    log,
	}
	n, err := c.copyAll(dims, progress)
	if cerr := dst.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close destination: %w", cerr))
	}
	return n, err
}

// copier copies chunks between two worlds.
type copier struct {
	src, dst *worldstore.World
	log      *slog.Logger

	// states reports if block states can be copied, meta if metadata can.
	states, meta bool
}

func (c copier) copyAll(dims []chunk.Dimension, progress func(n int)) (int, error) {
	var supported []chunk.Dimension
	for _, dim := range dims {
		if _, err := c.dst.Provider().Resolve(dim, chunk.Pos{}); errors.Is(err, chunk.ErrUnsupportedDimension) {
			color.Yellow("Warning: %s does not support the %v, skipping it.", c.dst.Provider().Name(), dim)
			continue
		}
		if _, err := c.src.Provider().Resolve(dim, chunk.Pos{}); errors.Is(err, chunk.ErrUnsupportedDimension) {
			continue
		}
		supported = append(supported, dim)
	}

	iter := c.src.NewChunkIterator(&worldstore.IteratorRange{Dimensions: supported})
	defer iter.Release()
	n := 0
	for iter.Next() {
		h := iter.Chunk()
		if err := c.copyChunk(h); err != nil {
			return n, fmt.Errorf("copy chunk %v in %v: %w", h.Pos(), h.Dim(), err)
		}
		n++
		if progress != nil {
			progress(n)
		}
	}
	return n, iter.Error()
}

// copyChunk copies the blocks and metadata of a source chunk into the destination chunk at the
// same position. Blocks outside the destination's vertical range are dropped.
func (c copier) copyChunk(h *worldstore.ChunkHandle) error {
	d, err := c.dst.Chunk(h.Dim(), h.Pos())
	if err != nil {
		return err
	}
	var viewErr error
	err = h.View(func(sc *chunk.Chunk) {
		viewErr = d.View(func(dc *chunk.Chunk) {
			c.copyBlocks(sc, dc)
		})
	})
	return errors.Join(err, viewErr)
}

func (c copier) copyBlocks(sc, dc *chunk.Chunk) {
	r, empty := dc.Range(), sc.Empty()
	dropped := 0
	for i := range sc.Sections() {
		if sc.SectionEmpty(i) {
			continue
		}
		base := sc.SectionY(i) << 4
		for y := base; y < base+16; y++ {
			if !r.Contains(y) {
				dropped++
				continue
			}
			for z := range 16 {
				for x := range 16 {
					b := sc.Block(x, y, z)
					if b.Equal(empty) {
						continue
					}
					if !c.states {
						b.State = nil
					}
					dc.SetBlock(x, y, z, b)
				}
			}
		}
	}
	if dropped > 0 {
		c.log.Debug("Dropped block layers outside of destination range.", "layers", dropped)
	}
	if !c.meta {
		return
	}
	for _, pos := range sc.MetadataPositions() {
		if !r.Contains(pos[1]) {
			continue
		}
		m, _ := sc.Metadata(pos)
		dc.SetMetadata(pos, m.Clone())
	}
}
