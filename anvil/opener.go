package anvil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/region"
)

// Opener supplies the storage of region files.
type Opener interface {
	// OpenRegion returns the storage of the region at rx, rz in the dimension passed. If the
	// region does not exist, an error matching region.ErrNotFound is returned unless create is
	// set.
	OpenRegion(dim chunk.Dimension, rx, rz int32, create bool) (region.Storage, error)
	// Regions returns the coordinates of all regions stored for a dimension.
	Regions(dim chunk.Dimension) ([][2]int32, error)
}

// ExternalOpener is implemented by Openers that can store chunks too large for a region file
// outside of it. Anvil worlds use it, McRegion worlds do not.
type ExternalOpener interface {
	// External returns the storage of large chunks of the region at rx, rz.
	External(dim chunk.Dimension, rx, rz int32) (region.ExternalStorage, error)
}

// DirOpener opens region files in the directory layout of a Java edition world: the overworld
// in Dir/region, the nether in Dir/DIM-1/region and the end in Dir/DIM1/region.
type DirOpener struct {
	Dir string
	// Ext is the extension of region files, "mca" or "mcr".
	Ext string
}

// RegionDir returns the directory holding the region files of a dimension.
func (o DirOpener) RegionDir(dim chunk.Dimension) (string, error) {
	switch dim {
	case chunk.Overworld:
		return filepath.Join(o.Dir, "region"), nil
	case chunk.Nether:
		return filepath.Join(o.Dir, "DIM-1", "region"), nil
	case chunk.End:
		return filepath.Join(o.Dir, "DIM1", "region"), nil
	}
	return "", fmt.Errorf("%w: %v", chunk.ErrUnsupportedDimension, dim)
}

// OpenRegion ...
func (o DirOpener) OpenRegion(dim chunk.Dimension, rx, rz int32, create bool) (region.Storage, error) {
	dir, err := o.RegionDir(dim)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, region.FileName(rx, rz, o.Ext))
	flag := os.O_RDWR
	if create {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, err
		}
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0666)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", region.ErrNotFound, path)
	} else if err != nil {
		return nil, err
	}
	return region.FileStorage{File: f}, nil
}

// External stores large chunks as .mcc files next to the region file.
func (o DirOpener) External(dim chunk.Dimension, rx, rz int32) (region.ExternalStorage, error) {
	dir, err := o.RegionDir(dim)
	if err != nil {
		return nil, err
	}
	return region.DirExternal{Dir: dir, RX: rx, RZ: rz}, nil
}

// Regions ...
func (o DirOpener) Regions(dim chunk.Dimension) ([][2]int32, error) {
	dir, err := o.RegionDir(dim)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var regions [][2]int32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if rx, rz, ok := parseFileName(e.Name(), o.Ext); ok {
			regions = append(regions, [2]int32{rx, rz})
		}
	}
	return regions, nil
}

// parseFileName parses a region file name in the form r.X.Z.ext.
func parseFileName(name, ext string) (rx, rz int32, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 4 || parts[0] != "r" || parts[3] != ext {
		return 0, 0, false
	}
	x, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	z, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return int32(x), int32(z), true
}
