// Package region implements the region file container: up to 32x32 chunk payloads packed
// into 4096-byte sectors behind a fixed 8 KiB header.
//
// The header starts with 1024 big-endian uint32 location entries (sector offset << 8 | sector
// count), followed by 1024 big-endian uint32 last-modified timestamps. Each payload is stored as
// a 4-byte big-endian length, a compression scheme byte and the compressed data, padded to a
// whole number of sectors.
package region

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cqdetdev/worldstore/compression"
	"github.com/cqdetdev/worldstore/internal/errs"
)

const (
	// Width is the number of chunks along each side of a region.
	Width = 32
	// Chunks is the number of chunks a region holds.
	Chunks = Width * Width
	// SectorSize is the unit of allocation within a region file.
	SectorSize = 4096
	// HeaderSize is the size of the location and timestamp tables.
	HeaderSize = 2 * SectorSize
	// MaxSectors is the largest number of sectors a single chunk payload may occupy.
	MaxSectors = 255

	headerSectors = HeaderSize / SectorSize
	maxOffset     = 1<<24 - 1
)

var (
	// ErrNotFound is returned by OpenFile when the region file does not exist and creation was
	// not requested.
	ErrNotFound = errors.New("region file not found")
	// ErrChunkTooLarge is returned when a payload does not fit in MaxSectors sectors.
	ErrChunkTooLarge = errors.New("chunk payload too large for region file")
	// ErrClosed is returned for operations on a closed File.
	ErrClosed = errors.New("region file closed")
)

// Coord returns the coordinates of the region holding the chunk at x, z.
func Coord(x, z int32) (rx, rz int32) { return x >> 5, z >> 5 }

// Local returns the position of the chunk at x, z within its region.
func Local(x, z int32) (lx, lz int) { return int(x & (Width - 1)), int(z & (Width - 1)) }

// FileName returns the conventional name of the region file at rx, rz with the extension
// passed, such as "mca".
func FileName(rx, rz int32, ext string) string {
	return fmt.Sprintf("r.%d.%d.%s", rx, rz, ext)
}

// Config holds options for opening region files.
type Config struct {
	// SyncWrites syncs every payload to storage before the index is updated to point at it.
	SyncWrites bool
	// External stores payloads that do not fit in MaxSectors sectors. If nil, writing such a
	// payload fails with ErrChunkTooLarge and reading a chunk stored externally fails with a
	// format error.
	External ExternalStorage
	// Log is used to report entries dropped while opening a file. If nil, slog.Default() is
	// used.
	Log *slog.Logger
}

// Open opens the region stored in s with the default Config.
func Open(s Storage) (*File, error) { return Config{}.Open(s) }

// OpenFile opens the region file at path with the default Config.
func OpenFile(path string, create bool) (*File, error) { return Config{}.OpenFile(path, create) }

// OpenFile opens the region file at path. If the file does not exist, ErrNotFound is returned
// unless create is set, in which case an empty region is created.
func (conf Config) OpenFile(path string, create bool) (*File, error) {
	flag := os.O_RDWR
	if create {
		if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
			return nil, fmt.Errorf("open region %v: %w", path, err)
		}
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0666)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open region %v: %w", path, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("open region %v: %w", path, err)
	}
	r, err := conf.Open(FileStorage{File: f})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open region %v: %w", path, err)
	}
	return r, nil
}

// Open reads and validates the header of the region stored in s. Empty storage is treated as
// a region without chunks. Entries overlapping the header or each other result in an error
// matching errs.ErrFormat. Entries pointing past the end of the storage are left over from an
// interrupted write and are treated as absent.
func (conf Config) Open(s Storage) (*File, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	size, err := s.Size()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	r := &File{s: s, conf: conf}
	switch {
	case size == 0:
		r.alloc, _ = NewAllocator(headerSectors, nil)
		r.dirty = true
		return r, nil
	case size < HeaderSize:
		return nil, errs.Format("region header truncated to %d bytes", size)
	}
	header := make([]byte, HeaderSize)
	if _, err := s.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	r.idx.decode(header)

	// The last sector may be stored without padding.
	sectors := uint32((size + SectorSize - 1) / SectorSize)
	used := make([]Span, 0, Chunks)
	for i, loc := range r.idx.locations {
		if loc == 0 {
			continue
		}
		span := loc.span()
		switch {
		case span.Count == 0:
			return nil, errs.Format("region entry %d has no sectors", i)
		case span.Start < headerSectors:
			return nil, errs.Format("region entry %d at sector %d overlaps the header", i, span.Start)
		case span.End() > sectors:
			conf.Log.Debug("Dropping region entry past end of file.", "x", i%Width, "z", i/Width, "sector", span.Start, "count", span.Count, "sectors", sectors)
			r.idx.locations[i], r.idx.timestamps[i] = 0, 0
			r.dirty = true
			continue
		}
		used = append(used, span)
	}
	if r.alloc, err = NewAllocator(headerSectors, used); err != nil {
		return nil, errs.Format("region header: %v", err)
	}
	return r, nil
}

// File is an open region file. Its methods are safe for concurrent use, although concurrent
// writes to the same chunk must be ordered by the caller.
type File struct {
	s    Storage
	conf Config

	mu     sync.Mutex
	idx    index
	alloc  *Allocator
	dirty  bool
	closed bool
	// dropExternal holds the header slots of chunks that no longer use their external payload.
	// The payloads are removed once the header no longer refers to them.
	dropExternal map[int]struct{}
}

// ReadChunk reads the payload of the chunk at region-local x, z. The scheme the data is
// compressed with is returned with the data. If the chunk is not stored, exists is false.
func (r *File) ReadChunk(x, z int) (scheme compression.Scheme, data []byte, exists bool, err error) {
	i := indexOf(x, z)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, nil, false, ErrClosed
	}
	span := r.idx.locations[i].span()
	r.mu.Unlock()
	if span.Count == 0 {
		return 0, nil, false, nil
	}

	buf := make([]byte, span.Count*SectorSize)
	n, err := r.s.ReadAt(buf, int64(span.Start)*SectorSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, nil, false, fmt.Errorf("read chunk %d,%d: %w", x, z, err)
	}
	buf = buf[:n]
	if len(buf) < 5 {
		return 0, nil, false, errs.Format("chunk %d,%d: payload header truncated", x, z)
	}
	length := binary.BigEndian.Uint32(buf)
	if length == 0 || int64(length) > int64(len(buf))-4 {
		return 0, nil, false, errs.Format("chunk %d,%d: payload length %d exceeds %d stored bytes", x, z, length, len(buf)-4)
	}
	if buf[4]&externalFlag == 0 {
		return compression.Scheme(buf[4]), buf[5 : 4+length], true, nil
	}
	if r.conf.External == nil {
		return 0, nil, false, errs.Format("chunk %d,%d: stored externally without external storage", x, z)
	}
	data, err = r.conf.External.ReadExternal(x, z)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil, false, errs.Format("chunk %d,%d: external payload missing", x, z)
	} else if err != nil {
		return 0, nil, false, fmt.Errorf("read chunk %d,%d: %w", x, z, err)
	}
	return compression.Scheme(buf[4] &^ externalFlag), data, true, nil
}

// storedExternal reports if the payload in span refers to an external payload.
func (r *File) storedExternal(span Span) bool {
	var b [5]byte
	if _, err := r.s.ReadAt(b[:], int64(span.Start)*SectorSize); err != nil {
		return false
	}
	return b[4]&externalFlag != 0
}

// WriteChunk stores data, compressed with the scheme passed, as the payload of the chunk at
// region-local x, z. The payload is written before the in-memory index is updated to point at
// it; the index itself reaches the storage on Flush. Payloads larger than MaxSectors sectors
// are written to the External storage, leaving a one sector stub in the region file.
func (r *File) WriteChunk(x, z int, scheme compression.Scheme, data []byte) error {
	i := indexOf(x, z)
	count := (5 + len(data) + SectorSize - 1) / SectorSize
	external := count > MaxSectors
	if external {
		if r.conf.External == nil {
			return fmt.Errorf("write chunk %d,%d: %w: %d sectors", x, z, ErrChunkTooLarge, count)
		}
		r.mu.Lock()
		delete(r.dropExternal, i)
		r.mu.Unlock()
		if err := r.conf.External.WriteExternal(x, z, data); err != nil {
			return fmt.Errorf("write chunk %d,%d: external payload: %w", x, z, err)
		}
		count = 1
	}
	buf := make([]byte, count*SectorSize)
	if external {
		binary.BigEndian.PutUint32(buf, 1)
		buf[4] = byte(scheme) | externalFlag
	} else {
		binary.BigEndian.PutUint32(buf, uint32(len(data)+1))
		buf[4] = byte(scheme)
		copy(buf[5:], data)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	old := r.idx.locations[i].span()
	target := Span{Start: old.Start, Count: uint32(count)}
	inPlace := old.Count >= uint32(count)
	if !inPlace {
		target.Start = r.alloc.Allocate(uint32(count))
		if target.End() > maxOffset {
			r.alloc.Free(target)
			r.mu.Unlock()
			return fmt.Errorf("write chunk %d,%d: region file is full", x, z)
		}
	}
	r.mu.Unlock()
	wasExternal := !external && r.conf.External != nil && old.Count > 0 && r.storedExternal(old)

	if err := r.writePayload(target, buf); err != nil {
		if !inPlace {
			r.mu.Lock()
			r.alloc.Free(target)
			r.mu.Unlock()
		}
		return fmt.Errorf("write chunk %d,%d: %w", x, z, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inPlace {
		r.alloc.Release(Span{Start: target.End(), Count: old.Count - target.Count})
	} else {
		r.alloc.Release(old)
	}
	r.idx.locations[i] = makeLocation(target)
	r.idx.timestamps[i] = uint32(time.Now().Unix())
	r.dirty = true
	if wasExternal {
		r.dropExternalPayload(i)
	}
	return nil
}

func (r *File) dropExternalPayload(i int) {
	if r.dropExternal == nil {
		r.dropExternal = make(map[int]struct{})
	}
	r.dropExternal[i] = struct{}{}
}

func (r *File) writePayload(s Span, buf []byte) error {
	if _, err := r.s.WriteAt(buf, int64(s.Start)*SectorSize); err != nil {
		return err
	}
	if r.conf.SyncWrites {
		return r.s.Sync()
	}
	return nil
}

// DeleteChunk removes the chunk at region-local x, z from the index. Its sectors, and its
// external payload if it has one, are released on the next Flush.
func (r *File) DeleteChunk(x, z int) error {
	i := indexOf(x, z)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.idx.locations[i] == 0 {
		return nil
	}
	if r.conf.External != nil && r.storedExternal(r.idx.locations[i].span()) {
		r.dropExternalPayload(i)
	}
	r.alloc.Release(r.idx.locations[i].span())
	r.idx.locations[i], r.idx.timestamps[i] = 0, 0
	r.dirty = true
	return nil
}

// Flush writes the header to storage if it changed. Payloads are synced before the header is
// written, and sectors released since the last Flush become reusable only once the header has
// been written successfully. External payloads the header no longer refers to are deleted
// after that.
func (r *File) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.flush()
}

func (r *File) flush() error {
	if r.dirty {
		if err := r.s.Sync(); err != nil {
			return fmt.Errorf("flush region: sync payloads: %w", err)
		}
		if _, err := r.s.WriteAt(r.idx.encode(), 0); err != nil {
			return fmt.Errorf("flush region: write header: %w", err)
		}
		if err := r.s.Sync(); err != nil {
			return fmt.Errorf("flush region: sync header: %w", err)
		}
		r.alloc.Commit()
		r.dirty = false
	}
	var failed []error
	for i := range r.dropExternal {
		if err := r.conf.External.DeleteExternal(i%Width, i/Width); err != nil {
			failed = append(failed, fmt.Errorf("flush region: delete external payload of %d,%d: %w", i%Width, i/Width, err))
			continue
		}
		delete(r.dropExternal, i)
	}
	return errors.Join(failed...)
}

// Close flushes the header and closes the underlying storage.
func (r *File) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	err := r.flush()
	r.closed = true
	return errors.Join(err, r.s.Close())
}

// Exists reports if the chunk at region-local x, z is stored.
func (r *File) Exists(x, z int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx.locations[indexOf(x, z)] != 0
}

// Len returns the number of chunks stored.
func (r *File) Len() (n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, loc := range r.idx.locations {
		if loc != 0 {
			n++
		}
	}
	return n
}

// Entries returns the live entries of the index, ordered by header slot.
func (r *File) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, 64)
	for i, loc := range r.idx.locations {
		if loc == 0 {
			continue
		}
		entries = append(entries, Entry{
			X:        i % Width,
			Z:        i / Width,
			Sectors:  loc.span(),
			Modified: time.Unix(int64(r.idx.timestamps[i]), 0),
		})
	}
	return entries
}

// Overlapping returns pairs of live entries whose sectors overlap. It is empty for any file
// produced by this package.
func Overlapping(entries []Entry) [][2]Entry {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return cmp.Compare(a.Sectors.Start, b.Sectors.Start) })
	var out [][2]Entry
	for i := 1; i < len(sorted); i++ {
		for j := i - 1; j >= 0 && sorted[j].Sectors.End() > sorted[i].Sectors.Start; j-- {
			out = append(out, [2]Entry{sorted[j], sorted[i]})
		}
	}
	return out
}
