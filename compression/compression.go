// Package compression implements the payload compression schemes chunk formats store data with.
// A Scheme is selected per stored payload by a one-byte tag.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cqdetdev/worldstore/internal/errs"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Scheme identifies a compression algorithm. The values of Gzip, Zlib, None and LZ4 are the
// bytes written in front of region file payloads; Snappy, Zstd and RawLZ4 use values outside
// of that range.
type Scheme byte

const (
	// Gzip is RFC 1952 gzip.
	Gzip Scheme = 1
	// Zlib is RFC 1950 zlib-wrapped deflate, the default of Java edition.
	Zlib Scheme = 2
	// None stores data as-is.
	None Scheme = 3
	// LZ4 is the LZ4Block stream format of lz4-java, which Java edition region files use for
	// scheme 4.
	LZ4 Scheme = 4
	// Snappy is the snappy block format.
	Snappy Scheme = 0x10
	// Zstd is a Zstandard frame.
	Zstd Scheme = 0x11
	// RawLZ4 is a single raw LZ4 block prefixed by the uncompressed size as a 4-byte
	// little-endian integer.
	RawLZ4 Scheme = 0x12
)

var (
	// ErrUnsupported is returned for a scheme tag that is not known.
	ErrUnsupported = errors.New("unsupported compression scheme")
	// ErrPayloadTooLarge is returned by Inflate when the decompressed data would exceed the
	// limit passed.
	ErrPayloadTooLarge = errors.New("decompressed payload too large")
)

var schemeNames = map[Scheme]string{
	Gzip:   "gzip",
	Zlib:   "zlib",
	None:   "none",
	LZ4:    "lz4",
	Snappy: "snappy",
	Zstd:   "zstd",
	RawLZ4: "lz4raw",
}

// String ...
func (s Scheme) String() string {
	if name, ok := schemeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scheme(%#x)", byte(s))
}

// Valid reports if s is a known scheme.
func (s Scheme) Valid() bool {
	_, ok := schemeNames[s]
	return ok
}

// ParseScheme returns the scheme with the name passed, such as "zlib" or "lz4".
func ParseScheme(name string) (Scheme, error) {
	for s, n := range schemeNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnsupported, name)
}

var (
	zlibWriters = sync.Pool{New: func() any { return zlib.NewWriter(nil) }}
	gzipWriters = sync.Pool{New: func() any { return gzip.NewWriter(nil) }}

	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
)

// Deflate compresses data using the scheme passed.
func Deflate(s Scheme, data []byte) ([]byte, error) {
	switch s {
	case None:
		return data, nil
	case Zlib:
		w := zlibWriters.Get().(*zlib.Writer)
		defer zlibWriters.Put(w)
		return deflateStream(w, data)
	case Gzip:
		w := gzipWriters.Get().(*gzip.Writer)
		defer gzipWriters.Put(w)
		return deflateStream(w, data)
	case LZ4:
		return compressLZ4Block(data)
	case RawLZ4:
		return compressLZ4(data)
	case Snappy:
		return snappy.Encode(nil, data), nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	}
	return nil, fmt.Errorf("deflate: %w %v", ErrUnsupported, s)
}

type resetWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

func deflateStream(w resetWriter, data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(data)/2+64))
	w.Reset(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inflate decompresses data using the scheme passed. If limit is positive and the decompressed
// data is larger than limit bytes, ErrPayloadTooLarge is returned. Corrupt input results in an
// error matching errs.ErrFormat.
func Inflate(s Scheme, data []byte, limit int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch s {
	case None:
		if limit > 0 && len(data) > limit {
			return nil, ErrPayloadTooLarge
		}
		return data, nil
	case Zlib:
		var r io.ReadCloser
		if r, err = zlib.NewReader(bytes.NewReader(data)); err == nil {
			out, err = readLimited(r, limit)
			_ = r.Close()
		}
	case Gzip:
		var r *gzip.Reader
		if r, err = gzip.NewReader(bytes.NewReader(data)); err == nil {
			out, err = readLimited(r, limit)
			_ = r.Close()
		}
	case LZ4:
		out, err = decompressLZ4Block(data, limit)
	case RawLZ4:
		out, err = decompressLZ4(data, limit)
	case Snappy:
		var n int
		if n, err = snappy.DecodedLen(data); err == nil {
			if limit > 0 && n > limit {
				return nil, ErrPayloadTooLarge
			}
			out, err = snappy.Decode(nil, data)
		}
	case Zstd:
		var d *zstd.Decoder
		if d, err = zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1)); err == nil {
			out, err = readLimited(d, limit)
			d.Close()
		}
	default:
		return nil, fmt.Errorf("inflate: %w %v", ErrUnsupported, s)
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: inflate %v: %v", errs.ErrFormat, s, err)
	}
	return out, nil
}

// readLimited reads r until EOF, failing once more than limit bytes have been produced.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}
