package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/cqdetdev/worldstore/internal/errs"
)

var schemes = []Scheme{None, Zlib, Gzip, LZ4, Snappy, Zstd, RawLZ4}

func testPayload(n int) []byte {
	r := rand.New(rand.NewPCG(7, 7))
	b := make([]byte, n)
	for i := range b {
		// Long runs with some noise, roughly what block data looks like.
		if i%64 == 0 {
			b[i] = byte(r.IntN(256))
		} else {
			b[i] = b[i-1]
		}
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	for _, s := range schemes {
		for _, n := range []int{0, 1, 100, 64 * 1024, 200_000} {
			data := testPayload(n)
			packed, err := Deflate(s, data)
			if err != nil {
				t.Fatalf("%v/%d: deflate: %v", s, n, err)
			}
			out, err := Inflate(s, packed, 0)
			if err != nil {
				t.Fatalf("%v/%d: inflate: %v", s, n, err)
			}
			if !bytes.Equal(out, data) {
				t.Fatalf("%v/%d: round trip changed data", s, n)
			}
		}
	}
}

func TestInflateLimit(t *testing.T) {
	data := testPayload(10000)
	for _, s := range schemes {
		packed, err := Deflate(s, data)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Inflate(s, packed, 9999); !errors.Is(err, ErrPayloadTooLarge) {
			t.Errorf("%v: limit below size: got %v, want ErrPayloadTooLarge", s, err)
		}
		if _, err := Inflate(s, packed, 10000); err != nil {
			t.Errorf("%v: limit equal to size: %v", s, err)
		}
	}
}

func TestInflateBomb(t *testing.T) {
	// 64 MiB of zeroes compresses to a few kilobytes.
	packed, err := Deflate(Zlib, make([]byte, 64<<20))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Inflate(Zlib, packed, 1<<20); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestUnsupported(t *testing.T) {
	if _, err := Inflate(Scheme(0x7f), []byte{1}, 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("inflate: got %v", err)
	}
	if _, err := Deflate(Scheme(0), []byte{1}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("deflate: got %v", err)
	}
	if _, err := ParseScheme("brotli"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("parse: got %v", err)
	}
	if s, err := ParseScheme("LZ4"); err != nil || s != LZ4 {
		t.Errorf("ParseScheme(LZ4) = %v, %v", s, err)
	}
}

func TestCorruptInput(t *testing.T) {
	garbage := map[Scheme][]byte{
		Zlib: {0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		Gzip: {0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		Zstd: {0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		// A small size prefix followed by a literal run that never ends.
		RawLZ4: {10, 0, 0, 0, 0xff, 0xff},
		LZ4:    []byte("LZ4Blocc\x16\x01\x00\x00\x00\x01\x00\x00\x00\x00\x00\x00\x00x"),
		// Decoded length 5 followed by a copy with a missing offset.
		Snappy: {0x05, 0xff, 0xff},
	}
	for s, data := range garbage {
		if _, err := Inflate(s, data, 1<<20); !errors.Is(err, errs.ErrFormat) {
			t.Errorf("%v: got %v, want a format error", s, err)
		}
	}
}

func TestLZ4SizePrefix(t *testing.T) {
	packed, err := Deflate(RawLZ4, testPayload(300))
	if err != nil {
		t.Fatal(err)
	}
	if packed[0] != 300&0xff || packed[1] != 300>>8 || packed[2] != 0 || packed[3] != 0 {
		t.Fatalf("size prefix %x, want 300 little-endian", packed[:4])
	}
}

func TestXXH32(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"", 0x02cc5d05},
		{"a", 0x550d7456},
		{"abc", 0x32d153ff},
		{"Nobody inspects the spammish repetition", 0xe2293b2f},
	}
	for _, tt := range tests {
		if got := xxh32([]byte(tt.in), 0); got != tt.want {
			t.Errorf("xxh32(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

// lz4Block builds a single block of an LZ4Block stream.
func lz4Block(token byte, compressed, original uint32, sum uint32, data []byte) []byte {
	b := []byte("LZ4Block")
	b = append(b, token)
	b = binary.LittleEndian.AppendUint32(b, compressed)
	b = binary.LittleEndian.AppendUint32(b, original)
	b = binary.LittleEndian.AppendUint32(b, sum)
	return append(b, data...)
}

func TestLZ4BlockStream(t *testing.T) {
	packed, err := Deflate(LZ4, testPayload(100_000))
	if err != nil {
		t.Fatal(err)
	}
	if string(packed[:8]) != "LZ4Block" || packed[8] != 0x26 {
		t.Fatalf("unexpected first block header %q %#x", packed[:8], packed[8])
	}
	if n := binary.LittleEndian.Uint32(packed[13:]); n != 64*1024 {
		t.Fatalf("first block holds %d bytes, want 65536", n)
	}
	end := lz4Block(0x16, 0, 0, 0, nil)
	if !bytes.HasSuffix(packed, end) {
		t.Fatalf("stream does not end with an empty block: %x", packed[len(packed)-21:])
	}

	// A stream of raw blocks with a checksum over the decompressed data, as written for data
	// that does not compress.
	hello := []byte("hello")
	sum := xxh32(hello, 0x9747b28c) & 0xfffffff
	stream := append(lz4Block(0x16, 5, 5, sum, hello), end...)
	out, err := Inflate(LZ4, stream, 0)
	if err != nil || string(out) != "hello" {
		t.Fatalf("Inflate = %q, %v", out, err)
	}
	// Data after the end block is not read.
	if out, err := Inflate(LZ4, append(stream, 0xff, 0xff), 0); err != nil || string(out) != "hello" {
		t.Fatalf("Inflate with trailing data = %q, %v", out, err)
	}
	if _, err := Inflate(LZ4, stream, 4); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}

	bad := append(lz4Block(0x16, 5, 5, sum, []byte("jello")), end...)
	if _, err := Inflate(LZ4, bad, 0); !errors.Is(err, errs.ErrFormat) {
		t.Fatalf("checksum mismatch: got %v, want a format error", err)
	}
	bad = append(lz4Block(0x16, 4, 5, sum, hello), end...)
	if _, err := Inflate(LZ4, bad, 0); !errors.Is(err, errs.ErrFormat) {
		t.Fatalf("raw length mismatch: got %v, want a format error", err)
	}
}
