package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// LZ4Block stream layout: every block starts with the magic, a token holding the method and
// the block size exponent, the compressed and decompressed lengths and a checksum of the
// decompressed data, all little-endian. An empty raw block ends the stream.
const (
	lz4BlockMagic    = "LZ4Block"
	lz4BlockHeader   = len(lz4BlockMagic) + 13
	lz4MethodRaw     = 0x10
	lz4MethodLZ4     = 0x20
	lz4BlockLevel    = 6
	lz4BlockSize     = 1 << (lz4BlockLevel + 10)
	lz4ChecksumSeed  = 0x9747b28c
	lz4ChecksumMask  = 0xfffffff
	lz4MaxBlockLevel = 15
)

// compressLZ4Block compresses data into LZ4Block blocks of 64 KiB. Blocks that do not shrink
// are stored raw.
func compressLZ4Block(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2+2*lz4BlockHeader)
	var c lz4.Compressor
	buf := make([]byte, lz4.CompressBlockBound(lz4BlockSize))
	for len(data) > 0 {
		n := min(len(data), lz4BlockSize)
		block := data[:n]
		data = data[n:]

		m, err := c.CompressBlock(block, buf)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if m == 0 || m >= n {
			out = appendLZ4BlockHeader(out, lz4MethodRaw, n, n, block)
			out = append(out, block...)
			continue
		}
		out = appendLZ4BlockHeader(out, lz4MethodLZ4, m, n, block)
		out = append(out, buf[:m]...)
	}
	return appendLZ4BlockHeader(out, lz4MethodRaw, 0, 0, nil), nil
}

func appendLZ4BlockHeader(b []byte, method byte, compressed, original int, data []byte) []byte {
	b = append(b, lz4BlockMagic...)
	b = append(b, method|lz4BlockLevel)
	b = binary.LittleEndian.AppendUint32(b, uint32(compressed))
	b = binary.LittleEndian.AppendUint32(b, uint32(original))
	var sum uint32
	if original > 0 {
		sum = xxh32(data, lz4ChecksumSeed) & lz4ChecksumMask
	}
	return binary.LittleEndian.AppendUint32(b, sum)
}

// decompressLZ4Block decompresses an LZ4Block stream, verifying the checksum of every block.
// Data following the empty end block is ignored. A stream without an end block is accepted if
// it ends right after a block.
func decompressLZ4Block(data []byte, limit int) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		if len(data) < lz4BlockHeader {
			return nil, errors.New("lz4block: header truncated")
		}
		if !bytes.Equal(data[:len(lz4BlockMagic)], []byte(lz4BlockMagic)) {
			return nil, fmt.Errorf("lz4block: bad magic %q", data[:len(lz4BlockMagic)])
		}
		h := data[len(lz4BlockMagic):lz4BlockHeader]
		method, level := h[0]&0xf0, int(h[0]&0x0f)
		compressed := int(binary.LittleEndian.Uint32(h[1:]))
		original := int(binary.LittleEndian.Uint32(h[5:]))
		sum := binary.LittleEndian.Uint32(h[9:])
		data = data[lz4BlockHeader:]

		if level > lz4MaxBlockLevel {
			return nil, fmt.Errorf("lz4block: block size exponent %d", level)
		}
		maxSize := 1 << (level + 10)
		switch {
		case original > maxSize || compressed > lz4.CompressBlockBound(maxSize):
			return nil, fmt.Errorf("lz4block: block lengths %d/%d exceed block size %d", compressed, original, maxSize)
		case method != lz4MethodRaw && method != lz4MethodLZ4:
			return nil, fmt.Errorf("lz4block: unknown method %#x", method)
		case method == lz4MethodRaw && compressed != original:
			return nil, fmt.Errorf("lz4block: raw block of %d bytes stores %d", original, compressed)
		case compressed > len(data):
			return nil, fmt.Errorf("lz4block: block of %d bytes truncated to %d", compressed, len(data))
		}
		if original == 0 {
			break
		}
		if limit > 0 && len(out)+original > limit {
			return nil, ErrPayloadTooLarge
		}

		start := len(out)
		if method == lz4MethodRaw {
			out = append(out, data[:compressed]...)
		} else {
			out = append(out, make([]byte, original)...)
			n, err := lz4.UncompressBlock(data[:compressed], out[start:])
			if err != nil {
				return nil, fmt.Errorf("lz4block: %w", err)
			}
			if n != original {
				return nil, fmt.Errorf("lz4block: block holds %d bytes, header says %d", n, original)
			}
		}
		if got := xxh32(out[start:], lz4ChecksumSeed) & lz4ChecksumMask; got != sum {
			return nil, fmt.Errorf("lz4block: checksum %#x, expected %#x", got, sum)
		}
		data = data[compressed:]
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// compressLZ4 compresses data into a single LZ4 block.
// Format: [4 bytes uncompressed size][compressed data]
func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(dst, uint32(len(data)))
	if len(data) == 0 {
		return dst[:4], nil
	}
	n, err := lz4.CompressBlock(data, dst[4:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if n == 0 {
		return nil, errors.New("lz4: block could not be compressed")
	}
	return dst[:4+n], nil
}

// decompressLZ4 decompresses a block produced by compressLZ4.
func decompressLZ4(data []byte, limit int) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("lz4: missing size prefix")
	}
	size := int(binary.LittleEndian.Uint32(data))
	if size < 0 {
		return nil, fmt.Errorf("lz4: invalid size %d", size)
	}
	if limit > 0 && size > limit {
		return nil, ErrPayloadTooLarge
	}
	if size == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4: block holds %d bytes, prefix says %d", n, size)
	}
	return dst, nil
}
