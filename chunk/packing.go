package chunk

import (
	"math/bits"

	"github.com/cqdetdev/worldstore/internal/errs"
)

// Word is the type of the words palette indices are packed into.
type Word interface {
	~uint32 | ~uint64
}

// BitsFor returns the smallest number of bits able to hold every index of a palette with n
// entries. It returns 0 for palettes with a single entry.
func BitsFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func wordBits[W Word]() int {
	return bits.Len64(uint64(^W(0)))
}

// PackedLen returns the number of words needed to pack n indices of the bit size passed.
func PackedLen[W Word](n, size int) int {
	if size == 0 {
		return 0
	}
	perWord := wordBits[W]() / size
	return (n + perWord - 1) / perWord
}

// PackIndices packs indices into words using size bits for every index. Indices never span two
// words: the high bits of a word that cannot hold another full index are left zero. The lowest
// bits of a word hold the first index.
func PackIndices[W Word](indices []uint16, size int) []W {
	if size == 0 {
		return nil
	}
	perWord := wordBits[W]() / size
	words := make([]W, PackedLen[W](len(indices), size))
	for i, v := range indices {
		words[i/perWord] |= W(v) << ((i % perWord) * size)
	}
	return words
}

// UnpackIndices unpacks len(dst) indices of size bits from words into dst. It is the inverse
// of PackIndices. With a size of 0 every index is 0.
func UnpackIndices[W Word](words []W, size int, dst []uint16) error {
	if size == 0 {
		clear(dst)
		return nil
	}
	if size > 16 {
		return errs.Format("palette index size of %d bits", size)
	}
	if need := PackedLen[W](len(dst), size); len(words) < need {
		return errs.Format("%d words of packed indices, %d needed", len(words), need)
	}
	perWord := wordBits[W]() / size
	mask := W(1)<<size - 1
	for i := range dst {
		dst[i] = uint16(words[i/perWord] >> ((i % perWord) * size) & mask)
	}
	return nil
}
