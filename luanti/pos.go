package luanti

import (
	"errors"
	"fmt"
)

// Mapblock coordinates must lie within [MinBlockPos, MaxBlockPos] on every axis for their hash
// to be unique.
const (
	MinBlockPos = -2048
	MaxBlockPos = 2047
)

// ErrOutOfBounds is returned for mapblock positions that cannot be hashed.
var ErrOutOfBounds = errors.New("mapblock position out of bounds")

// Hash returns the database key of the mapblock at x, y, z in mapblock coordinates.
func Hash(x, y, z int) (int64, error) {
	for _, v := range [3]int{x, y, z} {
		if v < MinBlockPos || v > MaxBlockPos {
			return 0, fmt.Errorf("hash (%d, %d, %d): %w", x, y, z, ErrOutOfBounds)
		}
	}
	return int64(z)*0x1000000 + int64(y)*0x1000 + int64(x), nil
}

// Unhash returns the mapblock position a database key was produced from.
func Unhash(h int64) (x, y, z int) {
	x = unsigned(h)
	h = (h - int64(x)) / 0x1000
	y = unsigned(h)
	h = (h - int64(y)) / 0x1000
	z = unsigned(h)
	return x, y, z
}

// unsigned returns the low 12 bits of h as a signed value in [-2048, 2047].
func unsigned(h int64) int {
	v := int(((h % 0x1000) + 0x1000) % 0x1000)
	if v > MaxBlockPos {
		v -= 0x1000
	}
	return v
}
