// Package kv implements ordered key-value stores that chunk formats without region files keep
// their data in, together with the key layouts those formats use.
package kv

import (
	"errors"
)

// ErrNotFound is returned by Store.Get when no value is stored under a key.
var ErrNotFound = errors.New("key not found")

// Store is an ordered key-value store. Implementations only need to provide the minimal set of
// operations chunk backends use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Put stores value under key, replacing any existing value.
	Put(key, value []byte) error
	// Delete removes the value stored under key. Deleting a missing key is not an error.
	Delete(key []byte) error
	// Iterate calls fn for every key in [start, limit) in ascending byte order, until fn
	// returns false. A nil start or limit leaves that side of the range open. The slices
	// passed to fn are only valid until fn returns.
	Iterate(start, limit []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Prefix returns the range of keys starting with p, for use with Store.Iterate.
func Prefix(p []byte) (start, limit []byte) {
	limit = append([]byte(nil), p...)
	for i := len(limit) - 1; i >= 0; i-- {
		if limit[i] < 0xff {
			limit[i]++
			return p, limit[:i+1]
		}
	}
	return p, nil
}
