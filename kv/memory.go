package kv

import (
	"bytes"
	"slices"
	"sync"
)

// Memory is a Store that keeps its data in a sorted slice. It is safe for concurrent use and
// mostly useful in tests.
type Memory struct {
	mu      sync.RWMutex
	entries []memEntry
}

type memEntry struct {
	key, value []byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(m.entries, key, func(e memEntry, k []byte) int {
		return bytes.Compare(e.key, k)
	})
}

// Get ...
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.search(key)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(m.entries[i].value), nil
}

// Put ...
func (m *Memory) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{key: bytes.Clone(key), value: append([]byte{}, value...)}
	if i, ok := m.search(key); ok {
		m.entries[i] = e
	} else {
		m.entries = slices.Insert(m.entries, i, e)
	}
	return nil
}

// Delete ...
func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.search(key); ok {
		m.entries = slices.Delete(m.entries, i, i+1)
	}
	return nil
}

// Iterate ...
func (m *Memory) Iterate(start, limit []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	i, _ := m.search(start)
	var snapshot []memEntry
	for _, e := range m.entries[i:] {
		if limit != nil && bytes.Compare(e.key, limit) >= 0 {
			break
		}
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e.key, e.value) {
			break
		}
	}
	return nil
}

// Len returns the number of keys stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close ...
func (m *Memory) Close() error { return nil }
