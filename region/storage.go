package region

import (
	"io"
	"os"
	"sync"
)

// Storage is the byte-addressable resource a region File is stored in. It is implemented by
// *os.File through FileStorage, and by MemStorage.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the current size of the storage in bytes.
	Size() (int64, error)
	// Sync commits written data to durable storage.
	Sync() error
	Close() error
}

// FileStorage adapts an *os.File to Storage.
type FileStorage struct {
	*os.File
}

// Size ...
func (f FileStorage) Size() (int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// MemStorage is an in-memory Storage. It is safe for concurrent use.
type MemStorage struct {
	mu     sync.Mutex
	data   []byte
	syncs  int
	closed bool
}

// NewMemStorage returns a MemStorage holding a copy of data.
func NewMemStorage(data []byte) *MemStorage {
	return &MemStorage{data: append([]byte(nil), data...)}
}

// ReadAt ...
func (m *MemStorage) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt ...
func (m *MemStorage) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	return copy(m.data[off:], p), nil
}

// Size ...
func (m *MemStorage) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

// Sync ...
func (m *MemStorage) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

// Syncs returns the number of times Sync was called.
func (m *MemStorage) Syncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}

// Close ...
func (m *MemStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes returns a copy of the stored data.
func (m *MemStorage) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Truncate cuts the stored data down to n bytes.
func (m *MemStorage) Truncate(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < int64(len(m.data)) {
		m.data = m.data[:n]
	}
}
