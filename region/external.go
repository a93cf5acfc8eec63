package region

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// externalFlag is set in the scheme byte of payloads whose data is stored outside of the
// region file.
const externalFlag = 0x80

// ExternalStorage keeps the payloads of chunks that do not fit in MaxSectors sectors outside
// of their region file. Chunks are addressed by their region-local coordinates.
type ExternalStorage interface {
	// ReadExternal returns the payload of the chunk at x, z. A missing payload results in an
	// error matching fs.ErrNotExist.
	ReadExternal(x, z int) ([]byte, error)
	// WriteExternal replaces the payload of the chunk at x, z.
	WriteExternal(x, z int, data []byte) error
	// DeleteExternal removes the payload of the chunk at x, z. Removing a missing payload is
	// not an error.
	DeleteExternal(x, z int) error
}

// ExternalFileName returns the name Java edition gives the file holding the payload of the
// chunk at x, z (absolute chunk coordinates).
func ExternalFileName(x, z int32) string {
	return fmt.Sprintf("c.%d.%d.mcc", x, z)
}

// DirExternal stores external payloads of the region at RX, RZ as .mcc files in Dir, the
// directory of the region file.
type DirExternal struct {
	Dir    string
	RX, RZ int32
}

func (d DirExternal) path(x, z int) string {
	return filepath.Join(d.Dir, ExternalFileName(d.RX*Width+int32(x), d.RZ*Width+int32(z)))
}

// ReadExternal ...
func (d DirExternal) ReadExternal(x, z int) ([]byte, error) {
	return os.ReadFile(d.path(x, z))
}

// WriteExternal writes data to a temporary file and renames it over the payload file, so that
// the previous payload stays readable until the new one is complete.
func (d DirExternal) WriteExternal(x, z int, data []byte) error {
	if err := os.MkdirAll(d.Dir, 0777); err != nil {
		return err
	}
	path := d.path(x, z)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// DeleteExternal ...
func (d DirExternal) DeleteExternal(x, z int) error {
	if err := os.Remove(d.path(x, z)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// MemExternal is an in-memory ExternalStorage. It is safe for concurrent use.
type MemExternal struct {
	mu   sync.Mutex
	data map[int][]byte
}

// NewMemExternal returns an empty MemExternal.
func NewMemExternal() *MemExternal {
	return &MemExternal{data: make(map[int][]byte)}
}

// ReadExternal ...
func (m *MemExternal) ReadExternal(x, z int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[indexOf(x, z)]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

// WriteExternal ...
func (m *MemExternal) WriteExternal(x, z int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[indexOf(x, z)] = append([]byte(nil), data...)
	return nil
}

// DeleteExternal ...
func (m *MemExternal) DeleteExternal(x, z int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, indexOf(x, z))
	return nil
}

// Len returns the number of payloads stored.
func (m *MemExternal) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
