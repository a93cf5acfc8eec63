package luanti

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// WorldMeta holds the settings of a world.mt file in the order they were read.
type WorldMeta struct {
	entries [][2]string
}

// ReadWorldMeta reads the world.mt file in the world directory dir.
func ReadWorldMeta(dir string) (*WorldMeta, error) {
	f, err := os.Open(filepath.Join(dir, "world.mt"))
	if err != nil {
		return nil, fmt.Errorf("read world.mt: %w", err)
	}
	defer f.Close()
	return ParseWorldMeta(f)
}

// ParseWorldMeta parses settings of the form "key = value", one per line. A " - " in a value
// starts a comment that runs to the end of the line. Lines without "=" and lines starting with
// "#" are skipped.
func ParseWorldMeta(r io.Reader) (*WorldMeta, error) {
	m := &WorldMeta{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if i := strings.Index(value, " - "); i >= 0 {
			value = value[:i]
		}
		m.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("parse world.mt: %w", err)
	}
	return m, nil
}

// Get returns the value of a setting.
func (m *WorldMeta) Get(key string) (string, bool) {
	for _, e := range m.entries {
		if e[0] == key {
			return e[1], true
		}
	}
	return "", false
}

// Set sets the value of a setting, keeping its position if it already exists.
func (m *WorldMeta) Set(key, value string) {
	for i, e := range m.entries {
		if e[0] == key {
			m.entries[i][1] = value
			return
		}
	}
	m.entries = append(m.entries, [2]string{key, value})
}

// Bool returns the value of a boolean setting, or def if it is not set.
func (m *WorldMeta) Bool(key string, def bool) bool {
	v, ok := m.Get(key)
	if !ok {
		return def
	}
	return v == "true"
}

// DefaultGameID is the game of worlds whose world.mt does not name one.
const DefaultGameID = "minetest_game"

// GameID returns the game the world is played with, or DefaultGameID if world.mt has no
// gameid setting.
func (m *WorldMeta) GameID() string {
	if v, ok := m.Get("gameid"); ok && v != "" {
		return v
	}
	return DefaultGameID
}

// Backend returns the name of the map database backend. Worlds without a backend setting use
// sqlite3.
func (m *WorldMeta) Backend() string {
	if v, ok := m.Get("backend"); ok && v != "" {
		return v
	}
	return BackendSQLite
}

// AuthBackend returns the name of the player database backend. Worlds without an auth_backend
// setting use auth.txt.
func (m *WorldMeta) AuthBackend() string {
	if v, ok := m.Get("auth_backend"); ok && v != "" {
		return v
	}
	return AuthFiles
}

// Mods returns the sorted names of all mods enabled through load_mod_* settings.
func (m *WorldMeta) Mods() []string {
	var mods []string
	for _, e := range m.entries {
		if name, ok := strings.CutPrefix(e[0], "load_mod_"); ok && e[1] == "true" {
			mods = append(mods, name)
		}
	}
	slices.Sort(mods)
	return mods
}

// WriteTo writes the settings to w in world.mt syntax.
func (m *WorldMeta) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	for _, e := range m.entries {
		sb.WriteString(e[0])
		sb.WriteString(" = ")
		sb.WriteString(e[1])
		sb.WriteByte('\n')
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func writeWorldMeta(dir string, m *WorldMeta) error {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("write world.mt: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "world.mt"))
	if err != nil {
		return fmt.Errorf("write world.mt: %w", err)
	}
	if _, err := m.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write world.mt: %w", err)
	}
	return f.Close()
}
