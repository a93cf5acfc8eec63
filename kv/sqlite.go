package kv

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by an SQLite database with the table layout Luanti uses for
// map.sqlite: blocks(pos INTEGER PRIMARY KEY, data BLOB). Keys must be 8 bytes long and are
// mapped to the signed pos column by Int64Key and KeyInt64, which keeps the key order the same
// as the order of the integers.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the SQLite database at path and makes sure the blocks table
// exists.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %v: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blocks (pos INTEGER PRIMARY KEY, data BLOB)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %v: create schema: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// Int64Key encodes v as an 8-byte key that sorts in the same order as v.
func Int64Key(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v)^1<<63)
}

// KeyInt64 decodes a key produced by Int64Key.
func KeyInt64(key []byte) (int64, error) {
	if len(key) != 8 {
		return 0, fmt.Errorf("key of %d bytes, expected 8", len(key))
	}
	return int64(binary.BigEndian.Uint64(key) ^ 1<<63), nil
}

// Get ...
func (s *SQLite) Get(key []byte) ([]byte, error) {
	pos, err := KeyInt64(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.QueryRow(`SELECT data FROM blocks WHERE pos = ?`, pos).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// Put ...
func (s *SQLite) Put(key, value []byte) error {
	pos, err := KeyInt64(key)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err = s.db.Exec(`REPLACE INTO blocks (pos, data) VALUES (?, ?)`, pos, value)
	return err
}

// Delete ...
func (s *SQLite) Delete(key []byte) error {
	pos, err := KeyInt64(key)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM blocks WHERE pos = ?`, pos)
	return err
}

// WriteBatch applies b in a single transaction.
func (s *SQLite) WriteBatch(b *Batch) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, op := range b.ops {
		pos, err := KeyInt64(op.key)
		if err != nil {
			return err
		}
		if op.del {
			_, err = tx.Exec(`DELETE FROM blocks WHERE pos = ?`, pos)
		} else {
			value := op.value
			if value == nil {
				value = []byte{}
			}
			_, err = tx.Exec(`REPLACE INTO blocks (pos, data) VALUES (?, ?)`, pos, value)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Iterate ...
func (s *SQLite) Iterate(start, limit []byte, fn func(key, value []byte) bool) error {
	query, args := `SELECT pos, data FROM blocks WHERE 1`, make([]any, 0, 2)
	if start != nil {
		lo, err := boundInt64(start)
		if err != nil {
			return err
		}
		query += ` AND pos >= ?`
		args = append(args, lo)
	}
	if limit != nil {
		hi, err := boundInt64(limit)
		if err != nil {
			return err
		}
		query += ` AND pos < ?`
		args = append(args, hi)
	}
	rows, err := s.db.Query(query+` ORDER BY pos`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	// Rows are read fully before calling fn so that fn may use the store itself.
	type row struct {
		pos  int64
		data []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.pos, &r.data); err != nil {
			return err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()
	for _, r := range all {
		if !fn(Int64Key(r.pos), r.data) {
			break
		}
	}
	return nil
}

// boundInt64 converts an iteration bound into the smallest int64 whose key is not less than
// it. Bounds shorter than 8 bytes are padded with zeroes.
func boundInt64(b []byte) (int64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("iteration bound of %d bytes, expected at most 8", len(b))
	}
	var key [8]byte
	copy(key[:], b)
	return KeyInt64(key[:])
}

// Close ...
func (s *SQLite) Close() error {
	return s.db.Close()
}
