package kv

import (
	"errors"
	"fmt"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"
)

// LevelDB is a Store backed by a LevelDB database.
type LevelDB struct {
	db *leveldb.DB
}

// BedrockOptions returns the LevelDB options Bedrock edition opens its world database with.
func BedrockOptions() *opt.Options {
	return &opt.Options{
		Compression: opt.FlateCompression,
		BlockSize:   16 * opt.KiB,
	}
}

// OpenLevelDB opens or creates the LevelDB database in dir. o may be nil.
func OpenLevelDB(dir string, o *opt.Options) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, o)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %v: %w", dir, err)
	}
	return &LevelDB{db: db}, nil
}

// Get ...
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// Put ...
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Delete ...
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// WriteBatch applies b as a single leveldb.Batch.
func (l *LevelDB) WriteBatch(b *Batch) error {
	batch := new(leveldb.Batch)
	for _, op := range b.ops {
		if op.del {
			batch.Delete(op.key)
		} else {
			batch.Put(op.key, op.value)
		}
	}
	return l.db.Write(batch, nil)
}

// Iterate ...
func (l *LevelDB) Iterate(start, limit []byte, fn func(key, value []byte) bool) error {
	it := l.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer it.Release()
	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// Close ...
func (l *LevelDB) Close() error {
	return l.db.Close()
}
