package kv

import (
	"bytes"
	"slices"
)

// Batch records puts and deletes to apply to a Store in one step.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key, value []byte
	del        bool
}

// Put records storing value under key. The slices passed are retained until the batch is
// written.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete records removing the value stored under key.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, del: true})
}

// Len returns the number of operations recorded.
func (b *Batch) Len() int { return len(b.ops) }

// Reset removes all operations recorded.
func (b *Batch) Reset() { b.ops = b.ops[:0] }

// Batcher is implemented by stores that apply all operations of a Batch atomically.
type Batcher interface {
	WriteBatch(b *Batch) error
}

// Write applies the operations of b to s in the order they were recorded. If s implements
// Batcher, either all operations are applied or none are. Other stores apply them one by one
// and stop at the first error.
func Write(s Store, b *Batch) error {
	if bs, ok := s.(Batcher); ok {
		return bs.WriteBatch(b)
	}
	for _, op := range b.ops {
		var err error
		if op.del {
			err = s.Delete(op.key)
		} else {
			err = s.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch applies b while holding the lock of the store, so that readers never observe part
// of it.
func (m *Memory) WriteBatch(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.ops {
		i, ok := m.search(op.key)
		switch {
		case op.del && ok:
			m.entries = slices.Delete(m.entries, i, i+1)
		case op.del:
		case ok:
			m.entries[i].value = append([]byte{}, op.value...)
		default:
			m.entries = slices.Insert(m.entries, i, memEntry{key: bytes.Clone(op.key), value: append([]byte{}, op.value...)})
		}
	}
	return nil
}
