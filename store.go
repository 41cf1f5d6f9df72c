package chainbase

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PersistentStore is the external byte-string collaborator the engine
// consults only at open, flush, wipe, and when an undo level is evicted
// past the configured depth bound (spec.md §4.5). Keys are opaque byte
// strings; the engine uses big-endian encoded ids as keys for object
// records and one well-known key for the fingerprint record.
type PersistentStore interface {
	Get(key []byte) ([]byte, error) // returns ErrNotFound when absent
	Put(key, value []byte) error
	Delete(key []byte) error
	IterRange(lo, hi []byte) (Iterator, error)
	Batch() Batch
	Close() error
}

// Batch groups a set of writes into one atomic unit against a
// PersistentStore.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// Iterator walks a key range in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// LockManager is the multi-reader/single-writer collaborator the engine
// wraps every externally invoked operation in (spec.md §4.6). retries is
// the number of additional attempts after the first; timeout applies to
// each individual attempt.
type LockManager interface {
	WithReadLock(ctx context.Context, timeout time.Duration, retries int, fn func() error) error
	WithWriteLock(ctx context.Context, timeout time.Duration, retries int, fn func() error) error
}

// fingerprintKey is the well-known key the environment fingerprint
// record is stored under in the heap store, per spec.md §6.
var fingerprintKey = []byte("\x00fingerprint")

// defaultStore is the built-in PersistentStore used by Open when no
// WithPersistentStore option is given: a plain mutex-guarded map, so
// the engine runs standalone with zero external wiring. Applications
// that want the sharded internal/store.MemStore or a
// internal/store.PebbleStore pass one in via WithPersistentStore -
// this package can't default to those directly without importing them,
// which would cycle back through their use of the Iterator/Batch types
// declared here.
type defaultStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newDefaultStore() *defaultStore {
	return &defaultStore{data: make(map[string][]byte)}
}

func (s *defaultStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *defaultStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[string(key)] = cp
	return nil
}

func (s *defaultStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *defaultStore) IterRange(lo, hi []byte) (Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		kb := []byte(k)
		if bytesGE(kb, lo) && (hi == nil || bytesLT(kb, hi)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = s.data[k]
	}
	return &defaultIterator{keys: keys, values: values, pos: -1}, nil
}

func (s *defaultStore) Batch() Batch { return &defaultBatch{store: s} }

func (s *defaultStore) Close() error { return nil }

func bytesGE(a, b []byte) bool { return bytesCompare(a, b) >= 0 }
func bytesLT(a, b []byte) bool { return bytesCompare(a, b) < 0 }

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

type defaultIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *defaultIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}
func (it *defaultIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *defaultIterator) Value() []byte { return it.values[it.pos] }
func (it *defaultIterator) Err() error    { return nil }
func (it *defaultIterator) Close() error  { return nil }

type defaultBatchOp struct {
	del   bool
	key   []byte
	value []byte
}

type defaultBatch struct {
	store *defaultStore
	ops   []defaultBatchOp
}

func (b *defaultBatch) Put(key, value []byte)    { b.ops = append(b.ops, defaultBatchOp{key: key, value: value}) }
func (b *defaultBatch) Delete(key []byte)        { b.ops = append(b.ops, defaultBatchOp{del: true, key: key}) }
func (b *defaultBatch) Commit() error {
	for _, op := range b.ops {
		if op.del {
			if err := b.store.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := b.store.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}
