package store

import (
	"github.com/cockroachdb/pebble"

	"chainbase"
)

// PebbleStore backs chainbase's PersistentStore collaborator with an
// embedded LSM tree, grounded on drpcorg-chotki's pebble.Open/
// pebble.Batch/pebble.IterOptions usage - the pack's only real
// embedded-KV dependency.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (creating if absent) a pebble database at dir.
func NewPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, chainbase.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *PebbleStore) Put(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

func (s *PebbleStore) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

func (s *PebbleStore) IterRange(lo, hi []byte) (chainbase.Iterator, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{it: it, started: false}, nil
}

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.it.First()
	}
	return it.it.Next()
}
func (it *pebbleIterator) Key() []byte   { return it.it.Key() }
func (it *pebbleIterator) Value() []byte { return it.it.Value() }
func (it *pebbleIterator) Err() error    { return it.it.Error() }
func (it *pebbleIterator) Close() error  { return it.it.Close() }

func (s *PebbleStore) Batch() chainbase.Batch { return &pebbleBatch{store: s, batch: s.db.NewBatch()} }

type pebbleBatch struct {
	store *PebbleStore
	batch *pebble.Batch
}

func (b *pebbleBatch) Put(key, value []byte) { _ = b.batch.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte)     { _ = b.batch.Delete(key, nil) }
func (b *pebbleBatch) Commit() error         { return b.batch.Commit(pebble.NoSync) }

func (s *PebbleStore) Close() error { return s.db.Close() }
