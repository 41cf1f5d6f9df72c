// Package store provides richer PersistentStore implementations for
// chainbase's persistent byte-store collaborator (spec.md §4.5) than
// the library's own zero-config default: a sharded in-memory store
// adapted from the teacher's BufferStore, and a pebble-backed store for
// real durability. Wire either in via chainbase.WithPersistentStore.
package store

import (
	"bytes"
	"sort"
	"sync"

	"chainbase"
)

const numShards = 4

func shardOf(key []byte) int {
	var h uint32 = 2166136261
	for _, b := range key {
		h ^= uint32(b)
		h *= 16777619
	}
	return int(h % numShards)
}

// MemStore is a sharded, in-process, non-persistent PersistentStore:
// the teacher's BufferStore design (fixed shard count, hashed key
// routing) carried over from string values to plain bytes.
type MemStore struct {
	shards [numShards]*memShard
}

type memShard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore returns an empty, sharded MemStore.
func NewMemStore() *MemStore {
	s := &MemStore{}
	for i := range s.shards {
		s.shards[i] = &memShard{data: make(map[string][]byte)}
	}
	return s
}

func (s *MemStore) shard(key []byte) *memShard { return s.shards[shardOf(key)] }

func (s *MemStore) Get(key []byte) ([]byte, error) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.data[string(key)]
	if !ok {
		return nil, chainbase.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *MemStore) Put(key, value []byte) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	sh.data[string(key)] = cp
	return nil
}

func (s *MemStore) Delete(key []byte) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.data, string(key))
	return nil
}

// IterRange returns keys in [lo, hi) in ascending order, snapshotted
// across every shard at call time.
func (s *MemStore) IterRange(lo, hi []byte) (chainbase.Iterator, error) {
	var keys []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.data {
			kb := []byte(k)
			if bytes.Compare(kb, lo) >= 0 && (hi == nil || bytes.Compare(kb, hi) < 0) {
				keys = append(keys, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := s.Get([]byte(k))
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &memIterator{keys: keys, values: values, pos: -1}, nil
}

type memIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}
func (it *memIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *memIterator) Value() []byte { return it.values[it.pos] }
func (it *memIterator) Err() error    { return nil }
func (it *memIterator) Close() error  { return nil }

// Batch returns a write batch applied in Put/Delete order on Commit.
func (s *MemStore) Batch() chainbase.Batch { return &memBatch{store: s} }

type memBatchOp struct {
	del   bool
	key   []byte
	value []byte
}

type memBatch struct {
	store *MemStore
	ops   []memBatchOp
}

func (b *memBatch) Put(key, value []byte)    { b.ops = append(b.ops, memBatchOp{key: key, value: value}) }
func (b *memBatch) Delete(key []byte)        { b.ops = append(b.ops, memBatchOp{del: true, key: key}) }
func (b *memBatch) Commit() error {
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

func (s *MemStore) Close() error { return nil }
