package chainbase

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/sourcegraph/conc"

	"chainbase/internal/lockmanager"
)

// OpenFlags selects how Open attaches to a data directory.
type OpenFlags int

const (
	ReadWrite OpenFlags = iota
	ReadOnly
)

const (
	defaultLockTimeout = 5 * time.Second
	defaultLockRetries = 3
	defaultUndoDepth   = 0 // unbounded
)

// Engine is the façade holding every registered container, the lock
// manager and persistent store collaborators, and the engine-wide
// operational flag. See spec.md §2 and §4.4.
type Engine struct {
	dir   string
	flags OpenFlags

	byType map[reflect.Type]any
	byKey  map[uint16]sessionTarget
	order  []sessionTarget

	lock  LockManager
	store PersistentStore

	lockTimeout  time.Duration
	lockRetries  int
	maxUndoDepth int
	strictLock   bool

	logger *slog.Logger

	operational bool
	failure     error
	closed      bool

	evictWG   *conc.WaitGroup
	lockCheck *lockCheckState
}

// EngineOption configures Open. Unset options fall back to the
// in-process defaultStore and an in-process RWLockManager, so the engine
// runs standalone without any external service.
type EngineOption func(*Engine)

func WithLockManager(lm LockManager) EngineOption { return func(e *Engine) { e.lock = lm } }
func WithPersistentStore(s PersistentStore) EngineOption {
	return func(e *Engine) { e.store = s }
}
func WithLogger(l *slog.Logger) EngineOption { return func(e *Engine) { e.logger = l } }
func WithMaxUndoDepth(n int) EngineOption    { return func(e *Engine) { e.maxUndoDepth = n } }
func WithLockTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.lockTimeout = d }
}
func WithLockRetries(n int) EngineOption { return func(e *Engine) { e.lockRetries = n } }
func WithStrictLocking(b bool) EngineOption {
	return func(e *Engine) { e.strictLock = b }
}

// Open attaches to dir, verifying the environment fingerprint recorded
// there against the current process, per spec.md §6. ReadOnly on a
// directory with no existing fingerprint record fails with
// ErrOpenFailed.
func Open(dir string, flags OpenFlags, sizeHint int64, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		dir:          dir,
		flags:        flags,
		byType:       make(map[reflect.Type]any),
		byKey:        make(map[uint16]sessionTarget),
		lockTimeout:  defaultLockTimeout,
		lockRetries:  defaultLockRetries,
		maxUndoDepth: defaultUndoDepth,
		logger:       slog.Default(),
		operational:  true,
		evictWG:      conc.NewWaitGroup(),
		lockCheck:    &lockCheckState{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.lock == nil {
		e.lock = lockmanager.New()
	}
	if e.store == nil {
		e.store = newDefaultStore()
	}

	fp := currentFingerprint()
	existing, err := e.store.Get(fingerprintKey)
	switch {
	case errors.Is(err, ErrNotFound):
		if flags == ReadOnly {
			return nil, fmt.Errorf("%w: no existing state in %s for read-only open", ErrOpenFailed, dir)
		}
		if err := e.store.Put(fingerprintKey, fp.encode()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	default:
		decoded, err := decodeFingerprint(existing)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
		}
		if !decoded.equal(fp) {
			return nil, fmt.Errorf("%w: environment fingerprint mismatch in %s", ErrOpenFailed, dir)
		}
	}

	e.logger.Info("engine opened", "dir", dir, "readonly", flags == ReadOnly, "size_hint", sizeHint)
	return e, nil
}

func (e *Engine) checkOperational() error {
	if e.closed {
		return ErrEngineClosed
	}
	if !e.operational {
		return fmt.Errorf("chainbase: engine non-operational: %w", e.failure)
	}
	return nil
}

// fail transitions the engine to the non-operational state described in
// spec.md §7: only Close and Wipe remain valid afterward. The first
// failure wins; later calls are folded into a log line rather than
// clobbering the original cause.
func (e *Engine) fail(err error) error {
	if e.operational {
		e.operational = false
		e.failure = err
		e.logger.Error("engine entering non-operational state", "error", err)
	} else {
		e.logger.Error("additional failure after non-operational transition", "error", err)
	}
	return err
}

// expectedControlFlowError reports whether err is part of the ordinary
// precondition/constraint/contention taxonomy (spec.md §7) that must
// reach the caller unchanged, as opposed to an unexpected error that
// should demote the engine to non-operational.
func expectedControlFlowError(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUniquenessViolation) || errors.Is(err, ErrDuplicateType) ||
		errors.Is(err, ErrUnknownType) || errors.Is(err, ErrResizeBlocked)
}

func (e *Engine) withWriteLock(op string, fn func() error) error {
	if err := e.checkOperational(); err != nil {
		return err
	}
	err := e.lock.WithWriteLock(context.Background(), e.lockTimeout, e.lockRetries, func() error {
		e.lockCheck.enterWrite()
		defer e.lockCheck.exitWrite()
		return fn()
	})
	if errors.Is(err, lockmanager.ErrTimeout) {
		return ErrLockTimeout
	}
	if err != nil && !expectedControlFlowError(err) {
		if !IsInvariantViolation(err) {
			err = NewInvariantError(op, err)
		}
		if !e.operational {
			// fn already demoted the engine via fail.
			return err
		}
		return e.fail(err)
	}
	return err
}

func (e *Engine) withReadLock(fn func() error) error {
	if err := e.checkOperational(); err != nil {
		return err
	}
	err := e.lock.WithReadLock(context.Background(), e.lockTimeout, e.lockRetries, func() error {
		e.lockCheck.enterRead()
		defer e.lockCheck.exitRead()
		return fn()
	})
	if errors.Is(err, lockmanager.ErrTimeout) {
		return ErrLockTimeout
	}
	return err
}

// IsRegistered reports whether a (space, type) pair has a live
// container, restoring the original's has_index convenience.
func (e *Engine) IsRegistered(spaceType uint16) bool {
	_, ok := e.byKey[spaceType]
	return ok
}

// Register allocates a container for T using desc, and appends it to
// the registration-order list composite sessions fan out over.
func Register[T any, PT ObjectPtr[T]](e *Engine, desc Descriptor[T]) error {
	return e.withWriteLock("register_type", func() error {
		st := SpaceTypeOf(desc.Space, desc.Type)
		if _, exists := e.byKey[st]; exists {
			return ErrDuplicateType
		}
		c := newContainer[T, PT](desc.Space, desc.Type, desc, e.maxUndoDepth, makeEvictHandler[T, PT](e, desc))
		c.checkLock = e.newLockCheck()
		rt := reflect.TypeOf((*T)(nil)).Elem()
		e.byType[rt] = c
		e.byKey[st] = c
		e.order = append(e.order, c)
		return nil
	})
}

func containerOf[T any, PT ObjectPtr[T]](e *Engine) (*Container[T, PT], error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	v, ok := e.byType[rt]
	if !ok {
		return nil, ErrUnknownType
	}
	c, ok := v.(*Container[T, PT])
	if !ok {
		return nil, ErrUnknownType
	}
	return c, nil
}

// Find looks id up in T's container, returning (nil, false, nil) when
// absent or when id belongs to a different (space, type), and
// (nil, false, err) when T is unregistered.
func Find[T any, PT ObjectPtr[T]](e *Engine, id TypedID[T]) (PT, bool, error) {
	c, err := containerOf[T, PT](e)
	if err != nil {
		return nil, false, err
	}
	var result PT
	var found bool
	err = e.withReadLock(func() error {
		if id.Untyped().SpaceType() != c.spaceType() {
			return nil
		}
		result, found = c.Find(id.Untyped())
		return nil
	})
	return result, found, err
}

// Get is Find with NotFound surfaced as an error instead of a bool.
func Get[T any, PT ObjectPtr[T]](e *Engine, id TypedID[T]) (PT, error) {
	obj, ok, err := Find[T, PT](e, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return obj, nil
}

// FindByKey looks an object up by one of T's registered auxiliary
// unique keys, restoring the original's by-index lookup convenience
// alongside the primary id lookup Find provides.
func FindByKey[T any, PT ObjectPtr[T]](e *Engine, name string, key any) (PT, bool, error) {
	c, err := containerOf[T, PT](e)
	if err != nil {
		return nil, false, err
	}
	var result PT
	var found bool
	err = e.withReadLock(func() error {
		result, found = c.FindByKey(name, key)
		return nil
	})
	return result, found, err
}

// Inspect visits every live object of T's container in ascending id
// order under a read lock.
func Inspect[T any, PT ObjectPtr[T]](e *Engine, visit func(PT) bool) error {
	c, err := containerOf[T, PT](e)
	if err != nil {
		return err
	}
	return e.withReadLock(func() error {
		c.Inspect(visit)
		return nil
	})
}

// Create allocates and inserts a new T under the write lock.
func Create[T any, PT ObjectPtr[T]](e *Engine, build func(PT)) (PT, error) {
	c, err := containerOf[T, PT](e)
	if err != nil {
		return nil, err
	}
	var result PT
	err = e.withWriteLock("create", func() error {
		obj, err := c.Emplace(build)
		if err != nil {
			return err
		}
		result = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Modify mutates obj in place under the write lock, reverting
// immediately if the result violates uniqueness.
func Modify[T any, PT ObjectPtr[T]](e *Engine, obj PT, mutate func(PT)) error {
	c, err := containerOf[T, PT](e)
	if err != nil {
		return err
	}
	return e.withWriteLock("modify", func() error {
		return c.Modify(obj, mutate)
	})
}

// Remove deletes obj under the write lock.
func Remove[T any, PT ObjectPtr[T]](e *Engine, obj PT) error {
	c, err := containerOf[T, PT](e)
	if err != nil {
		return err
	}
	return e.withWriteLock("remove", func() error {
		return c.Remove(obj)
	})
}

// OpenSession pushes one undo level onto every registered container,
// in registration order, and returns a handle covering all of them.
func (e *Engine) OpenSession() (*CompositeSession, error) {
	var s *CompositeSession
	err := e.withWriteLock("open_session", func() error {
		targets := make([]sessionTarget, len(e.order))
		copy(targets, e.order)
		cs, err := newCompositeSessionLocked(e, targets)
		if err != nil {
			return NewInvariantError("open_session", err)
		}
		s = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Undo reverses the top level of every container's undo stack, without
// requiring the caller to have kept the CompositeSession handle around.
func (e *Engine) Undo() error {
	return e.withWriteLock("undo", func() error {
		for _, t := range e.order {
			if err := t.undoTop(); err != nil {
				return e.fail(NewInvariantError("undo", err))
			}
		}
		return nil
	})
}

// Squash merges the top level of every container's undo stack into its
// parent level.
func (e *Engine) Squash() error {
	return e.withWriteLock("squash", func() error {
		for _, t := range e.order {
			if err := t.squashTop(); err != nil {
				return e.fail(NewInvariantError("squash", err))
			}
		}
		return nil
	})
}

// Commit discards, from the bottom of every container's undo stack,
// every level whose revision is <= revision.
func (e *Engine) Commit(revision int64) error {
	return e.withWriteLock("commit", func() error {
		for _, t := range e.order {
			t.commitUpToRevision(revision)
		}
		return nil
	})
}

// UndoAll unwinds every container's undo stack completely.
func (e *Engine) UndoAll() error {
	return e.withWriteLock("undo_all", func() error {
		for _, t := range e.order {
			if err := t.undoAllLevels(); err != nil {
				return e.fail(NewInvariantError("undo_all", err))
			}
		}
		return nil
	})
}

// Revision returns the first registered container's revision counter,
// which tracks every other container's as long as they are only ever
// driven through composite sessions.
func (e *Engine) Revision() int64 {
	if len(e.order) == 0 {
		return 0
	}
	return e.order[0].getRevision()
}

// SetRevision forces every container's revision counter. Forbidden
// while any container has an open undo level.
func (e *Engine) SetRevision(r uint64) error {
	return e.withWriteLock("set_revision", func() error {
		for _, t := range e.order {
			if t.depth() != 0 {
				return NewInvariantError("set_revision", fmt.Errorf("cannot set revision while undo stack is non-empty"))
			}
		}
		for _, t := range e.order {
			if err := t.setRevision(int64(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush persists the current fingerprint record; concrete containers
// persist their own object state lazily, only on undo-level eviction.
func (e *Engine) Flush() error {
	return e.withWriteLock("flush", func() error {
		return e.store.Put(fingerprintKey, currentFingerprint().encode())
	})
}

// Close waits for any in-flight eviction work and closes the
// persistent store. Valid even on a non-operational engine.
func (e *Engine) Close() error {
	e.evictWG.Wait()
	e.closed = true
	return e.store.Close()
}

// Wipe removes all persisted state in dir. Valid even on a
// non-operational engine, since it's one of the two operations
// spec.md §7 leaves available after an invariant failure. A pure
// in-memory PersistentStore has nothing on disk to remove; Wipe only
// has visible effect against a file-backed store such as PebbleStore.
func Wipe(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("chainbase: wipe %s: %w", dir, err)
	}
	return nil
}

// Resize is permitted only when every container's undo stack is empty,
// per spec.md §5.
func (e *Engine) Resize(newSize int64) error {
	return e.withWriteLock("resize", func() error {
		for _, t := range e.order {
			if t.depth() != 0 {
				return ErrResizeBlocked
			}
		}
		e.logger.Info("resize requested", "new_size", newSize)
		return nil
	})
}

// EngineStats reports per-container size and undo-depth accounting,
// restoring the spirit of the original's get_free_memory diagnostic.
type EngineStats struct {
	Containers []ContainerStats
	Revision   int64
}

type ContainerStats struct {
	SpaceType  uint16
	ObjectLen  int
	UndoDepth  int
	Revision   int64
	RegistName int
}

// Stats reports live counts across every registered container.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{Revision: e.Revision()}
	for i, t := range e.order {
		cs := ContainerStats{
			SpaceType:  t.spaceType(),
			UndoDepth:  t.depth(),
			Revision:   t.getRevision(),
			RegistName: i,
		}
		if lenner, ok := t.(interface{ Len() int }); ok {
			cs.ObjectLen = lenner.Len()
		}
		stats.Containers = append(stats.Containers, cs)
	}
	return stats
}

// makeEvictHandler returns the callback invoked synchronously whenever
// a container's undo stack drops its oldest level past the configured
// depth bound. Persistence runs on a supervised background goroutine
// (spec.md §3: eviction is "equivalent to an implicit commit ... into
// the persistent store", but the write path itself must not block on
// it), so a persistence failure is logged, never returned to the
// caller that triggered the eviction. Panics inside the goroutine are
// caught and re-raised on Close's call to evictWG.Wait rather than
// crashing the process outright.
func makeEvictHandler[T any, PT ObjectPtr[T]](e *Engine, desc Descriptor[T]) func(*undoState[T]) error {
	return func(evicted *undoState[T]) error {
		e.evictWG.Go(func() {
			if err := persistEvicted[T, PT](e, desc, evicted); err != nil {
				e.logger.Error("undo level eviction failed", "space", desc.Space, "type", desc.Type, "error", err)
			}
		})
		return nil
	}
}

func persistEvicted[T any, PT ObjectPtr[T]](e *Engine, desc Descriptor[T], evicted *undoState[T]) error {
	if desc.Encode == nil || e.store == nil {
		return nil
	}
	b := e.store.Batch()
	for id, obj := range evicted.oldValues {
		data, err := desc.Encode(obj)
		if err != nil {
			return err
		}
		b.Put(idKey(id), data)
	}
	for id, obj := range evicted.removed {
		data, err := desc.Encode(obj)
		if err != nil {
			return err
		}
		b.Put(idKey(id), data)
	}
	return b.Commit()
}

func idKey(id ID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}
