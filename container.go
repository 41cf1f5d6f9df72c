package chainbase

import (
	"fmt"
	"sort"

	"go.uber.org/atomic"
)

// ObjectPtr expresses the "T stores an Object" relationship Go's type
// system can't say directly: Object's methods have pointer receivers
// (via embedded Base), so it's *T, not T, that satisfies Object. Every
// exported generic function in this package takes an explicit T and
// lets PT be inferred from the callback argument's type, so call sites
// only ever name the struct type, e.g. Create[KVEntry](e, ...).
type ObjectPtr[T any] interface {
	*T
	Object
}

// Container holds every live object of one (space, type), its
// next-instance counter, its auxiliary uniqueness indexes, and its undo
// stack. One Container exists per type registered with an Engine.
type Container[T any, PT ObjectPtr[T]] struct {
	space, typ byte

	objects map[ID]PT

	descriptor    Descriptor[T]
	uniqueIndexes []map[any]ID
	indexNames    map[string]int

	nextInstance atomic.Uint64
	revision     int64
	stack        *undoStack[T]

	// checkLock is a no-op unless the owning Engine was opened with
	// Config.StrictLocking / WithStrictLocking(true), in which case it
	// panics if called without the appropriate lock already held.
	checkLock containerLockCheck
}

func newContainer[T any, PT ObjectPtr[T]](space, typ byte, desc Descriptor[T], maxUndoDepth int, onEvict func(*undoState[T]) error) *Container[T, PT] {
	idx := make([]map[any]ID, len(desc.UniqueKeys))
	names := make(map[string]int, len(desc.UniqueKeys))
	for i, k := range desc.UniqueKeys {
		idx[i] = make(map[any]ID)
		names[k.Name] = i
	}
	return &Container[T, PT]{
		space:         space,
		typ:           typ,
		objects:       make(map[ID]PT),
		descriptor:    desc,
		uniqueIndexes: idx,
		indexNames:    names,
		stack:         &undoStack[T]{maxDepth: maxUndoDepth, onEvict: onEvict},
		checkLock:     func(bool) {},
	}
}

func (c *Container[T, PT]) clone(obj PT) PT {
	cp := new(T)
	*cp = *obj
	return cp
}

func (c *Container[T, PT]) checkUniqueness(obj PT, excludeID ID) error {
	for i, key := range c.descriptor.UniqueKeys {
		k := key.KeyOf(obj)
		if existing, ok := c.uniqueIndexes[i][k]; ok && existing != excludeID {
			return ErrUniquenessViolation
		}
	}
	return nil
}

func (c *Container[T, PT]) insertIndexes(obj PT) {
	for i, key := range c.descriptor.UniqueKeys {
		c.uniqueIndexes[i][key.KeyOf(obj)] = obj.ObjectID()
	}
}

func (c *Container[T, PT]) removeIndexes(obj PT) {
	for i, key := range c.descriptor.UniqueKeys {
		delete(c.uniqueIndexes[i], key.KeyOf(obj))
	}
}

// Emplace allocates the next instance in this container, populates it
// via build, and inserts it under a uniqueness check. On failure
// next_id is left untouched and no undo-state change is made.
func (c *Container[T, PT]) Emplace(build func(PT)) (PT, error) {
	c.checkLock(true)
	inst := c.nextInstance.Load()
	id := MakeID(c.space, c.typ, inst)

	obj := new(T)
	var pt PT = obj
	pt.SetObjectID(id)
	build(pt)
	pt.SetObjectID(id)

	if err := c.checkUniqueness(pt, NullID); err != nil {
		return nil, err
	}

	c.objects[id] = pt
	c.insertIndexes(pt)
	if top := c.stack.top(); top != nil {
		top.newIDs[id] = struct{}{}
	}
	c.nextInstance.Store(inst + 1)
	return pt, nil
}

// Modify applies mutate in place, snapshotting the pre-mutation value
// into the top undo level on first touch, and reverting immediately if
// the mutated object violates uniqueness.
func (c *Container[T, PT]) Modify(obj PT, mutate func(PT)) error {
	c.checkLock(true)
	id := obj.ObjectID()
	if _, ok := c.objects[id]; !ok {
		return ErrNotFound
	}

	if top := c.stack.top(); top != nil {
		_, isNew := top.newIDs[id]
		_, hasOld := top.oldValues[id]
		if !isNew && !hasOld {
			top.oldValues[id] = c.clone(obj)
		}
	}

	pre := c.clone(obj)
	c.removeIndexes(obj)
	mutate(obj)
	obj.SetObjectID(id)

	if err := c.checkUniqueness(obj, id); err != nil {
		*obj = *pre
		c.insertIndexes(obj)
		return err
	}
	c.insertIndexes(obj)
	return nil
}

// Remove deletes obj from the container, recording enough of its
// history in the top undo level to reverse the removal on undo.
func (c *Container[T, PT]) Remove(obj PT) error {
	c.checkLock(true)
	id := obj.ObjectID()
	if _, ok := c.objects[id]; !ok {
		return ErrNotFound
	}

	if top := c.stack.top(); top != nil {
		switch {
		case has(top.newIDs, id):
			delete(top.newIDs, id)
		default:
			if snap, ok := top.oldValues[id]; ok {
				top.removed[id] = snap
				delete(top.oldValues, id)
			} else if _, ok := top.removed[id]; !ok {
				top.removed[id] = c.clone(obj)
			}
		}
	}

	c.removeIndexes(obj)
	delete(c.objects, id)
	return nil
}

func has[K comparable](m map[K]struct{}, k K) bool {
	_, ok := m[k]
	return ok
}

// RemoveByID looks obj up by id and removes it, restoring the original
// chainbase.hpp convenience of removing without holding a live pointer.
func (c *Container[T, PT]) RemoveByID(id ID) error {
	obj, ok := c.objects[id]
	if !ok {
		return ErrNotFound
	}
	return c.Remove(obj)
}

// Find returns the live object for id, or (nil, false).
func (c *Container[T, PT]) Find(id ID) (PT, bool) {
	c.checkLock(false)
	obj, ok := c.objects[id]
	return obj, ok
}

// Get returns the live object for id, or ErrNotFound.
func (c *Container[T, PT]) Get(id ID) (PT, error) {
	c.checkLock(false)
	obj, ok := c.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return obj, nil
}

// FindByKey looks an object up by one of its registered auxiliary
// unique keys.
func (c *Container[T, PT]) FindByKey(name string, key any) (PT, bool) {
	c.checkLock(false)
	i, ok := c.indexNames[name]
	if !ok {
		return nil, false
	}
	id, ok := c.uniqueIndexes[i][key]
	if !ok {
		return nil, false
	}
	return c.objects[id], true
}

// Inspect visits every live object in ascending id order, stable for
// the duration of one call, stopping early if visit returns false.
func (c *Container[T, PT]) Inspect(visit func(PT) bool) {
	c.checkLock(false)
	ids := make([]ID, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !visit(c.objects[id]) {
			return
		}
	}
}

// Len reports the number of live objects, used by Engine.Stats.
func (c *Container[T, PT]) Len() int { return len(c.objects) }

// --- session-level operations, dispatched to by Engine/Session ---

// startLevel opens a new undo level, incrementing this container's own
// revision counter, and returns the new revision. Composite sessions
// call this on every registered container in the same call, so the
// counters stay in lockstep as long as containers are only ever driven
// through the composite session (never a bare per-container handle).
func (c *Container[T, PT]) startLevel() (int64, error) {
	c.revision++
	_, err := c.stack.push(c.nextInstance.Load(), c.revision)
	return c.revision, err
}

// undoTop reverses the top undo level and pops it. A fatal reversal
// error (corrupted undo log) is returned wrapped so the caller can mark
// the engine non-operational without also panicking mid-reversal.
func (c *Container[T, PT]) undoTop() error {
	top := c.stack.top()
	if top == nil {
		return nil
	}

	for id, snap := range top.oldValues {
		if live, ok := c.objects[id]; ok {
			c.removeIndexes(live)
		}
		restored := c.clone(snap)
		restored.SetObjectID(id)
		c.objects[id] = restored
		c.insertIndexes(restored)
	}

	for id := range top.newIDs {
		if obj, ok := c.objects[id]; ok {
			c.removeIndexes(obj)
			delete(c.objects, id)
		}
	}

	c.nextInstance.Store(top.oldNextInstance)

	for id, snap := range top.removed {
		if _, exists := c.objects[id]; exists {
			return NewInvariantError("undo", fmt.Errorf("id %s already present while reinserting removed object", id))
		}
		restored := c.clone(snap)
		restored.SetObjectID(id)
		if err := c.checkUniqueness(restored, NullID); err != nil {
			return NewInvariantError("undo", err)
		}
		c.objects[id] = restored
		c.insertIndexes(restored)
	}

	c.stack.pop()
	c.revision--
	return nil
}

func (c *Container[T, PT]) commitTop() { c.stack.pop() }

// squashTop merges the top level into its parent. Squashing the bottom
// level (no parent) degrades to a plain pop with no revision change,
// matching the original's single-level squash() shortcut.
func (c *Container[T, PT]) squashTop() error {
	if c.stack.depth() < 2 {
		c.stack.pop()
		return nil
	}
	child := c.stack.pop()
	parent := c.stack.top()
	if err := mergeUndo(parent, child); err != nil {
		return NewInvariantError("squash", err)
	}
	c.revision--
	return nil
}

func (c *Container[T, PT]) commitUpToRevision(revision int64) { c.stack.commitUpTo(revision) }

func (c *Container[T, PT]) undoAllLevels() error {
	for c.stack.depth() > 0 {
		if err := c.undoTop(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container[T, PT]) depth() int { return c.stack.depth() }

func (c *Container[T, PT]) spaceType() uint16 { return SpaceTypeOf(c.space, c.typ) }

func (c *Container[T, PT]) getRevision() int64 { return c.revision }

// setRevision forces the revision counter, forbidden while any undo
// level is open.
func (c *Container[T, PT]) setRevision(r int64) error {
	if c.stack.depth() != 0 {
		return NewInvariantError("set_revision", fmt.Errorf("cannot set revision while undo stack is non-empty"))
	}
	c.revision = r
	return nil
}
