package chainbase

import "errors"

// errCausalityBroken flags a squash encountering a P\S cell the truth
// table in spec.md §4.1 marks as a causal impossibility (e.g. a delete
// followed by an update on the same id with no intervening create). It
// never escapes as-is: callers wrap it in an InvariantError.
var errCausalityBroken = errors.New("chainbase: squash encountered a causally impossible state pair")

// undoState is one level of a container's undo stack: the change-set
// spec.md §3 calls "undo state". T is the concrete stored object type.
type undoState[T any] struct {
	oldValues       map[ID]*T
	removed         map[ID]*T
	newIDs          map[ID]struct{}
	oldNextInstance uint64
	revision        int64
}

func newUndoState[T any](oldNextInstance uint64, revision int64) *undoState[T] {
	return &undoState[T]{
		oldValues:       make(map[ID]*T),
		removed:         make(map[ID]*T),
		newIDs:          make(map[ID]struct{}),
		oldNextInstance: oldNextInstance,
		revision:        revision,
	}
}

// isEmpty reports whether this level recorded no mutations at all,
// useful only for diagnostics/tests.
func (s *undoState[T]) isEmpty() bool {
	return len(s.oldValues) == 0 && len(s.removed) == 0 && len(s.newIDs) == 0
}

// undoStack is the ordered sequence of undo states for one container,
// oldest at index 0. A bound of 0 means unbounded.
type undoStack[T any] struct {
	levels   []*undoState[T]
	maxDepth int
	onEvict  func(evicted *undoState[T]) error
}

func (s *undoStack[T]) depth() int { return len(s.levels) }

func (s *undoStack[T]) top() *undoState[T] {
	if len(s.levels) == 0 {
		return nil
	}
	return s.levels[len(s.levels)-1]
}

// parent returns the level directly below top, or nil if top is the
// bottom of the stack.
func (s *undoStack[T]) parent() *undoState[T] {
	if len(s.levels) < 2 {
		return nil
	}
	return s.levels[len(s.levels)-2]
}

// push opens a new level. If pushing exceeds maxDepth, the oldest level
// is discarded (spec.md §3: "equivalent to an implicit commit of that
// level's state into the persistent store"); onEvict, if set, is given
// a chance to persist it first. An eviction error is returned to the
// caller but the level is dropped regardless, since the stack bound is
// a hard cap on memory, not a promise of retry.
func (s *undoStack[T]) push(oldNextInstance uint64, revision int64) (*undoState[T], error) {
	st := newUndoState[T](oldNextInstance, revision)
	s.levels = append(s.levels, st)
	if s.maxDepth > 0 && len(s.levels) > s.maxDepth {
		evicted := s.levels[0]
		s.levels = s.levels[1:]
		if s.onEvict != nil {
			if err := s.onEvict(evicted); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

func (s *undoStack[T]) pop() *undoState[T] {
	if len(s.levels) == 0 {
		return nil
	}
	st := s.levels[len(s.levels)-1]
	s.levels = s.levels[:len(s.levels)-1]
	return st
}

// commitUpTo discards every level from the bottom whose revision is
// <= revision, per spec.md §4.1 commit(revision).
func (s *undoStack[T]) commitUpTo(revision int64) {
	i := 0
	for i < len(s.levels) && s.levels[i].revision <= revision {
		i++
	}
	s.levels = s.levels[i:]
}

// mergeUndo merges child (S, the top of the stack) into parent (P, the
// level beneath it), implementing the truth table in spec.md §4.1.
// Ties: P's old_values entry wins over S's for the same id (earliest
// pre-image), and P's create/delete decision wins over S's. Cells the
// table marks "—" are causal impossibilities and return
// errCausalityBroken; the caller is expected to fail the whole engine
// since this indicates a corrupted undo log, not a client mistake.
func mergeUndo[T any](parent, child *undoState[T]) error {
	for id, snap := range child.oldValues {
		if _, isNew := parent.newIDs[id]; isNew {
			// P:new, S:upd -> keep P:new (type A)
			continue
		}
		if _, hasOld := parent.oldValues[id]; hasOld {
			// P:upd(was=X), S:upd(was=Y) -> keep P:upd(was=X) (type A)
			continue
		}
		if _, wasDeleted := parent.removed[id]; wasDeleted {
			// P:del, S:upd -> causally impossible
			return errCausalityBroken
		}
		// P:nop, S:upd(was=Y) -> upd(was=Y) (type B)
		parent.oldValues[id] = snap
	}

	for id := range child.newIDs {
		// The only reachable P-cell for an id newly created in the
		// child session is P:nop (a parent session cannot already
		// hold a record for an id its child just allocated).
		parent.newIDs[id] = struct{}{}
	}

	for id, snap := range child.removed {
		if _, isNew := parent.newIDs[id]; isNew {
			// P:new, S:del -> cancel: erase from P.new_ids (type C)
			delete(parent.newIDs, id)
			continue
		}
		if old, hasOld := parent.oldValues[id]; hasOld {
			// P:upd(was=X), S:del(was=Y) -> del(was=X) (type C)
			parent.removed[id] = old
			delete(parent.oldValues, id)
			continue
		}
		if _, wasDeleted := parent.removed[id]; wasDeleted {
			// P:del, S:del -> causally impossible
			return errCausalityBroken
		}
		// P:nop, S:del(was=Y) -> del(was=Y) (type B)
		parent.removed[id] = snap
	}

	return nil
}
