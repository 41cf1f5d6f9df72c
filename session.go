package chainbase

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// sessionTarget is the non-generic face every Container[T, PT] presents
// to the Engine, letting a CompositeSession fan out across containers
// of different concrete types held in one registration-order slice.
type sessionTarget interface {
	startLevel() (int64, error)
	undoTop() error
	commitTop()
	squashTop() error
	commitUpToRevision(revision int64)
	undoAllLevels() error
	depth() int
	spaceType() uint16
	getRevision() int64
	setRevision(r int64) error
}

// CompositeSession is the handle returned by Engine.OpenSession: one
// speculative level pushed onto every registered container's undo
// stack, transitioned together. Exactly one of Undo, Push, Squash may
// be called; a second transition on the same handle panics, per the
// move-only session contract in spec.md §4.2.
type CompositeSession struct {
	engine   *Engine
	targets  []sessionTarget
	revision int64
	id       uuid.UUID
	done     bool
}

// newCompositeSessionLocked pushes a level onto every target. Callers
// must already hold the engine's write lock.
func newCompositeSessionLocked(e *Engine, targets []sessionTarget) (*CompositeSession, error) {
	s := &CompositeSession{engine: e, targets: targets, id: uuid.New()}
	for i, t := range targets {
		r, err := t.startLevel()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			s.revision = r
		}
	}
	return s, nil
}

// Revision returns the revision assigned to this session at open time.
func (s *CompositeSession) Revision() int64 { return s.revision }

// ID returns the correlation id logged alongside this session's
// transitions, for tracing a session's lifetime across log lines.
func (s *CompositeSession) ID() uuid.UUID { return s.id }

func (s *CompositeSession) checkNotDone(op string) {
	if s.done {
		panic(fmt.Sprintf("chainbase: %s called on an already-closed session %s", op, s.id))
	}
}

// Undo reverses every container's top undo level, fanning out in
// registration order regardless of intermediate failures, and combines
// any errors with multierr. A non-nil result marks the engine
// non-operational, since a partial reversal leaves containers out of
// sync with each other.
func (s *CompositeSession) Undo() error {
	s.checkNotDone("Undo")
	s.done = true
	return s.engine.withWriteLock("undo", func() error {
		var combined error
		for _, t := range s.targets {
			if err := t.undoTop(); err != nil {
				combined = multierr.Append(combined, err)
			}
		}
		if combined != nil {
			return s.engine.fail(NewInvariantError("undo", combined))
		}
		s.engine.logger.Debug("session undone", "session", s.id)
		return nil
	})
}

// Push discards this handle's reversibility, leaving each container's
// undo level on its stack for a parent session to reach later.
func (s *CompositeSession) Push() error {
	s.checkNotDone("Push")
	s.done = true
	return s.engine.withWriteLock("push", func() error {
		s.engine.logger.Debug("session pushed", "session", s.id)
		return nil
	})
}

// Squash merges each container's top undo level into its parent level.
func (s *CompositeSession) Squash() error {
	s.checkNotDone("Squash")
	s.done = true
	return s.engine.withWriteLock("squash", func() error {
		var combined error
		for _, t := range s.targets {
			if err := t.squashTop(); err != nil {
				combined = multierr.Append(combined, err)
			}
		}
		if combined != nil {
			return s.engine.fail(NewInvariantError("squash", combined))
		}
		s.engine.logger.Debug("session squashed", "session", s.id)
		return nil
	})
}

// Close implements the "destruction without an explicit transition
// equals undo" rule from spec.md §6, for callers using defer.
func (s *CompositeSession) Close() error {
	if s.done {
		return nil
	}
	return s.Undo()
}
