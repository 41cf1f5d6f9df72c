package chainbase

import "go.uber.org/atomic"

// lockCheckState is the debug-only bookkeeping behind Config.StrictLocking,
// restoring chainbase.hpp's CHAINBASE_REQUIRE_READ_LOCK/_WRITE_LOCK
// assertions (compiled out unless CHAINBASE_CHECK_LOCKING is defined
// there): a reader counter and a writer flag, set around each
// with_read_lock/with_write_lock scope, mirroring the original's
// int_incrementer.
// Reads and writes never overlap in this engine (both go through the
// same RWLockManager), so writeHeld implies the requireRead check
// passes too.
type lockCheckState struct {
	readers   atomic.Int32
	writeHeld atomic.Bool
}

func (l *lockCheckState) enterRead()  { l.readers.Inc() }
func (l *lockCheckState) exitRead()   { l.readers.Dec() }
func (l *lockCheckState) enterWrite() { l.writeHeld.Store(true) }
func (l *lockCheckState) exitWrite()  { l.writeHeld.Store(false) }

func (l *lockCheckState) heldForRead() bool  { return l.readers.Load() > 0 || l.writeHeld.Load() }
func (l *lockCheckState) heldForWrite() bool { return l.writeHeld.Load() }

// containerLockCheck is the closure a Container calls at the top of
// every accessor, when strictLock is enabled. needWrite distinguishes
// mutating operations (Emplace/Modify/Remove) from read-only ones
// (Find/Get/FindByKey/Inspect). The session-level operations
// (startLevel/undoTop/squashTop and the rest) do not call it.
type containerLockCheck func(needWrite bool)

func (e *Engine) newLockCheck() containerLockCheck {
	if !e.strictLock {
		return func(bool) {}
	}
	state := e.lockCheck
	return func(needWrite bool) {
		ok := state.heldForRead()
		if needWrite {
			ok = state.heldForWrite()
		}
		if !ok {
			panic("chainbase: container accessed without the required lock held (StrictLocking)")
		}
	}
}
