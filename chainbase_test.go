package chainbase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type kv struct {
	Base
	Key   string
	Value string
}

func kvDescriptor() Descriptor[kv] {
	return Descriptor[kv]{
		Space: 2,
		Type:  1,
		UniqueKeys: []KeyExtractor[kv]{
			{Name: "key", KeyOf: func(e *kv) any { return e.Key }},
		},
	}
}

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), ReadWrite, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, Register[kv](e, kvDescriptor()))
	return e
}

func TestOpenRejectsReadOnlyOnEmptyDir(t *testing.T) {
	_, err := Open(t.TempDir(), ReadOnly, 0)
	require.ErrorIs(t, err, ErrOpenFailed)
}

func TestOpenReattachSucceedsWithMatchingFingerprint(t *testing.T) {
	store := newDefaultStore()
	dir := t.TempDir()

	e1, err := Open(dir, ReadWrite, 0, WithPersistentStore(store))
	require.NoError(t, err)
	require.NoError(t, e1.Close())

	e2, err := Open(dir, ReadOnly, 0, WithPersistentStore(store))
	require.NoError(t, err)
	require.NoError(t, e2.Close())
}

func TestRegisterRejectsDuplicateType(t *testing.T) {
	e := openTestEngine(t)
	err := Register[kv](e, kvDescriptor())
	require.ErrorIs(t, err, ErrDuplicateType)
}

func TestCreateGetModifyRemove(t *testing.T) {
	e := openTestEngine(t)

	entry, err := Create[kv](e, func(k *kv) { k.Key = "a"; k.Value = "1" })
	require.NoError(t, err)

	got, err := Get[kv](e, NewTypedID[kv](entry.ObjectID()))
	require.NoError(t, err)
	require.Equal(t, "1", got.Value)

	require.NoError(t, Modify[kv](e, entry, func(k *kv) { k.Value = "2" }))
	got, _ = Get[kv](e, NewTypedID[kv](entry.ObjectID()))
	require.Equal(t, "2", got.Value)

	require.NoError(t, Remove[kv](e, entry))
	_, err = Get[kv](e, NewTypedID[kv](entry.ObjectID()))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindReturnsFalseOnSpaceTypeMismatch(t *testing.T) {
	e := openTestEngine(t)
	foreign := NewTypedID[kv](MakeID(9, 9, 1))
	obj, ok, err := Find[kv](e, foreign)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, obj)
}

func TestOperationsOnUnregisteredTypeFail(t *testing.T) {
	e, err := Open(t.TempDir(), ReadWrite, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	_, err = Create[kv](e, func(k *kv) {})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestFindByKey(t *testing.T) {
	e := openTestEngine(t)
	_, err := Create[kv](e, func(k *kv) { k.Key = "a"; k.Value = "1" })
	require.NoError(t, err)

	found, ok, err := FindByKey[kv](e, "key", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", found.Value)
}

func TestInspectVisitsInAscendingIDOrder(t *testing.T) {
	e := openTestEngine(t)
	_, _ = Create[kv](e, func(k *kv) { k.Key = "b" })
	_, _ = Create[kv](e, func(k *kv) { k.Key = "a" })

	var seen []string
	err := Inspect[kv](e, func(k *kv) bool {
		seen = append(seen, k.Key)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, seen, "insertion order == ascending id order")
}

func TestOpenSessionUndoReversesEverything(t *testing.T) {
	e := openTestEngine(t)
	_, err := Create[kv](e, func(k *kv) { k.Key = "existing" })
	require.NoError(t, err)

	s, err := e.OpenSession()
	require.NoError(t, err)
	_, err = Create[kv](e, func(k *kv) { k.Key = "scratch" })
	require.NoError(t, err)

	require.NoError(t, s.Undo())
	_, ok, _ := FindByKey[kv](e, "key", "scratch")
	require.False(t, ok)
	_, ok, _ = FindByKey[kv](e, "key", "existing")
	require.True(t, ok)
}

func TestOpenSessionSquashMergesIntoParent(t *testing.T) {
	e := openTestEngine(t)

	outer, err := e.OpenSession()
	require.NoError(t, err)
	entry, err := Create[kv](e, func(k *kv) { k.Key = "a"; k.Value = "1" })
	require.NoError(t, err)

	inner, err := e.OpenSession()
	require.NoError(t, err)
	require.NoError(t, Modify[kv](e, entry, func(k *kv) { k.Value = "2" }))
	require.NoError(t, inner.Squash())

	require.NoError(t, outer.Undo())
	_, ok, _ := FindByKey[kv](e, "key", "a")
	require.False(t, ok, "undoing the merged outer session must reverse both the create and the modify")
}

func TestSessionSecondTransitionPanics(t *testing.T) {
	e := openTestEngine(t)
	s, err := e.OpenSession()
	require.NoError(t, err)
	require.NoError(t, s.Push())
	require.Panics(t, func() { _ = s.Undo() })
}

func TestSessionCloseUndoesIfNotAlreadyDone(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.OpenSession()
	require.NoError(t, err)
	_, err = Create[kv](e, func(k *kv) { k.Key = "scratch" })
	require.NoError(t, err)

	func() {
		s, err := e.OpenSession()
		require.NoError(t, err)
		defer s.Close()
		_, err = Create[kv](e, func(k *kv) { k.Key = "temp" })
		require.NoError(t, err)
	}()

	_, ok, _ := FindByKey[kv](e, "key", "temp")
	require.False(t, ok)
}

func TestEngineUndoAll(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.OpenSession()
	require.NoError(t, err)
	_, _ = Create[kv](e, func(k *kv) { k.Key = "a" })
	_, err = e.OpenSession()
	require.NoError(t, err)
	_, _ = Create[kv](e, func(k *kv) { k.Key = "b" })

	require.NoError(t, e.UndoAll())
	require.Equal(t, int64(0), e.Revision())
}

func TestEngineCommitPrunesAndRevisionSurvives(t *testing.T) {
	e := openTestEngine(t)
	s1, err := e.OpenSession()
	require.NoError(t, err)
	require.NoError(t, s1.Push())
	s2, err := e.OpenSession()
	require.NoError(t, err)
	require.NoError(t, s2.Push())

	require.NoError(t, e.Commit(s2.Revision()))
	stats := e.Stats()
	require.Equal(t, 0, stats.Containers[0].UndoDepth)
	require.Equal(t, s2.Revision(), e.Revision())
}

func TestEngineSetRevisionRequiresNoOpenSessions(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.SetRevision(50))
	require.Equal(t, int64(50), e.Revision())

	_, err := e.OpenSession()
	require.NoError(t, err)
	require.Error(t, e.SetRevision(60))
}

func TestEngineResizeBlockedWithOpenSessions(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.OpenSession()
	require.NoError(t, err)
	err = e.Resize(1 << 20)
	require.ErrorIs(t, err, ErrResizeBlocked)
}

func TestEngineNonOperationalAfterInvariantFailure(t *testing.T) {
	e := openTestEngine(t)
	e.fail(NewInvariantError("test", ErrNotFound))

	_, err := Create[kv](e, func(k *kv) {})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownType, "checkOperational fires before container dispatch")

	require.NoError(t, e.Close())
}

func TestEngineStatsReportsPerContainerCounts(t *testing.T) {
	e := openTestEngine(t)
	_, _ = Create[kv](e, func(k *kv) { k.Key = "a" })
	_, _ = Create[kv](e, func(k *kv) { k.Key = "b" })

	stats := e.Stats()
	require.Len(t, stats.Containers, 1)
	require.Equal(t, 2, stats.Containers[0].ObjectLen)
}
