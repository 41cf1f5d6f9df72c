package chainbase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	Base
	Name  string
	Count int
}

func newWidgetContainer(maxUndoDepth int) *Container[widget, *widget] {
	desc := Descriptor[widget]{
		Space: 1,
		Type:  1,
		UniqueKeys: []KeyExtractor[widget]{
			{Name: "name", KeyOf: func(w *widget) any { return w.Name }},
		},
	}
	return newContainer[widget, *widget](desc.Space, desc.Type, desc, maxUndoDepth, nil)
}

func TestContainerEmplaceAssignsSequentialIDs(t *testing.T) {
	c := newWidgetContainer(0)
	a, err := c.Emplace(func(w *widget) { w.Name = "a" })
	require.NoError(t, err)
	b, err := c.Emplace(func(w *widget) { w.Name = "b" })
	require.NoError(t, err)
	require.Equal(t, a.ObjectID().Instance()+1, b.ObjectID().Instance())
}

func TestContainerEmplaceUniquenessViolationLeavesNoTrace(t *testing.T) {
	c := newWidgetContainer(0)
	_, err := c.Emplace(func(w *widget) { w.Name = "dup" })
	require.NoError(t, err)
	before := c.Len()

	_, err = c.Emplace(func(w *widget) { w.Name = "dup" })
	require.ErrorIs(t, err, ErrUniquenessViolation)
	require.Equal(t, before, c.Len(), "failed emplace must not alter container state")
}

func TestContainerModifyRevertsOnUniquenessViolation(t *testing.T) {
	c := newWidgetContainer(0)
	a, _ := c.Emplace(func(w *widget) { w.Name = "a" })
	_, _ = c.Emplace(func(w *widget) { w.Name = "b" })

	err := c.Modify(a, func(w *widget) { w.Name = "b" })
	require.ErrorIs(t, err, ErrUniquenessViolation)

	live, ok := c.Find(a.ObjectID())
	require.True(t, ok)
	require.Equal(t, "a", live.Name, "object must be restored to its pre-mutation value")
}

func TestContainerRemoveAndFind(t *testing.T) {
	c := newWidgetContainer(0)
	a, _ := c.Emplace(func(w *widget) { w.Name = "a" })

	require.NoError(t, c.Remove(a))
	_, ok := c.Find(a.ObjectID())
	require.False(t, ok)

	_, err := c.Get(a.ObjectID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestContainerFindByKey(t *testing.T) {
	c := newWidgetContainer(0)
	a, _ := c.Emplace(func(w *widget) { w.Name = "a" })

	found, ok := c.FindByKey("name", "a")
	require.True(t, ok)
	require.Equal(t, a.ObjectID(), found.ObjectID())

	_, ok = c.FindByKey("name", "missing")
	require.False(t, ok)
}

func TestContainerUndoReversesEmplace(t *testing.T) {
	c := newWidgetContainer(0)
	_, err := c.startLevel()
	require.NoError(t, err)

	a, err := c.Emplace(func(w *widget) { w.Name = "a" })
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	require.NoError(t, c.undoTop())
	require.Equal(t, 0, c.Len())
	_, ok := c.Find(a.ObjectID())
	require.False(t, ok)
}

func TestContainerUndoReversesModify(t *testing.T) {
	c := newWidgetContainer(0)
	a, _ := c.Emplace(func(w *widget) { w.Name = "a"; w.Count = 1 })

	_, err := c.startLevel()
	require.NoError(t, err)
	require.NoError(t, c.Modify(a, func(w *widget) { w.Count = 2 }))

	require.NoError(t, c.undoTop())
	live, _ := c.Find(a.ObjectID())
	require.Equal(t, 1, live.Count)
}

func TestContainerUndoReversesRemove(t *testing.T) {
	c := newWidgetContainer(0)
	a, _ := c.Emplace(func(w *widget) { w.Name = "a" })

	_, err := c.startLevel()
	require.NoError(t, err)
	require.NoError(t, c.Remove(a))
	require.Equal(t, 0, c.Len())

	require.NoError(t, c.undoTop())
	live, ok := c.Find(a.ObjectID())
	require.True(t, ok)
	require.Equal(t, "a", live.Name)
}

func TestContainerRevisionTracksSessionDepth(t *testing.T) {
	c := newWidgetContainer(0)
	require.Equal(t, int64(0), c.getRevision())

	r1, err := c.startLevel()
	require.NoError(t, err)
	require.Equal(t, int64(1), r1)

	r2, err := c.startLevel()
	require.NoError(t, err)
	require.Equal(t, int64(2), r2)

	require.NoError(t, c.undoTop())
	require.Equal(t, int64(1), c.getRevision())
}

func TestContainerSquashBottomLevelIsPlainPop(t *testing.T) {
	c := newWidgetContainer(0)
	_, err := c.startLevel()
	require.NoError(t, err)
	_, _ = c.Emplace(func(w *widget) { w.Name = "a" })

	require.NoError(t, c.squashTop())
	require.Equal(t, 0, c.depth())
	require.Equal(t, int64(1), c.getRevision(), "squashing the bottom level does not decrement revision")
	require.Equal(t, 1, c.Len(), "squash/push, unlike undo, keeps the mutation")
}

func TestContainerSquashMergesIntoParent(t *testing.T) {
	c := newWidgetContainer(0)
	_, err := c.startLevel()
	require.NoError(t, err)
	a, _ := c.Emplace(func(w *widget) { w.Name = "a"; w.Count = 1 })

	_, err = c.startLevel()
	require.NoError(t, err)
	require.NoError(t, c.Modify(a, func(w *widget) { w.Count = 2 }))

	require.NoError(t, c.squashTop())
	require.Equal(t, 1, c.depth())
	require.Equal(t, int64(1), c.getRevision())

	require.NoError(t, c.undoTop())
	require.Equal(t, 0, c.Len(), "undoing the merged level must reverse the create too")
}

func TestContainerCommitUpToRevisionPrunesFromBottom(t *testing.T) {
	c := newWidgetContainer(0)
	_, _ = c.startLevel()
	_, _ = c.startLevel()
	_, _ = c.startLevel()
	require.Equal(t, 3, c.depth())

	c.commitUpToRevision(2)
	require.Equal(t, 1, c.depth())
}

func TestContainerUndoAllLevels(t *testing.T) {
	c := newWidgetContainer(0)
	_, _ = c.startLevel()
	_, _ = c.Emplace(func(w *widget) { w.Name = "a" })
	_, _ = c.startLevel()
	_, _ = c.Emplace(func(w *widget) { w.Name = "b" })

	require.NoError(t, c.undoAllLevels())
	require.Equal(t, 0, c.depth())
	require.Equal(t, 0, c.Len())
}

func TestContainerSetRevisionRequiresEmptyStack(t *testing.T) {
	c := newWidgetContainer(0)
	require.NoError(t, c.setRevision(100))
	require.Equal(t, int64(100), c.getRevision())

	_, _ = c.startLevel()
	err := c.setRevision(200)
	require.True(t, IsInvariantViolation(err))
}

func TestContainerUndoStackEvictionInvokesHandler(t *testing.T) {
	var evictedCount int
	desc := Descriptor[widget]{Space: 1, Type: 1}
	c := newContainer[widget, *widget](desc.Space, desc.Type, desc, 1, func(*undoState[widget]) error {
		evictedCount++
		return nil
	})

	_, _ = c.startLevel()
	_, _ = c.startLevel()
	require.Equal(t, 1, evictedCount, "pushing past maxDepth=1 evicts the oldest level")
}
