package vexhistory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbal/vex/vexmodel"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := NewHistoryStore(t.TempDir())
	require.NoError(t, err)
	return NewEngine(store)
}

func fakeAction(command string) vexmodel.Action {
	return vexmodel.PhysicalAction{Command: command, Changes: vexmodel.LogicalChanges{
		Branches: vexmodel.KeyedChanges{}, Names: vexmodel.KeyedChanges{},
		Sessions: vexmodel.KeyedChanges{}, Settings: vexmodel.KeyedChanges{}, States: vexmodel.KeyedChanges{},
	}}
}

func TestDoUndoRedoSymmetry(t *testing.T) {
	e := newTestEngine(t)

	applied := 0
	_, err := e.Do(fakeAction("commit"), func(vexmodel.Action) error { applied++; return nil })
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	clean, err := e.store.CleanState()
	require.NoError(t, err)
	require.True(t, clean)

	undone := 0
	action, err := e.Undo(func(vexmodel.Action) error { undone++; return nil })
	require.NoError(t, err)
	require.NotNil(t, action)
	require.Equal(t, 1, undone)

	cur, err := e.store.Current()
	require.NoError(t, err)
	require.Equal(t, Sentinel, cur)

	choices, err := e.RedoChoices()
	require.NoError(t, err)
	require.Len(t, choices, 1)

	redone := 0
	_, err = e.Redo(0, func(vexmodel.Action) error { redone++; return nil })
	require.NoError(t, err)
	require.Equal(t, 1, redone)

	cur, err = e.store.Current()
	require.NoError(t, err)
	require.NotEqual(t, Sentinel, cur)
}

func TestUndoOnEmptyHistoryYieldsNil(t *testing.T) {
	e := newTestEngine(t)
	action, err := e.Undo(func(vexmodel.Action) error { return nil })
	require.NoError(t, err)
	require.Nil(t, action)
}

func TestHistoryLinearity(t *testing.T) {
	e := newTestEngine(t)
	var addrs []string
	for i := 0; i < 5; i++ {
		addr, err := e.Do(fakeAction("step"), func(vexmodel.Action) error { return nil })
		require.NoError(t, err)
		addrs = append(addrs, addr.String())
	}

	seen := map[string]bool{}
	cur, err := e.store.Current()
	require.NoError(t, err)
	for cur != Sentinel {
		require.False(t, seen[cur.String()], "action visited twice while walking history")
		seen[cur.String()] = true
		prev, _, err := e.store.GetDo(cur)
		require.NoError(t, err)
		cur = prev
	}
	require.Len(t, seen, 5)
}

func TestRollbackNewRecoversCleanState(t *testing.T) {
	e := newTestEngine(t)

	cur, err := e.store.Current()
	require.NoError(t, err)
	addr, err := e.store.PutAction(cur, fakeAction("commit"))
	require.NoError(t, err)
	require.NoError(t, e.store.setNext(Next{Mode: ModeDo, Value: addr, CurrentAtTime: cur}))

	clean, err := e.store.CleanState()
	require.NoError(t, err)
	require.False(t, clean, "simulated crash should leave an unclean state")

	require.NoError(t, e.RollbackNew(func(vexmodel.Action) error { return nil }))

	clean, err = e.store.CleanState()
	require.NoError(t, err)
	require.True(t, clean)
}
