package vexproject

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexhistory"
	"github.com/imbal/vex/vexmodel"
)

// setupS1 runs scenario S1 (§8): init a repository rooted at "/repo",
// track and commit a single file "a" containing "hello\n". Returns the
// working directory and the open Project, left attached to the commit.
func setupS1(t *testing.T) (string, *Project) {
	t.Helper()
	dir := t.TempDir()
	configDir := filepath.Join(dir, SettingsDir)

	p, err := Init(configDir, dir, "/repo", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("hello\n"), 0o644))
	require.NoError(t, p.Add([]string{"a"}, nil, nil))
	require.NoError(t, p.Commit(nil, "author-1", "first commit"))
	return dir, p
}

func TestScenarioS1InitCommitRoundTrip(t *testing.T) {
	_, p := setupS1(t)
	defer p.Close()

	status, err := p.Status()
	require.NoError(t, err)
	require.Equal(t, vexmodel.StateTracked, status["/repo/a"].State)

	branch, err := p.getBranchByName("latest")
	require.NoError(t, err)
	require.NotEqual(t, branch.Init, branch.Head, "head must move past the init commit")

	entries, err := p.Log()
	require.NoError(t, err)
	require.Len(t, entries, 2, "init commit plus the new commit")
}

func TestScenarioS2UndoRestoresPriorHead(t *testing.T) {
	_, p := setupS1(t)
	defer p.Close()

	branchBefore, err := p.getBranchByName("latest")
	require.NoError(t, err)

	_, err = p.Undo()
	require.NoError(t, err)

	status, err := p.Status()
	require.NoError(t, err)
	require.Equal(t, vexmodel.StateAdded, status["/repo/a"].State)

	branch, err := p.getBranchByName("latest")
	require.NoError(t, err)
	require.Equal(t, branch.Init, branch.Head)
	require.NotEqual(t, branchBefore.Head, branch.Head)

	choices, err := p.RedoChoices()
	require.NoError(t, err)
	require.Len(t, choices, 1)
}

func headRoot(t *testing.T, p *Project) vexmodel.Commit {
	t.Helper()
	branch, err := p.getBranchByName("latest")
	require.NoError(t, err)
	c, err := p.repo.GetCommit(branch.Head)
	require.NoError(t, err)
	return *c
}

func TestScenarioS3PrepareThenCommitEqualsDirectCommit(t *testing.T) {
	dirA, pA := setupS1(t)
	defer pA.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dirA, "b"), []byte("x"), 0o644))
	require.NoError(t, pA.Add([]string{"b"}, nil, nil))
	require.NoError(t, pA.Prepare(nil))
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "c"), []byte("y"), 0o644))
	require.NoError(t, pA.Add([]string{"c"}, nil, nil))
	require.NoError(t, pA.Commit(nil, "author-1", "second commit"))
	commitA := headRoot(t, pA)

	dirB, pB := setupS1(t)
	defer pB.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "c"), []byte("y"), 0o644))
	require.NoError(t, pB.Add([]string{"b", "c"}, nil, nil))
	require.NoError(t, pB.Commit(nil, "author-1", "second commit"))
	commitB := headRoot(t, pB)

	require.Equal(t, commitB.Root, commitA.Root, "prepare then commit must collapse to the same root as one direct commit")
}

func TestScenarioS4SwitchPrefixHidesFiles(t *testing.T) {
	dir, p := setupS1(t)
	defer p.Close()

	full := filepath.Join(dir, "a")
	before, err := os.ReadFile(full)
	require.NoError(t, err)

	require.NoError(t, p.Switch("/"))
	_, err = os.Stat(full)
	require.True(t, os.IsNotExist(err), "file must be removed from the working directory once its prefix is switched out of view")

	status, err := p.Status()
	require.NoError(t, err)
	require.False(t, status["/repo/a"].Working, "status must still list the path, just not materialised")

	require.NoError(t, p.Switch("/repo"))
	after, err := os.ReadFile(full)
	require.NoError(t, err)
	require.Equal(t, before, after, "switching back must restore byte-identical content")

	status, err = p.Status()
	require.NoError(t, err)
	require.True(t, status["/repo/a"].Working)
}

func TestScenarioS5ConcurrentLockIsRejected(t *testing.T) {
	dir, p := setupS1(t)
	defer p.Close()

	configDir := filepath.Join(dir, SettingsDir)
	_, err := Open(configDir, dir)
	require.ErrorIs(t, err, vexerr.ErrLock)

	// the first process' session state must still be exactly what the
	// successful commit left it as - a rejected second Open must never
	// observe or leave behind a partial commit.
	status, err := p.Status()
	require.NoError(t, err)
	require.Equal(t, vexmodel.StateTracked, status["/repo/a"].State)
}

func TestScenarioS6CrashAfterNextSetRollsBack(t *testing.T) {
	dir, p := setupS1(t)
	defer p.Close()

	clean, err := p.history.CleanState()
	require.NoError(t, err)
	require.True(t, clean)

	cur, err := p.history.Current()
	require.NoError(t, err)

	// A harmless no-op action standing in for whatever the next real
	// commit would have recorded - what matters is the next pointer
	// left referencing it without current having moved yet.
	action := vexmodel.PhysicalAction{Command: "simulated-crash", Changes: vexmodel.LogicalChanges{
		Branches: vexmodel.KeyedChanges{},
		Names:    vexmodel.KeyedChanges{},
		Sessions: vexmodel.KeyedChanges{},
		Settings: vexmodel.KeyedChanges{},
		States:   vexmodel.KeyedChanges{},
	}}
	addr, err := p.history.PutAction(cur, action)
	require.NoError(t, err)

	next := vexhistory.Next{Mode: vexhistory.ModeDo, Value: addr, CurrentAtTime: cur}
	raw, err := json.Marshal(next)
	require.NoError(t, err)
	nextPath := filepath.Join(dir, SettingsDir, "history", "state", "next")
	require.NoError(t, os.WriteFile(nextPath, raw, 0o644))

	clean, err = p.history.CleanState()
	require.NoError(t, err)
	require.False(t, clean, "an injected crash between writing next and advancing current must read as unclean")

	require.NoError(t, p.reconcile())

	clean, err = p.history.CleanState()
	require.NoError(t, err)
	require.True(t, clean, "rollback_new must restore clean_state")
}
