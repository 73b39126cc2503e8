package vextxn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexstore"
)

func newTestSessionTransaction(t *testing.T) (*SessionTransaction, *vexstore.Repo, string) {
	t.Helper()
	repo, err := vexstore.OpenRepo(t.TempDir())
	require.NoError(t, err)
	workDir := t.TempDir()

	session := &vexmodel.Session{
		UUID:   "session-1",
		Branch: "branch-1",
		State:  vexmodel.SessionAttached,
		Files:  map[string]vexmodel.Tracked{},
	}
	tx := NewSessionTransaction(repo, nil, nil, nil, workDir, session, nil, "test", 1000)
	return tx, repo, workDir
}

// TestNewRootWithChangesetStructuralSharing asserts property 5: a
// rebuild that only touches one subtree must leave every sibling entry
// byte-identical (and its address therefore unchanged) rather than
// re-encoding the whole manifest.
func TestNewRootWithChangesetStructuralSharing(t *testing.T) {
	tx, _, _ := newTestSessionTransaction(t)

	leafAddr, err := tx.putFileBytes([]byte("hello"))
	require.NoError(t, err)
	innerTree := &vexmodel.Tree{Entries: map[string]vexmodel.Entry{
		"x.txt": vexmodel.FileEntry{Addr: leafAddr},
	}}
	innerAddr, err := tx.putManifest(innerTree)
	require.NoError(t, err)

	untouchedAddr, err := tx.putManifest(&vexmodel.Tree{Entries: map[string]vexmodel.Entry{}})
	require.NoError(t, err)

	baseRoot := &vexmodel.Root{Entries: map[string]vexmodel.Entry{
		"a": vexmodel.DirEntry{Addr: innerAddr},
		"b": vexmodel.DirEntry{Addr: untouchedAddr},
	}}
	baseAddr, err := tx.putManifest(baseRoot)
	require.NoError(t, err)

	newLeafAddr, err := tx.putFileBytes([]byte("hello, world"))
	require.NoError(t, err)

	cs := vexmodel.NewChangeset("author", "message")
	cs.Append("a/x.txt", vexmodel.ChangeFile{Old: leafAddr, New: newLeafAddr})

	newRootAddr, err := tx.NewRootWithChangeset(baseAddr, baseRoot, cs)
	require.NoError(t, err)
	require.NotEqual(t, baseAddr, newRootAddr, "changed subtree must produce a new root address")

	newRoot, err := tx.GetRoot(newRootAddr)
	require.NoError(t, err)
	require.Equal(t, baseRoot.Entries["b"], newRoot.Entries["b"], "sibling subtree must be untouched")

	aEntry := newRoot.Entries["a"].(vexmodel.DirEntry)
	require.NotEqual(t, innerAddr, aEntry.Addr, "changed subtree must get a new address")

	innerAfter, err := tx.GetTree(aEntry.Addr)
	require.NoError(t, err)
	fileAfter := innerAfter.Entries["x.txt"].(vexmodel.FileEntry)
	require.Equal(t, newLeafAddr, fileAfter.Addr)
}

// TestNewRootWithChangesetEmptyIsNoOp checks that an empty changeset
// returns the original address untouched rather than re-encoding.
func TestNewRootWithChangesetEmptyIsNoOp(t *testing.T) {
	tx, _, _ := newTestSessionTransaction(t)
	base := &vexmodel.Root{Entries: map[string]vexmodel.Entry{}}
	baseAddr, err := tx.putManifest(base)
	require.NoError(t, err)

	addr, err := tx.NewRootWithChangeset(baseAddr, base, vexmodel.NewChangeset("", ""))
	require.NoError(t, err)
	require.Equal(t, baseAddr, addr)
}

// TestPreparedChangesetCollapsesChain builds a two-step prepare chain
// above a real commit and checks that PreparedChangeset merges both
// steps in chronological order and stops at the non-prepare ancestor.
func TestPreparedChangesetCollapsesChain(t *testing.T) {
	tx, repo, _ := newTestSessionTransaction(t)

	rootAddr, err := tx.putManifest(&vexmodel.Root{Entries: map[string]vexmodel.Entry{}})
	require.NoError(t, err)
	commit := &vexmodel.Commit{Kind: vexmodel.KindInit, Timestamp: 1, Root: rootAddr}
	commitAddr, err := tx.putCommit(commit)
	require.NoError(t, err)
	require.NoError(t, repo.PromoteCommit(commitAddr))
	require.NoError(t, repo.PromoteManifest(rootAddr))

	addrFoo, err := tx.putFileBytes([]byte("foo v1"))
	require.NoError(t, err)
	cs1 := vexmodel.NewChangeset("a", "m1")
	cs1.Append("foo.txt", vexmodel.AddFile{Addr: addrFoo})
	cs1Addr, err := tx.putManifest(cs1)
	require.NoError(t, err)
	prepare1 := &vexmodel.Commit{Kind: vexmodel.KindPrepare, Timestamp: 2, Previous: commitAddr, Changeset: cs1Addr}
	prepare1Addr, err := tx.putCommit(prepare1)
	require.NoError(t, err)

	addrFoo2, err := tx.putFileBytes([]byte("foo v2"))
	require.NoError(t, err)
	cs2 := vexmodel.NewChangeset("a", "m2")
	cs2.Append("foo.txt", vexmodel.ChangeFile{Old: addrFoo, New: addrFoo2})
	cs2Addr, err := tx.putManifest(cs2)
	require.NoError(t, err)
	prepare2 := &vexmodel.Commit{Kind: vexmodel.KindPrepare, Timestamp: 3, Previous: prepare1Addr, Changeset: cs2Addr}
	prepare2Addr, err := tx.putCommit(prepare2)
	require.NoError(t, err)

	tx.session.Commit = commitAddr
	tx.session.Prepare = prepare2Addr

	merged, err := tx.PreparedChangeset()
	require.NoError(t, err)
	require.Len(t, merged.Paths["foo.txt"], 2, "both prepare steps must be present in order")

	files, err := tx.BuildFiles(commitAddr)
	require.NoError(t, err)
	tracked := files["foo.txt"]
	require.Equal(t, vexmodel.StateModified, tracked.State)
	require.Equal(t, addrFoo2, tracked.Addr, "last prepare step must win")
}

// TestRefreshActiveFingerprintsAddedFile exercises the stat-then-
// fingerprint decision tree against a real filesystem for a newly added
// file.
func TestRefreshActiveFingerprintsAddedFile(t *testing.T) {
	tx, _, workDir := newTestSessionTransaction(t)

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "new.txt"), []byte("fresh"), 0o644))
	tx.session.Files["new.txt"] = vexmodel.Tracked{Kind: vexmodel.KindFile, State: vexmodel.StateAdded, Working: true}

	require.NoError(t, tx.RefreshActive())

	tracked := tx.session.Files["new.txt"]
	require.Equal(t, vexmodel.StateAdded, tracked.State)
	require.NotEmpty(t, tracked.Addr)
	require.Equal(t, int64(5), tracked.Size)

	// A second refresh over unchanged content must not flip the state.
	require.NoError(t, tx.RefreshActive())
	again := tx.session.Files["new.txt"]
	require.Equal(t, tracked.Addr, again.Addr)
	require.Equal(t, tracked.State, again.State)
}

// TestRefreshActiveDetectsDeletion confirms a tracked path removed from
// disk is reclassified as deleted rather than erroring.
func TestRefreshActiveDetectsDeletion(t *testing.T) {
	tx, _, _ := newTestSessionTransaction(t)
	tx.session.Files["gone.txt"] = vexmodel.Tracked{Kind: vexmodel.KindFile, State: vexmodel.StateTracked, Working: true, Size: 3}

	require.NoError(t, tx.RefreshActive())
	require.Equal(t, vexmodel.StateDeleted, tx.session.Files["gone.txt"].State)
}

// TestActionProducesNoBlobsWhenUntouched ensures Action() on a
// transaction that staged nothing returns an empty-but-valid action
// rather than panicking on nil maps.
func TestActionProducesNoBlobsWhenUntouched(t *testing.T) {
	tx, _, _ := newTestSessionTransaction(t)
	action, err := tx.Action()
	require.NoError(t, err)
	require.Empty(t, action.Blobs.Commits)
	require.Empty(t, action.Changes.Sessions)
}
