// Package vextxn implements the two reversible transaction kinds: the
// blob-producing SessionTransaction (§4.4) and the logical-only
// SwitchTransaction (§4.5). Both share the "accumulate old/new pairs,
// emit an Action" contract described in the design notes (§9) via the
// staged type embedded in each.
//
// The refresh/diff/rebuild algorithms are grounded on the teacher's
// Worktree type (worktree.go, worktree_status.go): Worktree.Status walks
// the tracked index, re-stats every path, and reclassifies it exactly the
// way SessionTransaction.RefreshActive does here, and utils/merkletrie's
// recursive tree-diff is the shape new_root_with_changeset follows to
// rebuild manifests bottom-up with structural sharing.
package vextxn

import (
	"fmt"

	"github.com/imbal/vex/vexmodel"
)

// Transaction is the shared contract: stage an old/new pair under some
// key, or cancel before any Action is ever produced.
type Transaction interface {
	Cancel()
	Cancelled() bool
}

// staged accumulates the old/new pairs common to both transaction kinds:
// branch records, name->uuid bindings, session records, settings, and
// opaque state keys. Each concrete transaction embeds staged and adds
// whatever else it needs (blobs for SessionTransaction, prefix/active for
// SwitchTransaction).
type staged struct {
	cancelled bool

	branches vexmodel.KeyedChanges
	names    vexmodel.KeyedChanges
	sessions vexmodel.KeyedChanges
	settings vexmodel.KeyedChanges
	states   vexmodel.KeyedChanges
}

func newStaged() staged {
	return staged{
		branches: vexmodel.KeyedChanges{},
		names:    vexmodel.KeyedChanges{},
		sessions: vexmodel.KeyedChanges{},
		settings: vexmodel.KeyedChanges{},
		states:   vexmodel.KeyedChanges{},
	}
}

func (s *staged) Cancel()          { s.cancelled = true }
func (s *staged) Cancelled() bool  { return s.cancelled }

func (s *staged) recordBranch(uuid string, old, new []byte) {
	s.branches[uuid] = mergeField(s.branches[uuid], old, new)
}

func (s *staged) recordName(name string, old, new []byte) {
	s.names[name] = mergeField(s.names[name], old, new)
}

func (s *staged) recordSession(uuid string, old, new []byte) {
	s.sessions[uuid] = mergeField(s.sessions[uuid], old, new)
}

func (s *staged) recordSetting(key string, old, new []byte) {
	s.settings[key] = mergeField(s.settings[key], old, new)
}

func (s *staged) recordState(key string, old, new []byte) {
	s.states[key] = mergeField(s.states[key], old, new)
}

// mergeField folds a new staged write into any already-staged change for
// the same key, keeping the earliest Old and the latest New so a field
// touched twice in one transaction still inverts correctly.
func mergeField(existing vexmodel.FieldChange, old, new []byte) vexmodel.FieldChange {
	if existing.Old == nil && existing.New == nil {
		return vexmodel.FieldChange{Old: old, New: new}
	}
	return vexmodel.FieldChange{Old: existing.Old, New: new}
}

var errCancelled = fmt.Errorf("vextxn: transaction was cancelled")
