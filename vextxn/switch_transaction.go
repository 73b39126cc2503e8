package vextxn

import "github.com/imbal/vex/vexmodel"

// SwitchTransaction is the logical-only counterpart to SessionTransaction
// (§4.5): it stages which session is active and what prefix of the tree
// it materialises, plus any session/branch lifecycle-state flips that
// accompany a switch, but it never stages a blob. The caller performs the
// clear-then-restore working-directory materialisation before calling
// Action; the SwitchAction this produces carries only the logical state,
// and no working-directory mutation is staged inside the transaction.
type SwitchTransaction struct {
	staged

	command string
	now     int64

	oldPrefix, newPrefix string
	oldActive, newActive string
}

// NewSwitchTransaction opens a transaction over the repository's current
// active session uuid and materialised prefix.
func NewSwitchTransaction(command string, now int64, activePrefix, activeSession string) *SwitchTransaction {
	return &SwitchTransaction{
		staged:    newStaged(),
		command:   command,
		now:       now,
		oldPrefix: activePrefix,
		newPrefix: activePrefix,
		oldActive: activeSession,
		newActive: activeSession,
	}
}

// SetPrefix stages a new materialised prefix.
func (tx *SwitchTransaction) SetPrefix(prefix string) { tx.newPrefix = prefix }

// SetActive stages a new active session uuid.
func (tx *SwitchTransaction) SetActive(session string) { tx.newActive = session }

// SetSession stages a full session-record replacement: old and new are
// the complete encoded Session bytes, the same convention every other
// KeyedChanges table in LogicalChanges uses. A switch touches a
// session's record (not just one field) whenever clear/restore flips
// Tracked.Working/Stash bits or the attached/detached state changes, so
// there is no narrower "just the state" case worth a separate shape.
func (tx *SwitchTransaction) SetSession(uuid string, old, new []byte) {
	tx.recordSession(uuid, old, new)
}

// SetBranch stages a full branch-record replacement (see SetSession).
func (tx *SwitchTransaction) SetBranch(uuid string, old, new []byte) {
	tx.recordBranch(uuid, old, new)
}

// BindName stages a rebinding of a branch name to a different uuid, e.g.
// when open_branch or new_branch moves the name pointer.
func (tx *SwitchTransaction) BindName(name, oldUUID, newUUID string) {
	tx.recordName(name, []byte(oldUUID), []byte(newUUID))
}

// SetState stages an opaque repository-state key that does not fit the
// session/branch/name tables.
func (tx *SwitchTransaction) SetState(key string, old, new []byte) {
	tx.recordState(key, old, new)
}

// Action finalises the transaction into a SwitchAction.
func (tx *SwitchTransaction) Action() (*vexmodel.SwitchAction, error) {
	if tx.Cancelled() {
		return nil, errCancelled
	}
	return &vexmodel.SwitchAction{
		Time:          tx.now,
		Command:       tx.command,
		Prefix:        vexmodel.FieldChange{Old: []byte(tx.oldPrefix), New: []byte(tx.newPrefix)},
		Active:        vexmodel.FieldChange{Old: []byte(tx.oldActive), New: []byte(tx.newActive)},
		SessionStates: tx.staged.sessions,
		BranchStates:  tx.staged.branches,
		Names:         tx.staged.names,
		States:        tx.staged.states,
	}, nil
}
