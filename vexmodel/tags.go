package vexmodel

import "errors"

// Tag is the one-byte discriminator written at the start of every
// top-level record and at the start of every Entry/Change union member,
// enumerating every variant the codec knows how to produce. Decode fails
// closed: an unrecognised tag is ErrCorruptRecord, never a silent default.
type Tag byte

const (
	TagCommit Tag = iota + 1
	TagRoot
	TagTree
	TagChangeset
	TagBranch
	TagSession
	TagPhysicalAction
	TagSwitchAction

	// Entry variants (Root/Tree entries).
	tagEntryFile
	tagEntryDir
	tagEntryIgnored
	tagEntryGitFile

	// Change variants (Changeset values).
	tagChangeAddFile
	tagChangeNewFile
	tagChangeChangeFile
	tagChangeDeleteFile
	tagChangeAddDir
	tagChangeNewDir
	tagChangeChangeDir
	tagChangeDeleteDir
	tagChangeIgnorePath
)

// ErrCorruptRecord is returned when a persisted record cannot be decoded:
// truncated input, a bad length prefix, or a tag value the codec does not
// recognise. Callers wrap this into vexerr.ErrCorruption at the storage
// boundary.
var ErrCorruptRecord = errors.New("vexmodel: corrupt record")

// CommitKind enumerates the kinds a Commit node may take.
type CommitKind string

const (
	KindInit     CommitKind = "init"
	KindPrepare  CommitKind = "prepare"
	KindCommit   CommitKind = "commit"
	KindAmend    CommitKind = "amend"
	KindApply    CommitKind = "apply"
	KindPurge    CommitKind = "purge"
	KindTruncate CommitKind = "truncate"
)

// BranchState enumerates the lifecycle states of a Branch.
type BranchState string

const (
	BranchCreated  BranchState = "created"
	BranchActive   BranchState = "active"
	BranchInactive BranchState = "inactive"
	BranchMerged   BranchState = "merged"
	BranchClosed   BranchState = "closed"
)

// SessionState enumerates the lifecycle states of a Session.
type SessionState string

const (
	SessionAttached SessionState = "attached"
	SessionDetached SessionState = "detached"
)

// TrackedKind enumerates the kind of a path tracked by a Session.
type TrackedKind string

const (
	KindFile    TrackedKind = "file"
	KindDir     TrackedKind = "dir"
	KindIgnore  TrackedKind = "ignore"
	KindGitFile TrackedKind = "gitfile"
)

// TrackedState enumerates the working-copy state of a tracked path.
type TrackedState string

const (
	StateTracked  TrackedState = "tracked"
	StateAdded    TrackedState = "added"
	StateModified TrackedState = "modified"
	StateDeleted  TrackedState = "deleted"
	StateReplaced TrackedState = "replaced"
)
