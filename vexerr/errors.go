// Package vexerr defines the engine's error taxonomy. Every error a user
// operation can return is one of these sentinels (or wraps one), so
// callers can dispatch on errors.Is rather than string matching, the same
// convention the teacher's repository.go/worktree.go use for their own
// ErrXxx sentinel variables.
package vexerr

import "errors"

var (
	// ErrCorruption means persisted state is inconsistent - e.g. the
	// history log's "next" pointer references a current that does not
	// exist. The process must refuse further mutation.
	ErrCorruption = errors.New("vex: corrupt repository state")

	// ErrLock means another process holds the repository lock.
	ErrLock = errors.New("vex: repository is locked by another process")

	// ErrArgument means the user supplied an invalid path, branch name,
	// or flag. Recovered locally: report and exit non-zero.
	ErrArgument = errors.New("vex: invalid argument")

	// ErrNoProject means the repository has not been initialised.
	ErrNoProject = errors.New("vex: no project here")

	// ErrNoHistory means the history log is empty.
	ErrNoHistory = errors.New("vex: history is empty")

	// ErrUnclean means the repository is mid-transaction (next != current)
	// and must be reconciled via rollback or restart before proceeding.
	ErrUnclean = errors.New("vex: repository is in an unclean state")

	// ErrUnfinished marks a feature path that is intentionally not
	// implemented (e.g. "**" globs, branch merge/replay).
	ErrUnfinished = errors.New("vex: not implemented")

	// ErrNothingToDo means an operation found no change to record and
	// cancelled its transaction rather than producing an empty Action.
	ErrNothingToDo = errors.New("vex: nothing to do")
)

// Bug signals an invariant violation inside the engine. It is always
// fatal and is never meant to be caught by ordinary control flow - the
// only place it is converted back into a plain error is the outermost
// Project entry point, so test harnesses can still observe the failure
// as an error value instead of a crashed process.
type Bug struct {
	Invariant string
}

func (b Bug) Error() string { return "vex: invariant violated: " + b.Invariant }

// Raise panics with a Bug describing the violated invariant. Callers
// inside the engine use this instead of returning an error: invariant
// violations are programmer errors, not recoverable conditions.
func Raise(invariant string) {
	panic(Bug{Invariant: invariant})
}

// Recover converts a panicking Bug into an error, for the single call
// site (Project's outer dispatch) permitted to do so. Any other panic
// value is re-raised.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if b, ok := r.(Bug); ok {
		*errp = b
		return
	}
	panic(r)
}
