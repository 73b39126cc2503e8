package vexstore

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/imbal/vex/vexerr"
)

// LockFile is the process-exclusive advisory lock over an entire
// repository (§2, §5): every mutation, and every read that must observe a
// consistent snapshot, acquires it first.
type LockFile struct {
	fl *flock.Flock
}

// NewLockFile opens (without acquiring) the lock at path.
func NewLockFile(path string) *LockFile {
	return &LockFile{fl: flock.New(path)}
}

// TryLock acquires the lock without blocking, returning vexerr.ErrLock if
// another process already holds it.
func (l *LockFile) TryLock() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("vexstore: acquiring lock: %w", err)
	}
	if !ok {
		return vexerr.ErrLock
	}
	return nil
}

// Unlock releases the lock.
func (l *LockFile) Unlock() error {
	return l.fl.Unlock()
}

// Locked reports whether this handle currently holds the lock.
func (l *LockFile) Locked() bool {
	return l.fl.Locked()
}
