// Package vexproject implements the user-level operation surface: the
// Project façade that acquires the repository lock, opens a
// SessionTransaction or SwitchTransaction, and drives it through the
// history engine's do/undo/redo/rollback/restart protocol.
//
// The "acquire one thing, delegate to a transaction/worktree type" shape
// is grounded on the teacher's Repository type (repository.go): every
// exported method opens or reuses a Worktree/Storer and the method body
// is a thin sequence of calls into it, never business logic duplicated
// across verbs.
package vexproject

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog/log"

	"github.com/imbal/vex/vexconfig"
	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexfswalk"
	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexhistory"
	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexstore"
	"github.com/imbal/vex/vextxn"
)

// SettingsDir is the conventional name of the repository metadata
// directory, mirroring ".git" in the teacher's own layout.
const SettingsDir = ".vex"

// Project bundles every persisted table a user operation may touch.
// It owns the process-exclusive lock for its entire lifetime.
type Project struct {
	configDir string
	workDir   string

	repo     *vexstore.Repo
	branches *vexstore.FileStore
	names    *vexstore.FileStore
	sessions *vexstore.FileStore
	state    *vexstore.FileStore
	settings *vexstore.FileStore

	history *vexhistory.HistoryStore
	engine  *vexhistory.Engine
	lock    *vexstore.LockFile

	// wfs is workDir chrooted through go-billy's osfs - every touch of
	// the working copy (switch materialisation, refresh, apply) goes
	// through this seam rather than bare os calls.
	wfs billy.Filesystem
}

// Open acquires the repository lock at <configDir>/lock, opens every
// table, and reconciles any in-flight operation left over from a crash
// before returning control to the caller. The caller must Close the
// returned Project to release the lock.
func Open(configDir, workDir string) (*Project, error) {
	lock := vexstore.NewLockFile(filepath.Join(configDir, "lock"))
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	p, err := open(configDir, workDir, lock)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := p.reconcile(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return p, nil
}

func open(configDir, workDir string, lock *vexstore.LockFile) (*Project, error) {
	repo, err := vexstore.OpenRepo(configDir)
	if err != nil {
		return nil, err
	}
	branches, err := vexstore.NewFileStore(filepath.Join(configDir, "branches"))
	if err != nil {
		return nil, err
	}
	names, err := vexstore.NewFileStore(filepath.Join(configDir, "branches", "names"))
	if err != nil {
		return nil, err
	}
	sessions, err := vexstore.NewFileStore(filepath.Join(configDir, "branches", "sessions"))
	if err != nil {
		return nil, err
	}
	state, err := vexstore.NewFileStore(filepath.Join(configDir, "state"))
	if err != nil {
		return nil, err
	}
	settings, err := vexstore.NewFileStore(filepath.Join(configDir, "settings"))
	if err != nil {
		return nil, err
	}
	history, err := vexhistory.NewHistoryStore(filepath.Join(configDir, "history"))
	if err != nil {
		return nil, err
	}
	return &Project{
		configDir: configDir,
		workDir:   workDir,
		repo:      repo,
		branches:  branches,
		names:     names,
		sessions:  sessions,
		state:     state,
		settings:  settings,
		history:   history,
		engine:    vexhistory.NewEngine(history),
		lock:      lock,
		wfs:       osfs.New(workDir),
	}, nil
}

// Close releases the repository lock.
func (p *Project) Close() error {
	return p.lock.Unlock()
}

// reconcile resolves any operation left in-flight by a prior crash. The
// engine's own next/current bookkeeping already tells us which direction
// is pending. An interrupted operation is always rolled back rather than
// completed, so
// a crash never surprises the caller with effects they did not ask for.
func (p *Project) reconcile() error {
	return p.engine.RollbackNew(p.applyBackward)
}

func now() int64 { return time.Now().Unix() }

// --- apply: forward ---

func (p *Project) applyForward(action vexmodel.Action) error {
	switch a := action.(type) {
	case vexmodel.PhysicalAction:
		return p.applyPhysicalForward(a)
	case vexmodel.SwitchAction:
		return p.applySwitchForward(a)
	default:
		vexerr.Raise(fmt.Sprintf("unknown action variant %T in applyForward", action))
		return nil
	}
}

func (p *Project) applyBackward(action vexmodel.Action) error {
	switch a := action.(type) {
	case vexmodel.PhysicalAction:
		return p.applyPhysicalBackward(a)
	case vexmodel.SwitchAction:
		return p.applySwitchBackward(a)
	default:
		vexerr.Raise(fmt.Sprintf("unknown action variant %T in applyBackward", action))
		return nil
	}
}

func (p *Project) applyPhysicalForward(a vexmodel.PhysicalAction) error {
	for _, addr := range a.Blobs.Commits {
		if err := p.repo.PromoteCommit(addr); err != nil {
			return err
		}
	}
	for _, addr := range a.Blobs.Manifests {
		if err := p.repo.PromoteManifest(addr); err != nil {
			return err
		}
	}
	for _, addr := range a.Blobs.Files {
		if err := p.repo.PromoteFile(addr); err != nil {
			return err
		}
	}
	if err := writeKeyedForward(p.branches, a.Changes.Branches); err != nil {
		return err
	}
	if err := writeKeyedForward(p.names, a.Changes.Names); err != nil {
		return err
	}
	if err := writeKeyedForward(p.sessions, a.Changes.Sessions); err != nil {
		return err
	}
	if err := writeKeyedForward(p.settings, a.Changes.Settings); err != nil {
		return err
	}
	if err := writeKeyedForward(p.state, a.Changes.States); err != nil {
		return err
	}
	for _, wc := range a.Working {
		if err := p.applyWorkingChange(wc.Path, wc.Old, wc.New); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) applyPhysicalBackward(a vexmodel.PhysicalAction) error {
	if err := writeKeyedBackward(p.branches, a.Changes.Branches); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.names, a.Changes.Names); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.sessions, a.Changes.Sessions); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.settings, a.Changes.Settings); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.state, a.Changes.States); err != nil {
		return err
	}
	for _, wc := range a.Working {
		if err := p.applyWorkingChange(wc.Path, wc.New, wc.Old); err != nil {
			return err
		}
	}
	// Blobs are never demoted: the permanent stores are append-only, a
	// superset of whatever current needs (property 4).
	return nil
}

func writeKeyedForward(fs *vexstore.FileStore, kc vexmodel.KeyedChanges) error {
	for k, fc := range kc {
		if len(fc.New) == 0 {
			if err := fs.Delete(k); err != nil {
				return err
			}
			continue
		}
		if err := fs.Put(k, fc.New); err != nil {
			return err
		}
	}
	return nil
}

func writeKeyedBackward(fs *vexstore.FileStore, kc vexmodel.KeyedChanges) error {
	for k, fc := range kc {
		if len(fc.Old) == 0 {
			if err := fs.Delete(k); err != nil {
				return err
			}
			continue
		}
		if err := fs.Put(k, fc.Old); err != nil {
			return err
		}
	}
	return nil
}

// applyWorkingChange overwrites the working-copy file at repoPath with
// the content at want, guarded by an equality check against guard - if
// the on-disk content has drifted from what the Action recorded, the
// write is skipped and logged rather than clobbering a user edit (§4.6
// Apply-physical-changes step 3).
func (p *Project) applyWorkingChange(repoPath string, guard, want vexhash.Address) error {
	rel := filepath.FromSlash(repoPath)
	matches, err := fileMatches(p.wfs, rel, guard)
	if err != nil {
		return err
	}
	if !matches {
		log.Warn().Str("path", repoPath).Msg("vexproject: working file drifted since last action, skipping overwrite")
		return nil
	}
	if want.Empty() {
		if err := p.wfs.Remove(rel); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return writeWorkingFile(p.wfs, rel, p.repo.Files, want)
}

// readWorkingFile reads rel's entire content through fs, the one seam
// every working-copy read in this package goes through instead of bare
// os calls.
func readWorkingFile(fs billy.Filesystem, rel string) ([]byte, error) {
	f, err := fs.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeWorkingFile materialises addr's content from files at rel through
// fs, creating any missing parent directories first.
func writeWorkingFile(fs billy.Filesystem, rel string, files *vexstore.BlobStore, addr vexhash.Address) error {
	return writeWorkingFileMode(fs, rel, files, addr, 0o644)
}

// writeWorkingFileMode is writeWorkingFile with an explicit permission,
// for callers (switch restore) that must preserve the executable bit.
func writeWorkingFileMode(fs billy.Filesystem, rel string, files *vexstore.BlobStore, addr vexhash.Address, perm os.FileMode) error {
	data, err := files.GetBuf(addr)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(rel); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fs.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func fileMatches(fs billy.Filesystem, rel string, want vexhash.Address) (bool, error) {
	data, err := readWorkingFile(fs, rel)
	if err != nil {
		if os.IsNotExist(err) {
			return want.Empty(), nil
		}
		return false, err
	}
	if want.Empty() {
		return false, nil
	}
	got, err := vexhash.NewAddress(vexstore.NSFile, data)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// globs loads the repository's configured ignore/include patterns.
func (p *Project) globs() (vexfswalk.Globs, error) {
	ignore, err := p.settings.Get("ignore")
	if err != nil {
		ignore = nil
	}
	include, err := p.settings.Get("include")
	if err != nil {
		include = nil
	}
	return vexconfig.Globs(ignore, include)
}

func (p *Project) fullPath(repoPath string) string {
	return filepath.Join(p.workDir, filepath.FromSlash(repoPath))
}

func (p *Project) getActiveSessionUUID() (string, error) {
	data, err := p.state.Get("active")
	if err != nil {
		return "", fmt.Errorf("%w: no active session", vexerr.ErrNoProject)
	}
	return string(data), nil
}

func (p *Project) getSession(uuid string) (*vexmodel.Session, error) {
	data, err := p.sessions.Get(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", vexerr.ErrCorruption, uuid, err)
	}
	return vexmodel.DecodeSession(data)
}

func (p *Project) getBranchByUUID(uuid string) (*vexmodel.Branch, error) {
	data, err := p.branches.Get(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: branch %s: %v", vexerr.ErrCorruption, uuid, err)
	}
	return vexmodel.DecodeBranch(data)
}

func (p *Project) getBranchByName(name string) (*vexmodel.Branch, error) {
	data, err := p.names.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: no branch named %q", vexerr.ErrArgument, name)
	}
	return p.getBranchByUUID(string(data))
}

// activeSessionAndBranch loads the currently active session and its
// branch together, the starting point of nearly every user operation.
func (p *Project) activeSessionAndBranch() (*vexmodel.Session, *vexmodel.Branch, error) {
	uuid, err := p.getActiveSessionUUID()
	if err != nil {
		return nil, nil, err
	}
	sess, err := p.getSession(uuid)
	if err != nil {
		return nil, nil, err
	}
	branch, err := p.getBranchByUUID(sess.Branch)
	if err != nil {
		return nil, nil, err
	}
	return sess, branch, nil
}

func (p *Project) newSessionTransaction(sess *vexmodel.Session, branch *vexmodel.Branch, command string) *vextxn.SessionTransaction {
	return vextxn.NewSessionTransaction(p.repo, p.branches, p.names, p.sessions, p.workDir, sess, branch, command, now())
}
