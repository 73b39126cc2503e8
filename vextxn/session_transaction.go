package vextxn

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexstore"
)

// mtimeGraceWindow is how long after an observed mtime a Refresh will
// still recompute the content hash even though size/mode matched,
// avoiding aliasing a write that lands inside the same filesystem mtime
// tick (§4.4's "grace window ≥ 0.5s" requirement).
const mtimeGraceWindow = 500 * time.Millisecond

// SessionTransaction is a scratch-pad that accumulates proposed state
// without touching the real stores until the history engine's Apply
// callback promotes it. Reads fall through to the committed value only
// when nothing has been staged over it (§4.4).
type SessionTransaction struct {
	staged

	repo      *vexstore.Repo
	branchFS  *vexstore.FileStore
	nameFS    *vexstore.FileStore
	sessionFS *vexstore.FileStore

	workDir string           // filesystem directory mirroring repo path ""
	wfs     billy.Filesystem // workDir, chrooted through go-billy's osfs

	session     *vexmodel.Session
	origSession vexmodel.Session

	branch     *vexmodel.Branch
	origBranch *vexmodel.Branch

	command string
	now     int64

	blobs   vexmodel.BlobAdds
	working []vexmodel.WorkingChange
}

// NewSessionTransaction opens a transaction over the given session
// (copied defensively so Cancel leaves the caller's copy untouched) and,
// optionally, its branch.
func NewSessionTransaction(repo *vexstore.Repo, branches, names, sessions *vexstore.FileStore, workDir string, session *vexmodel.Session, branch *vexmodel.Branch, command string, now int64) *SessionTransaction {
	origSession := *session
	origSession.Files = cloneFiles(session.Files)
	sessionCopy := origSession
	sessionCopy.Files = cloneFiles(session.Files)

	var origBranch *vexmodel.Branch
	var branchCopy *vexmodel.Branch
	if branch != nil {
		ob := *branch
		origBranch = &ob
		bc := *branch
		branchCopy = &bc
	}

	return &SessionTransaction{
		staged:      newStaged(),
		repo:        repo,
		branchFS:    branches,
		nameFS:      names,
		sessionFS:   sessions,
		workDir:     workDir,
		wfs:         osfs.New(workDir),
		session:     &sessionCopy,
		origSession: origSession,
		branch:      branchCopy,
		origBranch:  origBranch,
		command:     command,
		now:         now,
	}
}

func cloneFiles(files map[string]vexmodel.Tracked) map[string]vexmodel.Tracked {
	out := make(map[string]vexmodel.Tracked, len(files))
	for k, v := range files {
		out[k] = v
	}
	return out
}

// Session returns the transaction's mutable working copy of the session.
func (tx *SessionTransaction) Session() *vexmodel.Session { return tx.session }

// Branch returns the transaction's mutable working copy of the branch,
// or nil if this transaction was not opened against one.
func (tx *SessionTransaction) Branch() *vexmodel.Branch { return tx.branch }

func (tx *SessionTransaction) fullPath(repoPath string) string {
	return filepath.Join(tx.workDir, filepath.FromSlash(repoPath))
}

// --- reads, falling through scratch then the permanent stores ---

func (tx *SessionTransaction) GetCommit(addr vexhash.Address) (*vexmodel.Commit, error) {
	if data, err := tx.repo.Scratch.GetBuf(addr); err == nil {
		return vexmodel.DecodeCommit(data)
	}
	return tx.repo.GetCommit(addr)
}

func (tx *SessionTransaction) GetRoot(addr vexhash.Address) (*vexmodel.Root, error) {
	if data, err := tx.repo.Scratch.GetBuf(addr); err == nil {
		return vexmodel.DecodeRoot(data)
	}
	return tx.repo.GetRoot(addr)
}

func (tx *SessionTransaction) GetTree(addr vexhash.Address) (*vexmodel.Tree, error) {
	if data, err := tx.repo.Scratch.GetBuf(addr); err == nil {
		return vexmodel.DecodeTree(data)
	}
	return tx.repo.GetTree(addr)
}

func (tx *SessionTransaction) GetChangeset(addr vexhash.Address) (*vexmodel.Changeset, error) {
	if data, err := tx.repo.Scratch.GetBuf(addr); err == nil {
		return vexmodel.DecodeChangeset(data)
	}
	return tx.repo.GetChangeset(addr)
}

// --- writes into scratch, tracked for promotion at apply time ---

func (tx *SessionTransaction) putCommit(c *vexmodel.Commit) (vexhash.Address, error) {
	addr, err := tx.repo.PutScratchCommit(c)
	if err != nil {
		return "", err
	}
	tx.blobs.Commits = append(tx.blobs.Commits, addr)
	return addr, nil
}

func (tx *SessionTransaction) putManifest(v vexstore.Encoder) (vexhash.Address, error) {
	addr, err := tx.repo.PutScratchManifest(v)
	if err != nil {
		return "", err
	}
	tx.blobs.Manifests = append(tx.blobs.Manifests, addr)
	return addr, nil
}

func (tx *SessionTransaction) putFileBytes(data []byte) (vexhash.Address, error) {
	addr, err := tx.repo.PutScratchFile(data)
	if err != nil {
		return "", err
	}
	tx.blobs.Files = append(tx.blobs.Files, addr)
	return addr, nil
}

func (tx *SessionTransaction) putFilePath(path string) (vexhash.Address, error) {
	addr, err := tx.repo.PutScratchFilePath(path)
	if err != nil {
		return "", err
	}
	tx.blobs.Files = append(tx.blobs.Files, addr)
	return addr, nil
}

// recordWorkingChange stages an overwrite of a working-copy path, guarded
// at apply time by an equality check against old.
func (tx *SessionTransaction) recordWorkingChange(repoPath string, old, new vexhash.Address) {
	tx.working = append(tx.working, vexmodel.WorkingChange{Path: repoPath, Old: old, New: new})
}

// RecordWorkingChange exports recordWorkingChange for remove/restore,
// which must stage a working-copy overwrite without going through
// refresh or the changeset machinery.
func (tx *SessionTransaction) RecordWorkingChange(repoPath string, old, new vexhash.Address) {
	tx.recordWorkingChange(repoPath, old, new)
}

// StashWorkingFile reads repoPath's current on-disk bytes into scratch
// and returns its address, or the empty address if the path is not
// currently on disk. Used by remove, which must preserve a deleted
// file's content so undo can restore it.
func (tx *SessionTransaction) StashWorkingFile(repoPath string) (vexhash.Address, error) {
	data, err := readWorkingFile(tx.wfs, filepath.FromSlash(repoPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return tx.putFileBytes(data)
}

// readWorkingFile reads rel's entire content through fs, the one seam
// every working-copy touch in this package goes through instead of bare
// os calls.
func readWorkingFile(fs billy.Filesystem, rel string) ([]byte, error) {
	f, err := fs.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// EnsureStored guarantees the permanent/scratch stores hold want's bytes,
// re-reading repoPath from disk if necessary and verifying the content
// still hashes to want. Used by restore, which resets a working file to
// an address that may only ever have existed on disk until now.
func (tx *SessionTransaction) EnsureStored(repoPath string, want vexhash.Address) error {
	if want.Empty() {
		return nil
	}
	if ok, err := tx.repo.Scratch.Exists(want); err != nil {
		return err
	} else if ok {
		return nil
	}
	if ok, err := tx.repo.Files.Exists(want); err != nil {
		return err
	} else if ok {
		return nil
	}
	got, err := tx.putFilePath(tx.fullPath(repoPath))
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("vextxn: %s changed on disk since refresh (expected %s, got %s)", repoPath, want, got)
	}
	return nil
}

// --- refresh (§4.4) ---

// RefreshActive restats every tracked path with Working=true and
// reclassifies its State, following the same missing/replaced/modified
// decision tree Worktree.Status uses against its index.
func (tx *SessionTransaction) RefreshActive() error {
	paths := make([]string, 0, len(tx.session.Files))
	for p, t := range tx.session.Files {
		if t.Working {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	now := time.Now()
	for _, p := range paths {
		t := tx.session.Files[p]
		if err := tx.refreshOne(p, &t, now); err != nil {
			return err
		}
		tx.session.Files[p] = t
	}
	return nil
}

func (tx *SessionTransaction) refreshOne(repoPath string, t *vexmodel.Tracked, now time.Time) error {
	info, err := tx.wfs.Lstat(filepath.FromSlash(repoPath))
	if os.IsNotExist(err) {
		if t.Replace != "" {
			t.Kind = t.Replace
			t.Replace = ""
		}
		t.State = vexmodel.StateDeleted
		return nil
	}
	if err != nil {
		return fmt.Errorf("vextxn: statting %s: %w", repoPath, err)
	}

	isDir := info.IsDir()
	switch {
	case t.Kind == vexmodel.KindDir && !isDir:
		if t.Replace == "" {
			t.Replace = t.Kind
		}
		t.Kind = vexmodel.KindFile
		t.State = vexmodel.StateReplaced
		return tx.fingerprintFile(repoPath, t, info, now)
	case t.Kind != vexmodel.KindDir && isDir:
		if t.Replace == "" {
			t.Replace = t.Kind
		}
		t.Kind = vexmodel.KindDir
		t.State = vexmodel.StateReplaced
		return nil
	case isDir:
		return nil // directories carry no content fingerprint of their own
	default:
		return tx.fingerprintFile(repoPath, t, info, now)
	}
}

func (tx *SessionTransaction) fingerprintFile(repoPath string, t *vexmodel.Tracked, info os.FileInfo, now time.Time) error {
	mode := uint32(info.Mode().Perm())
	size := info.Size()
	mtime := info.ModTime().UnixNano()

	sameStat := t.State == vexmodel.StateTracked && t.Size == size && t.Mode == mode && t.Mtime == mtime
	// Within the grace window of "now", a write could still be landing in
	// the same tick the stat fields were last recorded; recompute the
	// hash rather than trusting unchanged stat fields alone.
	inGraceWindow := now.Sub(info.ModTime()) < mtimeGraceWindow
	if sameStat && !inGraceWindow {
		return nil
	}

	data, err := readWorkingFile(tx.wfs, filepath.FromSlash(repoPath))
	if err != nil {
		return fmt.Errorf("vextxn: reading %s: %w", repoPath, err)
	}
	addr, err := vexhash.NewAddress(vexstore.NSFile, data)
	if err != nil {
		return err
	}

	t.Size = size
	t.Mode = mode
	t.Mtime = mtime
	if t.Properties == nil {
		t.Properties = vexmodel.Properties{}
	}
	if info.Mode().Perm()&0o111 != 0 {
		t.Properties["executable"] = "true"
	} else {
		delete(t.Properties, "executable")
	}

	if t.State == vexmodel.StateTracked {
		if addr != t.Addr {
			t.Addr = addr
			t.State = vexmodel.StateModified
		}
		return nil
	}
	// added/modified/replaced paths just refresh their content address.
	t.Addr = addr
	return nil
}
