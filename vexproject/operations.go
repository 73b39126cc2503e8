package vexproject

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/imbal/vex/vexconfig"
	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexfswalk"
	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexhistory"
	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexstore"
	"github.com/imbal/vex/vextxn"
)

// Init lays down a fresh repository at configDir/workDir: an author
// identity, a primary branch named "latest" with one attached session,
// and an init commit whose root carries no entries of its own - the
// chosen prefix and settings directory are recorded as repository state,
// never as manifest entries, so add is the only thing that ever
// populates the tree (§4.1 Initialise).
func Init(configDir, workDir, prefix string, ignore, include, template []byte) (p *Project, err error) {
	lock := vexstore.NewLockFile(filepath.Join(configDir, "lock"))
	if err = lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lock.Unlock()
		}
	}()

	p, err = open(configDir, workDir, lock)
	if err != nil {
		return nil, err
	}
	defer vexerr.Recover(&err)

	cur, cerr := p.history.Current()
	if cerr != nil {
		err = cerr
		return nil, err
	}
	if cur != vexhistory.Sentinel {
		err = fmt.Errorf("%w: repository already initialised", vexerr.ErrArgument)
		return nil, err
	}

	author := newUUID()
	branchUUID := newUUID()
	sessionUUID := newUUID()

	root := &vexmodel.Root{Entries: map[string]vexmodel.Entry{}}
	rootAddr, err := p.repo.PutScratchManifest(root)
	if err != nil {
		return nil, err
	}
	commit := &vexmodel.Commit{Kind: vexmodel.KindInit, Timestamp: now(), Root: rootAddr}
	commitAddr, err := p.repo.PutScratchCommit(commit)
	if err != nil {
		return nil, err
	}

	branch := &vexmodel.Branch{
		UUID:     branchUUID,
		Name:     "latest",
		State:    vexmodel.BranchActive,
		Prefix:   prefix,
		Head:     commitAddr,
		Base:     commitAddr,
		Init:     commitAddr,
		Sessions: []string{sessionUUID},
	}
	session := &vexmodel.Session{
		UUID:    sessionUUID,
		Branch:  branchUUID,
		State:   vexmodel.SessionAttached,
		Prefix:  prefix,
		Prepare: commitAddr,
		Commit:  commitAddr,
		Files:   map[string]vexmodel.Tracked{},
	}

	action := vexmodel.NewPhysicalAction("init", now())
	action.Blobs.Commits = append(action.Blobs.Commits, commitAddr)
	action.Blobs.Manifests = append(action.Blobs.Manifests, rootAddr)
	action.Changes.Branches[branchUUID] = vexmodel.FieldChange{New: mustEncode(branch)}
	action.Changes.Names["latest"] = vexmodel.FieldChange{New: []byte(branchUUID)}
	action.Changes.Sessions[sessionUUID] = vexmodel.FieldChange{New: mustEncode(session)}
	action.Changes.States["active"] = vexmodel.FieldChange{New: []byte(sessionUUID)}
	action.Changes.States["prefix"] = vexmodel.FieldChange{New: []byte(prefix)}
	action.Changes.States["author"] = vexmodel.FieldChange{New: []byte(author)}
	if len(ignore) > 0 {
		action.Changes.Settings["ignore"] = vexmodel.FieldChange{New: ignore}
	}
	if len(include) > 0 {
		action.Changes.Settings["include"] = vexmodel.FieldChange{New: include}
	}
	if len(template) > 0 {
		action.Changes.Settings["template"] = vexmodel.FieldChange{New: template}
	}

	if _, err = p.engine.Do(*action, p.applyForward); err != nil {
		return nil, err
	}
	return p, nil
}

// repoPaths qualifies each disk-relative argument in files with the
// session's currently materialised prefix, the convention every tracked-
// file key uses (§6.3's status() worked examples key by full repo path,
// e.g. "/repo/a").
func (p *Project) repoPaths(files []string) ([]string, error) {
	prefix, err := p.currentPrefix()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, repoPathFor(prefix, strings.TrimPrefix(f, "/")))
	}
	return out, nil
}

// markAdded stages a previously untracked path as Added, or as Replaced
// when a path already tracked under a different Kind is reused.
func markAdded(sess *vexmodel.Session, repoPath string, isDir bool) {
	kind := vexmodel.KindFile
	if isDir {
		kind = vexmodel.KindDir
	}
	if t, ok := sess.Files[repoPath]; ok {
		if t.Kind == kind {
			return
		}
		t.Replace = t.Kind
		t.Kind = kind
		t.State = vexmodel.StateReplaced
		t.Working = true
		sess.Files[repoPath] = t
		return
	}
	sess.Files[repoPath] = vexmodel.Tracked{Kind: kind, State: vexmodel.StateAdded, Working: true}
}

// Add walks every path in files (working-directory-relative directories
// or individual files) and marks whatever is not already tracked as
// added, following the configured ignore/include globs plus any extra
// patterns passed for this call only.
func (p *Project) Add(files []string, extraIgnore, extraInclude []byte) (err error) {
	defer vexerr.Recover(&err)

	sess, branch, err := p.activeSessionAndBranch()
	if err != nil {
		return err
	}
	prefix, err := p.currentPrefix()
	if err != nil {
		return err
	}
	globs, err := p.globsWith(extraIgnore, extraInclude)
	if err != nil {
		return err
	}

	tx := p.newSessionTransaction(sess, branch, "add")
	for _, f := range files {
		rel := strings.TrimPrefix(f, "/")
		full := p.fullPath(rel)
		info, serr := os.Lstat(full)
		if serr != nil {
			return serr
		}
		markAdded(tx.Session(), repoPathFor(prefix, rel), info.IsDir())
		if !info.IsDir() {
			continue
		}
		entries, werr := vexfswalk.Walk(full, globs)
		if werr != nil {
			return werr
		}
		for _, e := range entries {
			markAdded(tx.Session(), repoPathFor(prefix, joinRel(rel, e.RepoPath)), e.IsDir)
		}
	}
	if err := tx.RefreshActive(); err != nil {
		return err
	}
	return p.finishSession(tx)
}

func joinRel(base, rel string) string {
	if base == "" {
		return rel
	}
	return base + "/" + rel
}

// Forget drops paths from the session without touching the filesystem:
// an added path is simply removed from the tracked table, a previously
// tracked path is marked deleted.
func (p *Project) Forget(files []string) (err error) {
	defer vexerr.Recover(&err)

	sess, branch, err := p.activeSessionAndBranch()
	if err != nil {
		return err
	}
	targets, err := p.repoPaths(files)
	if err != nil {
		return err
	}
	tx := p.newSessionTransaction(sess, branch, "forget")
	forgetPaths(tx.Session(), targets)
	return p.finishSession(tx)
}

func forgetPaths(sess *vexmodel.Session, targets []string) {
	for repoPath, t := range sess.Files {
		if !pathMatchesAny(repoPath, targets) {
			continue
		}
		if t.State == vexmodel.StateAdded {
			delete(sess.Files, repoPath)
			continue
		}
		t.State = vexmodel.StateDeleted
		sess.Files[repoPath] = t
	}
}

func pathMatchesAny(p string, targets []string) bool {
	for _, t := range targets {
		if p == t || strings.HasPrefix(p, t+"/") {
			return true
		}
	}
	return false
}

func trackedPaths(sess *vexmodel.Session, targets []string) []string {
	var out []string
	for p := range sess.Files {
		if pathMatchesAny(p, targets) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Remove forgets files and also deletes their on-disk content, staging a
// working-copy change so undo can restore exactly what was there.
func (p *Project) Remove(files []string) (err error) {
	defer vexerr.Recover(&err)

	sess, branch, err := p.activeSessionAndBranch()
	if err != nil {
		return err
	}
	prefix, err := p.currentPrefix()
	if err != nil {
		return err
	}
	targets, err := p.repoPaths(files)
	if err != nil {
		return err
	}
	tx := p.newSessionTransaction(sess, branch, "remove")

	for _, repoPath := range trackedPaths(tx.Session(), targets) {
		t := tx.Session().Files[repoPath]
		if t.Kind == vexmodel.KindDir || t.Kind == vexmodel.KindIgnore {
			continue
		}
		old, serr := tx.StashWorkingFile(diskRelPath(repoPath, prefix))
		if serr != nil {
			return serr
		}
		if !old.Empty() {
			tx.RecordWorkingChange(repoPath, old, "")
		}
	}
	forgetPaths(tx.Session(), targets)
	return p.finishSession(tx)
}

// Restore overwrites the working copy of every tracked path in files
// with its currently recorded content address, discarding any local
// modification. The replaced on-disk bytes are staged as a working-copy
// change so undo can bring the modification back.
func (p *Project) Restore(files []string) (err error) {
	defer vexerr.Recover(&err)

	sess, branch, err := p.activeSessionAndBranch()
	if err != nil {
		return err
	}
	prefix, err := p.currentPrefix()
	if err != nil {
		return err
	}
	targets, err := p.repoPaths(files)
	if err != nil {
		return err
	}
	tx := p.newSessionTransaction(sess, branch, "restore")

	for _, repoPath := range trackedPaths(tx.Session(), targets) {
		t := tx.Session().Files[repoPath]
		if t.Kind != vexmodel.KindFile || t.Addr.Empty() {
			continue
		}
		rel := diskRelPath(repoPath, prefix)
		old, serr := tx.StashWorkingFile(rel)
		if serr != nil {
			return serr
		}
		if err := tx.EnsureStored(rel, t.Addr); err != nil {
			return err
		}
		tx.RecordWorkingChange(repoPath, old, t.Addr)
	}
	return p.finishSession(tx)
}

// Prepare refreshes the tracked table, turns the active changeset into a
// new prepare commit on top of the session's current prepare chain, and
// advances the session's Prepare pointer. A prepare with nothing to
// record is a no-op.
func (p *Project) Prepare(files []string) (err error) {
	defer vexerr.Recover(&err)

	sess, branch, err := p.activeSessionAndBranch()
	if err != nil {
		return err
	}
	targets, err := p.repoPaths(files)
	if err != nil {
		return err
	}
	tx := p.newSessionTransaction(sess, branch, "prepare")
	if err := tx.RefreshActive(); err != nil {
		return err
	}

	cs, err := tx.ActiveChangeset("", "", targets)
	if err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}
	if err := tx.StoreChangesetFiles(cs); err != nil {
		return err
	}
	csAddr, err := tx.PutChangeset(cs)
	if err != nil {
		return err
	}
	commit := &vexmodel.Commit{
		Kind:      vexmodel.KindPrepare,
		Timestamp: now(),
		Previous:  tx.Session().Prepare,
		Changeset: csAddr,
	}
	commitAddr, err := tx.PutCommit(commit)
	if err != nil {
		return err
	}
	tx.Session().Prepare = commitAddr
	return p.finishSession(tx)
}

// Commit merges the session's open prepare chain with its current
// uncommitted changes into a new root and advances the branch head (or,
// for a detached session, just the session's own Commit pointer). A
// commit that would leave the root unchanged is a no-op.
func (p *Project) Commit(files []string, author, message string) (err error) {
	defer vexerr.Recover(&err)
	return p.commitLike(files, author, message, vexmodel.KindCommit)
}

// Amend folds the session's changes into the commit the branch currently
// points at rather than appending a new one, recording the superseded
// commit under the "amended" ancestor key so the history stays linear.
func (p *Project) Amend(files []string, author, message string) (err error) {
	defer vexerr.Recover(&err)
	return p.commitLike(files, author, message, vexmodel.KindAmend)
}

func (p *Project) commitLike(files []string, author, message string, kind vexmodel.CommitKind) error {
	if message == "" {
		if tmpl, terr := p.settings.GetRaw("template"); terr == nil {
			message = string(tmpl)
		}
	}

	sess, branch, err := p.activeSessionAndBranch()
	if err != nil {
		return err
	}
	targets, err := p.repoPaths(files)
	if err != nil {
		return err
	}
	tx := p.newSessionTransaction(sess, branch, string(kind))
	if err := tx.RefreshActive(); err != nil {
		return err
	}

	oldCommit := tx.Session().Commit

	active, err := tx.ActiveChangeset(author, message, targets)
	if err != nil {
		return err
	}
	prepared, err := tx.PreparedChangeset()
	if err != nil {
		return err
	}
	merged := mergeChangesets(author, message, prepared, active)
	if merged.Empty() {
		return nil
	}

	baseAddr, base, err := tx.CommittedRoot()
	if err != nil {
		return err
	}
	newRootAddr, err := tx.NewRootWithChangeset(baseAddr, base, merged)
	if err != nil {
		return err
	}
	if newRootAddr == baseAddr {
		// The merged changeset collapsed back to the already-committed
		// root (e.g. an edit undone before committing) - cancel the
		// commit itself, but still roll the session's tracked table
		// forward to what RefreshActive just observed on disk.
		clearCommittedStates(tx.Session(), merged)
		return p.finishSession(tx)
	}

	csAddr, err := tx.PutChangeset(merged)
	if err != nil {
		return err
	}

	previous := oldCommit
	if kind == vexmodel.KindAmend {
		// The amended commit takes the old commit's place in the chain.
		old, gerr := tx.GetCommit(oldCommit)
		if gerr != nil {
			return gerr
		}
		previous = old.Previous
	}

	commit := &vexmodel.Commit{
		Kind:      kind,
		Timestamp: now(),
		Previous:  previous,
		Root:      newRootAddr,
		Changeset: csAddr,
	}
	if kind == vexmodel.KindAmend {
		commit.Ancestors = map[string]vexhash.Address{
			"amended":  oldCommit,
			"prepared": tx.Session().Prepare,
		}
	} else {
		commit.Ancestors = map[string]vexhash.Address{"prepared": tx.Session().Prepare}
	}
	commitAddr, err := tx.PutCommit(commit)
	if err != nil {
		return err
	}

	tx.Session().Prepare = commitAddr
	tx.Session().Commit = commitAddr
	clearCommittedStates(tx.Session(), merged)

	if tx.Branch() != nil {
		if tx.Session().State == vexmodel.SessionAttached && tx.Branch().Head == oldCommit {
			tx.Branch().Head = commitAddr
		} else {
			tx.Session().State = vexmodel.SessionDetached
		}
	}
	return p.finishSession(tx)
}

// clearCommittedStates drops every path the new root now accounts for
// back to the tracked baseline; a path the merged changeset did not
// cover because it was filtered out of files keeps its prior state.
func clearCommittedStates(sess *vexmodel.Session, committed *vexmodel.Changeset) {
	for repoPath, t := range sess.Files {
		if t.State == vexmodel.StateTracked {
			continue
		}
		if _, ok := committed.Paths[repoPath]; !ok {
			continue
		}
		if t.State == vexmodel.StateDeleted {
			delete(sess.Files, repoPath)
			continue
		}
		t.State = vexmodel.StateTracked
		t.Replace = ""
		sess.Files[repoPath] = t
	}
}

// mergeChangesets folds base (the prepare chain) and overlay (the
// session's active, uncommitted edits) into one changeset, keeping only
// overlay's change for any path both touch - the later, uncommitted edit
// always wins over an earlier prepared one, the same path never carries
// changes from both sides into applyChangesToEntries.
func mergeChangesets(author, message string, base, overlay *vexmodel.Changeset) *vexmodel.Changeset {
	merged := vexmodel.NewChangeset(author, message)
	if base != nil {
		for _, p := range base.SortedPaths() {
			if _, overridden := overlay.Paths[p]; overridden {
				continue
			}
			for _, c := range base.Paths[p] {
				merged.Append(p, c)
			}
		}
	}
	for _, p := range overlay.SortedPaths() {
		for _, c := range overlay.Paths[p] {
			merged.Append(p, c)
		}
	}
	return merged
}

func (p *Project) finishSession(tx *vextxn.SessionTransaction) error {
	action, err := tx.Action()
	if err != nil {
		return err
	}
	_, err = p.engine.Do(*action, p.applyForward)
	return err
}

func (p *Project) globsWith(extraIgnore, extraInclude []byte) (vexfswalk.Globs, error) {
	ignore, err := p.settings.Get("ignore")
	if err != nil {
		ignore = nil
	}
	include, err := p.settings.Get("include")
	if err != nil {
		include = nil
	}
	if len(extraIgnore) > 0 {
		ignore = joinLines(ignore, extraIgnore)
	}
	if len(extraInclude) > 0 {
		include = joinLines(include, extraInclude)
	}
	return vexconfig.Globs(ignore, include)
}

func joinLines(base, extra []byte) []byte {
	if len(base) == 0 {
		return extra
	}
	out := make([]byte, 0, len(base)+1+len(extra))
	out = append(out, base...)
	out = append(out, '\n')
	out = append(out, extra...)
	return out
}
