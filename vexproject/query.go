package vexproject

import (
	"sort"

	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
)

// StatusEntry is one path's reported status: its tracked kind/state and
// whether it is currently materialised under the active prefix.
type StatusEntry struct {
	Kind    vexmodel.TrackedKind
	State   vexmodel.TrackedState
	Working bool
	Addr    vexhash.Address
}

// Status reports the active session's entire tracked-file table, keyed
// by full repo path (e.g. "/repo/a"), independent of what the current
// prefix materialises - a path switched out of view still appears with
// Working == false (§8 S4).
func (p *Project) Status() (out map[string]StatusEntry, err error) {
	defer vexerr.Recover(&err)

	sess, _, err := p.activeSessionAndBranch()
	if err != nil {
		return nil, err
	}
	out = make(map[string]StatusEntry, len(sess.Files))
	for repoPath, t := range sess.Files {
		out[repoPath] = StatusEntry{Kind: t.Kind, State: t.State, Working: t.Working, Addr: t.Addr}
	}
	return out, nil
}

// StatusItem pairs a repo path with its StatusEntry, for StatusSeq.
type StatusItem struct {
	Path  string
	Entry StatusEntry
}

// StatusSeq reports the same entries as Status, in sorted path order,
// as a range-over-func iterator rather than a map.
func (p *Project) StatusSeq() (func(yield func(StatusItem) bool), error) {
	out, err := p.Status()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(out))
	for repoPath := range out {
		paths = append(paths, repoPath)
	}
	sort.Strings(paths)
	return func(yield func(StatusItem) bool) {
		for _, repoPath := range paths {
			if !yield(StatusItem{Path: repoPath, Entry: out[repoPath]}) {
				return
			}
		}
	}, nil
}

// LogEntry is one commit reachable by following Previous from the
// active session's current commit - the real commit/amend/init chain,
// never the prepare chain a session may have open on top of it.
type LogEntry struct {
	Addr    vexhash.Address
	Commit  *vexmodel.Commit
	Author  string
	Message string
}

// Log walks the active session's commit chain from its current head
// back to init, resolving each commit's changeset for its author and
// message.
func (p *Project) Log() (entries []LogEntry, err error) {
	defer vexerr.Recover(&err)

	sess, _, err := p.activeSessionAndBranch()
	if err != nil {
		return nil, err
	}
	addr := sess.Commit
	for !addr.Empty() {
		c, gerr := p.repo.GetCommit(addr)
		if gerr != nil {
			return nil, gerr
		}
		entry := LogEntry{Addr: addr, Commit: c}
		if !c.Changeset.Empty() {
			cs, cerr := p.repo.GetChangeset(c.Changeset)
			if cerr != nil {
				return nil, cerr
			}
			entry.Author = cs.Author
			entry.Message = cs.Message
		}
		entries = append(entries, entry)
		addr = c.Previous
	}
	return entries, nil
}

// LogSeq walks the same commit chain as Log, in the same newest-to-oldest
// order, as a range-over-func iterator.
func (p *Project) LogSeq() (func(yield func(LogEntry) bool), error) {
	entries, err := p.Log()
	if err != nil {
		return nil, err
	}
	return func(yield func(LogEntry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}, nil
}

// DiffEntry describes one changed path's old and new content address,
// for a caller to hand off to an external diff utility - this engine
// renders no text diffs itself (§2 Out of scope).
type DiffEntry struct {
	Change vexmodel.Change
}

// DiffFiles reports the active changeset over files (or the whole
// session if files is empty) without staging anything: the changeset the
// next commit would record, computed read-only.
func (p *Project) DiffFiles(files []string) (out map[string][]DiffEntry, err error) {
	defer vexerr.Recover(&err)

	sess, branch, err := p.activeSessionAndBranch()
	if err != nil {
		return nil, err
	}
	targets, err := p.repoPaths(files)
	if err != nil {
		return nil, err
	}
	tx := p.newSessionTransaction(sess, branch, "diff")
	cs, err := tx.ActiveChangeset("", "", targets)
	if err != nil {
		return nil, err
	}
	out = make(map[string][]DiffEntry, len(cs.Paths))
	for _, path := range cs.SortedPaths() {
		for _, c := range cs.Paths[path] {
			out[path] = append(out[path], DiffEntry{Change: c})
		}
	}
	return out, nil
}

// DiffItem pairs a changed path with one of its DiffEntry values, for
// DiffFilesSeq.
type DiffItem struct {
	Path  string
	Entry DiffEntry
}

// DiffFilesSeq reports the same changes as DiffFiles, in sorted path
// order, as a range-over-func iterator.
func (p *Project) DiffFilesSeq(files []string) (func(yield func(DiffItem) bool), error) {
	out, err := p.DiffFiles(files)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(out))
	for path := range out {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return func(yield func(DiffItem) bool) {
		for _, path := range paths {
			for _, e := range out[path] {
				if !yield(DiffItem{Path: path, Entry: e}) {
					return
				}
			}
		}
	}, nil
}

// Rename removes oldPath and adds newPath as a composite of the two
// primitive operations - this engine performs no rename detection (§2
// Non-goals), so the history log records a plain remove followed by a
// plain add rather than a single atomic move.
func (p *Project) Rename(oldPath, newPath string) error {
	if err := p.Remove([]string{oldPath}); err != nil {
		return err
	}
	return p.Add([]string{newPath}, nil, nil)
}

// ReachabilityReport counts the blobs reachable from every known
// branch's head commit.
type ReachabilityReport struct {
	Commits   int
	Manifests int
	Files     int
}

// GC walks every branch's commit/root/tree graph and reports how many
// distinct blobs are reachable. It deletes nothing: the permanent stores
// are append-only (property 4) and BlobStore exposes no directory
// enumeration to find the unreachable complement, so an actual sweep
// would need a storage-layer addition this engine does not make: this is
// a reachability report only, grounded on the same graph walk Log uses.
func (p *Project) GC() (report ReachabilityReport, err error) {
	defer vexerr.Recover(&err)

	names, err := p.listNames()
	if err != nil {
		return report, err
	}

	commits := map[vexhash.Address]bool{}
	manifests := map[vexhash.Address]bool{}
	files := map[vexhash.Address]bool{}

	for _, name := range names {
		branch, berr := p.getBranchByName(name)
		if berr != nil {
			return report, berr
		}
		if err := p.walkReachable(branch.Head, commits, manifests, files); err != nil {
			return report, err
		}
	}

	report.Commits = len(commits)
	report.Manifests = len(manifests)
	report.Files = len(files)
	return report, nil
}

func (p *Project) listNames() ([]string, error) {
	return p.names.Keys()
}

func (p *Project) walkReachable(addr vexhash.Address, commits, manifests, files map[vexhash.Address]bool) error {
	for !addr.Empty() && !commits[addr] {
		commits[addr] = true
		c, err := p.repo.GetCommit(addr)
		if err != nil {
			return err
		}
		if !c.Root.Empty() && !manifests[c.Root] {
			if err := p.walkManifest(c.Root, manifests, files); err != nil {
				return err
			}
		}
		if !c.Changeset.Empty() {
			manifests[c.Changeset] = true
		}
		for _, anc := range c.Ancestors {
			if err := p.walkReachable(anc, commits, manifests, files); err != nil {
				return err
			}
		}
		addr = c.Previous
	}
	return nil
}

func (p *Project) walkManifest(addr vexhash.Address, manifests, files map[vexhash.Address]bool) error {
	if manifests[addr] {
		return nil
	}
	manifests[addr] = true
	root, err := p.repo.GetRoot(addr)
	if err != nil {
		return err
	}
	return p.walkEntries(root.Entries, manifests, files)
}

func (p *Project) walkEntries(entries map[string]vexmodel.Entry, manifests, files map[vexhash.Address]bool) error {
	for _, e := range entries {
		switch v := e.(type) {
		case vexmodel.FileEntry:
			if !v.Addr.Empty() {
				files[v.Addr] = true
			}
		case vexmodel.GitFileEntry:
			if !v.Addr.Empty() {
				files[v.Addr] = true
			}
		case vexmodel.DirEntry:
			if v.Addr.Empty() || manifests[v.Addr] {
				continue
			}
			manifests[v.Addr] = true
			tree, err := p.repo.GetTree(v.Addr)
			if err != nil {
				return err
			}
			if err := p.walkEntries(tree.Entries, manifests, files); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyBranch and ReplayBranch are intentionally unimplemented: merging
// across diverged branches is a Non-goal (§2), so both always report
// ErrUnfinished rather than attempt a partial merge algorithm.
func (p *Project) ApplyBranch(name string) error  { return vexerr.ErrUnfinished }
func (p *Project) ReplayBranch(name string) error { return vexerr.ErrUnfinished }
