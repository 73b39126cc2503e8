package vextxn

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
)

// committedRoot loads the Root of the session's last non-prepare ancestor
// commit, or an empty root for a session that has never committed.
func (tx *SessionTransaction) committedRoot() (*vexmodel.Root, error) {
	if tx.session.Commit.Empty() {
		return &vexmodel.Root{Entries: map[string]vexmodel.Entry{}}, nil
	}
	c, err := tx.GetCommit(tx.session.Commit)
	if err != nil {
		return nil, err
	}
	if c.Root.Empty() {
		return &vexmodel.Root{Entries: map[string]vexmodel.Entry{}}, nil
	}
	return tx.GetRoot(c.Root)
}

// CommittedRoot returns both the root address and the decoded root of
// the session's last non-prepare ancestor commit, for callers (commit,
// amend) that need the base address to detect an unchanged root via
// NewRootWithChangeset's structural-sharing return.
func (tx *SessionTransaction) CommittedRoot() (vexhash.Address, *vexmodel.Root, error) {
	if tx.session.Commit.Empty() {
		return "", &vexmodel.Root{Entries: map[string]vexmodel.Entry{}}, nil
	}
	c, err := tx.GetCommit(tx.session.Commit)
	if err != nil {
		return "", nil, err
	}
	if c.Root.Empty() {
		return "", &vexmodel.Root{Entries: map[string]vexmodel.Entry{}}, nil
	}
	root, err := tx.GetRoot(c.Root)
	if err != nil {
		return "", nil, err
	}
	return c.Root, root, nil
}

// PutCommit encodes and scratch-stores c, tracking its address for
// promotion when the transaction's Action is applied.
func (tx *SessionTransaction) PutCommit(c *vexmodel.Commit) (vexhash.Address, error) {
	return tx.putCommit(c)
}

// PutChangeset encodes and scratch-stores cs under the manifests
// namespace, tracking its address for promotion.
func (tx *SessionTransaction) PutChangeset(cs *vexmodel.Changeset) (vexhash.Address, error) {
	return tx.putManifest(cs)
}

// lookupCommitted walks a dotted repo path down through nested Tree
// manifests, returning nil if no entry is found at path.
func (tx *SessionTransaction) lookupCommitted(root *vexmodel.Root, path string) (vexmodel.Entry, error) {
	entries := root.Entries
	parts := strings.Split(path, "/")
	for i, part := range parts {
		e, ok := entries[part]
		if !ok {
			return nil, nil
		}
		if i == len(parts)-1 {
			return e, nil
		}
		dir, isDir := e.(vexmodel.DirEntry)
		if !isDir || dir.Addr.Empty() {
			return nil, nil
		}
		tree, err := tx.GetTree(dir.Addr)
		if err != nil {
			return nil, err
		}
		entries = tree.Entries
	}
	return nil, nil
}

func addrOfEntry(e vexmodel.Entry) vexhash.Address {
	switch v := e.(type) {
	case vexmodel.FileEntry:
		return v.Addr
	case vexmodel.DirEntry:
		return v.Addr
	case vexmodel.GitFileEntry:
		return v.Addr
	default:
		return ""
	}
}

func deletedKindIsDir(t vexmodel.Tracked, old vexmodel.Entry) bool {
	if t.Replace != "" {
		return t.Replace == vexmodel.KindDir
	}
	if old != nil {
		_, isDir := old.(vexmodel.DirEntry)
		return isDir
	}
	return t.Kind == vexmodel.KindDir
}

// pathMatchesAny reports whether p is one of filter, a descendant of one
// of filter, or an ancestor directory of one of filter - the "implicit
// parent-directory inclusion" a path-scoped commit/status needs so a
// changed ancestor directory entry is not silently dropped.
func pathMatchesAny(p string, filter []string) bool {
	for _, f := range filter {
		if p == f || strings.HasPrefix(p, f+"/") || strings.HasPrefix(f, p+"/") {
			return true
		}
	}
	return false
}

func (tx *SessionTransaction) changedPaths(filter []string) []string {
	all := make([]string, 0, len(tx.session.Files))
	for p, t := range tx.session.Files {
		if t.State != vexmodel.StateTracked {
			all = append(all, p)
		}
	}
	sort.Strings(all)
	if len(filter) == 0 {
		return all
	}
	out := all[:0:0]
	for _, p := range all {
		if pathMatchesAny(p, filter) {
			out = append(out, p)
		}
	}
	return out
}

// ActiveChangeset translates the tracked-file table into a Changeset,
// optionally scoped to filter (with ancestor directories implicitly
// included), exhaustively mapping every (Kind, State) combination onto
// one of the nine Change variants (§4.4).
func (tx *SessionTransaction) ActiveChangeset(author, message string, filter []string) (*vexmodel.Changeset, error) {
	root, err := tx.committedRoot()
	if err != nil {
		return nil, err
	}
	cs := vexmodel.NewChangeset(author, message)
	for _, p := range tx.changedPaths(filter) {
		t := tx.session.Files[p]
		old, err := tx.lookupCommitted(root, p)
		if err != nil {
			return nil, err
		}
		switch t.State {
		case vexmodel.StateAdded:
			switch t.Kind {
			case vexmodel.KindIgnore:
				cs.Append(p, vexmodel.IgnorePath{})
			case vexmodel.KindDir:
				cs.Append(p, vexmodel.AddDir{Addr: t.Addr, Properties: t.Properties})
			default:
				cs.Append(p, vexmodel.AddFile{Addr: t.Addr, Properties: t.Properties})
			}
		case vexmodel.StateModified:
			if t.Kind == vexmodel.KindDir {
				cs.Append(p, vexmodel.ChangeDir{Old: addrOfEntry(old), New: t.Addr, Properties: t.Properties})
			} else {
				cs.Append(p, vexmodel.ChangeFile{Old: addrOfEntry(old), New: t.Addr, Properties: t.Properties})
			}
		case vexmodel.StateDeleted:
			if deletedKindIsDir(t, old) {
				cs.Append(p, vexmodel.DeleteDir{Old: addrOfEntry(old)})
			} else {
				cs.Append(p, vexmodel.DeleteFile{Old: addrOfEntry(old)})
			}
		case vexmodel.StateReplaced:
			if t.Kind == vexmodel.KindFile {
				cs.Append(p, vexmodel.NewFile{Addr: t.Addr, Properties: t.Properties})
			} else {
				cs.Append(p, vexmodel.NewDir{Addr: t.Addr, Properties: t.Properties})
			}
		}
	}
	return cs, nil
}

// StoreChangesetFiles ensures scratch-store bytes exist for every file
// address a changeset references, verifying the bytes on disk still hash
// to the address Refresh observed.
func (tx *SessionTransaction) StoreChangesetFiles(cs *vexmodel.Changeset) error {
	for _, p := range cs.SortedPaths() {
		for _, c := range cs.Paths[p] {
			var want vexhash.Address
			switch v := c.(type) {
			case vexmodel.AddFile:
				want = v.Addr
			case vexmodel.NewFile:
				want = v.Addr
			case vexmodel.ChangeFile:
				want = v.New
			default:
				continue
			}
			if want.Empty() {
				continue
			}
			if ok, err := tx.repo.Scratch.Exists(want); err != nil {
				return err
			} else if ok {
				continue
			}
			got, err := tx.putFilePath(tx.fullPath(p))
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("vextxn: %s changed on disk since refresh (expected %s, got %s)", p, want, got)
			}
		}
	}
	return nil
}

type pathedChange struct {
	rest   string
	change vexmodel.Change
}

func splitFirst(path string) (head, rest string) {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

func groupByComponent(cs *vexmodel.Changeset) map[string][]pathedChange {
	groups := map[string][]pathedChange{}
	for _, p := range cs.SortedPaths() {
		head, rest := splitFirst(p)
		for _, c := range cs.Paths[p] {
			groups[head] = append(groups[head], pathedChange{rest: rest, change: c})
		}
	}
	return groups
}

func applyDirectChange(entries map[string]vexmodel.Entry, name string, c vexmodel.Change) {
	switch v := c.(type) {
	case vexmodel.AddFile:
		entries[name] = vexmodel.FileEntry{Addr: v.Addr, Properties: v.Properties}
	case vexmodel.NewFile:
		entries[name] = vexmodel.FileEntry{Addr: v.Addr, Properties: v.Properties}
	case vexmodel.ChangeFile:
		entries[name] = vexmodel.FileEntry{Addr: v.New, Properties: v.Properties}
	case vexmodel.DeleteFile:
		delete(entries, name)
	case vexmodel.AddDir:
		entries[name] = vexmodel.DirEntry{Addr: v.Addr, Properties: v.Properties}
	case vexmodel.NewDir:
		entries[name] = vexmodel.DirEntry{Addr: v.Addr, Properties: v.Properties}
	case vexmodel.ChangeDir:
		entries[name] = vexmodel.DirEntry{Addr: v.New, Properties: v.Properties}
	case vexmodel.DeleteDir:
		delete(entries, name)
	case vexmodel.IgnorePath:
		entries[name] = vexmodel.IgnoredEntry{}
	}
}

func entryProperties(e vexmodel.Entry) vexmodel.Properties {
	switch v := e.(type) {
	case vexmodel.DirEntry:
		return v.Properties
	case vexmodel.FileEntry:
		return v.Properties
	case vexmodel.GitFileEntry:
		return v.Properties
	default:
		return nil
	}
}

// applyChangesToEntries rebuilds one directory level bottom-up: any
// subtree with no change in its group is left untouched (returned
// unmodified from entries, same address it already carried), which is
// what gives new_root_with_changeset its structural sharing.
func (tx *SessionTransaction) applyChangesToEntries(entries map[string]vexmodel.Entry, groups map[string][]pathedChange) (map[string]vexmodel.Entry, bool, error) {
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)

	result := make(map[string]vexmodel.Entry, len(entries))
	for k, v := range entries {
		result[k] = v
	}
	changed := false

	for _, name := range names {
		pcs := groups[name]
		if len(pcs) == 1 && pcs[0].rest == "" {
			applyDirectChange(result, name, pcs[0].change)
			changed = true
			continue
		}

		var childEntries map[string]vexmodel.Entry
		existing, ok := entries[name]
		if ok {
			dir, isDir := existing.(vexmodel.DirEntry)
			if !isDir {
				return nil, false, fmt.Errorf("vextxn: %s is not a directory in the base manifest", name)
			}
			if !dir.Addr.Empty() {
				tree, err := tx.GetTree(dir.Addr)
				if err != nil {
					return nil, false, err
				}
				childEntries = tree.Entries
			} else {
				childEntries = map[string]vexmodel.Entry{}
			}
		} else {
			childEntries = map[string]vexmodel.Entry{}
		}

		subGroups := map[string][]pathedChange{}
		for _, pc := range pcs {
			if pc.rest == "" {
				return nil, false, fmt.Errorf("vextxn: %s has both a direct and a nested change", name)
			}
			subHead, subRest := splitFirst(pc.rest)
			subGroups[subHead] = append(subGroups[subHead], pathedChange{rest: subRest, change: pc.change})
		}

		newChildEntries, childChanged, err := tx.applyChangesToEntries(childEntries, subGroups)
		if err != nil {
			return nil, false, err
		}
		if !childChanged {
			continue
		}
		addr, err := tx.putManifest(&vexmodel.Tree{Entries: newChildEntries})
		if err != nil {
			return nil, false, err
		}
		result[name] = vexmodel.DirEntry{Addr: addr, Properties: entryProperties(existing)}
		changed = true
	}

	return result, changed, nil
}

// NewRootWithChangeset rebuilds the root manifest bottom-up, returning
// baseAddr unchanged when cs carries no paths or touches nothing that
// actually differs from base (property 5: structural sharing).
func (tx *SessionTransaction) NewRootWithChangeset(baseAddr vexhash.Address, base *vexmodel.Root, cs *vexmodel.Changeset) (vexhash.Address, error) {
	if cs.Empty() {
		return baseAddr, nil
	}
	groups := groupByComponent(cs)
	newEntries, changed, err := tx.applyChangesToEntries(base.Entries, groups)
	if err != nil {
		return "", err
	}
	if !changed {
		return baseAddr, nil
	}
	return tx.putManifest(&vexmodel.Root{Properties: base.Properties, Entries: newEntries})
}

// PreparedChangeset walks the session's prepare chain (Prepare down to
// Commit) and merges each prepare commit's changeset in chronological
// order, stopping at the first non-prepare ancestor. Returns nil if the
// session has no prepare chain open.
func (tx *SessionTransaction) PreparedChangeset() (*vexmodel.Changeset, error) {
	if tx.session.Prepare.Empty() || tx.session.Prepare == tx.session.Commit {
		return nil, nil
	}
	var chain []*vexmodel.Commit
	addr := tx.session.Prepare
	for !addr.Empty() && addr != tx.session.Commit {
		c, err := tx.GetCommit(addr)
		if err != nil {
			return nil, err
		}
		if c.Kind != vexmodel.KindPrepare {
			break
		}
		chain = append(chain, c)
		addr = c.Previous
	}
	merged := vexmodel.NewChangeset("", "")
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		if c.Changeset.Empty() {
			continue
		}
		cs, err := tx.GetChangeset(c.Changeset)
		if err != nil {
			return nil, err
		}
		for _, p := range cs.SortedPaths() {
			for _, ch := range cs.Paths[p] {
				merged.Append(p, ch)
			}
		}
	}
	return merged, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (tx *SessionTransaction) walkEntriesIntoFiles(entries map[string]vexmodel.Entry, prefix string, files map[string]vexmodel.Tracked) error {
	for name, e := range entries {
		p := joinPath(prefix, name)
		switch v := e.(type) {
		case vexmodel.FileEntry:
			files[p] = vexmodel.Tracked{Kind: vexmodel.KindFile, State: vexmodel.StateTracked, Working: true, Addr: v.Addr, Properties: v.Properties}
		case vexmodel.GitFileEntry:
			files[p] = vexmodel.Tracked{Kind: vexmodel.KindGitFile, State: vexmodel.StateTracked, Working: true, Addr: v.Addr, Properties: v.Properties}
		case vexmodel.IgnoredEntry:
			files[p] = vexmodel.Tracked{Kind: vexmodel.KindIgnore, State: vexmodel.StateTracked, Working: true}
		case vexmodel.DirEntry:
			files[p] = vexmodel.Tracked{Kind: vexmodel.KindDir, State: vexmodel.StateTracked, Working: true, Addr: v.Addr, Properties: v.Properties}
			if !v.Addr.Empty() {
				tree, err := tx.GetTree(v.Addr)
				if err != nil {
					return err
				}
				if err := tx.walkEntriesIntoFiles(tree.Entries, p, files); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func applyChangeToFile(files map[string]vexmodel.Tracked, path string, c vexmodel.Change) {
	t := files[path]
	switch v := c.(type) {
	case vexmodel.AddFile:
		t = vexmodel.Tracked{Kind: vexmodel.KindFile, State: vexmodel.StateAdded, Working: true, Addr: v.Addr, Properties: v.Properties}
	case vexmodel.NewFile:
		t.Kind, t.State, t.Replace = vexmodel.KindFile, vexmodel.StateReplaced, vexmodel.KindDir
		t.Addr, t.Properties, t.Working = v.Addr, v.Properties, true
	case vexmodel.ChangeFile:
		t.Kind, t.State = vexmodel.KindFile, vexmodel.StateModified
		t.Addr, t.Properties, t.Working = v.New, v.Properties, true
	case vexmodel.DeleteFile:
		t.Kind, t.State, t.Working = vexmodel.KindFile, vexmodel.StateDeleted, true
	case vexmodel.AddDir:
		t = vexmodel.Tracked{Kind: vexmodel.KindDir, State: vexmodel.StateAdded, Working: true, Addr: v.Addr, Properties: v.Properties}
	case vexmodel.NewDir:
		t.Kind, t.State, t.Replace = vexmodel.KindDir, vexmodel.StateReplaced, vexmodel.KindFile
		t.Addr, t.Properties, t.Working = v.Addr, v.Properties, true
	case vexmodel.ChangeDir:
		t.Kind, t.State = vexmodel.KindDir, vexmodel.StateModified
		t.Addr, t.Properties, t.Working = v.New, v.Properties, true
	case vexmodel.DeleteDir:
		t.Kind, t.State, t.Working = vexmodel.KindDir, vexmodel.StateDeleted, true
	case vexmodel.IgnorePath:
		t = vexmodel.Tracked{Kind: vexmodel.KindIgnore, State: vexmodel.StateAdded, Working: true}
	}
	files[path] = t
}

// BuildFiles materialises the expected tracked-file table for head: the
// committed root's entries overlaid with the merged prepare-chain
// changeset, used to seed a freshly attached or reattached session.
func (tx *SessionTransaction) BuildFiles(head vexhash.Address) (map[string]vexmodel.Tracked, error) {
	commit, err := tx.GetCommit(head)
	if err != nil {
		return nil, err
	}
	files := map[string]vexmodel.Tracked{}
	if !commit.Root.Empty() {
		root, err := tx.GetRoot(commit.Root)
		if err != nil {
			return nil, err
		}
		if err := tx.walkEntriesIntoFiles(root.Entries, "", files); err != nil {
			return nil, err
		}
	}
	prepared, err := tx.PreparedChangeset()
	if err != nil {
		return nil, err
	}
	if prepared != nil {
		for _, p := range prepared.SortedPaths() {
			for _, c := range prepared.Paths[p] {
				applyChangeToFile(files, p, c)
			}
		}
	}
	return files, nil
}

// finalizeSessionAndBranch diffs the transaction's working session/branch
// copies against the snapshots taken at open time, staging a FieldChange
// only when something actually moved.
func (tx *SessionTransaction) finalizeSessionAndBranch() error {
	oldSession, err := (&tx.origSession).Encode()
	if err != nil {
		return err
	}
	newSession, err := tx.session.Encode()
	if err != nil {
		return err
	}
	if !bytes.Equal(oldSession, newSession) {
		tx.recordSession(tx.session.UUID, oldSession, newSession)
	}

	if tx.branch != nil {
		oldBranch, err := tx.origBranch.Encode()
		if err != nil {
			return err
		}
		newBranch, err := tx.branch.Encode()
		if err != nil {
			return err
		}
		if !bytes.Equal(oldBranch, newBranch) {
			tx.recordBranch(tx.branch.UUID, oldBranch, newBranch)
		}
	}
	return nil
}

// Action finalises the transaction into a PhysicalAction. The
// transaction must not be used again afterwards.
func (tx *SessionTransaction) Action() (*vexmodel.PhysicalAction, error) {
	if tx.Cancelled() {
		return nil, errCancelled
	}
	if err := tx.finalizeSessionAndBranch(); err != nil {
		return nil, err
	}
	return &vexmodel.PhysicalAction{
		Time:    tx.now,
		Command: tx.command,
		Changes: vexmodel.LogicalChanges{
			Branches: tx.staged.branches,
			Names:    tx.staged.names,
			Sessions: tx.staged.sessions,
			Settings: tx.staged.settings,
			States:   tx.staged.states,
		},
		Blobs:   tx.blobs,
		Working: tx.working,
	}, nil
}
