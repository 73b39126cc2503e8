package vexproject

import (
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexstore"
	"github.com/imbal/vex/vextxn"
)

// pathUnderPrefix reports whether repo path p is materialised under
// prefix. The root prefix "/" is deliberately strict: it matches only
// the literal path "/" itself, not every descendant - this is the
// behaviour the switch-prefix example in the design notes depends on
// (switching to "/" hides a file tracked under "/repo", switching back
// to "/repo" restores it).
func pathUnderPrefix(p, prefix string) bool {
	if prefix == "/" {
		return p == "/"
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// diskRelPath strips prefix from a repo path to get the path relative to
// the working directory root.
func diskRelPath(p, prefix string) string {
	rel := strings.TrimPrefix(p, prefix)
	return strings.TrimPrefix(rel, "/")
}

// repoPathFor is diskRelPath's inverse: it qualifies a working-directory-
// relative path with prefix to get the full repo path user operations
// (add/forget/remove/restore/prepare/commit) key the tracked-file table
// by.
func repoPathFor(prefix, rel string) string {
	if rel == "" {
		return prefix
	}
	if prefix == "/" {
		return "/" + rel
	}
	return prefix + "/" + rel
}

func (p *Project) applySwitchForward(a vexmodel.SwitchAction) error {
	if err := putFieldForward(p.state, "prefix", a.Prefix); err != nil {
		return err
	}
	if err := putFieldForward(p.state, "active", a.Active); err != nil {
		return err
	}
	if err := writeKeyedForward(p.sessions, a.SessionStates); err != nil {
		return err
	}
	if err := writeKeyedForward(p.branches, a.BranchStates); err != nil {
		return err
	}
	if err := writeKeyedForward(p.names, a.Names); err != nil {
		return err
	}
	if err := writeKeyedForward(p.state, a.States); err != nil {
		return err
	}
	return nil
}

func (p *Project) applySwitchBackward(a vexmodel.SwitchAction) error {
	if err := putFieldBackward(p.state, "prefix", a.Prefix); err != nil {
		return err
	}
	if err := putFieldBackward(p.state, "active", a.Active); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.sessions, a.SessionStates); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.branches, a.BranchStates); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.names, a.Names); err != nil {
		return err
	}
	if err := writeKeyedBackward(p.state, a.States); err != nil {
		return err
	}
	return nil
}

func putFieldForward(fs *vexstore.FileStore, key string, fc vexmodel.FieldChange) error {
	if len(fc.New) == 0 {
		return fs.Delete(key)
	}
	return fs.Put(key, fc.New)
}

func putFieldBackward(fs *vexstore.FileStore, key string, fc vexmodel.FieldChange) error {
	if len(fc.Old) == 0 {
		return fs.Delete(key)
	}
	return fs.Put(key, fc.Old)
}

// clearTracked walks sess's tracked-file table for every path currently
// materialised (Working=true) under prefix, stashing modified content
// into the permanent files store, deleting the file, and flipping
// Working off. Directories left empty afterwards are removed bottom-up,
// best effort (§4.6 Switch materialisation, Clear phase). sess is
// mutated in place so a caller doing both clear and restore against the
// same session sees the clear's stash fields during restore.
func (p *Project) clearTracked(sess *vexmodel.Session, prefix string) error {
	paths := make([]string, 0, len(sess.Files))
	for rp, t := range sess.Files {
		if t.Working {
			paths = append(paths, rp)
		}
	}
	sort.Strings(paths)

	var dirs []string
	for _, rp := range paths {
		if !pathUnderPrefix(rp, prefix) {
			continue
		}
		t := sess.Files[rp]
		rel := diskRelPath(rp, prefix)
		if t.Kind == vexmodel.KindDir {
			dirs = append(dirs, rel)
			t.Working = false
			sess.Files[rp] = t
			continue
		}
		if t.State == vexmodel.StateAdded || t.State == vexmodel.StateReplaced || t.State == vexmodel.StateModified {
			data, rerr := readWorkingFile(p.wfs, rel)
			if rerr == nil {
				addr, perr := p.repo.Files.PutBuf(vexstore.NSFile, data)
				if perr != nil {
					return perr
				}
				t.Stash = addr
			} else if !os.IsNotExist(rerr) {
				return rerr
			}
		}
		if err := p.wfs.Remove(rel); err != nil && !os.IsNotExist(err) {
			return err
		}
		t.Working = false
		sess.Files[rp] = t
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if err := p.wfs.Remove(d); err != nil && !os.IsNotExist(err) {
			log.Debug().Str("dir", d).Err(err).Msg("vexproject: leaving non-empty directory in place")
		}
	}
	return nil
}

// restoreTracked materialises every tracked path of sess that falls
// under prefix, copying from stash when one was left by a prior clear,
// otherwise from the permanent files store (§4.6 Switch materialisation,
// Restore phase). sess is mutated in place.
func (p *Project) restoreTracked(sess *vexmodel.Session, prefix string) error {
	paths := make([]string, 0, len(sess.Files))
	for rp := range sess.Files {
		paths = append(paths, rp)
	}
	sort.Strings(paths)

	for _, rp := range paths {
		if !pathUnderPrefix(rp, prefix) {
			continue
		}
		t := sess.Files[rp]
		if t.Kind == vexmodel.KindIgnore {
			t.Working = true
			sess.Files[rp] = t
			continue
		}
		rel := diskRelPath(rp, prefix)
		if t.Kind == vexmodel.KindDir {
			if err := p.wfs.MkdirAll(rel, 0o755); err != nil {
				return err
			}
			t.Working = true
			sess.Files[rp] = t
			continue
		}
		source := t.Addr
		if !t.Stash.Empty() {
			source = t.Stash
		}
		if !source.Empty() {
			perm := os.FileMode(0o644)
			if t.Properties.Executable() {
				perm = 0o755
			}
			if err := writeWorkingFileMode(p.wfs, rel, p.repo.Files, source, perm); err != nil {
				return err
			}
		}
		t.Stash = ""
		t.Working = true
		sess.Files[rp] = t
	}
	return nil
}

// switchMaterialize runs Clear against oldUUID/oldPrefix and Restore
// against newUUID/newPrefix, staging the resulting full session-record
// diffs onto tx. When oldUUID == newUUID (a pure prefix change) both
// phases run against one decoded session so the clear's stash fields are
// visible to the restore that immediately follows it.
func (p *Project) switchMaterialize(tx *vextxn.SwitchTransaction, oldUUID, oldPrefix, newUUID, newPrefix string) error {
	if oldUUID == newUUID {
		sess, err := p.getSession(oldUUID)
		if err != nil {
			return err
		}
		oldBytes, err := sess.Encode()
		if err != nil {
			return err
		}
		if err := p.clearTracked(sess, oldPrefix); err != nil {
			return err
		}
		if err := p.restoreTracked(sess, newPrefix); err != nil {
			return err
		}
		newBytes, err := sess.Encode()
		if err != nil {
			return err
		}
		tx.SetSession(oldUUID, oldBytes, newBytes)
		return nil
	}

	oldSess, err := p.getSession(oldUUID)
	if err != nil {
		return err
	}
	oldOldBytes, err := oldSess.Encode()
	if err != nil {
		return err
	}
	if err := p.clearTracked(oldSess, oldPrefix); err != nil {
		return err
	}
	oldNewBytes, err := oldSess.Encode()
	if err != nil {
		return err
	}
	tx.SetSession(oldUUID, oldOldBytes, oldNewBytes)

	newSess, err := p.getSession(newUUID)
	if err != nil {
		return err
	}
	newOldBytes, err := newSess.Encode()
	if err != nil {
		return err
	}
	if err := p.restoreTracked(newSess, newPrefix); err != nil {
		return err
	}
	newNewBytes, err := newSess.Encode()
	if err != nil {
		return err
	}
	tx.SetSession(newUUID, newOldBytes, newNewBytes)
	return nil
}
