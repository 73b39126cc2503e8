package vexmodel

import (
	"fmt"
	"sort"

	"github.com/imbal/vex/vexhash"
)

// FieldChange is an old/new pair fully describing a mutation to one
// logical field, so that an inverse application - writing Old back over
// New - is trivially derivable without recomputing anything.
type FieldChange struct {
	Old, New []byte
}

// KeyedChanges maps a key (branch uuid, branch name, session uuid,
// settings key, state key...) to the FieldChange recorded against it.
type KeyedChanges map[string]FieldChange

func (kc KeyedChanges) sortedKeys() []string {
	keys := make([]string, 0, len(kc))
	for k := range kc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeKeyedChanges(w *Writer, kc KeyedChanges) {
	keys := kc.sortedKeys()
	w.WriteUvarint(uint64(len(keys)))
	for _, k := range keys {
		w.WriteString(k)
		w.WriteBytes(kc[k].Old)
		w.WriteBytes(kc[k].New)
	}
}

func readKeyedChanges(r *Reader) (KeyedChanges, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	kc := make(KeyedChanges, n)
	for i := uint64(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		old, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		new, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		kc[k] = FieldChange{Old: old, New: new}
	}
	return kc, nil
}

// LogicalChanges bundles every field-level mutation a Physical Action may
// carry, grouped by the FileStore table it targets.
type LogicalChanges struct {
	Branches KeyedChanges
	Names    KeyedChanges
	Sessions KeyedChanges
	Settings KeyedChanges
	States   KeyedChanges
}

func newLogicalChanges() LogicalChanges {
	return LogicalChanges{
		Branches: KeyedChanges{},
		Names:    KeyedChanges{},
		Sessions: KeyedChanges{},
		Settings: KeyedChanges{},
		States:   KeyedChanges{},
	}
}

func (lc LogicalChanges) write(w *Writer) {
	writeKeyedChanges(w, lc.Branches)
	writeKeyedChanges(w, lc.Names)
	writeKeyedChanges(w, lc.Sessions)
	writeKeyedChanges(w, lc.Settings)
	writeKeyedChanges(w, lc.States)
}

func readLogicalChanges(r *Reader) (LogicalChanges, error) {
	lc := LogicalChanges{}
	var err error
	if lc.Branches, err = readKeyedChanges(r); err != nil {
		return lc, err
	}
	if lc.Names, err = readKeyedChanges(r); err != nil {
		return lc, err
	}
	if lc.Sessions, err = readKeyedChanges(r); err != nil {
		return lc, err
	}
	if lc.Settings, err = readKeyedChanges(r); err != nil {
		return lc, err
	}
	if lc.States, err = readKeyedChanges(r); err != nil {
		return lc, err
	}
	return lc, nil
}

// BlobAdds lists the new addresses a transaction promotes into the
// permanent commits/manifests/files stores.
type BlobAdds struct {
	Commits   []vexhash.Address
	Manifests []vexhash.Address
	Files     []vexhash.Address
}

func writeAddrList(w *Writer, addrs []vexhash.Address) {
	w.WriteUvarint(uint64(len(addrs)))
	for _, a := range addrs {
		w.WriteAddress(a)
	}
}

func readAddrList(r *Reader) ([]vexhash.Address, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	out := make([]vexhash.Address, 0, n)
	for i := uint64(0); i < n; i++ {
		a, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (b BlobAdds) write(w *Writer) {
	writeAddrList(w, b.Commits)
	writeAddrList(w, b.Manifests)
	writeAddrList(w, b.Files)
}

func readBlobAdds(r *Reader) (BlobAdds, error) {
	var b BlobAdds
	var err error
	if b.Commits, err = readAddrList(r); err != nil {
		return b, err
	}
	if b.Manifests, err = readAddrList(r); err != nil {
		return b, err
	}
	if b.Files, err = readAddrList(r); err != nil {
		return b, err
	}
	return b, nil
}

// WorkingChange records the old/new content address for a working-copy
// path overwritten by apply-physical-changes, guarded at apply time by
// an equality check against Old so a drifted user edit is never clobbered.
type WorkingChange struct {
	Path     string
	Old, New vexhash.Address
}

// Action is the closed sum of what one history-log entry can be.
type Action interface {
	isAction()
	// CommandName returns the user-facing verb that produced this Action,
	// for status/log rendering.
	CommandName() string
}

// PhysicalAction is produced by a SessionTransaction: it describes both
// blob additions and logical field changes.
type PhysicalAction struct {
	Time    int64
	Command string
	Changes LogicalChanges
	Blobs   BlobAdds
	Working []WorkingChange
}

func (PhysicalAction) isAction()          {}
func (p PhysicalAction) CommandName() string { return p.Command }

// SwitchAction is produced by a SwitchTransaction: it describes a
// prefix/session switch.
type SwitchAction struct {
	Time          int64
	Command       string
	Prefix        FieldChange
	Active        FieldChange
	SessionStates KeyedChanges
	BranchStates  KeyedChanges
	Names         KeyedChanges
	States        KeyedChanges
}

func (SwitchAction) isAction()          {}
func (s SwitchAction) CommandName() string { return s.Command }

func EncodeAction(a Action) ([]byte, error) {
	w := NewWriter()
	switch v := a.(type) {
	case PhysicalAction:
		w.WriteTag(TagPhysicalAction)
		w.WriteInt64(v.Time)
		w.WriteString(v.Command)
		v.Changes.write(w)
		v.Blobs.write(w)
		w.WriteUvarint(uint64(len(v.Working)))
		for _, wc := range v.Working {
			w.WriteString(wc.Path)
			w.WriteOptAddress(wc.Old)
			w.WriteOptAddress(wc.New)
		}
	case SwitchAction:
		w.WriteTag(TagSwitchAction)
		w.WriteInt64(v.Time)
		w.WriteString(v.Command)
		w.WriteBytes(v.Prefix.Old)
		w.WriteBytes(v.Prefix.New)
		w.WriteBytes(v.Active.Old)
		w.WriteBytes(v.Active.New)
		writeKeyedChanges(w, v.SessionStates)
		writeKeyedChanges(w, v.BranchStates)
		writeKeyedChanges(w, v.Names)
		writeKeyedChanges(w, v.States)
	default:
		return nil, fmt.Errorf("%w: unknown action variant %T", ErrCorruptRecord, a)
	}
	return w.Bytes(), nil
}

func DecodeAction(data []byte) (Action, error) {
	r := NewReader(data)
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagPhysicalAction:
		p := PhysicalAction{}
		if p.Time, err = r.ReadInt64(); err != nil {
			return nil, err
		}
		if p.Command, err = r.ReadString(); err != nil {
			return nil, err
		}
		if p.Changes, err = readLogicalChanges(r); err != nil {
			return nil, err
		}
		if p.Blobs, err = readBlobAdds(r); err != nil {
			return nil, err
		}
		n, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		p.Working = make([]WorkingChange, 0, n)
		for i := uint64(0); i < n; i++ {
			var wc WorkingChange
			if wc.Path, err = r.ReadString(); err != nil {
				return nil, err
			}
			if wc.Old, err = r.ReadOptAddress(); err != nil {
				return nil, err
			}
			if wc.New, err = r.ReadOptAddress(); err != nil {
				return nil, err
			}
			p.Working = append(p.Working, wc)
		}
		if r.Remaining() != 0 {
			return nil, fmt.Errorf("%w: trailing bytes after physical action", ErrCorruptRecord)
		}
		return p, nil
	case TagSwitchAction:
		s := SwitchAction{}
		if s.Time, err = r.ReadInt64(); err != nil {
			return nil, err
		}
		if s.Command, err = r.ReadString(); err != nil {
			return nil, err
		}
		if s.Prefix.Old, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if s.Prefix.New, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if s.Active.Old, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if s.Active.New, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if s.SessionStates, err = readKeyedChanges(r); err != nil {
			return nil, err
		}
		if s.BranchStates, err = readKeyedChanges(r); err != nil {
			return nil, err
		}
		if s.Names, err = readKeyedChanges(r); err != nil {
			return nil, err
		}
		if s.States, err = readKeyedChanges(r); err != nil {
			return nil, err
		}
		if r.Remaining() != 0 {
			return nil, fmt.Errorf("%w: trailing bytes after switch action", ErrCorruptRecord)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown action tag %d", ErrCorruptRecord, tag)
	}
}

// NewPhysicalAction allocates a PhysicalAction with initialised maps,
// ready for a SessionTransaction to stage changes into.
func NewPhysicalAction(command string, time int64) *PhysicalAction {
	return &PhysicalAction{
		Time:    time,
		Command: command,
		Changes: newLogicalChanges(),
	}
}
