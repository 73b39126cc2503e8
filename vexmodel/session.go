package vexmodel

import (
	"fmt"
	"sort"

	"github.com/imbal/vex/vexhash"
)

// Tracked is the per-path record a Session keeps to know what should be
// on disk and what state it is currently in. stash is an optional field
// rather than a TrackedKind variant (per the spec's Open Question
// resolution): it is only ever populated for a path suspended mid-switch,
// regardless of kind.
type Tracked struct {
	Kind       TrackedKind
	State      TrackedState
	Working    bool // is this path materialised under the current prefix
	Addr       vexhash.Address
	Stash      vexhash.Address // scratch address holding uncommitted content, if any
	Size       int64
	Mode       uint32
	Mtime      int64 // unix nanoseconds
	Properties Properties
	Replace    TrackedKind // original kind, when a dir/file replacement is pending; "" if none
}

func (t Tracked) Encode(w *Writer) {
	w.WriteString(string(t.Kind))
	w.WriteString(string(t.State))
	w.WriteBool(t.Working)
	w.WriteOptAddress(t.Addr)
	w.WriteOptAddress(t.Stash)
	w.WriteInt64(t.Size)
	w.WriteUvarint(uint64(t.Mode))
	w.WriteInt64(t.Mtime)
	w.WriteStringMap(t.Properties)
	w.WriteString(string(t.Replace))
}

func decodeTracked(r *Reader) (Tracked, error) {
	var t Tracked
	kind, err := r.ReadString()
	if err != nil {
		return t, err
	}
	t.Kind = TrackedKind(kind)
	state, err := r.ReadString()
	if err != nil {
		return t, err
	}
	t.State = TrackedState(state)
	if t.Working, err = r.ReadBool(); err != nil {
		return t, err
	}
	if t.Addr, err = r.ReadOptAddress(); err != nil {
		return t, err
	}
	if t.Stash, err = r.ReadOptAddress(); err != nil {
		return t, err
	}
	if t.Size, err = r.ReadInt64(); err != nil {
		return t, err
	}
	mode, err := r.ReadUvarint()
	if err != nil {
		return t, err
	}
	t.Mode = uint32(mode)
	if t.Mtime, err = r.ReadInt64(); err != nil {
		return t, err
	}
	if t.Properties, err = r.ReadStringMap(); err != nil {
		return t, err
	}
	replace, err := r.ReadString()
	if err != nil {
		return t, err
	}
	t.Replace = TrackedKind(replace)
	return t, nil
}

// Session is a working-copy view onto a branch: it owns the tracked-file
// table and the prepare pointer.
type Session struct {
	UUID    string
	Branch  string
	State   SessionState
	Prefix  string
	Prepare vexhash.Address // top of prepare chain, initially == Commit
	Commit  vexhash.Address // last non-prepare ancestor
	Files   map[string]Tracked
	Message string
	Activity int64
}

func (s *Session) Encode() ([]byte, error) {
	w := NewWriter()
	w.WriteTag(TagSession)
	w.WriteString(s.UUID)
	w.WriteString(s.Branch)
	w.WriteString(string(s.State))
	w.WriteString(s.Prefix)
	w.WriteOptAddress(s.Prepare)
	w.WriteOptAddress(s.Commit)
	names := make([]string, 0, len(s.Files))
	for n := range s.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	w.WriteUvarint(uint64(len(names)))
	for _, n := range names {
		w.WriteString(n)
		s.Files[n].Encode(w)
	}
	w.WriteString(s.Message)
	w.WriteInt64(s.Activity)
	return w.Bytes(), nil
}

func DecodeSession(data []byte) (*Session, error) {
	r := NewReader(data)
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	if tag != TagSession {
		return nil, fmt.Errorf("%w: expected session tag, got %d", ErrCorruptRecord, tag)
	}
	s := &Session{}
	if s.UUID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if s.Branch, err = r.ReadString(); err != nil {
		return nil, err
	}
	state, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	s.State = SessionState(state)
	if s.Prefix, err = r.ReadString(); err != nil {
		return nil, err
	}
	if s.Prepare, err = r.ReadOptAddress(); err != nil {
		return nil, err
	}
	if s.Commit, err = r.ReadOptAddress(); err != nil {
		return nil, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	s.Files = make(map[string]Tracked, n)
	prevName := ""
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if i > 0 && name <= prevName {
			return nil, fmt.Errorf("%w: session files not in canonical sorted order", ErrCorruptRecord)
		}
		prevName = name
		t, err := decodeTracked(r)
		if err != nil {
			return nil, err
		}
		s.Files[name] = t
	}
	if s.Message, err = r.ReadString(); err != nil {
		return nil, err
	}
	if s.Activity, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after session", ErrCorruptRecord)
	}
	return s, nil
}
