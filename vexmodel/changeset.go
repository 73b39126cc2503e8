package vexmodel

import (
	"fmt"
	"sort"

	"github.com/imbal/vex/vexhash"
)

// Change is the closed sum of typed delta variants a Changeset may record
// for a path. isChange is unexported for the same exhaustiveness reason
// as Entry (see tree.go): every consumer - new_root_with_changeset,
// build_files, active_changeset - must switch over all nine variants.
type Change interface {
	isChange()
}

type AddFile struct {
	Addr       vexhash.Address
	Properties Properties
}

// NewFile replaces a directory with a file at the same path.
type NewFile struct {
	Addr       vexhash.Address
	Properties Properties
}

type ChangeFile struct {
	Old, New   vexhash.Address
	Properties Properties
}

type DeleteFile struct {
	Old vexhash.Address
}

type AddDir struct {
	Addr       vexhash.Address // may be null
	Properties Properties
}

// NewDir replaces a file with a directory at the same path.
type NewDir struct {
	Addr       vexhash.Address
	Properties Properties
}

type ChangeDir struct {
	Old, New   vexhash.Address
	Properties Properties
}

type DeleteDir struct {
	Old vexhash.Address
}

type IgnorePath struct{}

func (AddFile) isChange()    {}
func (NewFile) isChange()    {}
func (ChangeFile) isChange() {}
func (DeleteFile) isChange() {}
func (AddDir) isChange()     {}
func (NewDir) isChange()     {}
func (ChangeDir) isChange()  {}
func (DeleteDir) isChange()  {}
func (IgnorePath) isChange() {}

func encodeChange(w *Writer, c Change) error {
	switch v := c.(type) {
	case AddFile:
		w.WriteTag(tagChangeAddFile)
		w.WriteAddress(v.Addr)
		w.WriteStringMap(v.Properties)
	case NewFile:
		w.WriteTag(tagChangeNewFile)
		w.WriteAddress(v.Addr)
		w.WriteStringMap(v.Properties)
	case ChangeFile:
		w.WriteTag(tagChangeChangeFile)
		w.WriteAddress(v.Old)
		w.WriteAddress(v.New)
		w.WriteStringMap(v.Properties)
	case DeleteFile:
		w.WriteTag(tagChangeDeleteFile)
		w.WriteAddress(v.Old)
	case AddDir:
		w.WriteTag(tagChangeAddDir)
		w.WriteOptAddress(v.Addr)
		w.WriteStringMap(v.Properties)
	case NewDir:
		w.WriteTag(tagChangeNewDir)
		w.WriteOptAddress(v.Addr)
		w.WriteStringMap(v.Properties)
	case ChangeDir:
		w.WriteTag(tagChangeChangeDir)
		w.WriteOptAddress(v.Old)
		w.WriteOptAddress(v.New)
		w.WriteStringMap(v.Properties)
	case DeleteDir:
		w.WriteTag(tagChangeDeleteDir)
		w.WriteOptAddress(v.Old)
	case IgnorePath:
		w.WriteTag(tagChangeIgnorePath)
	default:
		return fmt.Errorf("%w: unknown change variant %T", ErrCorruptRecord, c)
	}
	return nil
}

func decodeChange(r *Reader) (Change, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagChangeAddFile:
		addr, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return AddFile{Addr: addr, Properties: props}, nil
	case tagChangeNewFile:
		addr, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return NewFile{Addr: addr, Properties: props}, nil
	case tagChangeChangeFile:
		oldA, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		newA, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return ChangeFile{Old: oldA, New: newA, Properties: props}, nil
	case tagChangeDeleteFile:
		old, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		return DeleteFile{Old: old}, nil
	case tagChangeAddDir:
		addr, err := r.ReadOptAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return AddDir{Addr: addr, Properties: props}, nil
	case tagChangeNewDir:
		addr, err := r.ReadOptAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return NewDir{Addr: addr, Properties: props}, nil
	case tagChangeChangeDir:
		oldA, err := r.ReadOptAddress()
		if err != nil {
			return nil, err
		}
		newA, err := r.ReadOptAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return ChangeDir{Old: oldA, New: newA, Properties: props}, nil
	case tagChangeDeleteDir:
		old, err := r.ReadOptAddress()
		if err != nil {
			return nil, err
		}
		return DeleteDir{Old: old}, nil
	case tagChangeIgnorePath:
		return IgnorePath{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown change tag %d", ErrCorruptRecord, tag)
	}
}

// Changeset is the delta stored with a commit: an ordered, path-keyed
// mapping to a non-empty list of Change variants, plus the author and
// message recorded against the commit.
type Changeset struct {
	Author  string
	Message string
	Paths   map[string][]Change
}

// NewChangeset builds an empty Changeset ready to accumulate paths.
func NewChangeset(author, message string) *Changeset {
	return &Changeset{Author: author, Message: message, Paths: map[string][]Change{}}
}

// Append records change c for path, preserving insertion order within
// the path's change list (later entries override earlier ones for the
// same path, per the prepared_changeset merge rule).
func (cs *Changeset) Append(path string, c Change) {
	cs.Paths[path] = append(cs.Paths[path], c)
}

// SortedPaths returns the changeset's paths in canonical (sorted) order.
func (cs *Changeset) SortedPaths() []string {
	paths := make([]string, 0, len(cs.Paths))
	for p := range cs.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Empty reports whether the changeset carries no path changes.
func (cs *Changeset) Empty() bool { return len(cs.Paths) == 0 }

func (cs *Changeset) Encode() ([]byte, error) {
	w := NewWriter()
	w.WriteTag(TagChangeset)
	w.WriteString(cs.Author)
	w.WriteString(cs.Message)
	paths := cs.SortedPaths()
	w.WriteUvarint(uint64(len(paths)))
	for _, p := range paths {
		w.WriteString(p)
		changes := cs.Paths[p]
		if len(changes) == 0 {
			return nil, fmt.Errorf("%w: path %q has an empty change list", ErrCorruptRecord, p)
		}
		w.WriteUvarint(uint64(len(changes)))
		for _, c := range changes {
			if err := encodeChange(w, c); err != nil {
				return nil, err
			}
		}
	}
	return w.Bytes(), nil
}

func DecodeChangeset(data []byte) (*Changeset, error) {
	r := NewReader(data)
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	if tag != TagChangeset {
		return nil, fmt.Errorf("%w: expected changeset tag, got %d", ErrCorruptRecord, tag)
	}
	author, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	message, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	cs := NewChangeset(author, message)
	prevPath := ""
	for i := uint64(0); i < n; i++ {
		path, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if i > 0 && path <= prevPath {
			return nil, fmt.Errorf("%w: changeset paths not in canonical sorted order", ErrCorruptRecord)
		}
		prevPath = path
		cn, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if cn == 0 {
			return nil, fmt.Errorf("%w: path %q has an empty change list", ErrCorruptRecord, path)
		}
		changes := make([]Change, 0, cn)
		for j := uint64(0); j < cn; j++ {
			c, err := decodeChange(r)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c)
		}
		cs.Paths[path] = changes
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after changeset", ErrCorruptRecord)
	}
	return cs, nil
}
