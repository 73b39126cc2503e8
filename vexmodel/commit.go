package vexmodel

import (
	"fmt"

	"github.com/imbal/vex/vexhash"
)

// Commit is a node in the history DAG. Every prepare/commit/amend forms a
// chain above the last real commit; prepare nodes carry no root and are
// never exposed as a branch head.
type Commit struct {
	Kind      CommitKind
	Timestamp int64
	Previous  vexhash.Address            // null only for Kind == init
	Ancestors map[string]vexhash.Address // e.g. {"prepared": ..., "applied": ...}
	Root      vexhash.Address            // null iff Kind == prepare
	Changeset vexhash.Address            // manifest holding this commit's delta
}

// Validate enforces the Commit invariants from the data model: every
// commit/amend has a non-null root; prepare nodes have a null root; init
// has a null previous.
func (c *Commit) Validate() error {
	switch c.Kind {
	case KindInit:
		if !c.Previous.Empty() {
			return fmt.Errorf("%w: init commit must have no previous", ErrCorruptRecord)
		}
	case KindPrepare:
		if !c.Root.Empty() {
			return fmt.Errorf("%w: prepare commit must have no root", ErrCorruptRecord)
		}
	case KindCommit, KindAmend:
		if c.Root.Empty() {
			return fmt.Errorf("%w: %s commit must have a root", ErrCorruptRecord, c.Kind)
		}
	}
	return nil
}

func (c *Commit) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := NewWriter()
	w.WriteTag(TagCommit)
	w.WriteString(string(c.Kind))
	w.WriteInt64(c.Timestamp)
	w.WriteOptAddress(c.Previous)
	w.WriteAddressMap(c.Ancestors)
	w.WriteOptAddress(c.Root)
	w.WriteOptAddress(c.Changeset)
	return w.Bytes(), nil
}

func DecodeCommit(data []byte) (*Commit, error) {
	r := NewReader(data)
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	if tag != TagCommit {
		return nil, fmt.Errorf("%w: expected commit tag, got %d", ErrCorruptRecord, tag)
	}
	kind, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	ts, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	prev, err := r.ReadOptAddress()
	if err != nil {
		return nil, err
	}
	ancestors, err := r.ReadAddressMap()
	if err != nil {
		return nil, err
	}
	root, err := r.ReadOptAddress()
	if err != nil {
		return nil, err
	}
	changeset, err := r.ReadOptAddress()
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after commit", ErrCorruptRecord)
	}
	c := &Commit{
		Kind:      CommitKind(kind),
		Timestamp: ts,
		Previous:  prev,
		Ancestors: ancestors,
		Root:      root,
		Changeset: changeset,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
