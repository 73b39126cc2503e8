package vexmodel

import (
	"fmt"

	"github.com/imbal/vex/vexhash"
)

// Branch is a named, stateful pointer into the commit graph.
type Branch struct {
	UUID     string
	Name     string
	State    BranchState
	Prefix   string
	Head     vexhash.Address
	Base     vexhash.Address // fork point on upstream
	Init     vexhash.Address // first commit ever, for fork detection
	Upstream string          // upstream branch uuid, or ""
	Sessions []string        // session uuids
}

func (b *Branch) Encode() ([]byte, error) {
	w := NewWriter()
	w.WriteTag(TagBranch)
	w.WriteString(b.UUID)
	w.WriteString(b.Name)
	w.WriteString(string(b.State))
	w.WriteString(b.Prefix)
	w.WriteOptAddress(b.Head)
	w.WriteOptAddress(b.Base)
	w.WriteOptAddress(b.Init)
	w.WriteString(b.Upstream)
	w.WriteUvarint(uint64(len(b.Sessions)))
	for _, s := range b.Sessions {
		w.WriteString(s)
	}
	return w.Bytes(), nil
}

func DecodeBranch(data []byte) (*Branch, error) {
	r := NewReader(data)
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	if tag != TagBranch {
		return nil, fmt.Errorf("%w: expected branch tag, got %d", ErrCorruptRecord, tag)
	}
	b := &Branch{}
	if b.UUID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if b.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	state, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	b.State = BranchState(state)
	if b.Prefix, err = r.ReadString(); err != nil {
		return nil, err
	}
	if b.Head, err = r.ReadOptAddress(); err != nil {
		return nil, err
	}
	if b.Base, err = r.ReadOptAddress(); err != nil {
		return nil, err
	}
	if b.Init, err = r.ReadOptAddress(); err != nil {
		return nil, err
	}
	if b.Upstream, err = r.ReadString(); err != nil {
		return nil, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	b.Sessions = make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		b.Sessions = append(b.Sessions, s)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after branch", ErrCorruptRecord)
	}
	return b, nil
}
