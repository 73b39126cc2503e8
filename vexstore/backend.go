package vexstore

import "github.com/imbal/vex/vexhash"

// Backend is the subset of BlobStore's method set an alternate object
// store can implement to stand in for one of Repo's four stores. The
// default binding is BlobStore itself (the loose-object layout on
// <root>/<fanout>); vexgit implements Backend against a real git
// repository's own object database instead, so git-tracked content can
// be addressed without copying it into vex's own store.
type Backend interface {
	Exists(addr vexhash.Address) (bool, error)
	PutBuf(ns string, data []byte) (vexhash.Address, error)
	GetBuf(addr vexhash.Address) ([]byte, error)
}

var _ Backend = (*BlobStore)(nil)
