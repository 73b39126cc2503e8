package vexstore

import (
	"path/filepath"

	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
)

// Namespaces used to address blobs in each of the four stores. Scratch
// blobs are written under the namespace of whichever store they will
// eventually be promoted to, so a scratch address and its promoted
// address are identical strings.
const (
	NSCommit   = "commit"
	NSManifest = "manifest"
	NSFile     = "file"
)

// Repo bundles the four content-addressed stores every transaction reads
// and writes through: the permanent commits/manifests/files stores and
// the scratch store transactions stage into before promotion.
type Repo struct {
	Commits   *BlobStore
	Manifests *BlobStore
	Files     *BlobStore
	Scratch   *BlobStore
}

// OpenRepo opens (creating if absent) the four object stores rooted at
// <configDir>/objects, matching the repository layout in §6.1.
func OpenRepo(configDir string) (*Repo, error) {
	objRoot := filepath.Join(configDir, "objects")
	commits, err := NewBlobStore(filepath.Join(objRoot, "commits"))
	if err != nil {
		return nil, err
	}
	manifests, err := NewBlobStore(filepath.Join(objRoot, "manifests"))
	if err != nil {
		return nil, err
	}
	files, err := NewBlobStore(filepath.Join(objRoot, "files"))
	if err != nil {
		return nil, err
	}
	scratch, err := NewBlobStore(filepath.Join(objRoot, "scratch"))
	if err != nil {
		return nil, err
	}
	return &Repo{Commits: commits, Manifests: manifests, Files: files, Scratch: scratch}, nil
}

// PutScratchCommit canonically encodes a Commit into the scratch store
// under the commits namespace.
func (r *Repo) PutScratchCommit(c Encoder) (vexhash.Address, error) {
	return r.Scratch.PutObj(NSCommit, c)
}

// PutScratchManifest canonically encodes a Root/Tree/Changeset into the
// scratch store under the manifests namespace.
func (r *Repo) PutScratchManifest(v Encoder) (vexhash.Address, error) {
	return r.Scratch.PutObj(NSManifest, v)
}

// PutScratchFile stores raw file bytes into the scratch store under the
// files namespace.
func (r *Repo) PutScratchFile(data []byte) (vexhash.Address, error) {
	return r.Scratch.PutBuf(NSFile, data)
}

// PutScratchFilePath streams a working-copy file into the scratch store
// under the files namespace.
func (r *Repo) PutScratchFilePath(path string) (vexhash.Address, error) {
	return r.Scratch.PutFile(NSFile, path)
}

// GetCommit reads and decodes a Commit from the permanent commits store.
func (r *Repo) GetCommit(addr vexhash.Address) (*vexmodel.Commit, error) {
	return GetObj(r.Commits, addr, vexmodel.DecodeCommit)
}

// GetRoot reads and decodes a Root from the permanent manifests store.
func (r *Repo) GetRoot(addr vexhash.Address) (*vexmodel.Root, error) {
	return GetObj(r.Manifests, addr, vexmodel.DecodeRoot)
}

// GetTree reads and decodes a Tree from the permanent manifests store.
func (r *Repo) GetTree(addr vexhash.Address) (*vexmodel.Tree, error) {
	return GetObj(r.Manifests, addr, vexmodel.DecodeTree)
}

// GetChangeset reads and decodes a Changeset from the permanent
// manifests store.
func (r *Repo) GetChangeset(addr vexhash.Address) (*vexmodel.Changeset, error) {
	return GetObj(r.Manifests, addr, vexmodel.DecodeChangeset)
}

// PromoteCommit copies a commit address from scratch into the permanent
// commits store (a no-op if already present there).
func (r *Repo) PromoteCommit(addr vexhash.Address) error {
	return r.Commits.CopyFrom(r.Scratch, addr)
}

// PromoteManifest copies a manifest address (Root/Tree/Changeset) from
// scratch into the permanent manifests store.
func (r *Repo) PromoteManifest(addr vexhash.Address) error {
	return r.Manifests.CopyFrom(r.Scratch, addr)
}

// PromoteFile copies a file address from scratch into the permanent
// files store.
func (r *Repo) PromoteFile(addr vexhash.Address) error {
	return r.Files.CopyFrom(r.Scratch, addr)
}
