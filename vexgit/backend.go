// Package vexgit implements the git-compatible backend binding: an
// alternate storage binding that addresses and stores commits, trees
// and blobs the same way a real git repository does, by shelling out to
// git hash-object and git cat-file against a target .git directory.
//
// This is an interop seam, not a transport client: it lets one of
// Repo's four BlobStores be backed by an existing git object database
// instead of vex's own loose-object layout, so a tree already checked
// out under git can be addressed without copying its content anywhere.
// It adds no network code - fetch, push, and remote negotiation remain
// out of scope.
package vexgit

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"

	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexstore"
)

func init() {
	// git's own loose-object hash: plain SHA-1, no vex-style namespace
	// folded into the digest. Registered so HashObject can compute the
	// same address Backend.PutBuf's git hash-object call produces,
	// without needing a git binary on hand to do it.
	vexhash.RegisterAlgo("git-sha1", sha1.Sum)
}

// Backend binds one of Repo's four BlobStores to a real git object
// database instead of vex's own fan-out directory layout. It satisfies
// vexstore.Backend.
type Backend struct {
	// GitDir is the .git directory (or bare repository root) git
	// operates against.
	GitDir string
	// Git is the git binary to invoke; defaults to "git" on the PATH.
	Git string
}

var _ vexstore.Backend = (*Backend)(nil)

// New returns a Backend bound to the git object database at gitDir.
func New(gitDir string) *Backend {
	return &Backend{GitDir: gitDir}
}

func (b *Backend) git() string {
	if b.Git == "" {
		return "git"
	}
	return b.Git
}

func (b *Backend) run(stdin []byte, args ...string) ([]byte, error) {
	full := append([]string{"--git-dir", b.GitDir}, args...)
	cmd := exec.Command(b.git(), full...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("vexgit: %s %s: %w: %s", b.git(), strings.Join(args, " "), err, strings.TrimSpace(errOut.String()))
	}
	return out.Bytes(), nil
}

// gitTypeFor maps a Repo namespace onto the git object type it
// corresponds to: commits stay commits, manifests (Root/Tree/Changeset)
// become trees, files become blobs.
func gitTypeFor(ns string) (string, error) {
	switch ns {
	case vexstore.NSCommit:
		return "commit", nil
	case vexstore.NSManifest:
		return "tree", nil
	case vexstore.NSFile:
		return "blob", nil
	default:
		return "", fmt.Errorf("vexgit: no git object type for namespace %q", ns)
	}
}

// Exists reports whether addr's object is present in the git object
// database. A git cat-file failure for any reason (including a missing
// object) reports false rather than an error, matching BlobStore.Exists'
// "absent is not exceptional" contract.
func (b *Backend) Exists(addr vexhash.Address) (bool, error) {
	if _, err := b.run(nil, "cat-file", "-e", addr.Hex()); err != nil {
		return false, nil
	}
	return true, nil
}

// PutBuf writes data into the git object database as the object type
// ns maps to, returning the resulting address.
func (b *Backend) PutBuf(ns string, data []byte) (vexhash.Address, error) {
	gitType, err := gitTypeFor(ns)
	if err != nil {
		return "", err
	}
	out, err := b.run(data, "hash-object", "-w", "-t", gitType, "--stdin")
	if err != nil {
		return "", err
	}
	return vexhash.Address(ns + ":" + strings.TrimSpace(string(out))), nil
}

// GetBuf reads and returns addr's raw content from the git object
// database.
func (b *Backend) GetBuf(addr vexhash.Address) ([]byte, error) {
	return b.run(nil, "cat-file", "-p", addr.Hex())
}

// HashObject computes the address git hash-object would assign gitType
// content without shelling out or writing anything: sha1("<type>
// <len>\0" + data), the same header git's own object writer prepends.
// Used to verify a Backend-produced address, or to predict one before a
// git binary is available to compute it for real.
func HashObject(ns, gitType string, data []byte) (vexhash.Address, error) {
	header := fmt.Sprintf("%s %d\x00", gitType, len(data))
	sum, err := vexhash.Digest("git-sha1", append([]byte(header), data...))
	if err != nil {
		return "", err
	}
	return vexhash.Address(ns + ":" + hex.EncodeToString(sum[:])), nil
}
