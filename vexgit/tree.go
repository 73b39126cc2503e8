package vexgit

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexstore"
)

// EncodeGitTree builds the canonical git tree object body for entries:
// one "<mode> <name>\0<20-byte-hash>" line per entry, sorted by name.
// Every entry's address must already be a real git object hash (written
// through a Backend, or predicted with HashObject) - EncodeGitTree does
// not reinterpret vex's own namespaced address form, only its hex digest.
func EncodeGitTree(entries map[string]vexmodel.Entry) ([]byte, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		addr, ok := entryAddr(entries[name])
		if !ok {
			continue
		}
		raw, err := hex.DecodeString(addr.Hex())
		if err != nil {
			return nil, fmt.Errorf("vexgit: address %q for %q is not a git hash: %w", addr, name, err)
		}
		fmt.Fprintf(&buf, "%s %s", ModeForEntry(entries[name]), name)
		buf.WriteByte(0)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func entryAddr(e vexmodel.Entry) (vexhash.Address, bool) {
	switch v := e.(type) {
	case vexmodel.DirEntry:
		return v.Addr, !v.Addr.Empty()
	case vexmodel.FileEntry:
		return v.Addr, !v.Addr.Empty()
	case vexmodel.GitFileEntry:
		return v.Addr, !v.Addr.Empty()
	default:
		return "", false
	}
}

// WriteBlob writes data into b's git object database as a blob.
func WriteBlob(b *Backend, data []byte) (vexhash.Address, error) {
	return b.PutBuf(vexstore.NSFile, data)
}

// WriteTree encodes entries as a git tree object and writes it into b's
// git object database, returning the resulting tree's address. Callers
// must write every entry's own content first (WriteTree does not
// recurse) so EncodeGitTree can embed real git hashes.
func WriteTree(b *Backend, entries map[string]vexmodel.Entry) (vexhash.Address, error) {
	body, err := EncodeGitTree(entries)
	if err != nil {
		return "", err
	}
	return b.PutBuf(vexstore.NSManifest, body)
}
