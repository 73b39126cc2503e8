package vexgit

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
)

func TestHashObjectMatchesGitBlobHeader(t *testing.T) {
	data := []byte("hello world\n")
	addr, err := HashObject("file", "blob", data)
	require.NoError(t, err)
	require.Equal(t, "file", addr.Prefix())
	require.Len(t, addr.Hex(), 40)

	// the real git hash for a "hello world\n" blob is well known.
	require.Equal(t, "3b18e512dba79e4c8300dd08aeb37f8e728b8dad", addr.Hex())
}

func TestEncodeGitTreeSortsAndEmbedsHashes(t *testing.T) {
	blobAddr, err := HashObject("file", "blob", []byte("a"))
	require.NoError(t, err)
	dirAddr, err := HashObject("manifest", "tree", []byte{})
	require.NoError(t, err)

	entries := map[string]vexmodel.Entry{
		"zeta.txt": vexmodel.FileEntry{Addr: blobAddr},
		"alpha":    vexmodel.DirEntry{Addr: dirAddr},
		"empty":    vexmodel.IgnoredEntry{},
	}

	body, err := EncodeGitTree(entries)
	require.NoError(t, err)

	rawBlob, err := hex.DecodeString(blobAddr.Hex())
	require.NoError(t, err)
	rawDir, err := hex.DecodeString(dirAddr.Hex())
	require.NoError(t, err)

	var want []byte
	want = append(want, []byte(ModeDir.String()+" alpha")...)
	want = append(want, 0)
	want = append(want, rawDir...)
	want = append(want, []byte(ModeRegular.String()+" zeta.txt")...)
	want = append(want, 0)
	want = append(want, rawBlob...)

	require.Equal(t, want, body)
}

func TestEncodeGitTreeSkipsEmptyAddresses(t *testing.T) {
	body, err := EncodeGitTree(map[string]vexmodel.Entry{
		"placeholder": vexmodel.DirEntry{Addr: vexhash.Address("")},
	})
	require.NoError(t, err)
	require.Empty(t, body)
}
