package vexmodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbal/vex/vexhash"
)

func TestCommitRoundTrip(t *testing.T) {
	c := &Commit{
		Kind:      KindCommit,
		Timestamp: 1700000000,
		Previous:  vexhash.Address("commit:aa"),
		Ancestors: map[string]vexhash.Address{"prepared": vexhash.Address("commit:bb")},
		Root:      vexhash.Address("manifest:cc"),
		Changeset: vexhash.Address("manifest:dd"),
	}
	data, err := c.Encode()
	require.NoError(t, err)

	got, err := DecodeCommit(data)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestCommitInvariants(t *testing.T) {
	prepare := &Commit{Kind: KindPrepare, Root: vexhash.Address("manifest:x")}
	_, err := prepare.Encode()
	require.ErrorIs(t, err, ErrCorruptRecord)

	commit := &Commit{Kind: KindCommit}
	_, err = commit.Encode()
	require.ErrorIs(t, err, ErrCorruptRecord)

	initC := &Commit{Kind: KindInit, Previous: vexhash.Address("commit:x")}
	_, err = initC.Encode()
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRootDeterministicOrdering(t *testing.T) {
	r1 := &Root{
		Properties: Properties{"a": "1", "b": "2"},
		Entries: map[string]Entry{
			"zeta":  FileEntry{Addr: vexhash.Address("file:1"), Properties: Properties{}},
			"alpha": DirEntry{Addr: vexhash.Address("manifest:2"), Properties: Properties{}},
			"mid":   IgnoredEntry{},
		},
	}
	data1, err := r1.Encode()
	require.NoError(t, err)

	// Rebuild the same logical map via different insertion order; the
	// canonical encoding must be byte-identical (property 1: address
	// determinism depends on this).
	r2 := &Root{
		Properties: Properties{"b": "2", "a": "1"},
		Entries: map[string]Entry{
			"mid":   IgnoredEntry{},
			"alpha": DirEntry{Addr: vexhash.Address("manifest:2"), Properties: Properties{}},
			"zeta":  FileEntry{Addr: vexhash.Address("file:1"), Properties: Properties{}},
		},
	}
	data2, err := r2.Encode()
	require.NoError(t, err)

	require.Equal(t, data1, data2)

	got, err := DecodeRoot(data1)
	require.NoError(t, err)
	require.Equal(t, r1, got)
}

func TestChangesetRoundTrip(t *testing.T) {
	cs := NewChangeset("author-1", "a message")
	cs.Append("a/b.txt", AddFile{Addr: vexhash.Address("file:1"), Properties: Properties{"executable": "true"}})
	cs.Append("a", AddDir{Addr: vexhash.Address("manifest:1")})
	cs.Append("c.txt", DeleteFile{Old: vexhash.Address("file:2")})

	data, err := cs.Encode()
	require.NoError(t, err)

	got, err := DecodeChangeset(data)
	require.NoError(t, err)
	require.Equal(t, cs, got)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := DecodeCommit([]byte{0xFF})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	c := &Commit{Kind: KindInit}
	data, err := c.Encode()
	require.NoError(t, err)

	_, err = DecodeCommit(append(data, 0x00))
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestActionRoundTrip(t *testing.T) {
	p := PhysicalAction{
		Time:    42,
		Command: "commit",
		Changes: newLogicalChanges(),
		Blobs: BlobAdds{
			Commits:   []vexhash.Address{vexhash.Address("commit:1")},
			Manifests: []vexhash.Address{vexhash.Address("manifest:1")},
		},
		Working: []WorkingChange{
			{Path: "a.txt", Old: vexhash.Address("file:1"), New: vexhash.Address("file:2")},
		},
	}
	p.Changes.Branches["b1"] = FieldChange{Old: []byte("old"), New: []byte("new")}

	data, err := EncodeAction(p)
	require.NoError(t, err)

	got, err := DecodeAction(data)
	require.NoError(t, err)
	require.Equal(t, Action(p), got)
}
