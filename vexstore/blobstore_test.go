package vexstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutGetIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBlobStore(dir)
	require.NoError(t, err)

	addr1, err := s.PutBuf("file", []byte("hello\n"))
	require.NoError(t, err)

	addr2, err := s.PutBuf("file", []byte("hello\n"))
	require.NoError(t, err)
	require.Equal(t, addr1, addr2, "identical content must produce identical addresses")

	ok, err := s.Exists(addr1)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := s.GetBuf(addr1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello\n"), data)
}

func TestBlobStoreCopyFromIsIdempotent(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, err := NewBlobStore(srcDir)
	require.NoError(t, err)
	dst, err := NewBlobStore(dstDir)
	require.NoError(t, err)

	addr, err := src.PutBuf("file", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, dst.CopyFrom(src, addr))
	require.NoError(t, dst.CopyFrom(src, addr)) // second copy is a no-op

	data, err := dst.GetBuf(addr)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestFileStorePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Put("active", []byte("session-1")))
	data, err := fs.Get("active")
	require.NoError(t, err)
	require.Equal(t, []byte("session-1"), data)

	keys, err := fs.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"active"}, keys)

	require.NoError(t, fs.Delete("active"))
	ok, err := fs.Has("active")
	require.NoError(t, err)
	require.False(t, ok)
}
