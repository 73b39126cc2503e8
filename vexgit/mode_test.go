package vexgit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbal/vex/vexmodel"
)

func TestModeForEntry(t *testing.T) {
	require.Equal(t, ModeDir, ModeForEntry(vexmodel.DirEntry{}))
	require.Equal(t, ModeRegular, ModeForEntry(vexmodel.FileEntry{}))
	require.Equal(t, ModeExecutable, ModeForEntry(vexmodel.FileEntry{
		Properties: vexmodel.Properties{"executable": "true"},
	}))
	require.Equal(t, ModeExecutable, ModeForEntry(vexmodel.GitFileEntry{
		Properties: vexmodel.Properties{"executable": "true"},
	}))
}

func TestParseModeRoundTrip(t *testing.T) {
	for _, m := range []FileMode{ModeDir, ModeRegular, ModeExecutable, ModeSymlink, ModeSubmodule} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestParseModeInvalid(t *testing.T) {
	_, err := ParseMode("not-a-mode")
	require.Error(t, err)
}

func TestModePropertiesExecutable(t *testing.T) {
	require.Equal(t, vexmodel.Properties{"executable": "true"}, ModeExecutable.Properties())
	require.Nil(t, ModeRegular.Properties())
}
