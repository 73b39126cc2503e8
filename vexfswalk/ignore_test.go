package vexfswalk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbal/vex/vexerr"
)

func TestParsePatternRejectsDoubleStar(t *testing.T) {
	_, err := ParsePattern("**/build")
	require.ErrorIs(t, err, vexerr.ErrUnfinished)
}

func TestAnchoredVsBasenameMatch(t *testing.T) {
	anchored, err := ParsePattern("/build")
	require.NoError(t, err)
	require.True(t, anchored.Match("build"))
	require.False(t, anchored.Match("sub/build"))

	basename, err := ParsePattern("*.pyc")
	require.NoError(t, err)
	require.True(t, basename.Match("a.pyc"))
	require.True(t, basename.Match("sub/dir/a.pyc"))
	require.False(t, basename.Match("a.py"))
}

func TestGlobsIncludedRespectsIgnoreOverInclude(t *testing.T) {
	ignore, err := ParsePatterns([]string{"*.log"})
	require.NoError(t, err)
	include, err := ParsePatterns([]string{"/src/*"})
	require.NoError(t, err)
	g := Globs{Include: include, Ignore: ignore}

	require.True(t, g.Included("src/main.go"))
	require.False(t, g.Included("src/debug.log"), "ignore must win even inside an included prefix")
	require.False(t, g.Included("other/file.go"), "non-matching path is excluded once an include list exists")
}
