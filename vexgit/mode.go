package vexgit

import (
	"fmt"
	"strconv"

	"github.com/imbal/vex/vexmodel"
)

// FileMode is a git tree entry mode, the octal value that precedes each
// entry's name in a tree object. Values are the ones git itself assigns:
// ordinary loose-object trees never produce anything outside this set.
type FileMode uint32

const (
	ModeEmpty      FileMode = 0
	ModeDir        FileMode = 0o040000
	ModeRegular    FileMode = 0o100644
	ModeDeprecated FileMode = 0o100664
	ModeExecutable FileMode = 0o100755
	ModeSymlink    FileMode = 0o120000
	ModeSubmodule  FileMode = 0o160000
)

func (m FileMode) String() string { return fmt.Sprintf("%o", uint32(m)) }

// ModeForEntry maps a manifest entry onto the tree mode git would assign
// it: directories to ModeDir, the "executable" property to ModeExecutable,
// everything else to ModeRegular. Symlinks and submodules have no vex
// entry kind to map from, so they never appear here.
func ModeForEntry(e vexmodel.Entry) FileMode {
	switch v := e.(type) {
	case vexmodel.DirEntry:
		return ModeDir
	case vexmodel.FileEntry:
		return modeForProps(v.Properties)
	case vexmodel.GitFileEntry:
		return modeForProps(v.Properties)
	default:
		return ModeRegular
	}
}

func modeForProps(props vexmodel.Properties) FileMode {
	if props.Executable() {
		return ModeExecutable
	}
	return ModeRegular
}

// ParseMode parses one of the octal mode strings git emits (e.g. from
// "git ls-tree" or a tree object body) back into a FileMode.
func ParseMode(s string) (FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("vexgit: invalid mode %q: %w", s, err)
	}
	return FileMode(n), nil
}

// Properties returns the Properties a FileEntry/GitFileEntry materialised
// from this mode should carry - ModeForEntry's inverse for the one bit
// vex's own model tracks.
func (m FileMode) Properties() vexmodel.Properties {
	if m == ModeExecutable {
		return vexmodel.Properties{"executable": "true"}
	}
	return nil
}
