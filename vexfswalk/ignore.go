// Package vexfswalk implements the ignore/include glob matching and
// recursive directory walk used by add/refresh/build_files.
//
// The matcher shape - a list of compiled patterns applied to a
// slash-separated path, anchored-vs-basename semantics - follows the
// teacher's plumbing/format/gitignore package, simplified to the one
// extension the data model actually specifies (§6.4): a leading "/"
// anchors a pattern to the repository root instead of matching any
// basename, and "**" is rejected outright rather than silently ignored.
package vexfswalk

import (
	"fmt"
	"path"
	"strings"

	"github.com/imbal/vex/vexerr"
)

// Pattern is one compiled ignore/include glob.
type Pattern struct {
	raw      string
	anchored bool
	glob     string
}

// ParsePattern compiles one line of an ignore/include list. A pattern
// beginning with "/" is anchored to the repository root; otherwise it is
// a basename glob matched against every path component's final segment.
func ParsePattern(s string) (Pattern, error) {
	if strings.Contains(s, "**") {
		return Pattern{}, fmt.Errorf("%w: \"**\" globs are not supported (pattern %q)", vexerr.ErrUnfinished, s)
	}
	if s == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", vexerr.ErrArgument)
	}
	if strings.HasPrefix(s, "/") {
		return Pattern{raw: s, anchored: true, glob: strings.TrimPrefix(s, "/")}, nil
	}
	return Pattern{raw: s, anchored: false, glob: s}, nil
}

// ParsePatterns compiles every non-empty, non-comment line of lines.
func ParsePatterns(lines []string) ([]Pattern, error) {
	var out []Pattern
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParsePattern(line)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether repoPath (slash-separated, relative to the
// repository root, no leading slash) matches this pattern.
func (p Pattern) Match(repoPath string) bool {
	if p.anchored {
		ok, _ := path.Match(p.glob, repoPath)
		return ok
	}
	base := repoPath
	if i := strings.LastIndexByte(repoPath, '/'); i >= 0 {
		base = repoPath[i+1:]
	}
	ok, _ := path.Match(p.glob, base)
	return ok
}

func (p Pattern) String() string { return p.raw }

// Globs bundles the ignore and include pattern lists that gate which
// paths add/refresh consider.
type Globs struct {
	Include []Pattern
	Ignore  []Pattern
}

// Ignored reports whether repoPath matches any ignore pattern.
func (g Globs) Ignored(repoPath string) bool {
	for _, p := range g.Ignore {
		if p.Match(repoPath) {
			return true
		}
	}
	return false
}

// Included reports whether repoPath should be considered at all: not
// ignored, and - when an include list is configured - matched by at
// least one include pattern.
func (g Globs) Included(repoPath string) bool {
	if g.Ignored(repoPath) {
		return false
	}
	if len(g.Include) == 0 {
		return true
	}
	for _, p := range g.Include {
		if p.Match(repoPath) {
			return true
		}
	}
	return false
}
