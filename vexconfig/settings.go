// Package vexconfig parses the repository's settings/ and state/ tables:
// plain newline-delimited pattern lists for ignore/include, and a small
// gcfg-structured file for the authors table, following the teacher's
// own use of github.com/go-git/gcfg for .git/config (config.go's
// Unmarshal/Marshal pair).
package vexconfig

import (
	"bytes"
	"sort"
	"strings"

	"github.com/go-git/gcfg"

	"github.com/imbal/vex/vexfswalk"
)

// Globs loads and compiles the ignore/include settings into a
// vexfswalk.Globs ready for add/refresh to filter against.
func Globs(ignoreRaw, includeRaw []byte) (vexfswalk.Globs, error) {
	ignore, err := vexfswalk.ParsePatterns(splitLines(ignoreRaw))
	if err != nil {
		return vexfswalk.Globs{}, err
	}
	include, err := vexfswalk.ParsePatterns(splitLines(includeRaw))
	if err != nil {
		return vexfswalk.Globs{}, err
	}
	return vexfswalk.Globs{Include: include, Ignore: ignore}, nil
}

func splitLines(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	return strings.Split(string(raw), "\n")
}

// EncodeLines joins pattern lines back into the newline-delimited form
// settings/ignore and settings/include are stored as.
func EncodeLines(lines []string) []byte {
	return []byte(strings.Join(lines, "\n"))
}

// authorsFile is the gcfg shape of settings/authors: one [author "<uuid>"]
// section per known identity, the same section-per-entity layout
// config.go uses for [remote "origin"] and [branch "main"].
type authorsFile struct {
	Author map[string]*struct {
		Name  string
		Email string
	}
}

// Authors is an in-memory uuid -> (name, email) table.
type Authors struct {
	byUUID map[string]AuthorInfo
}

// AuthorInfo is one author identity.
type AuthorInfo struct {
	UUID  string
	Name  string
	Email string
}

// ParseAuthors decodes the settings/authors gcfg blob.
func ParseAuthors(raw []byte) (*Authors, error) {
	var f authorsFile
	if len(raw) > 0 {
		if err := gcfg.ReadStringInto(&f, string(raw)); err != nil {
			return nil, err
		}
	}
	a := &Authors{byUUID: map[string]AuthorInfo{}}
	for uuid, v := range f.Author {
		if v == nil {
			continue
		}
		a.byUUID[uuid] = AuthorInfo{UUID: uuid, Name: v.Name, Email: v.Email}
	}
	return a, nil
}

// Lookup returns the author info for uuid, if known.
func (a *Authors) Lookup(uuid string) (AuthorInfo, bool) {
	info, ok := a.byUUID[uuid]
	return info, ok
}

// Put records or replaces an author identity.
func (a *Authors) Put(info AuthorInfo) { a.byUUID[info.UUID] = info }

// Encode renders the authors table back to gcfg form, sections emitted
// in sorted uuid order for deterministic output.
func (a *Authors) Encode() []byte {
	uuids := make([]string, 0, len(a.byUUID))
	for u := range a.byUUID {
		uuids = append(uuids, u)
	}
	sort.Strings(uuids)

	var buf bytes.Buffer
	for _, u := range uuids {
		info := a.byUUID[u]
		buf.WriteString("[author \"")
		buf.WriteString(u)
		buf.WriteString("\"]\n")
		if info.Name != "" {
			buf.WriteString("\tname = ")
			buf.WriteString(info.Name)
			buf.WriteByte('\n')
		}
		if info.Email != "" {
			buf.WriteString("\temail = ")
			buf.WriteString(info.Email)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}
