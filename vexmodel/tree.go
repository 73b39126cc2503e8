package vexmodel

import (
	"fmt"
	"sort"

	"github.com/imbal/vex/vexhash"
)

// Properties carries small string-keyed metadata on a Root/Tree entry -
// e.g. "executable": "true". Represented as a plain map rather than a
// struct because the set of recognised keys can grow (git-backend
// interop adds its own) without changing the wire format.
type Properties map[string]string

// Executable reports the conventional "executable" property, mapped to
// the file's execute bits on materialisation (§4.5 Restore) and to git
// mode 100755 by the git-backend binding (§6.2).
func (p Properties) Executable() bool { return p["executable"] == "true" }

// Entry is the closed sum of what a directory-manifest entry can be.
// isEntry is unexported so the set of variants is closed: no package
// outside vexmodel can add a fifth case. The Go compiler does not check
// type switches for exhaustiveness, so a switch over Entry that omits a
// variant still compiles; such a case falls through to its default
// branch, if any.
type Entry interface {
	isEntry()
}

// FileEntry is a regular tracked file.
type FileEntry struct {
	Addr       vexhash.Address
	Properties Properties
}

// DirEntry is a subdirectory; Addr is null for an empty/uninitialised
// directory placeholder.
type DirEntry struct {
	Addr       vexhash.Address
	Properties Properties
}

// IgnoredEntry marks a path the manifest deliberately excludes.
type IgnoredEntry struct{}

// GitFileEntry is a file materialised through the git-compatible backend
// binding (§6.2), kept distinct from FileEntry so the git-interop mode
// mapping only ever applies to paths that opted into it.
type GitFileEntry struct {
	Addr       vexhash.Address
	Properties Properties
}

func (FileEntry) isEntry()    {}
func (DirEntry) isEntry()     {}
func (IgnoredEntry) isEntry() {}
func (GitFileEntry) isEntry() {}

func encodeEntry(w *Writer, e Entry) error {
	switch v := e.(type) {
	case FileEntry:
		w.WriteTag(tagEntryFile)
		w.WriteAddress(v.Addr)
		w.WriteStringMap(v.Properties)
	case DirEntry:
		w.WriteTag(tagEntryDir)
		w.WriteOptAddress(v.Addr)
		w.WriteStringMap(v.Properties)
	case IgnoredEntry:
		w.WriteTag(tagEntryIgnored)
	case GitFileEntry:
		w.WriteTag(tagEntryGitFile)
		w.WriteAddress(v.Addr)
		w.WriteStringMap(v.Properties)
	default:
		return fmt.Errorf("%w: unknown entry variant %T", ErrCorruptRecord, e)
	}
	return nil
}

func decodeEntry(r *Reader) (Entry, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagEntryFile:
		addr, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return FileEntry{Addr: addr, Properties: props}, nil
	case tagEntryDir:
		addr, err := r.ReadOptAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return DirEntry{Addr: addr, Properties: props}, nil
	case tagEntryIgnored:
		return IgnoredEntry{}, nil
	case tagEntryGitFile:
		addr, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadStringMap()
		if err != nil {
			return nil, err
		}
		return GitFileEntry{Addr: addr, Properties: props}, nil
	default:
		return nil, fmt.Errorf("%w: unknown entry tag %d", ErrCorruptRecord, tag)
	}
}

func entryNames(entries map[string]Entry) []string {
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func encodeEntries(w *Writer, entries map[string]Entry) error {
	names := entryNames(entries)
	w.WriteUvarint(uint64(len(names)))
	for _, n := range names {
		w.WriteString(n)
		if err := encodeEntry(w, entries[n]); err != nil {
			return err
		}
	}
	return nil
}

func decodeEntries(r *Reader) (map[string]Entry, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, n)
	prevName := ""
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if i > 0 && name <= prevName {
			return nil, fmt.Errorf("%w: entries not in canonical sorted order", ErrCorruptRecord)
		}
		prevName = name
		e, err := decodeEntry(r)
		if err != nil {
			return nil, err
		}
		entries[name] = e
	}
	return entries, nil
}

// Tree is a non-root directory manifest.
type Tree struct {
	Entries map[string]Entry
}

func (t *Tree) Encode() ([]byte, error) {
	w := NewWriter()
	w.WriteTag(TagTree)
	if err := encodeEntries(w, t.Entries); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeTree(data []byte) (*Tree, error) {
	r := NewReader(data)
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	if tag != TagTree {
		return nil, fmt.Errorf("%w: expected tree tag, got %d", ErrCorruptRecord, tag)
	}
	entries, err := decodeEntries(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after tree", ErrCorruptRecord)
	}
	return &Tree{Entries: entries}, nil
}

// Root is the top-level directory manifest: a Tree plus its own
// properties (settings directory markers, repository-wide metadata).
type Root struct {
	Properties Properties
	Entries    map[string]Entry
}

func (r *Root) Encode() ([]byte, error) {
	w := NewWriter()
	w.WriteTag(TagRoot)
	w.WriteStringMap(r.Properties)
	if err := encodeEntries(w, r.Entries); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeRoot(data []byte) (*Root, error) {
	rd := NewReader(data)
	tag, err := rd.ReadTag()
	if err != nil {
		return nil, err
	}
	if tag != TagRoot {
		return nil, fmt.Errorf("%w: expected root tag, got %d", ErrCorruptRecord, tag)
	}
	props, err := rd.ReadStringMap()
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(rd)
	if err != nil {
		return nil, err
	}
	if rd.Remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after root", ErrCorruptRecord)
	}
	return &Root{Properties: props, Entries: entries}, nil
}
