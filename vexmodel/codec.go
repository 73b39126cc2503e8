// Package vexmodel defines the entities of the object model (Commit,
// Root/Tree, Changeset, Branch, Session, Tracked, Action) and their
// canonical, deterministic serialisation.
//
// The wire format is a small hand-rolled binary encoding, modelled on how
// the teacher's plumbing/format/packfile encodes git trees: a one-byte
// tag identifies the variant, fields are written in a fixed order, and
// unordered collections (maps) are always emitted in sorted-key order so
// that identical logical values produce byte-identical output regardless
// of Go map iteration order.
package vexmodel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/imbal/vex/vexhash"
)

// Writer accumulates a canonical encoding. Every Write* method is
// infallible and returns no error; validation of the values written (for
// example Commit.Validate) happens in the callers before encoding.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteTag(t Tag) { w.buf.WriteByte(byte(t)) }

func (w *Writer) WriteUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf.Write(tmp[:n])
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUvarint(uint64(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

func (w *Writer) WriteAddress(a vexhash.Address) { w.WriteString(string(a)) }

// WriteOptAddress writes a presence flag followed by the address, for
// fields that may legitimately be null (e.g. Commit.Previous, Root on a
// prepare commit).
func (w *Writer) WriteOptAddress(a vexhash.Address) {
	if a.Empty() {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteAddress(a)
}

// WriteStringMap emits a string-keyed map of strings in sorted-key order.
func (w *Writer) WriteStringMap(m map[string]string) {
	keys := sortedKeys(m)
	w.WriteUvarint(uint64(len(keys)))
	for _, k := range keys {
		w.WriteString(k)
		w.WriteString(m[k])
	}
}

// WriteAddressMap emits a string-keyed map of addresses in sorted-key order.
func (w *Writer) WriteAddressMap(m map[string]vexhash.Address) {
	keys := sortedKeysAddr(m)
	w.WriteUvarint(uint64(len(keys)))
	for _, k := range keys {
		w.WriteString(k)
		w.WriteAddress(m[k])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysAddr(m map[string]vexhash.Address) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reader decodes a canonical encoding, failing closed on any malformed or
// unrecognised input: every Read* method returns ErrCorruptRecord-wrapping
// errors rather than silently defaulting.
type Reader struct {
	r *bytes.Reader
}

func NewReader(data []byte) *Reader { return &Reader{r: bytes.NewReader(data)} }

func (r *Reader) ReadTag() (Tag, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: reading tag: %v", ErrCorruptRecord, err)
	}
	return Tag(b), nil
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, fmt.Errorf("%w: reading varint: %v", ErrCorruptRecord, err)
	}
	return v, nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUvarint()
	return int64(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("%w: reading bool: %v", ErrCorruptRecord, err)
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bad bool byte %d", ErrCorruptRecord, b)
	}
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.r.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds remaining input", ErrCorruptRecord, n)
	}
	buf := make([]byte, n)
	if _, err := r.r.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: reading bytes: %v", ErrCorruptRecord, err)
	}
	return buf, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

func (r *Reader) ReadAddress() (vexhash.Address, error) {
	s, err := r.ReadString()
	return vexhash.Address(s), err
}

func (r *Reader) ReadOptAddress() (vexhash.Address, error) {
	ok, err := r.ReadBool()
	if err != nil || !ok {
		return "", err
	}
	return r.ReadAddress()
}

func (r *Reader) ReadStringMap() (map[string]string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (r *Reader) ReadAddressMap() (map[string]vexhash.Address, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]vexhash.Address, n)
	for i := uint64(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadAddress()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// Remaining reports whether unconsumed bytes remain, used by every
// Decode function to reject trailing garbage.
func (r *Reader) Remaining() int { return r.r.Len() }
