// Package vexhash provides the content-addressing scheme used across the
// object store: a pluggable digest algorithm plus the "<prefix>:<hex>"
// address form described by the object model.
package vexhash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes. The default algorithm is a 20-byte
// extendable-output function (SHAKE128), matching the width of the legacy
// SHA-1 addresses the on-disk layout was designed around while avoiding a
// collision-prone fixed-output hash.
const Size = 20

// ErrUnsupportedAlgo is returned by Digest for an unknown algorithm name.
var ErrUnsupportedAlgo = errors.New("vexhash: unsupported algorithm")

// Algo is a digest algorithm identifier, analogous to crypto.Hash but for
// the small, explicit set vex supports.
type Algo string

// DefaultAlgo is used when a caller does not pin a specific algorithm.
const DefaultAlgo Algo = "shake128-20"

type digestFunc func([]byte) [Size]byte

var algos = map[Algo]digestFunc{}

func init() {
	reset()
}

// reset restores the builtin algorithm set, dropping anything added
// through RegisterAlgo. It is unexported and called only from init.
func reset() {
	algos = map[Algo]digestFunc{
		DefaultAlgo: shake128Sum,
	}
}

func shake128Sum(data []byte) [Size]byte {
	var out [Size]byte
	h := sha3.NewShake128()
	h.Write(data)
	h.Read(out[:])
	return out
}

// RegisterAlgo overrides or adds a digest algorithm. Used by alternate
// storage backends (see vexgit) that must address content the same way
// their upstream format does.
func RegisterAlgo(name Algo, fn func([]byte) [Size]byte) {
	algos[name] = fn
}

// Digest computes the raw digest of data under the given algorithm.
func Digest(algo Algo, data []byte) ([Size]byte, error) {
	fn, ok := algos[algo]
	if !ok {
		return [Size]byte{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgo, algo)
	}
	return fn(data), nil
}

// Address is a stable, opaque identifier for a blob's content: a
// namespace prefix plus the hex digest of its canonical serialisation (or
// raw bytes, for files). Equality of Address implies equality of content.
type Address string

// NewAddress builds an Address from a namespace prefix and raw content,
// using the default digest algorithm.
func NewAddress(prefix string, data []byte) (Address, error) {
	sum, err := Digest(DefaultAlgo, data)
	if err != nil {
		return "", err
	}
	return Address(prefix + ":" + hex.EncodeToString(sum[:])), nil
}

// Prefix returns the namespace portion of the address (everything before
// the first colon).
func (a Address) Prefix() string {
	s := string(a)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return ""
}

// Hex returns the hex-digest portion of the address.
func (a Address) Hex() string {
	s := string(a)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// FanOut splits the hex digest into the two path components used to lay
// blobs out under <root>/<first-two-hex-chars>/<rest>, bounding directory
// width the same way loose objects are sharded on disk.
func (a Address) FanOut() (dir, rest string, err error) {
	h := a.Hex()
	if len(h) < 3 {
		return "", "", fmt.Errorf("vexhash: address %q too short to fan out", a)
	}
	return h[:2], h[2:], nil
}

// Empty reports whether this is the zero Address.
func (a Address) Empty() bool { return a == "" }

func (a Address) String() string { return string(a) }
