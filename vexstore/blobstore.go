// Package vexstore implements the content-addressed and name-keyed
// persistence layers: BlobStore, FileStore, and the Repo that bundles
// four BlobStores (commits, manifests, files, scratch) together.
//
// Layout and idempotent-write semantics are modelled directly on the
// teacher's loose-object store (storage/filesystem/object.go and
// storage/filesystem/internal/dotgit/dotgit.go): blobs live under
// <root>/<first-two-hex-chars>/<rest> to bound directory width, and a
// duplicate write of content that already exists on disk is a silent
// success rather than an error - the same idempotent-promotion property
// git's own loose-object writer relies on.
package vexstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/imbal/vex/vexhash"
)

// Encoder is implemented by every vexmodel entity (*Commit, *Root, *Tree,
// *Changeset, *Branch, *Session) that PutObj can store.
type Encoder interface {
	Encode() ([]byte, error)
}

// BlobStore is a content-addressed immutable store over a directory
// tree. Every Put call takes an explicit namespace that becomes the
// address prefix (§3.1) - the scratch store in particular must be able
// to stage blobs under the "commit"/"manifest"/"file" namespace of
// whichever permanent store they will later be promoted to, so the
// namespace cannot be fixed at store-construction time.
type BlobStore struct {
	root  string
	cache *Cache
}

// NewBlobStore opens (creating if absent) a BlobStore rooted at dir.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vexstore: creating blob store at %s: %w", dir, err)
	}
	return &BlobStore{root: dir, cache: NewCache(DefaultCacheSize)}, nil
}

// WithCache replaces this store's object cache, e.g. with a larger or
// disabled (nil-maxBytes) one.
func (s *BlobStore) WithCache(c *Cache) *BlobStore {
	s.cache = c
	return s
}

func (s *BlobStore) pathFor(addr vexhash.Address) (string, error) {
	dir, rest, err := addr.FanOut()
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, dir, rest), nil
}

// Exists reports whether addr is already stored.
func (s *BlobStore) Exists(addr vexhash.Address) (bool, error) {
	path, err := s.pathFor(addr)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// PutBuf stores raw bytes under namespace ns and returns the resulting
// address. A write of content that is already present is a silent
// success (idempotent promotion).
func (s *BlobStore) PutBuf(ns string, data []byte) (vexhash.Address, error) {
	addr, err := vexhash.NewAddress(ns, data)
	if err != nil {
		return "", err
	}
	if ok, err := s.Exists(addr); err != nil {
		return "", err
	} else if ok {
		return addr, nil
	}
	return addr, s.writeAt(addr, data)
}

// PutObj canonically encodes value and stores it under namespace ns,
// returning its address.
func (s *BlobStore) PutObj(ns string, value Encoder) (vexhash.Address, error) {
	data, err := value.Encode()
	if err != nil {
		return "", err
	}
	return s.PutBuf(ns, data)
}

// PutFile streams the file at path into the store under namespace ns and
// returns its address.
func (s *BlobStore) PutFile(ns, path string) (vexhash.Address, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("vexstore: reading %s: %w", path, err)
	}
	return s.PutBuf(ns, data)
}

func (s *BlobStore) writeAt(addr vexhash.Address, data []byte) error {
	path, err := s.pathFor(addr)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		// Another writer may have raced us to the same content; since
		// content is addressed by its own hash, a rename failure because
		// the destination now exists is not an error.
		if ok, existsErr := s.Exists(addr); existsErr == nil && ok {
			os.Remove(tmpName)
			return nil
		}
		os.Remove(tmpName)
		return err
	}
	if s.cache != nil {
		s.cache.Add(addr, data)
	}
	return nil
}

// GetFile opens a reader over the stored content.
func (s *BlobStore) GetFile(addr vexhash.Address) (io.ReadCloser, error) {
	path, err := s.pathFor(addr)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vexstore: reading blob %s: %w", addr, err)
	}
	return f, nil
}

// GetBuf reads the entire stored content into memory, serving from the
// object cache when possible.
func (s *BlobStore) GetBuf(addr vexhash.Address) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(addr); ok {
			return data, nil
		}
	}
	path, err := s.pathFor(addr)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vexstore: reading blob %s: %w", addr, err)
	}
	if s.cache != nil {
		s.cache.Add(addr, data)
	}
	return data, nil
}

// GetObj decodes the stored content with decode.
func GetObj[T any](s *BlobStore, addr vexhash.Address, decode func([]byte) (T, error)) (T, error) {
	var zero T
	data, err := s.GetBuf(addr)
	if err != nil {
		return zero, err
	}
	v, err := decode(data)
	if err != nil {
		return zero, fmt.Errorf("vexstore: decoding blob %s: %w", addr, err)
	}
	return v, nil
}

// CopyFrom copies addr from another BlobStore into this one. A no-op
// when the destination already has addr (idempotent promotion).
func (s *BlobStore) CopyFrom(other *BlobStore, addr vexhash.Address) error {
	if ok, err := s.Exists(addr); err != nil {
		return err
	} else if ok {
		return nil
	}
	data, err := other.GetBuf(addr)
	if err != nil {
		return err
	}
	return s.writeAt(addr, data)
}

// MoveFrom copies addr from another BlobStore and then removes it there.
// Used to promote scratch blobs without leaving the scratch copy behind.
func (s *BlobStore) MoveFrom(other *BlobStore, addr vexhash.Address) error {
	if err := s.CopyFrom(other, addr); err != nil {
		return err
	}
	path, err := other.pathFor(addr)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("addr", string(addr)).Err(err).Msg("vexstore: failed to remove promoted scratch blob")
	}
	return nil
}
