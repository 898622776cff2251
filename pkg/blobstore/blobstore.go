// Package blobstore implements the registry's content-addressed tarball
// storage (spec §4.1): local blobs under one root, mirrored upstream
// blobs under a distinct root, both keyed by (name, vers).
package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/forgecrate/registry/pkg/registryerrors"
	"github.com/forgecrate/registry/pkg/vfs"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store is the content-addressed blob store. Root and MirrorRoot are
// independent trees on the same Filesystem.
type Store struct {
	fs         vfs.Filesystem
	root       string
	mirrorRoot string
}

// New builds a Store rooted at root, with mirror blobs kept under
// mirrorRoot (a sibling directory, never read by the non-mirror paths).
func New(fsys vfs.Filesystem, root, mirrorRoot string) *Store {
	return &Store{fs: fsys, root: root, mirrorRoot: mirrorRoot}
}

func validateName(name string) error {
	if !nameRE.MatchString(name) {
		return registryerrors.New(registryerrors.BadRequest, fmt.Sprintf("invalid package name %q", name))
	}
	return nil
}

func blobPath(root, name, vers string) string {
	return path.Join(root, name, fmt.Sprintf("%s-%s.crate", name, vers))
}

// Put writes the tarball for (name, vers). It is idempotent when bytes
// are identical to what's already stored, and fails AlreadyExists on a
// non-identical rewrite attempt.
func (s *Store) Put(name, vers string, data []byte) (string, error) {
	return s.put(s.root, name, vers, data)
}

// PutMirror is Put, rooted under the mirror tree.
func (s *Store) PutMirror(name, vers string, data []byte) (string, error) {
	return s.put(s.mirrorRoot, name, vers, data)
}

func (s *Store) put(root, name, vers string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	dest := blobPath(root, name, vers)

	if existing, err := s.readIfExists(dest); err == nil && existing != nil {
		if bytes.Equal(existing, data) {
			return dest, nil
		}
		return "", registryerrors.New(registryerrors.AlreadyExists,
			fmt.Sprintf("blob %s@%s already stored with different content", name, vers))
	}

	dir := path.Join(root, name)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", registryerrors.Wrap(registryerrors.IoError, "create blob directory", err)
	}

	tmp, err := s.fs.TempDir(dir, ".tmp-blob-")
	if err != nil {
		return "", registryerrors.Wrap(registryerrors.IoError, "create temp dir for blob write", err)
	}
	tmpFile := path.Join(tmp, "blob")
	if err := s.fs.WriteFile(tmpFile, data, 0o644); err != nil {
		return "", registryerrors.Wrap(registryerrors.IoError, "write temp blob", err)
	}
	if err := s.fs.Rename(tmpFile, dest); err != nil {
		return "", registryerrors.Wrap(registryerrors.IoError, "rename temp blob into place", err)
	}
	return dest, nil
}

// Get returns the tarball bytes for (name, vers), or NotFound.
func (s *Store) Get(name, vers string) ([]byte, error) {
	return s.get(s.root, name, vers)
}

// GetMirror is Get, rooted under the mirror tree.
func (s *Store) GetMirror(name, vers string) ([]byte, error) {
	return s.get(s.mirrorRoot, name, vers)
}

func (s *Store) get(root, name, vers string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := s.readIfExists(blobPath(root, name, vers))
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "read blob", err)
	}
	if data == nil {
		return nil, registryerrors.New(registryerrors.NotFound, fmt.Sprintf("blob %s@%s not found", name, vers))
	}
	return data, nil
}

// Verify recomputes the SHA-256 of the stored local blob and compares it
// to cksum (hex-encoded), per SPEC_FULL.md §4.1a.
func (s *Store) Verify(name, vers, cksum string) (bool, error) {
	data, err := s.Get(name, vers)
	if err != nil {
		return false, err
	}
	return sumHex(data) == cksum, nil
}

func (s *Store) readIfExists(p string) ([]byte, error) {
	ok, err := s.fs.Exists(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// SumHex returns the hex-encoded SHA-256 checksum of data.
func SumHex(data []byte) string { return sumHex(data) }

func sumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
