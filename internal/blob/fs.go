// Package blob implements the filesystem blob store. Blobs live in a flat
// directory under storage-generated names; user-supplied filenames never
// reach the filesystem.
package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"dropslot/internal/domain"
)

// FSStore stores blobs as files in a single directory.
type FSStore struct {
	dir string
}

// Compile-time interface check.
var _ domain.BlobStore = (*FSStore)(nil)

// NewFSStore opens the blob directory, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("blob: create directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// NewName returns a fresh storage name for a blob. Names are random, so
// they cannot collide with or be derived from user-supplied filenames.
func NewName() string {
	return uuid.NewString()
}

func (s *FSStore) path(name string) (string, error) {
	// names are always generated by NewName, but refuse anything that
	// could escape the blob directory
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("blob: invalid name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Write stores the blob under name and returns the number of bytes written.
// The name must not already exist.
func (s *FSStore) Write(name string, r io.Reader) (int64, error) {
	p, err := s.path(name)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return 0, fmt.Errorf("blob: create %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(p)
		return 0, fmt.Errorf("blob: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return 0, fmt.Errorf("blob: close %s: %w", name, err)
	}
	return n, nil
}

// Open returns a reader for the blob, or domain.ErrBlobNotFound.
func (s *FSStore) Open(name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: open %s: %w", name, err)
	}
	return f, nil
}

// Delete removes the blob. Absence is tolerated: it indicates a prior
// partial failure or a re-entrant delete and counts as already satisfied.
func (s *FSStore) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: delete %s: %w", name, err)
	}
	return nil
}

// List returns the names of all stored blobs.
func (s *FSStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("blob: list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
