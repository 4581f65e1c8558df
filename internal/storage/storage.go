// Package storage provides path-addressable blob storage rooted at a single
// directory. All paths handed to it are storage-relative; the local
// implementation refuses to escape its root.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem is the storage interface the filing core depends on.
type FileSystem interface {
	// Put writes the reader's bytes at the given relative path, creating
	// parent directories as needed.
	Put(path string, r io.Reader) error
	// Open returns a reader over the bytes at the given relative path.
	Open(path string) (io.ReadCloser, error)
	// Delete removes the file at the given relative path.
	Delete(path string) error
	// RemoveAll removes the directory at the given relative path and
	// everything under it. Removing a path that does not exist is not an
	// error.
	RemoveAll(path string) error
	// EnsureDir creates the directory at the given relative path. When
	// existOK is false and the directory already exists, it fails.
	EnsureDir(path string, existOK bool) error
	// Exists reports whether a file or directory exists at the path.
	Exists(path string) bool
	// FullPath resolves a storage-relative path to an absolute one.
	FullPath(path string) string
}

// Local implements FileSystem on the local filesystem under a root folder.
type Local struct {
	Root string
}

// NewLocal creates a Local store rooted at folder, creating it if missing.
func NewLocal(folder string) (*Local, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %q: %w", folder, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", abs, err)
	}
	return &Local{Root: abs}, nil
}

// FullPath resolves p against the root. The path is cleaned and any parent
// traversal stripped so a crafted path cannot reach outside the root.
func (l *Local) FullPath(p string) string {
	if p == "" {
		return l.Root
	}
	p = filepath.Clean(p)
	if strings.Contains(p, "..") {
		p = strings.ReplaceAll(p, "..", "")
	}
	if filepath.IsAbs(p) && strings.HasPrefix(p, l.Root) {
		return p
	}
	return filepath.Join(l.Root, p)
}

func (l *Local) Put(p string, r io.Reader) error {
	if p == "" {
		return fmt.Errorf("put: path cannot be empty")
	}
	full := l.FullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("put %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (l *Local) Open(p string) (io.ReadCloser, error) {
	f, err := os.Open(l.FullPath(p))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

func (l *Local) Delete(p string) error {
	if err := os.Remove(l.FullPath(p)); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (l *Local) RemoveAll(p string) error {
	if p == "" || filepath.Clean(p) == "." {
		return fmt.Errorf("remove all: refusing to remove storage root")
	}
	if err := os.RemoveAll(l.FullPath(p)); err != nil {
		return fmt.Errorf("remove all %s: %w", p, err)
	}
	return nil
}

func (l *Local) EnsureDir(p string, existOK bool) error {
	full := l.FullPath(p)
	if !existOK {
		if _, err := os.Stat(full); err == nil {
			return fmt.Errorf("ensure dir %s: already exists", p)
		}
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", p, err)
	}
	return nil
}

func (l *Local) Exists(p string) bool {
	_, err := os.Stat(l.FullPath(p))
	return err == nil
}
