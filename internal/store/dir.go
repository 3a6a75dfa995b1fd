package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirStore is a filesystem content-addressed store.
//
// Layout: <root>/sha256/<first two digest chars>/<rest>. Entries are
// written to a temp file in the same directory and renamed into place on
// Close, so a crashed writer never leaves a partial entry observable.
type DirStore struct {
	root string
}

// OpenDir creates or opens a DirStore rooted at dir.
func OpenDir(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating root %s: %w", dir, err)
	}
	return &DirStore{root: dir}, nil
}

// Ping verifies the root directory is writable.
func (s *DirStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("store: stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store: root %s is not a directory", s.root)
	}
	return nil
}

// Open returns a reader for the entry at key, or ErrNotFound.
func (s *DirStore) Open(ctx context.Context, key Key) (io.ReadCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.entryPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", key, err)
	}
	return f, nil
}

// Create returns a writer for the entry at key. The entry appears
// atomically when Close returns.
func (s *DirStore) Create(ctx context.Context, key Key) (io.WriteCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	dest := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return nil, fmt.Errorf("store: creating temp entry: %w", err)
	}
	return &dirWriter{file: tmp, dest: dest}, nil
}

// Close is a no-op; DirStore holds no persistent handles.
func (s *DirStore) Close() error { return nil }

func (s *DirStore) entryPath(key Key) string {
	algo := strings.ToLower(strings.ReplaceAll(key.Algorithm, "-", ""))
	return filepath.Join(s.root, algo, key.Digest[:2], key.Digest[2:])
}

type dirWriter struct {
	file *os.File
	dest string
}

func (w *dirWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Close finalizes the entry. Rename is atomic on POSIX filesystems; if the
// entry already exists the rename simply replaces byte-identical content.
func (w *dirWriter) Close() error {
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("store: closing temp entry: %w", err)
	}
	if err := os.Rename(w.file.Name(), w.dest); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("store: finalizing entry: %w", err)
	}
	return nil
}
