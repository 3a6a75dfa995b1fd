package store

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// AlgorithmSHA256 is the only digest algorithm the store key contract
// currently admits. The value matches the wire form used when requesting
// handles from external hash-addressed stores.
const AlgorithmSHA256 = "SHA-256"

// ErrNotFound reports a cache miss. Callers treat it as an expected
// outcome, not a failure; it falls through to the network path.
var ErrNotFound = errors.New("store: entry not found")

// Key addresses one entry: an algorithm name and the lowercase hex digest
// of the entry's exact byte content.
type Key struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"value"`
}

// NewKey builds a SHA-256 key for a hex digest.
func NewKey(digest string) Key {
	return Key{Algorithm: AlgorithmSHA256, Digest: digest}
}

// Validate rejects keys with unknown algorithms or empty digests before
// they reach a backend.
func (k Key) Validate() error {
	if k.Algorithm != AlgorithmSHA256 {
		return fmt.Errorf("store: unsupported algorithm %q", k.Algorithm)
	}
	if k.Digest == "" {
		return fmt.Errorf("store: empty digest")
	}
	return nil
}

func (k Key) String() string {
	return k.Algorithm + ":" + k.Digest
}

// Store is a hash-addressed byte store.
//
// Open returns ErrNotFound on a miss. Create returns a writer whose Close
// finalizes the entry; an entry is not durable (and must not be observable
// via Open) until Close returns nil. Writing an already-present key is a
// no-op on Close, never a conflict.
type Store interface {
	// Ping probes whether the store capability is usable. The resolver
	// calls this once per page load; a failed probe degrades the whole
	// session to pure network mode.
	Ping(ctx context.Context) error

	// Open returns a reader for the entry at key, or ErrNotFound.
	Open(ctx context.Context, key Key) (io.ReadCloser, error)

	// Create returns a writer for the entry at key. The write becomes
	// durable when Close returns.
	Create(ctx context.Context, key Key) (io.WriteCloser, error)

	// Close releases backend resources.
	Close() error
}

// ReadAll opens key and reads the full entry. Convenience for callers that
// want bytes, not a stream.
func ReadAll(ctx context.Context, s Store, key Key) ([]byte, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", key, err)
	}
	return data, nil
}

// WriteAll creates key, writes data, and finalizes the entry.
func WriteAll(ctx context.Context, s Store, key Key, data []byte) error {
	wc, err := s.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("store: writing %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("store: finalizing %s: %w", key, err)
	}
	return nil
}
