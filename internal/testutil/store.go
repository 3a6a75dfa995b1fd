// Package testutil provides deterministic in-memory fakes for the runtime
// half: a content-addressed store, a module loader, and a counting HTTP
// handler. All are safe for concurrent use.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/modvault/modvault/internal/store"
)

// MemoryStore is an in-memory content-addressed store.
//
// Set FailReads or FailWrites to make the corresponding operation fail
// with a synthetic fault (distinct from a miss), to exercise the
// fall-through and best-effort paths.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[store.Key][]byte
	FailReads  bool
	FailWrites bool
	PingErr    error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[store.Key][]byte)}
}

// Preload inserts an entry directly, bypassing the writer path.
func (s *MemoryStore) Preload(key store.Key, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), data...)
}

// Len reports the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Has reports whether an entry exists for key.
func (s *MemoryStore) Has(key store.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Ping implements store.Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return s.PingErr }

// Open implements store.Store.
func (s *MemoryStore) Open(ctx context.Context, key store.Key) (io.ReadCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, errors.New("testutil: injected read failure")
	}
	data, ok := s.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Create implements store.Store.
func (s *MemoryStore) Create(ctx context.Context, key store.Key) (io.WriteCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return nil, errors.New("testutil: injected write failure")
	}
	return &memWriter{store: s, key: key}, nil
}

// Close implements store.Store.
func (s *MemoryStore) Close() error { return nil }

type memWriter struct {
	store *MemoryStore
	key   store.Key
	buf   bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Close finalizes the entry. Idempotent: rewriting an existing key stores
// the same bytes again.
func (w *memWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.entries[w.key] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}
