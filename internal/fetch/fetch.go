// Package fetch obtains chunk bytes for the runtime: from the
// content-addressed store when possible, from the network otherwise, with
// best-effort write-back so the next page load hits the store.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/modvault/modvault/internal/store"
)

// Source says where a chunk's bytes came from.
type Source int

const (
	// SourceStore means the bytes were read from the content-addressed
	// store (cache hit).
	SourceStore Source = iota + 1
	// SourceNetwork means the bytes were fetched over HTTP (cache miss or
	// no store capability).
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceStore:
		return "store"
	case SourceNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is a terminal fetch failure for one chunk. Cache misses and store
// faults are never Errors - they fall through to the network; only a failed
// network fetch is terminal.
type Error struct {
	VirtualID string
	URL       string
	Status    int   // HTTP status, 0 if the request itself failed
	Err       error // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s returned %d", e.VirtualID, e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.VirtualID, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFetchError reports whether err is a terminal chunk fetch failure.
// Uses errors.As to handle wrapped errors.
func IsFetchError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}

// Stats counts fetch outcomes for one session. Snapshot type, returned by
// Fetcher.Stats.
type Stats struct {
	StoreHits      int64 `json:"store_hits"`
	StoreMisses    int64 `json:"store_misses"`
	NetworkFetches int64 `json:"network_fetches"`
	WriteBacks     int64 `json:"write_backs"`
	WriteFailures  int64 `json:"write_failures"`
}

// Fetcher resolves {virtual identifier, hash, server path} to chunk bytes.
//
// Lifecycle is one page load: the store-capability probe runs once for the
// whole session, and the in-flight deduplication table is never reset.
// Model it as a context object passed into the virtualizer, not shared
// mutable global state.
type Fetcher struct {
	base   string
	cas    store.Store // nil means the capability is absent
	client *http.Client
	log    *log.Logger

	session string // page-load session token, tags every log line

	probeOnce sync.Once
	storeOK   bool

	group singleflight.Group

	mu    sync.Mutex
	stats Stats
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// New creates a Fetcher for one session. base is the URL prefix chunk
// server paths are resolved against. cas may be nil: the session then runs
// in pure network mode from the start.
func New(base string, cas store.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		base:    base,
		cas:     cas,
		client:  http.DefaultClient,
		log:     log.Default(),
		session: uuid.Must(uuid.NewV7()).String(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With("session", f.session)
	return f
}

// Session returns the page-load session token.
func (f *Fetcher) Session() string { return f.session }

// Stats returns a snapshot of the session's fetch counters.
func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

type outcome struct {
	data   []byte
	source Source
}

// Bytes returns the chunk's bytes and their provenance.
//
// Concurrent calls for the same virtual identifier share one in-flight
// resolution: at most one store read and at most one network fetch happen
// per identifier per session, regardless of how many dependents ask.
func (f *Fetcher) Bytes(ctx context.Context, vid, hash, serverPath string) ([]byte, Source, error) {
	v, err, _ := f.group.Do(vid, func() (any, error) {
		return f.fetch(ctx, vid, hash, serverPath)
	})
	if err != nil {
		return nil, 0, err
	}
	out := v.(outcome)
	return out.data, out.source, nil
}

func (f *Fetcher) fetch(ctx context.Context, vid, hash, serverPath string) (any, error) {
	f.probe(ctx)

	if f.storeOK {
		data, err := store.ReadAll(ctx, f.cas, store.NewKey(hash))
		switch {
		case err == nil:
			f.count(func(s *Stats) { s.StoreHits++ })
			f.log.Debug("store hit", "vid", vid, "hash", hash)
			return outcome{data: data, source: SourceStore}, nil
		case errors.Is(err, store.ErrNotFound):
			// A miss is not an error; fall through to the network.
			f.count(func(s *Stats) { s.StoreMisses++ })
		default:
			// Any other store fault also falls through, loudly.
			f.count(func(s *Stats) { s.StoreMisses++ })
			f.log.Warn("store read failed; falling back to network", "vid", vid, "err", err)
		}
	}

	data, err := f.fetchNetwork(ctx, vid, serverPath)
	if err != nil {
		return nil, err
	}
	f.writeBack(ctx, vid, hash, data)
	return outcome{data: data, source: SourceNetwork}, nil
}

// probe establishes store availability once per session. Absence of the
// capability silently degrades the whole session to pure network mode; it
// is never re-probed per chunk.
func (f *Fetcher) probe(ctx context.Context) {
	f.probeOnce.Do(func() {
		if f.cas == nil {
			f.log.Debug("no store capability; pure network mode")
			return
		}
		if err := f.cas.Ping(ctx); err != nil {
			f.log.Warn("store probe failed; pure network mode", "err", err)
			return
		}
		f.storeOK = true
	})
}

func (f *Fetcher) fetchNetwork(ctx context.Context, vid, serverPath string) ([]byte, error) {
	url := joinURL(f.base, serverPath)
	f.count(func(s *Stats) { s.NetworkFetches++ })
	f.log.Debug("network fetch", "vid", vid, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{VirtualID: vid, URL: url, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{VirtualID: vid, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{VirtualID: vid, URL: url, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{VirtualID: vid, URL: url, Err: err}
	}
	return data, nil
}

// writeBack populates the store for future loads. Failure is logged only:
// correctness of the current page load never depends on a cache write.
func (f *Fetcher) writeBack(ctx context.Context, vid, hash string, data []byte) {
	if !f.storeOK {
		return
	}
	if err := store.WriteAll(ctx, f.cas, store.NewKey(hash), data); err != nil {
		f.count(func(s *Stats) { s.WriteFailures++ })
		f.log.Warn("store write-back failed", "vid", vid, "err", err)
		return
	}
	f.count(func(s *Stats) { s.WriteBacks++ })
}

func (f *Fetcher) count(update func(*Stats)) {
	f.mu.Lock()
	update(&f.stats)
	f.mu.Unlock()
}

func joinURL(base, p string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}
