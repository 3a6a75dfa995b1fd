package testutil

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLoader records module materializations without executing anything.
//
// References follow the scheme "ref:<id>", which makes them easy to assert
// against. Import succeeds only for identifiers present in the installed
// table, mirroring how a real execution environment can only import what
// the resolution table already maps.
type MemoryLoader struct {
	mu        sync.Mutex
	loaded    map[string][]byte // id -> materialized code
	loadOrder []string
	installed map[string]string // vid -> ref, set atomically by InstallTable
	imports   []string
	installs  int

	// FailLoadID, when non-empty, makes Load fail for that id.
	FailLoadID string
}

// NewMemoryLoader creates an empty MemoryLoader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{loaded: make(map[string][]byte)}
}

// Ref returns the concrete reference the loader hands out for id.
func Ref(id string) string { return "ref:" + id }

// Load implements the loader contract: materialize code, return a ref.
func (l *MemoryLoader) Load(ctx context.Context, id string, code []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailLoadID == id {
		return "", fmt.Errorf("testutil: injected load failure for %s", id)
	}
	l.loaded[id] = append([]byte(nil), code...)
	l.loadOrder = append(l.loadOrder, id)
	return Ref(id), nil
}

// InstallTable publishes the full resolution table in one step.
func (l *MemoryLoader) InstallTable(ctx context.Context, table map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	installed := make(map[string]string, len(table))
	for vid, ref := range table {
		installed[vid] = ref
	}
	l.installed = installed
	l.installs++
	return nil
}

// Import records an entry import. It fails if no table is installed or the
// identifier is not mapped: partial table visibility must be unobservable.
func (l *MemoryLoader) Import(ctx context.Context, vid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.installed == nil {
		return fmt.Errorf("testutil: import of %s before any table install", vid)
	}
	if _, ok := l.installed[vid]; !ok {
		return fmt.Errorf("testutil: import of %s: not in installed table", vid)
	}
	l.imports = append(l.imports, vid)
	return nil
}

// Code returns the materialized code for id, or nil.
func (l *MemoryLoader) Code(id string) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[id]
}

// LoadOrder returns materialization order.
func (l *MemoryLoader) LoadOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loadOrder...)
}

// Installed returns the installed resolution table.
func (l *MemoryLoader) Installed() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.installed))
	for k, v := range l.installed {
		out[k] = v
	}
	return out
}

// Installs reports how many times InstallTable was called.
func (l *MemoryLoader) Installs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.installs
}

// Imports returns the imported identifiers in order.
func (l *MemoryLoader) Imports() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.imports...)
}
