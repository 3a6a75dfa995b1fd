package testutil

import (
	"net/http"
	"sync"
)

// CountingHandler serves a fixed path->bytes map and counts GETs per path.
// Wrap it in httptest.NewServer to stand in for the chunk origin.
type CountingHandler struct {
	mu     sync.Mutex
	files  map[string][]byte
	counts map[string]int
}

// NewCountingHandler creates a handler serving files. Keys are URL paths
// without a leading slash.
func NewCountingHandler(files map[string][]byte) *CountingHandler {
	copied := make(map[string][]byte, len(files))
	for p, data := range files {
		copied[p] = append([]byte(nil), data...)
	}
	return &CountingHandler{files: copied, counts: make(map[string]int)}
}

func (h *CountingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}

	h.mu.Lock()
	h.counts[path]++
	data, ok := h.files[path]
	h.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/javascript")
	w.Write(data)
}

// Count returns the number of requests served for path.
func (h *CountingHandler) Count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[path]
}

// Total returns the number of requests served across all paths.
func (h *CountingHandler) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.counts {
		total += n
	}
	return total
}
