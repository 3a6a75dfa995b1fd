// Package selector classifies chunks as managed or unmanaged using
// gitignore-style include/exclude patterns over build-output paths.
package selector

import (
	"fmt"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/modvault/modvault/internal/chunk"
)

// Selector decides which chunks participate in content-addressed caching.
//
// Classification rules:
//   - With no include patterns, every chunk is a candidate.
//   - With include patterns, only chunks matching at least one are candidates.
//   - Exclude patterns always win over include patterns.
type Selector struct {
	include *ignore.GitIgnore // nil means "include everything"
	exclude *ignore.GitIgnore // nil means "exclude nothing"
}

// New compiles include/exclude patterns into a Selector.
//
// Pattern validation is build-fatal: an empty or comment-only pattern is a
// configuration error, not something to silently skip.
func New(include, exclude []string) (*Selector, error) {
	if err := validatePatterns("include", include); err != nil {
		return nil, err
	}
	if err := validatePatterns("exclude", exclude); err != nil {
		return nil, err
	}

	s := &Selector{}
	if len(include) > 0 {
		s.include = ignore.CompileIgnoreLines(include...)
	}
	if len(exclude) > 0 {
		s.exclude = ignore.CompileIgnoreLines(exclude...)
	}
	return s, nil
}

// Managed reports whether the chunk at path is selected for
// content-addressed caching.
func (s *Selector) Managed(path string) bool {
	if s.exclude != nil && s.exclude.MatchesPath(path) {
		return false
	}
	if s.include == nil {
		return true
	}
	return s.include.MatchesPath(path)
}

// Partition splits a chunk set into managed and unmanaged paths, each
// sorted. The returned predicate-compatible sets feed the rewriter.
func (s *Selector) Partition(chunks []chunk.Chunk) (managed, unmanaged []string) {
	for _, c := range chunks {
		if s.Managed(c.Path) {
			managed = append(managed, c.Path)
		} else {
			unmanaged = append(unmanaged, c.Path)
		}
	}
	sort.Strings(managed)
	sort.Strings(unmanaged)
	return managed, unmanaged
}

func validatePatterns(kind string, patterns []string) error {
	for i, p := range patterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			return fmt.Errorf("%s pattern %d is empty", kind, i)
		}
		if strings.HasPrefix(trimmed, "#") {
			return fmt.Errorf("%s pattern %d (%q) is a comment, not a pattern", kind, i, p)
		}
		if trimmed == "!" {
			return fmt.Errorf("%s pattern %d (%q) negates nothing", kind, i, p)
		}
	}
	return nil
}
