package virtualize

import (
	"errors"
	"fmt"
)

// ResolveError represents a failure detected while resolving a virtual
// identifier or bootstrapping the entry module.
//
// Resolution errors include:
//   - Missing manifest entry: a chunk references an identifier the
//     manifest does not declare
//   - Fetch failed: the chunk bytes could not be obtained from cache or
//     network
//   - Dependency failed: a direct dependency entered the Failed state
//   - Load failed: the execution environment rejected the module
//   - Entry import failed: the final import of the entry module rejected
//
// ResolveError includes structured fields for diagnostics.
type ResolveError struct {
	// Code identifies the error category.
	Code ResolveErrorCode

	// Message is a human-readable description.
	Message string

	// VirtualID identifies the affected identifier.
	VirtualID string

	// Dependency identifies the failing dependency (for dependency errors).
	Dependency string

	// Err is the underlying cause, if any.
	Err error
}

// ResolveErrorCode categorizes resolution errors.
type ResolveErrorCode string

const (
	// ErrCodeMissingEntry indicates a referenced identifier has no
	// manifest declaration.
	ErrCodeMissingEntry ResolveErrorCode = "MISSING_MANIFEST_ENTRY"

	// ErrCodeFetchFailed indicates the chunk bytes could not be obtained.
	ErrCodeFetchFailed ResolveErrorCode = "FETCH_FAILED"

	// ErrCodeDependencyFailed indicates a direct dependency failed to
	// resolve.
	ErrCodeDependencyFailed ResolveErrorCode = "DEPENDENCY_FAILED"

	// ErrCodeLoadFailed indicates the execution environment rejected a
	// module unit.
	ErrCodeLoadFailed ResolveErrorCode = "LOAD_FAILED"

	// ErrCodeEntryImportFailed indicates the entry module import rejected.
	ErrCodeEntryImportFailed ResolveErrorCode = "ENTRY_IMPORT_FAILED"
)

// Error implements the error interface.
func (e *ResolveError) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("%s: %s (id=%s, dep=%s)", e.Code, e.Message, e.VirtualID, e.Dependency)
	}
	if e.VirtualID != "" {
		return fmt.Sprintf("%s: %s (id=%s)", e.Code, e.Message, e.VirtualID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// IsMissingEntry returns true if the error is a missing manifest entry.
// Uses errors.As to handle wrapped errors.
func IsMissingEntry(err error) bool {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMissingEntry
	}
	return false
}

// IsDependencyFailure returns true if the error is a failed dependency.
// Uses errors.As to handle wrapped errors.
func IsDependencyFailure(err error) bool {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Code == ErrCodeDependencyFailed
	}
	return false
}

// newMissingEntryError creates a ResolveError for an undeclared identifier.
func newMissingEntryError(vid string) *ResolveError {
	return &ResolveError{
		Code:      ErrCodeMissingEntry,
		Message:   "identifier not declared in manifest",
		VirtualID: vid,
	}
}

// newDependencyError creates a ResolveError for a failed dependency.
func newDependencyError(vid, dep string, cause error) *ResolveError {
	return &ResolveError{
		Code:       ErrCodeDependencyFailed,
		Message:    "dependency failed to resolve",
		VirtualID:  vid,
		Dependency: dep,
		Err:        cause,
	}
}
