package virtualize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader abstracts the execution environment that turns module source
// into importable references. The browser implementation wraps dynamic
// module creation; FileLoader materializes modules on disk for
// inspection and offline debugging.
type Loader interface {
	// Load registers a module unit under id and returns a concrete
	// reference other modules can import it by.
	Load(ctx context.Context, id string, code []byte) (ref string, err error)

	// InstallTable publishes the complete identifier-to-reference table
	// in one atomic step. Partial tables must never become visible.
	InstallTable(ctx context.Context, table map[string]string) error

	// Import imports the module mapped under vid in the installed table.
	Import(ctx context.Context, vid string) error
}

// FileLoader materializes module units as files under a directory and
// writes the resolution table as an import map. Refs are filenames
// relative to the directory, so the output imports cleanly when served
// with the import map applied.
type FileLoader struct {
	dir   string
	table map[string]string
}

// NewFileLoader creates a FileLoader writing into dir, creating it if
// needed.
func NewFileLoader(dir string) (*FileLoader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileLoader{dir: dir}, nil
}

var fileNameReplacer = strings.NewReplacer(":", "_", "/", "_", "!", ".")

// fileName maps a module id to a flat filename. Virtual identifiers use
// only escaped path characters, so the mapping stays injective.
func fileName(id string) string {
	name := fileNameReplacer.Replace(id)
	if !strings.HasSuffix(name, ".js") {
		name += ".js"
	}
	return name
}

func (l *FileLoader) Load(ctx context.Context, id string, code []byte) (string, error) {
	name := fileName(id)
	if err := os.WriteFile(filepath.Join(l.dir, name), code, 0o644); err != nil {
		return "", fmt.Errorf("materialize %s: %w", id, err)
	}
	return "./" + name, nil
}

func (l *FileLoader) InstallTable(ctx context.Context, table map[string]string) error {
	l.table = table
	doc := struct {
		Imports map[string]string `json:"imports"`
	}{Imports: table}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(l.dir, "importmap.json"), data, 0o644); err != nil {
		return fmt.Errorf("write import map: %w", err)
	}
	return nil
}

func (l *FileLoader) Import(ctx context.Context, vid string) error {
	if l.table == nil {
		return fmt.Errorf("import of %s before table install", vid)
	}
	ref, ok := l.table[vid]
	if !ok {
		return fmt.Errorf("import of %s: not in installed table", vid)
	}
	if strings.HasPrefix(ref, "./") {
		if _, err := os.Stat(filepath.Join(l.dir, strings.TrimPrefix(ref, "./"))); err != nil {
			return fmt.Errorf("import of %s: %w", vid, err)
		}
	}
	return nil
}

// Dir returns the output directory.
func (l *FileLoader) Dir() string { return l.dir }
