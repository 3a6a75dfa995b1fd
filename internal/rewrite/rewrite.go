package rewrite

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/modvault/modvault/internal/chunk"
)

// specifierQuery matches every recognized reference form and captures the
// quoted specifier node. Dynamic imports are captured separately so that
// computed specifiers can be flagged instead of silently skipped.
const specifierQuery = `
(import_statement source: (string) @spec)
(export_statement source: (string) @spec)
(call_expression function: (import) arguments: (arguments . (string) @spec))
(call_expression function: (import) arguments: (arguments) @dynargs)
`

var (
	queryOnce sync.Once
	query     *sitter.Query
	queryErr  error
)

func specQuery() (*sitter.Query, error) {
	queryOnce.Do(func() {
		query, queryErr = sitter.NewQuery([]byte(specifierQuery), javascript.GetLanguage())
	})
	return query, queryErr
}

func newParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(javascript.GetLanguage())
	return p
}

// Warning reports a reference the rewriter recognized as a module reference
// but could not rewrite. Warnings are not build-fatal: the reference is
// left exactly as written for manual review. It is a latent runtime risk,
// because an unrewritten relative reference fails once its chunk executes
// outside its original path context.
type Warning struct {
	Chunk   string `json:"chunk"`
	Line    int    `json:"line"`
	Message string `json:"message"`
	Level   string `json:"level"` // "warning" or "info"
}

func (w Warning) String() string {
	return fmt.Sprintf("%s:%d: %s", w.Chunk, w.Line, w.Message)
}

// Refs lists the references discovered in one chunk during rewriting.
type Refs struct {
	// Managed holds virtual identifiers of managed targets, sorted.
	Managed []string

	// Unmanaged holds build-output paths of unmanaged targets, sorted.
	Unmanaged []string
}

// Result is the output of a whole-graph rewrite.
type Result struct {
	// Chunks holds every input chunk, rewritten where required, in input
	// order. Chunks untouched by rewriting keep their original bytes.
	Chunks []chunk.Chunk

	// Refs maps each chunk path to the references found in it.
	Refs map[string]Refs

	// Warnings collects unrewritable references across the graph.
	Warnings []Warning
}

// Graph rewrites module references across the full chunk set.
//
// A reference is rewritten when its importer or its resolved target is
// managed; unmanaged-to-unmanaged references are left untouched since they
// execute unmodified under normal network resolution. Targets are
// addressed by final build-output path: a relative specifier is resolved
// against the importer's output directory, then looked up in the chunk set.
func Graph(ctx context.Context, chunks []chunk.Chunk, managed func(string) bool) (*Result, error) {
	byPath := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		byPath[c.Path] = true
	}

	result := &Result{
		Chunks: make([]chunk.Chunk, len(chunks)),
		Refs:   make(map[string]Refs, len(chunks)),
	}

	parser := newParser()
	defer parser.Close()

	for i, c := range chunks {
		rewritten, refs, warnings, err := rewriteChunk(ctx, parser, c, byPath, managed)
		if err != nil {
			return nil, fmt.Errorf("rewriting %s: %w", c.Path, err)
		}
		out := c
		out.Code = rewritten
		result.Chunks[i] = out
		result.Refs[c.Path] = refs
		result.Warnings = append(result.Warnings, warnings...)
	}
	return result, nil
}

// edit replaces source[start:end] with text. Edits never overlap because
// each targets a distinct string literal node.
type edit struct {
	start, end uint32
	text       string
}

func rewriteChunk(
	ctx context.Context,
	parser *sitter.Parser,
	c chunk.Chunk,
	byPath map[string]bool,
	managed func(string) bool,
) ([]byte, Refs, []Warning, error) {
	q, err := specQuery()
	if err != nil {
		return nil, Refs{}, nil, fmt.Errorf("compiling specifier query: %w", err)
	}

	tree, err := parser.ParseCtx(ctx, nil, c.Code)
	if err != nil {
		return nil, Refs{}, nil, fmt.Errorf("parsing: %w", err)
	}
	defer tree.Close()

	var warnings []Warning
	if tree.RootNode().HasError() {
		warnings = append(warnings, Warning{
			Chunk:   c.Path,
			Line:    1,
			Message: "chunk has parse errors; unrecognized references are left untouched",
			Level:   "warning",
		})
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var edits []edit
	managedRefs := make(map[string]bool)
	unmanagedRefs := make(map[string]bool)

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, capture := range match.Captures {
			node := capture.Node
			switch q.CaptureNameForId(capture.Index) {
			case "dynargs":
				if w, flagged := checkDynamicArgs(node, c); flagged {
					warnings = append(warnings, w)
				}
			case "spec":
				ed, w, ok := rewriteSpecifier(node, c, byPath, managed, managedRefs, unmanagedRefs)
				if w != nil {
					warnings = append(warnings, *w)
				}
				if ok {
					edits = append(edits, ed)
				}
			}
		}
	}

	return applyEdits(c.Code, edits), collectRefs(managedRefs, unmanagedRefs), warnings, nil
}

// rewriteSpecifier decides the fate of one quoted specifier node.
func rewriteSpecifier(
	node *sitter.Node,
	c chunk.Chunk,
	byPath map[string]bool,
	managed func(string) bool,
	managedRefs, unmanagedRefs map[string]bool,
) (edit, *Warning, bool) {
	spec, ok := stringContent(node, c.Code)
	if !ok {
		return edit{}, &Warning{
			Chunk:   c.Path,
			Line:    line(node),
			Message: "specifier contains escape sequences; left unrewritten",
			Level:   "warning",
		}, false
	}

	// Only relative specifiers can reference sibling chunks. Bare and
	// absolute specifiers belong to the package/import-map layer.
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return edit{}, nil, false
	}

	target := path.Clean(path.Join(path.Dir(c.Path), spec))
	if !byPath[target] {
		return edit{}, &Warning{
			Chunk:   c.Path,
			Line:    line(node),
			Message: fmt.Sprintf("reference %q resolves to %q, which is not in the chunk graph", spec, target),
			Level:   "warning",
		}, false
	}

	importerManaged := managed(c.Path)
	targetManaged := managed(target)
	if !importerManaged && !targetManaged {
		return edit{}, nil, false
	}

	if targetManaged {
		managedRefs[chunk.VirtualID(target)] = true
	} else {
		unmanagedRefs[target] = true
	}

	// Replace only the content between the quotes; the quote characters
	// and everything around the string literal stay byte-identical.
	return edit{
		start: node.StartByte() + 1,
		end:   node.EndByte() - 1,
		text:  chunk.VirtualID(target),
	}, nil, true
}

// checkDynamicArgs flags import() calls whose specifier is not a plain
// string literal. Statement granularity means the surrounding call is left
// fully intact.
func checkDynamicArgs(args *sitter.Node, c chunk.Chunk) (Warning, bool) {
	first := args.NamedChild(0)
	if first == nil {
		return Warning{
			Chunk:   c.Path,
			Line:    line(args),
			Message: "import() with no specifier; left unrewritten",
			Level:   "warning",
		}, true
	}
	if first.Type() == "string" {
		return Warning{}, false
	}
	return Warning{
		Chunk:   c.Path,
		Line:    line(first),
		Message: fmt.Sprintf("import() specifier is a %s, not a string literal; left unrewritten", first.Type()),
		Level:   "warning",
	}, true
}

// stringContent returns the literal content of a string node. Specifiers
// containing escape sequences are refused: their runtime value differs from
// their source text, so substituting into the source form is unsafe.
func stringContent(node *sitter.Node, source []byte) (string, bool) {
	inner := source[node.StartByte()+1 : node.EndByte()-1]
	if strings.ContainsRune(string(inner), '\\') {
		return "", false
	}
	return string(inner), true
}

func line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// applyEdits rewrites source back-to-front so earlier offsets stay valid.
func applyEdits(source []byte, edits []edit) []byte {
	if len(edits) == 0 {
		return source
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })

	out := make([]byte, len(source))
	copy(out, source)
	for _, ed := range edits {
		var b []byte
		b = append(b, out[:ed.start]...)
		b = append(b, ed.text...)
		b = append(b, out[ed.end:]...)
		out = b
	}
	return out
}

func collectRefs(managedRefs, unmanagedRefs map[string]bool) Refs {
	var refs Refs
	for vid := range managedRefs {
		refs.Managed = append(refs.Managed, vid)
	}
	for p := range unmanagedRefs {
		refs.Unmanaged = append(refs.Unmanaged, p)
	}
	sort.Strings(refs.Managed)
	sort.Strings(refs.Unmanaged)
	return refs
}
