package rewrite

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/modvault/modvault/internal/chunk"
)

// Shape detects the export surface of a chunk from its code.
//
// The default-export flag matters beyond diagnostics: the runtime rebuilds
// each chunk's surface through a namespace re-export, and a namespace
// re-export does not carry "default". The manifest has to say explicitly
// which chunks need it forwarded.
func Shape(ctx context.Context, code []byte) (chunk.ExportShape, error) {
	parser := newParser()
	defer parser.Close()

	tree, err := parser.ParseCtx(ctx, nil, code)
	if err != nil {
		return chunk.ExportShape{}, fmt.Errorf("parsing: %w", err)
	}
	defer tree.Close()

	shape := chunk.ExportShape{}
	named := make(map[string]bool)

	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "export_statement" {
			continue
		}
		collectExports(stmt, code, &shape, named)
	}

	for name := range named {
		shape.Named = append(shape.Named, name)
	}
	sort.Strings(shape.Named)
	sort.Strings(shape.Reexports)
	return shape, nil
}

func collectExports(stmt *sitter.Node, code []byte, shape *chunk.ExportShape, named map[string]bool) {
	if src := stmt.ChildByFieldName("source"); src != nil {
		if content, ok := stringContent(src, code); ok {
			shape.Reexports = append(shape.Reexports, content)
		}
	}

	// "export default ..." carries an unnamed "default" keyword token.
	// It must be detected before walking the children: a default-exported
	// function or class declaration may carry a local name, but that name
	// binds only inside the chunk and exports nothing besides "default".
	// Bare "export * from" re-exports an unknowable name set and never a
	// default, so it contributes nothing here.
	isDefault := false
	for i := 0; i < int(stmt.ChildCount()); i++ {
		if stmt.Child(i).Type() == "default" {
			isDefault = true
		}
	}
	if isDefault {
		shape.HasDefault = true
	}

	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		switch child.Type() {
		case "export_clause":
			collectClause(child, code, shape, named)
		case "namespace_export":
			// export * as ns from "p" - the namespace alias is a named
			// binding on this chunk's own surface.
			if name := child.NamedChild(0); name != nil {
				named[text(name, code)] = true
			}
		case "declaration", "function_declaration", "generator_function_declaration",
			"class_declaration", "lexical_declaration", "variable_declaration":
			if !isDefault {
				collectDeclaration(child, code, named)
			}
		}
	}
}

func collectClause(clause *sitter.Node, code []byte, shape *chunk.ExportShape, named map[string]bool) {
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		spec := clause.NamedChild(i)
		if spec.Type() != "export_specifier" {
			continue
		}
		exported := spec.ChildByFieldName("alias")
		if exported == nil {
			exported = spec.ChildByFieldName("name")
		}
		if exported == nil {
			continue
		}
		if name := text(exported, code); name == "default" {
			shape.HasDefault = true
		} else {
			named[name] = true
		}
	}
}

func collectDeclaration(decl *sitter.Node, code []byte, named map[string]bool) {
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration", "class_declaration":
		if name := decl.ChildByFieldName("name"); name != nil {
			named[text(name, code)] = true
		}
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			declarator := decl.NamedChild(i)
			if declarator.Type() != "variable_declarator" {
				continue
			}
			if name := declarator.ChildByFieldName("name"); name != nil {
				collectPatternNames(name, code, named)
			}
		}
	}
}

// collectPatternNames walks a binding pattern (identifier, object pattern,
// array pattern) and records every bound identifier.
func collectPatternNames(node *sitter.Node, code []byte, named map[string]bool) {
	switch node.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		named[text(node, code)] = true
		return
	case "assignment_pattern":
		// {a = defaultExpr}: only the left side binds a name.
		if left := node.ChildByFieldName("left"); left != nil {
			collectPatternNames(left, code, named)
		}
		return
	case "pair_pattern":
		// {key: binding}: only the value side binds a name.
		if value := node.ChildByFieldName("value"); value != nil {
			collectPatternNames(value, code, named)
		}
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectPatternNames(node.NamedChild(i), code, named)
	}
}

func text(node *sitter.Node, code []byte) string {
	return string(code[node.StartByte():node.EndByte()])
}
