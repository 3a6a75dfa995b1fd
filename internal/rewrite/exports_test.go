package rewrite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modvault/modvault/internal/chunk"
)

func TestShape(t *testing.T) {
	tests := []struct {
		name string
		code string
		want chunk.ExportShape
	}{
		{
			name: "named const exports",
			code: `export const a = 1;` + "\n" + `export let b = 2;`,
			want: chunk.ExportShape{Named: []string{"a", "b"}},
		},
		{
			name: "function and class declarations",
			code: `export function run() {}` + "\n" + `export class Widget {}`,
			want: chunk.ExportShape{Named: []string{"Widget", "run"}},
		},
		{
			name: "default expression",
			code: `export default 42;`,
			want: chunk.ExportShape{HasDefault: true},
		},
		{
			name: "default function with named sibling",
			code: `export default function main() {}` + "\n" + `export const helper = 1;`,
			want: chunk.ExportShape{Named: []string{"helper"}, HasDefault: true},
		},
		{
			name: "default class with local name",
			code: `export default class App {}` + "\n" + `export function boot() {}`,
			want: chunk.ExportShape{Named: []string{"boot"}, HasDefault: true},
		},
		{
			name: "clause with alias",
			code: `const a = 1, b = 2;` + "\n" + `export { a, b as c };`,
			want: chunk.ExportShape{Named: []string{"a", "c"}},
		},
		{
			name: "alias to default",
			code: `const impl = 1;` + "\n" + `export { impl as default };`,
			want: chunk.ExportShape{HasDefault: true},
		},
		{
			name: "namespace re-export keeps source",
			code: `export * from "modvault:dep.js";`,
			want: chunk.ExportShape{Reexports: []string{"modvault:dep.js"}},
		},
		{
			name: "namespace alias re-export names the alias",
			code: `export * as dep from "./dep.js";`,
			want: chunk.ExportShape{Named: []string{"dep"}, Reexports: []string{"./dep.js"}},
		},
		{
			name: "named re-export",
			code: `export { x as y } from "./dep.js";`,
			want: chunk.ExportShape{Named: []string{"y"}, Reexports: []string{"./dep.js"}},
		},
		{
			name: "destructured exports",
			code: `export const { a, b: renamed, c = 3 } = obj;` + "\n" + `export const [first, ...rest] = list;`,
			want: chunk.ExportShape{Named: []string{"a", "c", "first", "renamed", "rest"}},
		},
		{
			name: "no exports",
			code: `const internal = 1;` + "\n" + `console.log(internal);`,
			want: chunk.ExportShape{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Shape(context.Background(), []byte(tt.code))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShape_DefaultSurvivesRewriting(t *testing.T) {
	// The shape is detected from rewritten code; rewriting specifiers must
	// not disturb default detection.
	code := `import dep from "./dep.js";` + "\n" + `export default dep;`
	chunks := []chunk.Chunk{
		{Path: "app.js", Code: []byte(code)},
		{Path: "dep.js", Code: []byte(`export default 1;`)},
	}
	result, err := Graph(context.Background(), chunks, managedSet("app.js", "dep.js"))
	require.NoError(t, err)

	shape, err := Shape(context.Background(), result.Chunks[0].Code)
	require.NoError(t, err)
	assert.True(t, shape.HasDefault)
}
