package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modvault/modvault/internal/chunk"
)

func TestSelector_IncludeExcludeScenario(t *testing.T) {
	// include=["a"], exclude=["b"] over {a, b, entry} yields managed={a}.
	s, err := New([]string{"a"}, []string{"b"})
	require.NoError(t, err)

	chunks := []chunk.Chunk{
		{Path: "a"},
		{Path: "b"},
		{Path: "entry"},
	}
	managed, unmanaged := s.Partition(chunks)
	assert.Equal(t, []string{"a"}, managed)
	assert.Equal(t, []string{"b", "entry"}, unmanaged)
}

func TestSelector_EmptyIncludeSelectsAll(t *testing.T) {
	s, err := New(nil, nil)
	require.NoError(t, err)

	assert.True(t, s.Managed("app.js"))
	assert.True(t, s.Managed("assets/deep/chunk.js"))
}

func TestSelector_ExcludeWins(t *testing.T) {
	s, err := New([]string{"assets/*.js"}, []string{"assets/vendor-*.js"})
	require.NoError(t, err)

	assert.True(t, s.Managed("assets/app.js"))
	assert.False(t, s.Managed("assets/vendor-react.js"))
}

func TestSelector_GlobPatterns(t *testing.T) {
	s, err := New([]string{"*.js"}, []string{"legacy/"})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"app.js", true},
		{"chunks/page.js", true}, // gitignore patterns match at any depth
		{"legacy/old.js", false},
		{"styles.css", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Managed(tt.path), "path %s", tt.path)
	}
}

func TestNew_InvalidPatterns(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
	}{
		{"empty include", []string{""}, nil},
		{"whitespace include", []string{"   "}, nil},
		{"comment exclude", nil, []string{"# vendor"}},
		{"bare negation", []string{"!"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.include, tt.exclude)
			require.Error(t, err)
		})
	}
}
