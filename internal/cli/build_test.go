package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/manifest"
)

// execute runs the CLI with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeBuildFixture lays out a small dist directory and a matching
// config: a managed entry importing a managed chunk which in turn
// imports an unmanaged vendor chunk.
func writeBuildFixture(t *testing.T) (distDir, cfgPath string) {
	t.Helper()
	distDir = t.TempDir()
	files := map[string]string{
		"entry.js":  "import { a } from \"./a.js\";\nexport const main = a;\n",
		"a.js":      "import { v } from \"./vendor.js\";\nexport const a = v + 1;\nexport default a;\n",
		"vendor.js": "export const v = 41;\n",
	}
	for name, code := range files {
		require.NoError(t, os.WriteFile(filepath.Join(distDir, name), []byte(code), 0o644))
	}
	cfgPath = writeConfig(t, `
build: {
	entry: "entry.js"
	base:  "/assets/"
	include: ["entry.js", "a.js"]
}
`)
	return distDir, cfgPath
}

func TestBuildCommand_EndToEnd(t *testing.T) {
	distDir, cfgPath := writeBuildFixture(t)
	outDir := t.TempDir()
	storeDir := t.TempDir()

	out, err := execute(t, "build", distDir,
		"-c", cfgPath, "-o", outDir, "--store-dir", storeDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Rewrote 3 chunk(s): 2 managed, 1 unmanaged")

	// The manifest decodes and is self-describing.
	raw, err := os.ReadFile(filepath.Join(outDir, "manifest.json"))
	require.NoError(t, err)
	m, err := chunk.DecodeManifest(raw)
	require.NoError(t, err)
	assert.Equal(t, "modvault:entry.js", m.Entry)
	assert.Equal(t, "/assets/", m.Base)
	assert.Len(t, m.Chunks, 2)
	assert.Equal(t, []string{"vendor.js"}, m.Unmanaged)
	assert.True(t, m.Chunks["modvault:a.js"].HasDefault)

	// Managed references are rewritten; unmanaged chunks pass through
	// byte for byte.
	entryCode, err := os.ReadFile(filepath.Join(outDir, "entry.js"))
	require.NoError(t, err)
	assert.Contains(t, string(entryCode), `"modvault:a.js"`)
	assert.NotContains(t, string(entryCode), `"./a.js"`)

	vendorCode, err := os.ReadFile(filepath.Join(outDir, "vendor.js"))
	require.NoError(t, err)
	assert.Equal(t, "export const v = 41;\n", string(vendorCode))

	// The store is seeded under the content hash of the final bytes.
	aCode, err := os.ReadFile(filepath.Join(outDir, "a.js"))
	require.NoError(t, err)
	hash := manifest.HashBytes(aCode)
	assert.Equal(t, hash, m.Chunks["modvault:a.js"].Hash)
	_, err = os.Stat(filepath.Join(storeDir, "sha256", hash[:2], hash[2:]))
	assert.NoError(t, err, "store must hold the rewritten bytes")
}

func TestBuildCommand_JSONOutput(t *testing.T) {
	distDir, cfgPath := writeBuildFixture(t)
	outDir := t.TempDir()

	out, err := execute(t, "--format", "json", "build", distDir, "-c", cfgPath, "-o", outDir)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Data)
}

func TestBuildCommand_EmbedWritesBootstrap(t *testing.T) {
	distDir, cfgPath := writeBuildFixture(t)
	outDir := t.TempDir()

	_, err := execute(t, "build", distDir, "-c", cfgPath, "-o", outDir, "--embed")
	require.NoError(t, err)

	boot, err := os.ReadFile(filepath.Join(outDir, "modvault-bootstrap.js"))
	require.NoError(t, err)
	assert.Contains(t, string(boot), "__MODVAULT_MANIFEST__")
}

func TestBuildCommand_EntryNotManaged(t *testing.T) {
	distDir, _ := writeBuildFixture(t)
	cfgPath := writeConfig(t, `
build: {
	entry: "entry.js"
	base:  "/assets/"
	include: ["a.js"]
}
`)

	out, err := execute(t, "build", distDir, "-c", cfgPath, "-o", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeEntryUnmanaged)
}

func TestBuildCommand_InvalidPatternIsFatal(t *testing.T) {
	distDir, _ := writeBuildFixture(t)
	cfgPath := writeConfig(t, `
build: {
	entry: "entry.js"
	base:  "/assets/"
	exclude: ["!negated"]
}
`)

	out, err := execute(t, "build", distDir, "-c", cfgPath, "-o", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeInvalidPattern)
}

func TestBuildCommand_MissingDistDir(t *testing.T) {
	_, cfgPath := writeBuildFixture(t)

	out, err := execute(t, "build", filepath.Join(t.TempDir(), "nope"), "-c", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestBuildCommand_StrictFailsOnWarnings(t *testing.T) {
	distDir := t.TempDir()
	// A computed dynamic import cannot be redirected and is flagged.
	code := "const name = \"./a.js\";\nexport const load = () => import(name);\n"
	require.NoError(t, os.WriteFile(filepath.Join(distDir, "entry.js"), []byte(code), 0o644))
	cfgPath := writeConfig(t, `
build: {
	entry: "entry.js"
	base:  "/assets/"
}
`)

	_, err := execute(t, "build", distDir, "-c", cfgPath, "-o", t.TempDir(), "--strict")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
