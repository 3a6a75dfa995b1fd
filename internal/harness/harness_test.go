package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modvault/modvault/internal/virtualize"
)

// runScenarioFile loads, runs, and checks one scenario file.
func runScenarioFile(t *testing.T, name string) *Result {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	for _, checkErr := range Check(s, result) {
		t.Error(checkErr)
	}
	return result
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			runScenarioFile(t, filepath.Base(f))
		})
	}
}

func TestScenario_WarmCacheImportsEntry(t *testing.T) {
	result := runScenarioFile(t, "warm_cache.yaml")
	assert.Equal(t, []string{"modvault:entry.js"}, result.Loader.Imports())
	assert.Equal(t, 1, result.Loader.Installs())
}

func TestScenario_UnmanagedRegisteredByURL(t *testing.T) {
	result := runScenarioFile(t, "unmanaged_vendor.yaml")

	installed := result.Loader.Installed()
	assert.Equal(t, "/assets/vendor.js", installed["modvault:vendor.js"])
	assert.Equal(t, []string{"vendor.js"}, result.Manifest.Unmanaged)

	// The rewritten entry references the vendor chunk by direct URL
	// after substitution.
	code := string(result.Loader.Code("modvault:entry.js"))
	assert.Contains(t, code, `"/assets/vendor.js"`)
}

func TestScenario_MissingChunkNeverInstallsTable(t *testing.T) {
	result := runScenarioFile(t, "missing_chunk.yaml")
	assert.Equal(t, 0, result.Loader.Installs(), "a rejected bootstrap must not install a partial table")
	assert.Empty(t, result.Loader.Imports())
}

func TestScenario_ConcurrentCycleStillResolves(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "cycle.yaml"))
	require.NoError(t, err)
	s.Concurrent = true
	// Alias and fetch counts depend on interleaving; only the terminal
	// outcome is stable under concurrency.
	s.Expect.Aliases = nil
	s.Expect.NetworkFetches = nil
	s.Expect.WriteBacks = nil

	for i := 0; i < 10; i++ {
		result, err := Run(s)
		require.NoError(t, err)
		for _, checkErr := range Check(s, result) {
			t.Error(checkErr)
		}
		assert.Equal(t, virtualize.StateResolved, result.Table.State("modvault:x.js"))
		assert.Equal(t, virtualize.StateResolved, result.Table.State("modvault:y.js"))
	}
}

func TestCheck_ReportsEveryViolation(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "warm_cache.yaml"))
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)

	bad := *s
	bad.Expect.Bootstrap = BootstrapReject
	hits := int64(99)
	bad.Expect.StoreHits = &hits

	errs := Check(&bad, result)
	assert.Len(t, errs, 2)
}
