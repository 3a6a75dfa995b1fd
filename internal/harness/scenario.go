package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios run the whole pipeline over a small chunk graph and assert
// on the resolution outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the build configuration.
	Config ScenarioConfig `yaml:"config"`

	// Chunks is the input chunk graph, keyed by build-output path.
	Chunks []ScenarioChunk `yaml:"chunks"`

	// Precache lists chunk paths whose final rewritten bytes are
	// preloaded into the content store before bootstrap, simulating a
	// warm cache.
	Precache []string `yaml:"precache,omitempty"`

	// Missing lists chunk paths withheld from the origin server,
	// simulating a deploy that dropped a chunk.
	Missing []string `yaml:"missing,omitempty"`

	// Concurrent switches bootstrap to concurrent fan-out. The default
	// is sequential so traces stay deterministic.
	Concurrent bool `yaml:"concurrent,omitempty"`

	// Expect describes the required outcome.
	Expect Expectations `yaml:"expect"`
}

// ScenarioConfig mirrors the build config section.
type ScenarioConfig struct {
	Entry   string   `yaml:"entry"`
	Base    string   `yaml:"base"`
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// ScenarioChunk is one input chunk.
type ScenarioChunk struct {
	Path string `yaml:"path"`
	Code string `yaml:"code"`
}

// Expectations validate the resolution outcome. Zero-valued fields are
// not checked, except Bootstrap which is required.
type Expectations struct {
	// Bootstrap is "ok" or "reject".
	Bootstrap string `yaml:"bootstrap"`

	// Resolved lists chunk paths that must end Resolved.
	Resolved []string `yaml:"resolved,omitempty"`

	// Failed lists chunk paths that must end Failed.
	Failed []string `yaml:"failed,omitempty"`

	// Aliases is the expected number of lazy aliases constructed.
	Aliases *int `yaml:"aliases,omitempty"`

	// StoreHits is the expected number of content store hits.
	StoreHits *int64 `yaml:"store_hits,omitempty"`

	// NetworkFetches is the expected number of origin fetches.
	NetworkFetches *int64 `yaml:"network_fetches,omitempty"`

	// WriteBacks is the expected number of store write-backs.
	WriteBacks *int64 `yaml:"write_backs,omitempty"`

	// Warnings is the expected number of rewrite warnings.
	Warnings *int `yaml:"warnings,omitempty"`
}

// Bootstrap outcome constants.
const (
	BootstrapOK     = "ok"
	BootstrapReject = "reject"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "expects:" vs "expect:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config.Entry == "" {
		return fmt.Errorf("config.entry is required")
	}
	if s.Config.Base == "" {
		return fmt.Errorf("config.base is required")
	}
	if len(s.Chunks) == 0 {
		return fmt.Errorf("chunks list is required and must be non-empty")
	}

	paths := make(map[string]bool, len(s.Chunks))
	for i, c := range s.Chunks {
		if c.Path == "" {
			return fmt.Errorf("chunks[%d]: path is required", i)
		}
		if c.Code == "" {
			return fmt.Errorf("chunks[%d]: code is required", i)
		}
		if paths[c.Path] {
			return fmt.Errorf("chunks[%d]: duplicate path %q", i, c.Path)
		}
		paths[c.Path] = true
	}
	if !paths[s.Config.Entry] {
		return fmt.Errorf("config.entry %q is not among the chunks", s.Config.Entry)
	}
	for _, p := range s.Precache {
		if !paths[p] {
			return fmt.Errorf("precache path %q is not among the chunks", p)
		}
	}
	for _, p := range s.Missing {
		if !paths[p] {
			return fmt.Errorf("missing path %q is not among the chunks", p)
		}
	}

	switch s.Expect.Bootstrap {
	case BootstrapOK, BootstrapReject:
	case "":
		return fmt.Errorf("expect.bootstrap is required")
	default:
		return fmt.Errorf("expect.bootstrap must be %q or %q", BootstrapOK, BootstrapReject)
	}
	return nil
}
