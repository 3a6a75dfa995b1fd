package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Config is the build configuration, loaded from a CUE file.
//
// Example:
//
//	build: {
//		entry: "app.js"
//		base:  "/assets/"
//		include: ["*.js", "pages/**"]
//		exclude: ["legacy/**"]
//	}
type Config struct {
	// Entry is the build-output path of the entry chunk. It must be
	// selected as managed.
	Entry string `json:"entry"`

	// Base is the path prefix chunks are served under.
	Base string `json:"base"`

	// Include selects managed chunks by gitignore-style pattern. Empty
	// means every chunk is managed.
	Include []string `json:"include"`

	// Exclude removes chunks from the managed set. Exclusion wins over
	// inclusion.
	Exclude []string `json:"exclude"`
}

// ConfigError represents an error loading or decoding the build config.
type ConfigError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *ConfigError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadConfig loads and validates the build configuration from a CUE
// file.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &ConfigError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	} else if err != nil {
		return nil, &ConfigError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config file: %v", err)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{filepath.Base(path)}, &load.Config{Dir: filepath.Dir(path)})
	if len(instances) == 0 {
		return nil, &ConfigError{Code: ErrCodeConfigLoad, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &ConfigError{Code: ErrCodeConfigLoad, Message: fmt.Sprintf("loading CUE config: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &ConfigError{Code: ErrCodeConfigBuild, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	buildVal := value.LookupPath(cue.ParsePath("build"))
	if !buildVal.Exists() {
		return nil, &ConfigError{Code: ErrCodeConfigBuild, Message: "config has no build section"}
	}

	var cfg Config
	if err := buildVal.Decode(&cfg); err != nil {
		return nil, &ConfigError{
			Code:    ErrCodeConfigBuild,
			Message: fmt.Sprintf("decoding build section: %v", err),
			Pos:     buildVal.Pos(),
		}
	}

	if cfg.Entry == "" {
		return nil, &ConfigError{Code: ErrCodeConfigBuild, Message: "build.entry is required", Pos: buildVal.Pos()}
	}
	if cfg.Base == "" {
		return nil, &ConfigError{Code: ErrCodeConfigBuild, Message: "build.base is required", Pos: buildVal.Pos()}
	}
	return &cfg, nil
}
