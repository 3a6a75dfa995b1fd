package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/manifest"
)

// InspectData is the success payload of the inspect command.
type InspectData struct {
	Manifest *chunk.Manifest         `json:"manifest"`
	Cycles   []manifest.CycleWarning `json:"cycles,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <manifest.json>",
		Short: "Validate and summarize a manifest",
		Long: `Validate a manifest and print its chunk graph.

Lists each managed chunk with its hash, dependencies, and export
surface, flags reference cycles, and lists unmanaged chunks.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := readManifest(path)
	if err != nil {
		var cfgErr *ConfigError
		code := ErrCodeManifestBad
		msg := err.Error()
		if errors.As(err, &cfgErr) {
			code, msg = cfgErr.Code, cfgErr.Message
		}
		_ = formatter.Error(code, msg, nil)
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, msg), nil)
	}

	data := &InspectData{Manifest: m, Cycles: manifest.AnalyzeCycles(m)}
	if formatter.Format == "json" {
		return formatter.Success(data)
	}

	fmt.Fprintf(formatter.Writer, "Entry: %s\nBase:  %s\n\n", m.Entry, m.Base)
	fmt.Fprintf(formatter.Writer, "Managed chunks (%d):\n", len(m.Chunks))
	for _, vid := range m.SortedIDs() {
		c := m.Chunks[vid]
		fmt.Fprintf(formatter.Writer, "  %s\n", vid)
		fmt.Fprintf(formatter.Writer, "    hash: %s\n", c.Hash)
		fmt.Fprintf(formatter.Writer, "    path: %s\n", c.Path)
		if c.HasDefault {
			fmt.Fprintln(formatter.Writer, "    default export: yes")
		}
		for _, dep := range c.Deps {
			fmt.Fprintf(formatter.Writer, "    dep: %s\n", dep)
		}
		for _, u := range c.Unmanaged {
			fmt.Fprintf(formatter.Writer, "    unmanaged dep: %s\n", u)
		}
	}

	if len(m.Unmanaged) > 0 {
		fmt.Fprintf(formatter.Writer, "\nUnmanaged chunks (%d):\n", len(m.Unmanaged))
		for _, p := range m.Unmanaged {
			fmt.Fprintf(formatter.Writer, "  %s\n", p)
		}
	}

	if len(data.Cycles) > 0 {
		fmt.Fprintf(formatter.Writer, "\nCycles (%d):\n", len(data.Cycles))
		for _, c := range data.Cycles {
			fmt.Fprintf(formatter.Writer, "  %s\n", c)
		}
	}
	return nil
}

// readManifest loads and validates a manifest file.
func readManifest(path string) (*chunk.Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &ConfigError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest not found: %s", path)}
	}
	if err != nil {
		return nil, err
	}
	m, err := chunk.DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	return m, nil
}
