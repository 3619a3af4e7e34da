package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/model"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Funcs resolves the function names of model definitions. Names it
	// lacks are bound to stubs that fail when called.
	Funcs model.Funcs
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the recordkit CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithFuncs(model.Funcs{})
}

// NewRootCommandWithFuncs creates the root command for binaries that link
// their own compute, mapper and default functions.
func NewRootCommandWithFuncs(funcs model.Funcs) *cobra.Command {
	opts := &RootOptions{Funcs: funcs}

	cmd := &cobra.Command{
		Use:   "recordkit",
		Short: "recordkit - declarative records over SQL",
		Long: `Define models in YAML or CUE, then create, search and read their
records on SQLite or PostgreSQL through the record-access core.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
