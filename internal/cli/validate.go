package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// ModelSummary describes one registered model.
type ModelSummary struct {
	Name        string   `json:"name"`
	Table       string   `json:"table"`
	Fields      int      `json:"fields"`
	ParentStore bool     `json:"parent_store,omitempty"`
	Inherits    []string `json:"inherits,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool           `json:"valid"`
	Models  []ModelSummary `json:"models"`
	Stubbed []string       `json:"stubbed,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <defs>",
		Short: "Validate model definitions",
		Long: `Validate model definitions without touching a database.

The definitions are checked against the definition schema, then built
into a registry: relations, inverses, delegations, constraints and
triggers must all resolve. Function names the binary does not link are
listed as stubbed.

Examples:
  recordkit validate ./models.yaml
  recordkit validate ./models --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	p := newPrinter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loaded, err := LoadDefinitions(path, opts.Funcs)
	if err != nil {
		// Invalid definitions are validation failures, not command errors.
		if code := errorCode(err); code == ErrCodeLoadFailed || code == ErrCodeBuildFailed {
			_ = p.Error(code, err.Error(), nil)
			return WrapExitError(ExitFailure, "validation failed", err)
		}
		return fail(p, err)
	}

	result := ValidationResult{Valid: true, Stubbed: loaded.Stubbed}
	for _, m := range loaded.Registry.Models() {
		p.Debugf("Validated model: %s", m.Name)
		s := ModelSummary{Name: m.Name, Table: m.Table, Fields: len(m.Columns), ParentStore: m.ParentStore}
		for _, d := range m.Inherits {
			s.Inherits = append(s.Inherits, d.Parent)
		}
		result.Models = append(result.Models, s)
	}

	return p.Success(result)
}

func (r ValidationResult) writeText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %d model(s) valid\n", len(r.Models))
	for _, m := range r.Models {
		fmt.Fprintf(&b, "  %s (%s, %d fields)\n", m.Name, m.Table, m.Fields)
	}
	if len(r.Stubbed) > 0 {
		fmt.Fprintf(&b, "Stubbed functions: %s\n", strings.Join(r.Stubbed, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
