package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/schema"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Database string
}

// InitResult lists the models whose tables were created or updated.
type InitResult struct {
	Database string   `json:"database"`
	Models   []string `json:"models"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init <defs>",
		Short: "Create the tables of model definitions",
		Long: `Create the tables, relation tables, sequences and indexes of the
models in a database. Tables that already exist are left untouched.

Example:
  recordkit init ./models.yaml --db ./records.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides database.dsn)")

	return cmd
}

func runInit(opts *InitOptions, path string, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loaded, err := LoadDefinitions(path, opts.Funcs)
	if err != nil {
		return fail(p, err)
	}
	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return fail(p, err)
	}
	s, err := openSession(ctx, cmd, opts.RootOptions, cfg, loaded.Registry)
	if err != nil {
		return fail(p, err)
	}
	defer s.close()

	if err := schema.CreateTables(ctx, s.env.Tx(), loaded.Registry); err != nil {
		return fail(p, &LoadError{Code: ErrCodeDatabase, Message: "creating tables", Err: err})
	}
	if err := s.env.Commit(); err != nil {
		return fail(p, &LoadError{Code: ErrCodeDatabase, Message: "committing schema", Err: err})
	}

	result := InitResult{Database: cfg.Database.DSN}
	for _, m := range loaded.Registry.Models() {
		result.Models = append(result.Models, m.Name)
	}
	s.logger.Info("schema initialized", "models", len(result.Models))

	return p.Success(result)
}

func (r InitResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "✓ Initialized %d model(s) in %s\n", len(r.Models), r.Database)
	return err
}
