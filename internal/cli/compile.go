package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/schema"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Database string
}

// CompilationResult is the SQL a domain compiles to.
type CompilationResult struct {
	Model   string `json:"model"`
	Dialect string `json:"dialect"`
	From    string `json:"from"`
	Where   string `json:"where"`
	Params  []any  `json:"params"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <defs> <model> <domain-json>",
		Short: "Compile a domain to SQL",
		Long: `Compile a search domain against a model and print the FROM and WHERE
clauses with their parameters. Nothing is written: the schema is ensured
inside a transaction that is rolled back.

Example:
  recordkit compile ./models.yaml res.partner '[["name", "ilike", "ada"]]'
  recordkit compile ./models.yaml res.partner '["|", ["age", ">", 30], ["parent_id.name", "=", "Acme"]]' --db :memory:`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides database.dsn)")

	return cmd
}

func runCompile(opts *CompileOptions, path, modelName, domainJSON string, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	d, err := domain.Parse([]byte(domainJSON))
	if err != nil {
		return fail(p, err)
	}

	ctx, s, loaded, err := prepare(cmd, opts.RootOptions, path, opts.Database)
	if err != nil {
		return fail(p, err)
	}
	defer s.close()

	if err := schema.CreateTables(ctx, s.env.Tx(), loaded.Registry); err != nil {
		return fail(p, &LoadError{Code: ErrCodeDatabase, Message: "ensuring tables", Err: err})
	}
	from, where, params, err := s.env.Compile(ctx, modelName, d)
	if err != nil {
		return fail(p, err)
	}
	if params == nil {
		params = []any{}
	}
	result := CompilationResult{
		Model:   modelName,
		Dialect: s.db.Dialect().Name(),
		From:    from,
		Where:   where,
		Params:  params,
	}

	return p.Success(result)
}

func (r CompilationResult) writeText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "FROM %s\nWHERE %s\n", r.From, r.Where); err != nil {
		return err
	}
	if len(r.Params) == 0 {
		return nil
	}
	_, err := fmt.Fprintf(w, "PARAMS %v\n", r.Params)
	return err
}

// prepare loads the definitions and opens a session on the configured
// database. The caller closes the session.
func prepare(cmd *cobra.Command, opts *RootOptions, path, dsn string) (context.Context, *session, *LoadResult, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	loaded, err := LoadDefinitions(path, opts.Funcs)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := loadConfig(opts, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := openSession(ctx, cmd, opts, cfg, loaded.Registry)
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, s, loaded, nil
}
