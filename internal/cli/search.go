package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/orm"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Database string
	Order    string
	Limit    int
	Offset   int
	Count    bool
}

// SearchResult holds the ids found, or their count.
type SearchResult struct {
	Model string  `json:"model"`
	IDs   []int64 `json:"ids,omitempty"`
	Count *int64  `json:"count,omitempty"`
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <defs> <model> <domain-json>",
		Short: "Search records matching a domain",
		Long: `Search the records of a model matching a domain, in the model order
unless --order is given. Archived records are excluded unless the domain
mentions active.

Examples:
  recordkit search ./models.yaml res.partner '[["age", ">=", 18]]' --db ./records.db
  recordkit search ./models.yaml res.partner '[]' --order "name desc" --limit 10
  recordkit search ./models.yaml res.partner '[["parent_id", "=", false]]' --count`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides database.dsn)")
	cmd.Flags().StringVar(&opts.Order, "order", "", "sort order, e.g. \"name desc, id\"")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of ids (0 means no limit)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of ids to skip")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matching records")

	return cmd
}

func runSearch(opts *SearchOptions, path, modelName, domainJSON string, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if opts.Limit < 0 || opts.Offset < 0 {
		return fail(p, &LoadError{Code: ErrCodeBadArgument, Message: "limit and offset must not be negative"})
	}

	d, err := domain.Parse([]byte(domainJSON))
	if err != nil {
		return fail(p, err)
	}

	ctx, s, _, err := prepare(cmd, opts.RootOptions, path, opts.Database)
	if err != nil {
		return fail(p, err)
	}
	defer s.close()

	result := SearchResult{Model: modelName}
	if opts.Count {
		n, err := s.env.SearchCount(ctx, modelName, d)
		if err != nil {
			return fail(p, err)
		}
		result.Count = &n
	} else {
		ids, err := s.env.SearchWith(ctx, modelName, orm.SearchParams{
			Domain: d,
			Order:  opts.Order,
			Limit:  opts.Limit,
			Offset: opts.Offset,
		})
		if err != nil {
			return fail(p, err)
		}
		result.IDs = ids
	}
	p.Debugf("Searched %s in transaction %s", modelName, s.env.ID())

	return p.Success(result)
}

// writeText prints the count, or one id per line.
func (r SearchResult) writeText(w io.Writer) error {
	if r.Count != nil {
		_, err := fmt.Fprintln(w, *r.Count)
		return err
	}
	for _, id := range r.IDs {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}
