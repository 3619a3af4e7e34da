package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	Database string
	Fields   []string
}

// ReadResult holds the rows read.
type ReadResult struct {
	Model string           `json:"model"`
	Rows  []map[string]any `json:"rows"`
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read <defs> <model> <ids>",
		Short: "Read field values of records",
		Long: `Read the values of records given as a comma-separated id list. Without
--fields every field is read. Many2one values are ids, x2many values id
lists.

Example:
  recordkit read ./models.yaml res.partner 1,2,3 --fields name,parent_id --db ./records.db`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(opts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides database.dsn)")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "fields to read (comma-separated)")

	return cmd
}

func runRead(opts *ReadOptions, path, modelName, idList string, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	ids, err := parseIDs(idList)
	if err != nil {
		return fail(p, err)
	}

	ctx, s, _, err := prepare(cmd, opts.RootOptions, path, opts.Database)
	if err != nil {
		return fail(p, err)
	}
	defer s.close()

	var fields []string
	if len(opts.Fields) > 0 {
		fields = opts.Fields
	}
	rows, err := s.env.Read(ctx, modelName, ids, fields)
	if err != nil {
		return fail(p, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	result := ReadResult{Model: modelName, Rows: rows}

	return p.Success(result)
}

// writeText prints one block per row, fields sorted by name.
func (r ReadResult) writeText(w io.Writer) error {
	for _, row := range r.Rows {
		if _, err := fmt.Fprintf(w, "%s(%v)\n", r.Model, row["id"]); err != nil {
			return err
		}
		keys := make([]string, 0, len(row))
		for k := range row {
			if k != "id" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, "  %s: %v\n", k, row[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseIDs parses a comma-separated list of positive ids.
func parseIDs(list string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("invalid id %q", part)}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, &LoadError{Code: ErrCodeBadArgument, Message: "no ids given"}
	}
	return ids, nil
}
