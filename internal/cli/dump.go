package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Config   string
	Database string
	DBName   string
	Table    string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print stored table rows",
		Long: `Print the rows of one database, or of one table in it.

Text output prints one row per line. JSON output is canonical: rows are
ordered by table then key, object keys are sorted.

Examples:
  orchd dump --db ./orchd.db
  orchd dump --db ./orchd.db --db-name STATE --table PORT_TABLE
  orchd dump --db ./orchd.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to agent config, for store.path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the store, overriding store.path")
	cmd.Flags().StringVar(&opts.DBName, "db-name", store.DBAppl, "database to dump")
	cmd.Flags().StringVar(&opts.Table, "table", "", "table to dump (all tables when empty)")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	if !store.ValidDB(opts.DBName) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown database %q", opts.DBName))
	}
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := st.Rows(ctx, opts.DBName, opts.Table)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rows", err)
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		data, err := MarshalRows(rows)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	for _, r := range rows {
		fmt.Fprintln(w, formatRow(r))
	}
	return nil
}

// MarshalRows renders rows as canonical JSON.
func MarshalRows(rows []store.Row) ([]byte, error) {
	arr := make([]any, len(rows))
	for i, r := range rows {
		fields := make(map[string]any, len(r.Fields))
		for _, fv := range r.Fields {
			fields[fv.Field] = fv.Value
		}
		arr[i] = map[string]any{
			"db":     r.DB,
			"table":  r.Table,
			"key":    r.Key,
			"fields": fields,
		}
	}
	return task.MarshalCanonical(arr)
}

func formatRow(r store.Row) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s|%s", r.DB, r.Table, r.Key)
	for _, fv := range r.Fields {
		fmt.Fprintf(&buf, " %s=%s", fv.Field, fv.Value)
	}
	return buf.String()
}
