package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/orchd/internal/harness"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Config   string
	Database string
}

// Entry is one table write in an apply file.
type Entry struct {
	// DB defaults to APPL.
	DB string `yaml:"db,omitempty"`
	// Key is "TABLE|key".
	Key string `yaml:"key"`
	// Op is "set" (default) or "del".
	Op     string         `yaml:"op,omitempty"`
	Fields harness.Fields `yaml:"fields,omitempty"`
}

// ApplyResult summarises an apply run.
type ApplyResult struct {
	Set     int `json:"set"`
	Deleted int `json:"deleted"`
}

func (r ApplyResult) String() string {
	return fmt.Sprintf("Applied %d set and %d del entries.", r.Set, r.Deleted)
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <file.yaml>",
		Short: "Write table entries into the store",
		Long: `Write table entries into the store, as a producer would.

The file is a YAML list of entries. Fields keep the order they are written
in; "set" merges them into the stored row and "del" removes the row.

  - key: PORT_TABLE|Ethernet0
    fields:
      lanes: "0,1,2,3"
      admin_status: up
  - db: CONFIG
    key: FLEX_COUNTER_TABLE|PORT
    fields:
      FLEX_COUNTER_STATUS: enable
  - key: BUFFER_PG_TABLE|Ethernet0|3-4
    op: del

Example:
  orchd apply --db ./orchd.db ports.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to agent config, for store.path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the store, overriding store.path")

	return cmd
}

func runApply(opts *ApplyOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	entries, err := LoadEntries(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load entries", err)
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
	var result ApplyResult
	for i, e := range entries {
		if err := applyEntry(ctx, st, e); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("entry %d (%s)", i, e.Key), err)
		}
		formatter.VerboseLog("%s %s %s", e.Op, e.DB, e.Key)
		if e.Op == "del" {
			result.Deleted++
		} else {
			result.Set++
		}
	}
	return formatter.Success(result)
}

func applyEntry(ctx context.Context, st *store.Store, e Entry) error {
	table, key, _ := strings.Cut(e.Key, "|")
	t := st.Table(e.DB, table)
	if e.Op == "del" {
		return t.Del(ctx, key)
	}
	return t.Set(ctx, key, []task.FieldValue(e.Fields))
}

// LoadEntries reads and validates an apply file. Missing db and op are
// filled with APPL and set.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		if e.DB == "" {
			e.DB = store.DBAppl
		}
		if e.Op == "" {
			e.Op = "set"
		}
		table, key, ok := strings.Cut(e.Key, "|")
		switch {
		case !ok || table == "" || key == "":
			return nil, fmt.Errorf("entries[%d]: key %q: want TABLE|key", i, e.Key)
		case e.Op != "set" && e.Op != "del":
			return nil, fmt.Errorf("entries[%d]: unknown op %q", i, e.Op)
		case e.Op == "del" && len(e.Fields) > 0:
			return nil, fmt.Errorf("entries[%d]: del takes no fields", i)
		case !store.ValidDB(e.DB):
			return nil, fmt.Errorf("entries[%d]: unknown db %q", i, e.DB)
		}
	}
	return entries, nil
}
