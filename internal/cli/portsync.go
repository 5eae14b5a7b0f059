package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/orchd/internal/portsync"
)

// PortSyncOptions holds flags for the portsync command.
type PortSyncOptions struct {
	*RootOptions
	Config   string
	Database string
	Once     bool
	Timeout  time.Duration
	Poll     time.Duration
}

// NewPortSyncCommand creates the portsync command.
func NewPortSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PortSyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "portsync",
		Short: "Publish configured ports and wait for their netdevs",
		Long: `Copy the CONFIG PORT rows to APPL PORT_TABLE and write PortConfigDone,
then wait until the host netdev of every port exists and write
PortInitDone. The agent does not program ports before both are written.

Example:
  orchd portsync --config /etc/orchd/agent.cue
  orchd portsync --db ./orchd.db --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPortSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to agent config")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the store, overriding store.path")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "publish the configuration without waiting for netdevs")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up waiting for netdevs after this long (0 waits forever)")
	cmd.Flags().DurationVar(&opts.Poll, "poll", portsync.DefaultPollInterval, "netdev poll interval")

	return cmd
}

func runPortSync(opts *PortSyncOptions, cmd *cobra.Command) error {
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
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a kernel backend the configured ports stand in for netdevs.
	aliases, err := configuredPorts(ctx, st, portsync.ConfigTable)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read port config", err)
	}
	syncer := portsync.New(st, buildHostIf(cfg, aliases...))
	syncer.MTU = cfg.Port.DefaultMTU
	syncer.PollInterval = opts.Poll

	n, err := syncer.SyncConfig(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "port sync failed", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %d ports.\n", n)
	if opts.Once {
		return nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := syncer.WaitInit(ctx); err != nil {
		slog.Warn("port netdevs not ready", "error", err)
		return WrapExitError(ExitFailure, "waiting for port netdevs", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Port netdevs ready.")
	return nil
}
