package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/orchd/internal/agent"
	"github.com/roach88/orchd/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration agent",
		Long: `Run the orchestration agent.

The agent opens the table store, builds the device backend and the
reconcilers, replays every stored entry in bootstrap priority order and
then reconciles changes until interrupted.

Exit codes:
  0 - Stopped by SIGINT or SIGTERM
  2 - Command error (bad config, store not openable, etc.)
  3 - Reconciliation aborted on a fatal error

Example:
  orchd run --config /etc/orchd/agent.cue
  orchd run --config ./agent.cue --db /tmp/orchd.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to agent config (defaults apply when empty)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the store, overriding store.path")

	return cmd
}

func runAgent(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st)

	dev, err := buildDevice(cfg)
	if err != nil {
		return err
	}
	octx := newOrchContext(cfg, st, dev, buildHostIf(cfg))

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	agentOpts := agent.Options{Dispatcher: []engine.Option{
		engine.WithPollInterval(cfg.Dispatcher.Poll),
		engine.WithIdleInterval(cfg.Dispatcher.Idle),
	}}
	if len(cfg.Dispatcher.BootstrapPriority) > 0 {
		agentOpts.Priority = cfg.Dispatcher.BootstrapPriority
	}
	a, err := agent.New(ctx, octx, agentOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to assemble agent", err)
	}

	if cfg.Metrics.Listen != "" {
		m, err := startMetrics(cfg.Metrics.Listen, newMetricsRegistry())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer m.Close()
	}

	slog.Info("agent bootstrapping", "run_id", a.Dispatcher.RunID())
	if err := a.Bootstrap(ctx); err != nil {
		return agentExit("bootstrap failed", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Agent started. Reconciling table changes...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := a.Run(ctx); err != nil {
		return agentExit("agent stopped", err)
	}
	slog.Info("agent stopped gracefully")
	return nil
}

// agentExit maps a bootstrap or run error to an exit error. Cancellation
// is a clean stop.
func agentExit(msg string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Info("agent stopped gracefully")
		return nil
	case engine.IsFatal(err):
		slog.Error("reconciliation aborted", "error", err)
		return WrapExitError(ExitFatal, msg, err)
	}
	return WrapExitError(ExitFailure, msg, err)
}
