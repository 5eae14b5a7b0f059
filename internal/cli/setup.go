package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/orchd/internal/config"
	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/device/sim"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
)

// loadConfig reads the agent configuration, or the defaults when path is
// empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openStore opens the store at override, falling back to the configured
// path.
func openStore(cfg *config.Config, override string) (*store.Store, error) {
	path := cfg.Store.Path
	if override != "" {
		path = override
	}
	slog.Info("opening store", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}

// buildDevice returns the configured device backend.
func buildDevice(cfg *config.Config) (device.API, error) {
	switch cfg.Device.Backend {
	case "sim":
		dev, err := sim.New(cfg.Device.Sim.SimDevice())
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to build simulated device", err)
		}
		return dev, nil
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown device backend %q", cfg.Device.Backend))
}

// buildHostIf returns the configured host interface manager. The "none"
// backend keeps netdevs in memory, creating them on first use and seeding
// names.
func buildHostIf(cfg *config.Config, names ...string) hostif.Manager {
	if cfg.HostIf.Backend == "netlink" {
		return hostif.NewNetlinkManager(nil)
	}
	links := hostif.NewStatic(names...)
	links.AutoCreate = true
	return links
}

// newOrchContext binds the agent's shared resources.
func newOrchContext(cfg *config.Config, st *store.Store, dev device.API, links hostif.Manager) *orch.Context {
	return &orch.Context{
		Device: dev,
		Graph:  refgraph.New(),
		Store:  st,
		HostIf: links,
		ConsumerOptions: []engine.ConsumerOption{
			engine.WithBatchSize(cfg.Dispatcher.BatchSize),
		},
	}
}

// configuredPorts returns the port aliases in CONFIG.
func configuredPorts(ctx context.Context, st *store.Store, table string) ([]string, error) {
	keys, err := st.Table(store.DBConfig, table).Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("read configured ports: %w", err)
	}
	return keys, nil
}
