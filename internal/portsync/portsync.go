// Package portsync publishes the configured ports to the ports reconciler
// and signals when their host netdevs exist.
package portsync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// ConfigTable is the CONFIG table ports are read from.
const ConfigTable = "PORT"

// DefaultPollInterval is how often WaitInit checks for netdevs.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultMTU is the MTU given to ports that do not set one.
const DefaultMTU = 9100

// Syncer copies port configuration from CONFIG to APPL.
type Syncer struct {
	store *store.Store
	links hostif.Manager

	// PollInterval overrides DefaultPollInterval when non-zero.
	PollInterval time.Duration
	// MTU overrides DefaultMTU when non-zero.
	MTU int

	aliases []string
}

// New returns a Syncer.
func New(s *store.Store, links hostif.Manager) *Syncer {
	return &Syncer{store: s, links: links}
}

// SyncConfig writes every CONFIG port row to APPL PORT_TABLE, removes APPL
// ports that are no longer configured and writes PortConfigDone with the
// port count. It returns the count.
func (s *Syncer) SyncConfig(ctx context.Context) (int, error) {
	rows, err := s.store.Table(store.DBConfig, ConfigTable).Rows(ctx)
	if err != nil {
		return 0, fmt.Errorf("read port config: %w", err)
	}
	appl := s.store.Table(store.DBAppl, ports.PortTable)

	s.aliases = s.aliases[:0]
	for _, row := range rows {
		fields := row.Fields
		for _, d := range s.defaults() {
			if !slices.ContainsFunc(fields, func(fv task.FieldValue) bool { return fv.Field == d.Field }) {
				fields = append(fields, d)
			}
		}
		if err := appl.Set(ctx, row.Key, fields); err != nil {
			return 0, fmt.Errorf("publish port %s: %w", row.Key, err)
		}
		s.aliases = append(s.aliases, row.Key)
	}

	existing, err := appl.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("read port table: %w", err)
	}
	for _, key := range existing {
		if key == ports.KeyPortConfigDone || key == ports.KeyPortInitDone || slices.Contains(s.aliases, key) {
			continue
		}
		if err := appl.Del(ctx, key); err != nil {
			return 0, fmt.Errorf("remove port %s: %w", key, err)
		}
		slog.Info("stale port removed", "port", key)
	}

	n := len(s.aliases)
	if err := appl.SetKV(ctx, ports.KeyPortConfigDone, "count", fmt.Sprint(n)); err != nil {
		return 0, fmt.Errorf("publish %s: %w", ports.KeyPortConfigDone, err)
	}
	slog.Info("port configuration synced", "count", n)
	return n, nil
}

// WaitInit blocks until the netdev of every port published by SyncConfig
// exists, then writes PortInitDone.
func (s *Syncer) WaitInit(ctx context.Context) error {
	interval := s.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		missing, err := s.missing()
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			break
		}
		slog.Debug("waiting for port netdevs", "missing", missing)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := s.store.Table(store.DBAppl, ports.PortTable).SetKV(ctx, ports.KeyPortInitDone); err != nil {
		return fmt.Errorf("publish %s: %w", ports.KeyPortInitDone, err)
	}
	slog.Info("port netdevs ready", "count", len(s.aliases))
	return nil
}

// defaults are the fields filled into rows that do not set them.
func (s *Syncer) defaults() []task.FieldValue {
	mtu := s.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	return []task.FieldValue{
		{Field: "mtu", Value: strconv.Itoa(mtu)},
		{Field: "admin_status", Value: "down"},
	}
}

func (s *Syncer) missing() ([]string, error) {
	var out []string
	for _, alias := range s.aliases {
		ok, err := s.links.Exists(alias)
		if err != nil {
			return nil, fmt.Errorf("check netdev %s: %w", alias, err)
		}
		if !ok {
			out = append(out, alias)
		}
	}
	return out, nil
}
