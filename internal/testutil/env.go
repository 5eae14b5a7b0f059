// Package testutil holds the fixture shared by reconciler and agent tests:
// a scratch store, a simulated switch and a static host interface manager
// bound into one orch.Context.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/device/sim"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
)

// Env is one isolated reconciliation environment.
type Env struct {
	Ctx   context.Context
	Dev   *sim.Switch
	Store *store.Store
	Links *hostif.Static
	Octx  *orch.Context
}

// NewEnv builds an Env on the default simulator profile. The store lives
// in t.TempDir and is closed on cleanup.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	return NewEnvWith(t, sim.DefaultConfig())
}

// NewEnvWith builds an Env on cfg.
func NewEnvWith(t testing.TB, cfg sim.Config) *Env {
	t.Helper()
	dev, err := sim.New(cfg)
	require.NoError(t, err)
	s, err := store.Open(filepath.Join(t.TempDir(), "orchd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Netdevs appear as soon as the agent touches them.
	links := hostif.NewStatic()
	links.AutoCreate = true

	return &Env{
		Ctx:   context.Background(),
		Dev:   dev,
		Store: s,
		Links: links,
		Octx:  &orch.Context{Device: dev, Graph: refgraph.New(), Store: s, HostIf: links},
	}
}

// Write merges kv pairs into db/table|key.
func (e *Env) Write(t testing.TB, db, table, key string, kv ...string) {
	t.Helper()
	require.NoError(t, e.Store.Table(db, table).SetKV(e.Ctx, key, kv...))
}

// Del deletes db/table|key.
func (e *Env) Del(t testing.TB, db, table, key string) {
	t.Helper()
	require.NoError(t, e.Store.Table(db, table).Del(e.Ctx, key))
}

// Execute runs every executor once, in order.
func (e *Env) Execute(t testing.TB, execs []engine.Executor) {
	t.Helper()
	for _, x := range execs {
		require.NoError(t, x.Execute(e.Ctx))
	}
}

// Pending returns the queue length of the consumer for table. It fails t
// when no executor consumes table.
func Pending(t testing.TB, execs []engine.Executor, table string) int {
	t.Helper()
	for _, x := range execs {
		if c, ok := x.(*engine.Consumer); ok && c.Table() == table {
			return c.Queue().Len()
		}
	}
	t.Fatalf("no consumer for %s", table)
	return 0
}
