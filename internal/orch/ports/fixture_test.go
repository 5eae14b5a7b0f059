package ports

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/device/sim"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	dev   *sim.Switch
	store *store.Store
	links *hostif.Static
	rec   *Reconciler
	execs []engine.Executor

	changes []string
}

func newFixture(t *testing.T, cfg sim.Config) *fixture {
	t.Helper()
	dev, err := sim.New(cfg)
	require.NoError(t, err)
	s, err := store.Open(filepath.Join(t.TempDir(), "orchd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	links := hostif.NewStatic()
	links.AutoCreate = true
	octx := &orch.Context{Device: dev, Graph: refgraph.New(), Store: s, HostIf: links}

	f := &fixture{t: t, ctx: context.Background(), dev: dev, store: s, links: links, rec: New(octx)}
	f.rec.Subscribe(ObserverFuncs{
		Port: func(c PortChange) { f.changes = append(f.changes, "port "+c.Kind.String()+" "+c.Port.Alias) },
		BridgePort: func(c BridgePortChange) {
			f.changes = append(f.changes, "bridge_port "+c.Kind.String()+" "+c.Member)
		},
		VlanMember: func(c VlanMemberChange) {
			f.changes = append(f.changes, "vlan_member "+c.Kind.String()+" "+c.Vlan+" "+c.Member)
		},
		LagMember: func(c LagMemberChange) {
			f.changes = append(f.changes, "lag_member "+c.Kind.String()+" "+c.Lag+" "+c.Member)
		},
	})
	f.execs, err = f.rec.Executors(f.ctx)
	require.NoError(t, err)
	return f
}

func (f *fixture) write(table, key string, kv ...string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Table(store.DBAppl, table).SetKV(f.ctx, key, kv...))
}

func (f *fixture) del(table, key string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Table(store.DBAppl, table).Del(f.ctx, key))
}

// run executes every executor once, in registration order.
func (f *fixture) run() {
	f.t.Helper()
	for _, e := range f.execs {
		require.NoError(f.t, e.Execute(f.ctx))
	}
}

// deliver hands every queued device notification to the reconciler.
func (f *fixture) deliver() {
	f.t.Helper()
	for {
		select {
		case n := <-f.dev.Notifications():
			require.NoError(f.t, f.rec.HandleNotification(f.ctx, n))
		default:
			return
		}
	}
}

func (f *fixture) consumer(table string) *engine.Consumer {
	f.t.Helper()
	for _, e := range f.execs {
		if c, ok := e.(*engine.Consumer); ok && c.Table() == table {
			return c
		}
	}
	f.t.Fatalf("no consumer for %s", table)
	return nil
}

func (f *fixture) state(key, field string) string {
	f.t.Helper()
	v, _, err := f.store.Table(store.DBState, PortTable).GetField(f.ctx, key, field)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) port(alias string) Port {
	f.t.Helper()
	p, ok := f.rec.GetPort(alias)
	require.True(f.t, ok, "port %s", alias)
	return p
}

// writeDefaultPorts configures one port per hardware port of
// sim.DefaultConfig, named Ethernet0, Ethernet4, ...
func (f *fixture) writeDefaultPorts() {
	for i := 0; i < 8; i++ {
		base := i * 4
		f.write(PortTable, fmt.Sprintf("Ethernet%d", base),
			"lanes", fmt.Sprintf("%d,%d,%d,%d", base, base+1, base+2, base+3),
			"speed", "100000",
			"mtu", "9100",
			"admin_status", "down")
	}
}

// bringUp configures the default ports and completes port initialisation.
func (f *fixture) bringUp() {
	f.t.Helper()
	f.writeDefaultPorts()
	f.write(PortTable, KeyPortConfigDone, "count", "8")
	f.write(PortTable, KeyPortInitDone)
	f.run()
	require.True(f.t, f.rec.AllPortsReady())
}

func (f *fixture) adminUp(alias string) {
	f.t.Helper()
	f.write(PortTable, alias, "admin_status", "up")
	f.run()
	require.True(f.t, f.port(alias).AdminUp)
}

type readiness map[string]bool

func (r readiness) IsPortReady(alias string) bool { return r[alias] }

// callsOn returns the recorded calls on oid.
func callsOn(dev *sim.Switch, oid device.OID) []string {
	var out []string
	for _, c := range dev.Calls() {
		if c.OID == oid {
			out = append(out, c.String())
		}
	}
	return out
}
