package buffer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/device/sim"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	dev   *sim.Switch
	store *store.Store
	octx  *orch.Context
	ports *ports.Reconciler
	buf   *Reconciler
	execs []engine.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev, err := sim.New(sim.DefaultConfig())
	require.NoError(t, err)
	s, err := store.Open(filepath.Join(t.TempDir(), "orchd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	links := hostif.NewStatic()
	links.AutoCreate = true
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		dev:   dev,
		store: s,
		octx:  &orch.Context{Device: dev, Graph: refgraph.New(), Store: s, HostIf: links},
	}
}

// start builds and wires the reconcilers. Rows written before start make
// up the buffer readiness list.
func (f *fixture) start() {
	f.t.Helper()
	f.ports = ports.New(f.octx)
	f.buf = New(f.octx, f.ports)
	f.ports.SetBufferReadiness(f.buf)
	pe, err := f.ports.Executors(f.ctx)
	require.NoError(f.t, err)
	be, err := f.buf.Executors(f.ctx)
	require.NoError(f.t, err)
	f.execs = append(pe, be...)
}

func (f *fixture) write(table, key string, kv ...string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Table(store.DBAppl, table).SetKV(f.ctx, key, kv...))
}

func (f *fixture) del(table, key string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Table(store.DBAppl, table).Del(f.ctx, key))
}

func (f *fixture) run() {
	f.t.Helper()
	for _, e := range f.execs {
		require.NoError(f.t, e.Execute(f.ctx))
	}
}

func (f *fixture) pending(table string) int {
	f.t.Helper()
	for _, e := range f.execs {
		if c, ok := e.(*engine.Consumer); ok && c.Table() == table {
			return c.Queue().Len()
		}
	}
	f.t.Fatalf("no consumer for %s", table)
	return 0
}

func (f *fixture) writePorts() {
	f.write(ports.PortTable, "Ethernet0", "lanes", "0,1,2,3", "mtu", "9100")
	f.write(ports.PortTable, "Ethernet4", "lanes", "4,5,6,7", "mtu", "9100")
	f.write(ports.PortTable, ports.KeyPortConfigDone, "count", "2")
	f.write(ports.PortTable, ports.KeyPortInitDone)
}

func (f *fixture) stateRanges(table, alias string) string {
	f.t.Helper()
	v, _, err := f.store.Table(store.DBState, table).GetField(f.ctx, alias, fieldRanges)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) port(alias string) ports.Port {
	f.t.Helper()
	p, ok := f.ports.GetPort(alias)
	require.True(f.t, ok)
	return p
}

// bringUp stores a lossless profile assigned to Ethernet0, then starts the
// reconcilers and runs them until every port is ready.
func (f *fixture) bringUp() {
	f.t.Helper()
	f.write(ProfileTable, "pg_lossless", "size", "1024", "dynamic_th", "-3", "xon", "512")
	f.write(PGTable, "Ethernet0|3-4", "profile", "pg_lossless")
	f.write(QueueTable, "Ethernet0|0-2", "profile", "pg_lossless")
	f.start()
	f.writePorts()
	f.run()
	f.run()
	require.True(f.t, f.ports.AllPortsReady())
}

func TestReadinessGatesPort(t *testing.T) {
	f := newFixture(t)
	f.write(ProfileTable, "pg_lossless", "size", "1024")
	f.write(PGTable, "Ethernet0|3-4", "profile", "missing")
	f.start()
	assert.False(t, f.buf.IsPortReady("Ethernet0"))
	assert.True(t, f.buf.IsPortReady("Ethernet4"))

	f.writePorts()
	f.run()
	assert.True(t, f.ports.ConfigDone())
	assert.Equal(t, []string{"Ethernet0"}, f.ports.PendingPorts())
	assert.Equal(t, 1, f.pending(PGTable), "waiting for its profile")

	f.write(ProfileTable, "missing", "size", "2048")
	f.run()
	assert.True(t, f.buf.IsPortReady("Ethernet0"))
	f.run()
	assert.True(t, f.ports.AllPortsReady())
}

func TestRangesApplied(t *testing.T) {
	f := newFixture(t)
	f.bringUp()

	oid, ok := f.buf.Profile("pg_lossless")
	require.True(t, ok)
	p := f.port("Ethernet0")
	for _, i := range []int{3, 4} {
		v, ok := f.dev.Attr(p.PriorityGroups[i], device.AttrPriorityGroupProfile)
		require.True(t, ok)
		assert.Equal(t, oid, v)
	}
	_, ok = f.dev.Attr(p.PriorityGroups[2], device.AttrPriorityGroupProfile)
	assert.False(t, ok)
	for _, i := range []int{0, 1, 2} {
		v, _ := f.dev.Attr(p.Queues[i], device.AttrQueueProfile)
		assert.Equal(t, oid, v)
	}
	assert.Equal(t, "3-4", f.stateRanges(PGTable, "Ethernet0"))
	assert.Equal(t, "0-2", f.stateRanges(QueueTable, "Ethernet0"))

	f.write(PGTable, "Ethernet0|6", "profile", "pg_lossless")
	f.run()
	assert.Equal(t, []string{"3-4", "6"}, f.buf.AppliedRanges(PGTable, "Ethernet0"))
	assert.Equal(t, "3-4,6", f.stateRanges(PGTable, "Ethernet0"))
}

func TestOverlappingRangeDropped(t *testing.T) {
	f := newFixture(t)
	f.bringUp()

	f.write(PGTable, "Ethernet0|4-5", "profile", "pg_lossless")
	f.run()
	assert.Zero(t, f.pending(PGTable))
	assert.Equal(t, []string{"3-4"}, f.buf.AppliedRanges(PGTable, "Ethernet0"))
}

func TestInvalidRangesDropped(t *testing.T) {
	f := newFixture(t)
	f.bringUp()

	f.write(PGTable, "Ethernet0", "profile", "pg_lossless")
	f.write(PGTable, "Ethernet0|5-3", "profile", "pg_lossless")
	f.write(PGTable, "Ethernet0|7-9", "profile", "pg_lossless")
	f.write(PGTable, "Ethernet4|1", "profile", "[BUFFER_PROFILE:pg_lossless]")
	f.run()
	assert.Zero(t, f.pending(PGTable))
	assert.Empty(t, f.buf.AppliedRanges(PGTable, "Ethernet4"))
}

func TestProfileUpdated(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	oid, _ := f.buf.Profile("pg_lossless")
	f.dev.ResetCalls()

	f.write(ProfileTable, "pg_lossless", "size", "1024", "xon", "256")
	f.run()
	assert.Equal(t, []string{"set BUFFER_PROFILE " + oid.String() + " BUFFER_PROFILE_XON_TH=256 SUCCESS"}, f.dev.CallStrings())
}

func TestProfileRemovalWaitsForRanges(t *testing.T) {
	f := newFixture(t)
	f.bringUp()

	f.del(ProfileTable, "pg_lossless")
	f.run()
	_, ok := f.buf.Profile("pg_lossless")
	assert.True(t, ok)
	assert.Equal(t, 1, f.pending(ProfileTable))

	// A pending-remove profile no longer resolves for new ranges.
	f.write(PGTable, "Ethernet4|3", "profile", "pg_lossless")
	f.run()
	assert.Equal(t, 1, f.pending(PGTable))
	f.del(PGTable, "Ethernet4|3")

	f.del(PGTable, "Ethernet0|3-4")
	f.del(QueueTable, "Ethernet0|0-2")
	f.run()
	f.run()
	_, ok = f.buf.Profile("pg_lossless")
	assert.False(t, ok)
	assert.Zero(t, f.dev.Count(device.ObjectBufferProfile))
	assert.Empty(t, f.stateRanges(PGTable, "Ethernet0"))

	p := f.port("Ethernet0")
	v, _ := f.dev.Attr(p.PriorityGroups[3], device.AttrPriorityGroupProfile)
	assert.Equal(t, device.NullOID, v)
}

func TestPortRemovalWaitsForRanges(t *testing.T) {
	f := newFixture(t)
	f.bringUp()

	f.del(ports.PortTable, "Ethernet0")
	f.run()
	f.port("Ethernet0")

	f.del(PGTable, "Ethernet0|3-4")
	f.del(QueueTable, "Ethernet0|0-2")
	f.run()
	f.run()
	_, ok := f.ports.GetPort("Ethernet0")
	assert.False(t, ok)
}

func TestParseRangeKey(t *testing.T) {
	rk, err := parseRangeKey("Ethernet8|0-1")
	require.NoError(t, err)
	assert.Equal(t, "Ethernet8", rk.alias)
	assert.Equal(t, uint64(0b11), rk.bits)
	assert.Equal(t, []int{0, 1}, indices(rk.bits))

	_, err = parseRangeKey("|3")
	assert.Error(t, err)
	_, err = parseRangeKey("Ethernet8|64")
	assert.Error(t, err)
}
