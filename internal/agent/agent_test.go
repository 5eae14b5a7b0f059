package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/device/sim"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/buffer"
	"github.com/roach88/orchd/internal/orch/flexcounter"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/orch/sflow"
	"github.com/roach88/orchd/internal/orch/switchattr"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	ctx   context.Context
	dev   *sim.Switch
	store *store.Store
	octx  *orch.Context
	links *hostif.Static
}

func newEnv(t *testing.T) *env {
	t.Helper()
	te := testutil.NewEnv(t)
	return &env{ctx: te.Ctx, dev: te.Dev, store: te.Store, octx: te.Octx, links: te.Links}
}

func (e *env) write(t *testing.T, db, table, key string, kv ...string) {
	t.Helper()
	require.NoError(t, e.store.Table(db, table).SetKV(e.ctx, key, kv...))
}

// seed stores a complete configuration as a producer would before the
// agent starts.
func (e *env) seed(t *testing.T) {
	e.write(t, store.DBAppl, ports.PortTable, "Ethernet0", "lanes", "0,1,2,3", "admin_status", "up")
	e.write(t, store.DBAppl, ports.PortTable, "Ethernet4", "lanes", "4,5,6,7")
	e.write(t, store.DBAppl, ports.PortTable, ports.KeyPortConfigDone, "count", "2")
	e.write(t, store.DBAppl, ports.PortTable, ports.KeyPortInitDone)
	e.write(t, store.DBAppl, buffer.ProfileTable, "pg_lossless", "size", "2048")
	e.write(t, store.DBAppl, buffer.PGTable, "Ethernet0|3-4", "profile", "pg_lossless")
	e.write(t, store.DBAppl, ports.VlanTable, "Vlan100")
	e.write(t, store.DBAppl, ports.VlanMemberTable, "Vlan100|Ethernet4", "tagging_mode", "tagged")
	e.write(t, store.DBAppl, sflow.GlobalTable, sflow.KeyGlobal, "admin_state", "up")
	e.write(t, store.DBAppl, sflow.SessionTable, "Ethernet0", "sample_rate", "4000")
	e.write(t, store.DBConfig, flexcounter.Table, "PORT", "FLEX_COUNTER_STATUS", "enable")
	e.write(t, store.DBAppl, switchattr.Table, switchattr.KeySwitch, "fdb_aging_time", "600")
}

func TestBootstrap(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	a, err := New(e.ctx, e.octx, Options{
		Dispatcher: []engine.Option{engine.WithRunIDGenerator(engine.NewFixedGenerator("run-1"))},
	})
	require.NoError(t, err)
	require.NoError(t, a.Bootstrap(e.ctx))
	require.NoError(t, a.Step(e.ctx))

	runID, ok, err := e.store.Table(store.DBState, InstanceTable).GetField(e.ctx, InstanceKey, "run_id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", runID)

	assert.True(t, a.Ports.AllPortsReady())
	assert.Empty(t, a.Dispatcher.PendingTasks())

	p, ok := a.Ports.GetPort("Ethernet0")
	require.True(t, ok)
	assert.True(t, p.AdminUp)
	assert.Len(t, a.Buffer.AppliedRanges(buffer.PGTable, "Ethernet0"), 1)

	v, ok := a.Ports.GetVlan("Vlan100")
	require.True(t, ok)
	assert.Contains(t, v.Members, "Ethernet4")

	s, ok := a.Sflow.Session("Ethernet0")
	require.True(t, ok)
	assert.Equal(t, uint32(4000), s.Rate)
	assert.Equal(t, 1, e.dev.Count(device.ObjectSamplePacket))

	keys, err := e.store.Table(store.DBCounters, flexcounter.PortNameMap).Keys(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ethernet0", "Ethernet4"}, keys)

	aging, ok := a.Switch.Applied("fdb_aging_time")
	assert.True(t, ok)
	assert.Equal(t, "600", aging)
}

func TestRun(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	a, err := New(e.ctx, e.octx, Options{
		Dispatcher: []engine.Option{engine.WithIdleInterval(10 * time.Millisecond)},
	})
	require.NoError(t, err)
	require.NoError(t, a.Bootstrap(e.ctx))

	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	e.write(t, store.DBAppl, ports.PortTable, "Ethernet4", "mtu", "1500")
	assert.Eventually(t, func() bool {
		l, ok := e.links.Link("Ethernet4")
		return ok && l.MTU == 1500
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestDuplicateSubscriptionRejected(t *testing.T) {
	e := newEnv(t)
	a, err := New(e.ctx, e.octx, Options{})
	require.NoError(t, err)
	c, err := e.octx.Subscribe(e.ctx, store.DBAppl, ports.PortTable, engine.HandlerReconciler(nil))
	require.NoError(t, err)
	assert.ErrorIs(t, a.Dispatcher.Add(c), engine.ErrDuplicateExecutor)
}

func TestDeliver(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	a, err := New(e.ctx, e.octx, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Bootstrap(e.ctx))
	require.NoError(t, a.Step(e.ctx))
	a.Deliver()
	require.NoError(t, a.Step(e.ctx))

	p, _ := a.Ports.GetPort("Ethernet0")
	require.NoError(t, e.dev.SetOperStatus(p.OID, device.OperDown))
	assert.Equal(t, 1, a.Deliver())
	require.NoError(t, a.Step(e.ctx))
	p, _ = a.Ports.GetPort("Ethernet0")
	assert.Equal(t, device.OperDown, p.OperStatus)
}
