package sflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/device/sim"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/testutil"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	dev   *sim.Switch
	store *store.Store
	octx  *orch.Context
	ports *ports.Reconciler
	sflow *Reconciler
	execs []engine.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testutil.NewEnv(t)
	f := &fixture{
		t:     t,
		ctx:   env.Ctx,
		dev:   env.Dev,
		store: env.Store,
		octx:  env.Octx,
	}
	f.ports = ports.New(f.octx)
	f.sflow = New(f.octx, f.ports)
	pe, err := f.ports.Executors(f.ctx)
	require.NoError(t, err)
	se, err := f.sflow.Executors(f.ctx)
	require.NoError(t, err)
	f.execs = append(pe, se...)
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

func (f *fixture) run() {
	f.t.Helper()
	for _, e := range f.execs {
		require.NoError(f.t, e.Execute(f.ctx))
	}
}

func (f *fixture) pending(table string) int {
	f.t.Helper()
	return testutil.Pending(f.t, f.execs, table)
}

func (f *fixture) writePorts() {
	f.write(ports.PortTable, "Ethernet0", "lanes", "0,1,2,3")
	f.write(ports.PortTable, "Ethernet4", "lanes", "4,5,6,7")
	f.write(ports.PortTable, ports.KeyPortConfigDone, "count", "2")
	f.write(ports.PortTable, ports.KeyPortInitDone)
}

func (f *fixture) bringUp() {
	f.t.Helper()
	f.writePorts()
	f.write(GlobalTable, KeyGlobal, fieldAdminState, "up")
	f.run()
	f.run()
	require.True(f.t, f.ports.AllPortsReady())
	require.True(f.t, f.sflow.Enabled())
}

func (f *fixture) port(alias string) ports.Port {
	f.t.Helper()
	p, ok := f.ports.GetPort(alias)
	require.True(f.t, ok)
	return p
}

// sampling returns the ingress and egress sampler bound to alias.
func (f *fixture) sampling(alias string) (device.OID, device.OID) {
	f.t.Helper()
	oid := f.port(alias).OID
	in, _ := f.dev.Attr(oid, device.AttrPortIngressSamplePacket)
	out, _ := f.dev.Attr(oid, device.AttrPortEgressSamplePacket)
	ingress, _ := in.(device.OID)
	egress, _ := out.(device.OID)
	return ingress, egress
}

func TestSessionsWaitForPorts(t *testing.T) {
	f := newFixture(t)
	f.write(GlobalTable, KeyGlobal, fieldAdminState, "up")
	f.write(SessionTable, "Ethernet0", fieldRate, "4000")
	f.run()
	assert.Equal(t, 1, f.pending(SessionTable))

	f.writePorts()
	f.run()
	f.run()
	assert.Equal(t, 0, f.pending(SessionTable))
	s, ok := f.sflow.Session("Ethernet0")
	require.True(t, ok)
	assert.Equal(t, uint32(4000), s.Rate)
	assert.Equal(t, "rx", s.Direction)
}

func TestSamplerSharedPerRate(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, "Ethernet0", fieldRate, "4000")
	f.write(SessionTable, "Ethernet4", fieldRate, "4000", fieldDirection, "both")
	f.run()

	assert.Equal(t, 1, f.dev.Count(device.ObjectSamplePacket))
	sampler, ok := f.sflow.Sampler(4000)
	require.True(t, ok)

	in, out := f.sampling("Ethernet0")
	assert.Equal(t, sampler, in)
	assert.Equal(t, device.NullOID, out)
	in, out = f.sampling("Ethernet4")
	assert.Equal(t, sampler, in)
	assert.Equal(t, sampler, out)

	f.del(SessionTable, "Ethernet0")
	f.run()
	assert.Equal(t, 1, f.dev.Count(device.ObjectSamplePacket), "still used by Ethernet4")
	in, _ = f.sampling("Ethernet0")
	assert.Equal(t, device.NullOID, in)

	f.del(SessionTable, "Ethernet4")
	f.run()
	assert.Equal(t, 0, f.dev.Count(device.ObjectSamplePacket))
	_, ok = f.sflow.Sampler(4000)
	assert.False(t, ok)
	assert.False(t, f.octx.Graph.Exists(RefSampler, "4000"))
}

func TestRateChangeMovesSampler(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, "Ethernet0", fieldRate, "4000")
	f.run()
	old, _ := f.sflow.Sampler(4000)

	f.write(SessionTable, "Ethernet0", fieldRate, "8000")
	f.run()
	next, ok := f.sflow.Sampler(8000)
	require.True(t, ok)
	assert.NotEqual(t, old, next)
	_, ok = f.sflow.Sampler(4000)
	assert.False(t, ok, "unreferenced sampler removed")
	assert.Equal(t, 1, f.dev.Count(device.ObjectSamplePacket))
	in, _ := f.sampling("Ethernet0")
	assert.Equal(t, next, in)
}

func TestDirectionChange(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, "Ethernet0", fieldRate, "4000", fieldDirection, "rx")
	f.run()
	sampler, _ := f.sflow.Sampler(4000)

	f.write(SessionTable, "Ethernet0", fieldDirection, "tx")
	f.run()
	in, out := f.sampling("Ethernet0")
	assert.Equal(t, device.NullOID, in)
	assert.Equal(t, sampler, out)

	f.write(SessionTable, "Ethernet0", fieldRate, "4000")
	f.run()
	s, _ := f.sflow.Session("Ethernet0")
	assert.Equal(t, "tx", s.Direction, "absent direction keeps the current one")
}

func TestAdminDownUnbinds(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, "Ethernet0", fieldRate, "4000")
	f.run()

	f.write(SessionTable, "Ethernet0", fieldAdminState, "down")
	f.run()
	in, _ := f.sampling("Ethernet0")
	assert.Equal(t, device.NullOID, in)
	assert.Equal(t, 1, f.dev.Count(device.ObjectSamplePacket), "session keeps its sampler")

	f.write(SessionTable, "Ethernet0", fieldAdminState, "up")
	f.run()
	sampler, _ := f.sflow.Sampler(4000)
	in, _ = f.sampling("Ethernet0")
	assert.Equal(t, sampler, in)
}

func TestAllPorts(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, KeyAll, fieldRate, "2000")
	f.run()
	sampler, ok := f.sflow.Sampler(2000)
	require.True(t, ok)
	for _, alias := range []string{"Ethernet0", "Ethernet4"} {
		in, _ := f.sampling(alias)
		assert.Equal(t, sampler, in, alias)
	}

	f.del(SessionTable, KeyAll)
	f.run()
	assert.Equal(t, 0, f.dev.Count(device.ObjectSamplePacket))
}

func TestSessionRetainedWhileDisabled(t *testing.T) {
	f := newFixture(t)
	f.writePorts()
	f.write(SessionTable, "Ethernet0", fieldRate, "4000")
	f.run()
	assert.Equal(t, 1, f.pending(SessionTable))

	f.write(GlobalTable, KeyGlobal, fieldAdminState, "up")
	f.run()
	assert.Equal(t, 0, f.pending(SessionTable))

	f.del(GlobalTable, KeyGlobal)
	f.run()
	assert.False(t, f.sflow.Enabled())
}

func TestSessionWithoutRateWaits(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, "Ethernet0", fieldRate, "error")
	f.run()
	assert.Equal(t, 1, f.pending(SessionTable))
	assert.Equal(t, 0, f.dev.Count(device.ObjectSamplePacket))

	f.write(SessionTable, "Ethernet0", fieldRate, "1000")
	f.run()
	assert.Equal(t, 0, f.pending(SessionTable))
}

func TestInvalidSessionDropped(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, "Ethernet0", fieldRate, "fast")
	f.write(SessionTable, "Ethernet4", fieldRate, "100", fieldDirection, "sideways")
	f.write(GlobalTable, "local", fieldAdminState, "up")
	f.run()
	assert.Equal(t, 0, f.pending(SessionTable))
	assert.Equal(t, 0, f.pending(GlobalTable))
	_, ok := f.sflow.Session("Ethernet0")
	assert.False(t, ok)
}

func TestPortRemovalWaitsForSession(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.write(SessionTable, "Ethernet4", fieldRate, "4000")
	f.run()

	f.del(ports.PortTable, "Ethernet4")
	f.run()
	assert.Equal(t, 1, f.pending(ports.PortTable))

	f.del(SessionTable, "Ethernet4")
	f.run()
	f.run()
	assert.Equal(t, 0, f.pending(ports.PortTable))
	_, ok := f.ports.GetPort("Ethernet4")
	assert.False(t, ok)
}

func TestBindFailureReleasesSampler(t *testing.T) {
	f := newFixture(t)
	f.bringUp()
	f.dev.InjectFault(sim.Fault{
		Op: device.OpSet, Type: device.ObjectPort,
		Attr: device.AttrPortIngressSamplePacket, Status: device.StatusInvalidAttrValue,
	})
	f.write(SessionTable, "Ethernet0", fieldRate, "4000")
	f.run()
	assert.Equal(t, 0, f.pending(SessionTable), "terminal failure drops the session")
	_, ok := f.sflow.Session("Ethernet0")
	assert.False(t, ok)
	assert.Equal(t, 0, f.dev.Count(device.ObjectSamplePacket))
	assert.False(t, f.octx.Graph.Exists(RefSampler, "4000"))
}
