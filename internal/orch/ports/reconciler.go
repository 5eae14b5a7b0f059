package ports

import (
	"context"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// collectedPort is a port row seen before config was done.
type collectedPort struct {
	alias string
	lanes []uint32
	speed uint32
}

// Reconciler owns the port, LAG and VLAN tables.
//
// CRITICAL: All methods run on the dispatcher goroutine. The published
// accessors (AllPortsReady, GetPort, ...) are meant for sibling reconcilers
// running on that same goroutine.
type Reconciler struct {
	octx *orch.Context

	state     ConfigState
	expected  int
	collected map[string]collectedPort // by lane key
	initDone  bool

	ports   map[string]*Port
	byOID   map[device.OID]*Port
	byLanes map[string]string // lane key to alias
	lags    map[string]*Lag
	vlans   map[string]*Vlan

	pending   mapset.Set[string]
	buffer    BufferReadiness
	observers []Observer
}

// New creates a Reconciler. Call Executors to subscribe it to its tables.
func New(octx *orch.Context) *Reconciler {
	for _, t := range []string{RefPort, RefLag, RefVlan, RefLagMember, RefVlanMember} {
		octx.Graph.Register(t)
	}
	return &Reconciler{
		octx:      octx,
		collected: make(map[string]collectedPort),
		ports:     make(map[string]*Port),
		byOID:     make(map[device.OID]*Port),
		byLanes:   make(map[string]string),
		lags:      make(map[string]*Lag),
		vlans:     make(map[string]*Vlan),
		pending:   mapset.NewThreadUnsafeSet[string](),
		buffer:    alwaysReady{},
	}
}

// SetBufferReadiness installs the buffer readiness gate. Until it is set
// every port is considered ready.
func (r *Reconciler) SetBufferReadiness(b BufferReadiness) {
	if b == nil {
		b = alwaysReady{}
	}
	r.buffer = b
}

// Subscribe registers an observer.
func (r *Reconciler) Subscribe(o Observer) {
	r.observers = append(r.observers, o)
}

// Executors subscribes to the owned APPL tables and returns their Consumers
// followed by the oper status notification executor.
func (r *Reconciler) Executors(ctx context.Context) ([]engine.Executor, error) {
	tables := []struct {
		name string
		rec  engine.Reconciler
	}{
		{PortTable, engine.ReconcilerFunc(r.processPorts)},
		{LagTable, r.gated(r.handleLag)},
		{LagMemberTable, r.gated(r.handleLagMember)},
		{VlanTable, r.gated(r.handleVlan)},
		{VlanMemberTable, r.gated(r.handleVlanMember)},
	}
	var out []engine.Executor
	for _, t := range tables {
		c, err := r.octx.Subscribe(ctx, store.DBAppl, t.name, t.rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	out = append(out, engine.NewNotificationConsumer(StatusExecutor, r.octx.Device.Notifications(), r.HandleNotification))
	return out, nil
}

// gated drains through fn only once all ports are ready. Until then the
// queue is left as is.
func (r *Reconciler) gated(fn engine.HandlerFunc) engine.Reconciler {
	return engine.ReconcilerFunc(func(ctx context.Context, c *engine.Consumer) error {
		if !r.AllPortsReady() {
			return nil
		}
		return c.DrainWith(ctx, fn)
	})
}

// ConfigState returns the global port configuration state.
func (r *Reconciler) ConfigState() ConfigState { return r.state }

// ConfigDone reports whether the bulk port reconciliation has run.
func (r *Reconciler) ConfigDone() bool { return r.state == ConfigDone }

// AllPortsReady reports whether every configured port is created,
// initialised and past the buffer readiness gate.
func (r *Reconciler) AllPortsReady() bool {
	return r.state == ConfigDone && r.initDone && r.pending.Cardinality() == 0
}

// PendingPorts returns the sorted aliases waiting on buffer readiness.
func (r *Reconciler) PendingPorts() []string {
	out := r.pending.ToSlice()
	slices.Sort(out)
	return out
}

// GetPort returns the port named alias.
func (r *Reconciler) GetPort(alias string) (Port, bool) {
	p, ok := r.ports[alias]
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// GetPortByHandle returns the port with device handle oid.
func (r *Reconciler) GetPortByHandle(oid device.OID) (Port, bool) {
	p, ok := r.byOID[oid]
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// Ports returns every port sorted by first lane.
func (r *Reconciler) Ports() []Port {
	out := make([]Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Port) int { return comparePorts(a.Lanes, a.Alias, b.Lanes, b.Alias) })
	return out
}

// GetLag returns the LAG named alias.
func (r *Reconciler) GetLag(alias string) (Lag, bool) {
	l, ok := r.lags[alias]
	if !ok {
		return Lag{}, false
	}
	return *l, true
}

// GetVlan returns the VLAN named alias.
func (r *Reconciler) GetVlan(alias string) (Vlan, bool) {
	v, ok := r.vlans[alias]
	if !ok {
		return Vlan{}, false
	}
	return *v, true
}

func comparePorts(al []uint32, an string, bl []uint32, bn string) int {
	switch {
	case len(al) > 0 && len(bl) > 0 && slices.Min(al) != slices.Min(bl):
		if slices.Min(al) < slices.Min(bl) {
			return -1
		}
		return 1
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return 0
}

func (r *Reconciler) notifyPort(kind ChangeKind, p *Port) {
	for _, o := range r.observers {
		o.OnPortChange(PortChange{Kind: kind, Port: *p})
	}
}

func (r *Reconciler) notifyBridgePort(kind ChangeKind, member string, oid device.OID) {
	for _, o := range r.observers {
		o.OnBridgePortChange(BridgePortChange{Kind: kind, Member: member, OID: oid})
	}
}

func (r *Reconciler) notifyVlanMember(c VlanMemberChange) {
	for _, o := range r.observers {
		o.OnVlanMemberChange(c)
	}
}

func (r *Reconciler) notifyLagMember(c LagMemberChange) {
	for _, o := range r.observers {
		o.OnLagMemberChange(c)
	}
}

// publishState writes STATE PORT_TABLE|alias. Store failures are fatal: the
// published state is what other processes wait on.
func (r *Reconciler) publishState(ctx context.Context, alias string, kv ...string) error {
	if err := r.octx.Publish(ctx, store.DBState, PortTable, alias, task.Pairs(kv...)...); err != nil {
		return &engine.FatalError{Code: engine.ErrCodeStore, Table: PortTable, Key: alias, Err: err}
	}
	return nil
}

func (r *Reconciler) mirrorAdminState(p *Port) {
	if r.octx.HostIf == nil {
		return
	}
	if err := r.octx.HostIf.SetAdminState(p.Alias, p.AdminUp); err != nil {
		slog.Warn("host interface admin state not updated", "port", p.Alias, "error", err)
	}
}

func (r *Reconciler) mirrorMTU(p *Port) {
	if r.octx.HostIf == nil {
		return
	}
	if err := r.octx.HostIf.SetMTU(p.Alias, int(p.MTU)); err != nil {
		slog.Warn("host interface mtu not updated", "port", p.Alias, "error", err)
	}
}
