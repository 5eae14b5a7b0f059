package ports

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/task"
)

func (r *Reconciler) handleVlan(ctx context.Context, t task.Task) (engine.Result, error) {
	alias := t.Key
	vlan, exists := r.vlans[alias]
	dev := r.octx.Device

	if t.Op == task.OpUpsert {
		if exists {
			return engine.Consumed(), nil
		}
		id, err := parseVlanID(alias)
		if err != nil {
			slog.Error("invalid vlan", "vlan", alias, "error", err)
			return engine.Invalid(), nil
		}
		oid, st := dev.Create(ctx, device.ObjectVlan, device.Attr{ID: device.AttrVlanID, Value: uint32(id)})
		if err := device.NewStatusError(device.OpCreate, device.ObjectVlan, device.NullOID, "", st); err != nil {
			return orch.Fail(VlanTable, alias, err)
		}
		r.vlans[alias] = &Vlan{Alias: alias, ID: id, OID: oid, Members: make(map[string]device.OID)}
		if _, err := r.octx.Graph.AddObject(RefVlan, alias, uint64(oid)); err != nil {
			return engine.Result{}, engine.NewInvariantFatal(VlanTable, alias, "track vlan: %v", err)
		}
		slog.Info("vlan created", "vlan", alias, "oid", oid.String())
		return engine.Consumed(), nil
	}

	if !exists {
		return engine.Consumed(), nil
	}
	if len(vlan.Members) > 0 || r.octx.Graph.IsObjectBeingReferenced(RefVlan, alias) {
		slog.Info("vlan removal waiting for members", "vlan", alias, "members", len(vlan.Members))
		return engine.Retry(), nil
	}
	st := dev.Remove(ctx, device.ObjectVlan, vlan.OID)
	if err := device.NewStatusError(device.OpRemove, device.ObjectVlan, vlan.OID, "", st); err != nil {
		return orch.Fail(VlanTable, alias, err)
	}
	delete(r.vlans, alias)
	r.octx.Graph.RemoveObject(RefVlan, alias)
	slog.Info("vlan removed", "vlan", alias)
	return engine.Consumed(), nil
}

// bridgeMember is a port or LAG that can join a VLAN.
type bridgeMember struct {
	l2    *l2
	oid   device.OID
	table string
	port  *Port
}

func (r *Reconciler) bridgeMember(alias string) (bridgeMember, bool) {
	if p, ok := r.ports[alias]; ok {
		return bridgeMember{l2: &p.l2, oid: p.OID, table: RefPort, port: p}, true
	}
	if l, ok := r.lags[alias]; ok {
		return bridgeMember{l2: &l.l2, oid: l.OID, table: RefLag}, true
	}
	return bridgeMember{}, false
}

func (r *Reconciler) handleVlanMember(ctx context.Context, t task.Task) (engine.Result, error) {
	vlanAlias, memberAlias, err := splitMemberKey(t.Key)
	if err != nil {
		slog.Error("invalid vlan member", "key", t.Key, "error", err)
		return engine.Invalid(), nil
	}
	if t.Op == task.OpDelete {
		return r.removeVlanMember(ctx, t.Key, vlanAlias, memberAlias)
	}

	tagging := "untagged"
	if v, ok := t.Get(fieldTaggingMode); ok {
		tagging = v
	}
	if !slices.Contains(taggingModes, tagging) {
		slog.Error("invalid tagging mode", "key", t.Key, "tagging_mode", tagging)
		return engine.Invalid(), nil
	}

	vlan, ok := r.vlans[vlanAlias]
	if !ok {
		slog.Debug("vlan member waiting for vlan", "key", t.Key)
		return engine.Retry(), nil
	}
	m, ok := r.bridgeMember(memberAlias)
	if !ok {
		slog.Debug("vlan member waiting for port", "key", t.Key)
		return engine.Retry(), nil
	}
	if m.port != nil && m.port.Lag != "" {
		slog.Warn("lag member port cannot join vlan, retried", "port", memberAlias, "lag", m.port.Lag)
		return engine.Retry(), nil
	}

	dev := r.octx.Device
	if oid, ok := vlan.Members[memberAlias]; ok {
		st := dev.Set(ctx, device.ObjectVlanMember, oid, device.Attr{ID: device.AttrVlanTagging, Value: tagging})
		if err := device.NewStatusError(device.OpSet, device.ObjectVlanMember, oid, device.AttrVlanTagging, st); err != nil {
			return orch.Fail(VlanMemberTable, t.Key, err)
		}
		r.notifyVlanMember(VlanMemberChange{Kind: Updated, Vlan: vlanAlias, Member: memberAlias, Tagging: tagging, OID: oid})
		return engine.Consumed(), nil
	}

	if m.l2.BridgePort == device.NullOID {
		bp, st := dev.Create(ctx, device.ObjectBridgePort,
			device.Attr{ID: device.AttrBridgePortPort, Value: m.oid},
			device.Attr{ID: device.AttrBridgePortType, Value: "port"})
		if err := device.NewStatusError(device.OpCreate, device.ObjectBridgePort, device.NullOID, "", st); err != nil {
			return orch.Fail(VlanMemberTable, t.Key, err)
		}
		m.l2.BridgePort = bp
		slog.Info("bridge port created", "member", memberAlias, "oid", bp.String())
		r.notifyBridgePort(Added, memberAlias, bp)
	}

	oid, st := dev.Create(ctx, device.ObjectVlanMember,
		device.Attr{ID: device.AttrVlanMemberVlan, Value: vlan.OID},
		device.Attr{ID: device.AttrVlanMemberPort, Value: m.l2.BridgePort},
		device.Attr{ID: device.AttrVlanTagging, Value: tagging})
	if err := device.NewStatusError(device.OpCreate, device.ObjectVlanMember, device.NullOID, "", st); err != nil {
		return orch.Fail(VlanMemberTable, t.Key, err)
	}
	vlan.Members[memberAlias] = oid
	m.l2.VlanMembers[vlanAlias] = oid

	g := r.octx.Graph
	if _, err := g.AddObject(RefVlanMember, t.Key, uint64(oid)); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(VlanMemberTable, t.Key, "track vlan member: %v", err)
	}
	if err := g.SetObjectReference(RefVlanMember, t.Key, "vlan", RefVlan+refgraph.Delimiter+vlanAlias); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(VlanMemberTable, t.Key, "reference vlan: %v", err)
	}
	if err := g.SetObjectReference(RefVlanMember, t.Key, "port", m.table+refgraph.Delimiter+memberAlias); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(VlanMemberTable, t.Key, "reference member: %v", err)
	}
	slog.Info("vlan member added", "vlan", vlanAlias, "member", memberAlias, "tagging_mode", tagging)
	r.notifyVlanMember(VlanMemberChange{Kind: Added, Vlan: vlanAlias, Member: memberAlias, Tagging: tagging, OID: oid})
	return engine.Consumed(), nil
}

// removeVlanMember removes the membership, then the member's bridge port
// once it has no VLAN left. A retried bridge port removal resumes here with
// the membership already gone.
func (r *Reconciler) removeVlanMember(ctx context.Context, key, vlanAlias, memberAlias string) (engine.Result, error) {
	m, ok := r.bridgeMember(memberAlias)
	if !ok {
		return engine.Consumed(), nil
	}
	dev := r.octx.Device

	if oid, ok := m.l2.VlanMembers[vlanAlias]; ok {
		st := dev.Remove(ctx, device.ObjectVlanMember, oid)
		if err := device.NewStatusError(device.OpRemove, device.ObjectVlanMember, oid, "", st); err != nil {
			return orch.Fail(VlanMemberTable, key, err)
		}
		delete(m.l2.VlanMembers, vlanAlias)
		if vlan, ok := r.vlans[vlanAlias]; ok {
			delete(vlan.Members, memberAlias)
		}
		r.octx.Graph.RemoveObject(RefVlanMember, key)
		slog.Info("vlan member removed", "vlan", vlanAlias, "member", memberAlias)
		r.notifyVlanMember(VlanMemberChange{Kind: Removed, Vlan: vlanAlias, Member: memberAlias, OID: oid})
	}

	if len(m.l2.VlanMembers) > 0 || m.l2.BridgePort == device.NullOID {
		return engine.Consumed(), nil
	}
	bp := m.l2.BridgePort
	st := dev.Remove(ctx, device.ObjectBridgePort, bp)
	if err := device.NewStatusError(device.OpRemove, device.ObjectBridgePort, bp, "", st); err != nil {
		return orch.Fail(VlanMemberTable, key, err)
	}
	m.l2.BridgePort = device.NullOID
	slog.Info("bridge port removed", "member", memberAlias)
	r.notifyBridgePort(Removed, memberAlias, bp)
	return engine.Consumed(), nil
}
