package ports

import (
	"context"
	"log/slog"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/task"
)

func (r *Reconciler) handleLag(ctx context.Context, t task.Task) (engine.Result, error) {
	alias := t.Key
	lag, exists := r.lags[alias]
	dev := r.octx.Device

	if t.Op == task.OpUpsert {
		if exists {
			return engine.Consumed(), nil
		}
		oid, st := dev.Create(ctx, device.ObjectLag)
		if err := device.NewStatusError(device.OpCreate, device.ObjectLag, device.NullOID, "", st); err != nil {
			return orch.Fail(LagTable, alias, err)
		}
		r.lags[alias] = &Lag{
			Alias:   alias,
			OID:     oid,
			Members: make(map[string]device.OID),
			l2:      l2{VlanMembers: make(map[string]device.OID)},
		}
		if _, err := r.octx.Graph.AddObject(RefLag, alias, uint64(oid)); err != nil {
			return engine.Result{}, engine.NewInvariantFatal(LagTable, alias, "track lag: %v", err)
		}
		slog.Info("lag created", "lag", alias, "oid", oid.String())
		return engine.Consumed(), nil
	}

	if !exists {
		return engine.Consumed(), nil
	}
	if len(lag.Members) > 0 || lag.BridgePort != device.NullOID {
		slog.Info("lag removal waiting for members", "lag", alias, "members", len(lag.Members))
		return engine.Retry(), nil
	}
	if r.octx.Graph.IsObjectBeingReferenced(RefLag, alias) {
		slog.Info("lag removal waiting for references", "info", r.octx.Graph.ReferenceInfo(RefLag, alias))
		return engine.Retry(), nil
	}
	st := dev.Remove(ctx, device.ObjectLag, lag.OID)
	if err := device.NewStatusError(device.OpRemove, device.ObjectLag, lag.OID, "", st); err != nil {
		return orch.Fail(LagTable, alias, err)
	}
	delete(r.lags, alias)
	r.octx.Graph.RemoveObject(RefLag, alias)
	slog.Info("lag removed", "lag", alias)
	return engine.Consumed(), nil
}

func (r *Reconciler) handleLagMember(ctx context.Context, t task.Task) (engine.Result, error) {
	lagAlias, portAlias, err := splitMemberKey(t.Key)
	if err != nil {
		slog.Error("invalid lag member", "key", t.Key, "error", err)
		return engine.Invalid(), nil
	}
	dev := r.octx.Device
	lag, lagOK := r.lags[lagAlias]
	p, portOK := r.ports[portAlias]

	if t.Op == task.OpDelete {
		if !lagOK || !portOK || p.Lag != lagAlias {
			return engine.Consumed(), nil
		}
		st := dev.Remove(ctx, device.ObjectLagMember, p.LagMember)
		if err := device.NewStatusError(device.OpRemove, device.ObjectLagMember, p.LagMember, "", st); err != nil {
			return orch.Fail(LagMemberTable, t.Key, err)
		}
		oid := p.LagMember
		delete(lag.Members, portAlias)
		p.Lag, p.LagMember = "", device.NullOID
		r.octx.Graph.RemoveObject(RefLagMember, t.Key)
		slog.Info("lag member removed", "lag", lagAlias, "port", portAlias)
		r.notifyLagMember(LagMemberChange{Kind: Removed, Lag: lagAlias, Member: portAlias, OID: oid})
		return engine.Consumed(), nil
	}

	if !lagOK || !portOK {
		slog.Debug("lag member waiting for lag and port", "key", t.Key)
		return engine.Retry(), nil
	}
	if p.Lag == lagAlias {
		return engine.Consumed(), nil
	}
	if p.Lag != "" || p.BridgePort != device.NullOID {
		slog.Warn("port is busy, lag member retried", "port", portAlias, "lag", p.Lag)
		return engine.Retry(), nil
	}

	oid, st := dev.Create(ctx, device.ObjectLagMember,
		device.Attr{ID: device.AttrLagMemberLag, Value: lag.OID},
		device.Attr{ID: device.AttrLagMemberPort, Value: p.OID})
	if err := device.NewStatusError(device.OpCreate, device.ObjectLagMember, device.NullOID, "", st); err != nil {
		return orch.Fail(LagMemberTable, t.Key, err)
	}
	lag.Members[portAlias] = oid
	p.Lag, p.LagMember = lagAlias, oid

	g := r.octx.Graph
	if _, err := g.AddObject(RefLagMember, t.Key, uint64(oid)); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(LagMemberTable, t.Key, "track lag member: %v", err)
	}
	if err := g.SetObjectReference(RefLagMember, t.Key, "lag", RefLag+refgraph.Delimiter+lagAlias); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(LagMemberTable, t.Key, "reference lag: %v", err)
	}
	if err := g.SetObjectReference(RefLagMember, t.Key, "port", RefPort+refgraph.Delimiter+portAlias); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(LagMemberTable, t.Key, "reference port: %v", err)
	}
	slog.Info("lag member added", "lag", lagAlias, "port", portAlias)
	r.notifyLagMember(LagMemberChange{Kind: Added, Lag: lagAlias, Member: portAlias, OID: oid})
	return engine.Consumed(), nil
}
