package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/task"
)

// profileAttrs maps profile fields to device attributes.
var profileAttrs = map[string]device.AttrID{
	"size":       device.AttrBufferProfileSize,
	"dynamic_th": device.AttrBufferProfileDynamicTh,
	"static_th":  device.AttrBufferProfileStaticTh,
	"xon":        device.AttrBufferProfileXon,
	"xoff":       device.AttrBufferProfileXoff,
}

// parseProfile converts the known fields of t to device attributes in field
// order. dynamic_th is a signed exponent; every other value is a byte count.
func parseProfile(t task.Task) ([]device.Attr, error) {
	var attrs []device.Attr
	for _, fv := range t.Fields {
		id, ok := profileAttrs[fv.Field]
		if !ok {
			slog.Debug("buffer profile field ignored", "profile", t.Key, "field", fv.Field)
			continue
		}
		if fv.Field == "dynamic_th" {
			v, err := strconv.Atoi(fv.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid value %q", fv.Field, fv.Value)
			}
			attrs = append(attrs, device.Attr{ID: id, Value: v})
			continue
		}
		v, err := strconv.ParseUint(fv.Value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid value %q", fv.Field, fv.Value)
		}
		attrs = append(attrs, device.Attr{ID: id, Value: uint32(v)})
	}
	return attrs, nil
}

func (r *Reconciler) handleProfile(ctx context.Context, t task.Task) (engine.Result, error) {
	name := t.Key
	if t.Op == task.OpDelete {
		return r.removeProfile(ctx, name)
	}

	attrs, err := parseProfile(t)
	if err != nil {
		slog.Error("invalid buffer profile", "profile", name, "error", err)
		return engine.Invalid(), nil
	}
	dev := r.octx.Device

	p, ok := r.profiles[name]
	if !ok {
		if _, ok := device.Lookup(attrs, device.AttrBufferProfileSize); !ok {
			slog.Error("buffer profile without size", "task", t.Dump(ProfileTable))
			return engine.Invalid(), nil
		}
		oid, st := dev.Create(ctx, device.ObjectBufferProfile, attrs...)
		if err := device.NewStatusError(device.OpCreate, device.ObjectBufferProfile, device.NullOID, "", st); err != nil {
			return orch.Fail(ProfileTable, name, err)
		}
		p = &profile{oid: oid, values: make(map[device.AttrID]any)}
		for _, a := range attrs {
			p.values[a.ID] = a.Value
		}
		r.profiles[name] = p
		if _, err := r.octx.Graph.AddObject(RefProfile, name, uint64(oid)); err != nil {
			return engine.Result{}, engine.NewInvariantFatal(ProfileTable, name, "track profile: %v", err)
		}
		slog.Info("buffer profile created", "profile", name, "oid", oid.String())
		return engine.Consumed(), nil
	}

	// A profile set again while waiting to be removed is wanted after all.
	r.octx.Graph.SetPendingRemove(RefProfile, name, false)
	for _, a := range attrs {
		if p.values[a.ID] == a.Value {
			continue
		}
		st := dev.Set(ctx, device.ObjectBufferProfile, p.oid, a)
		if err := device.NewStatusError(device.OpSet, device.ObjectBufferProfile, p.oid, a.ID, st); err != nil {
			return orch.Fail(ProfileTable, name, err)
		}
		p.values[a.ID] = a.Value
	}
	return engine.Consumed(), nil
}

func (r *Reconciler) removeProfile(ctx context.Context, name string) (engine.Result, error) {
	p, ok := r.profiles[name]
	if !ok {
		return engine.Consumed(), nil
	}
	g := r.octx.Graph
	if g.IsObjectBeingReferenced(RefProfile, name) {
		g.SetPendingRemove(RefProfile, name, true)
		slog.Info("buffer profile removal waiting for references", "info", g.ReferenceInfo(RefProfile, name))
		return engine.Retry(), nil
	}
	st := r.octx.Device.Remove(ctx, device.ObjectBufferProfile, p.oid)
	if err := device.NewStatusError(device.OpRemove, device.ObjectBufferProfile, p.oid, "", st); err != nil {
		return orch.Fail(ProfileTable, name, err)
	}
	delete(r.profiles, name)
	g.RemoveObject(RefProfile, name)
	slog.Info("buffer profile removed", "profile", name)
	return engine.Consumed(), nil
}
