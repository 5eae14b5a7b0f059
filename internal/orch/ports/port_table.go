package ports

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// processPorts drains PORT_TABLE, running the bulk reconciliation as soon as
// the collected configuration is complete.
func (r *Reconciler) processPorts(ctx context.Context, c *engine.Consumer) error {
	before := r.state
	if err := c.DrainWith(ctx, r.handlePort); err != nil {
		return err
	}
	if before == ConfigMissing && r.state == ConfigReceived {
		// Rows passed over while config was missing are collected now.
		if err := c.DrainWith(ctx, r.handlePort); err != nil {
			return err
		}
	}
	if r.state == ConfigReceived && len(r.collected) >= r.expected {
		if err := r.reconcileHardware(ctx); err != nil {
			return err
		}
		return c.DrainWith(ctx, r.handlePort)
	}
	return nil
}

func (r *Reconciler) handlePort(ctx context.Context, t task.Task) (engine.Result, error) {
	switch t.Key {
	case KeyPortConfigDone:
		return r.handleConfigDone(t), nil
	case KeyPortInitDone:
		if t.Op == task.OpUpsert && !r.initDone {
			r.initDone = true
			slog.Info("host interfaces created")
		}
		return engine.Consumed(), nil
	}

	switch r.state {
	case ConfigMissing:
		return engine.Retry(), nil
	case ConfigReceived:
		return r.collect(t), nil
	}

	if t.Op == task.OpDelete {
		return r.removePort(ctx, t.Key)
	}
	return r.setPort(ctx, t)
}

func (r *Reconciler) handleConfigDone(t task.Task) engine.Result {
	if t.Op == task.OpDelete {
		return engine.Ignore()
	}
	v, ok := t.Get(fieldCount)
	if !ok {
		slog.Error("port config done without count", "task", t.Dump(PortTable))
		return engine.Invalid()
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Error("invalid port count", "count", v)
		return engine.Invalid()
	}
	if r.state == ConfigMissing {
		r.state = ConfigReceived
		r.expected = n
		slog.Info("port config received", "count", n)
	}
	return engine.Consumed()
}

// collect records a port row by lane set while waiting for the full
// configuration. The row stays queued and is applied once config is done.
func (r *Reconciler) collect(t task.Task) engine.Result {
	for key, cp := range r.collected {
		if cp.alias == t.Key && (t.Op == task.OpDelete || t.Has(fieldLanes)) {
			delete(r.collected, key)
		}
	}
	if t.Op == task.OpDelete {
		return engine.Retry()
	}
	v, ok := t.Get(fieldLanes)
	if !ok {
		return engine.Retry()
	}
	lanes, err := parseLanes(v)
	if err != nil {
		slog.Error("invalid port lanes", "port", t.Key, "error", err)
		return engine.Invalid()
	}
	cp := collectedPort{alias: t.Key, lanes: lanes}
	if s, ok := t.Get(fieldSpeed); ok {
		if speed, err := parseUint32(s); err == nil {
			cp.speed = speed
		}
	}
	r.collected[device.LaneKey(lanes)] = cp
	return engine.Retry()
}

// hardwarePorts reads the device port list keyed by lane set.
func (r *Reconciler) hardwarePorts(ctx context.Context) (map[string]device.OID, error) {
	dev := r.octx.Device
	attrs, st := dev.Get(ctx, device.ObjectSwitch, dev.SwitchID(), device.AttrSwitchPortList)
	if st != device.StatusSuccess {
		return nil, device.NewStatusError(device.OpGet, device.ObjectSwitch, dev.SwitchID(), device.AttrSwitchPortList, st)
	}
	list, _ := attrs[0].Value.([]device.OID)
	out := make(map[string]device.OID, len(list))
	for _, oid := range list {
		pa, st := dev.Get(ctx, device.ObjectPort, oid, device.AttrPortHwLanes)
		if st != device.StatusSuccess {
			return nil, device.NewStatusError(device.OpGet, device.ObjectPort, oid, device.AttrPortHwLanes, st)
		}
		lanes, _ := pa[0].Value.([]uint32)
		out[device.LaneKey(lanes)] = oid
	}
	return out, nil
}

// reconcileHardware runs once, when the collected configuration is
// complete. Any failure here is fatal.
func (r *Reconciler) reconcileHardware(ctx context.Context) error {
	dev := r.octx.Device
	existing, err := r.hardwarePorts(ctx)
	if err != nil {
		return engine.NewDeviceFatal(PortTable, "", fmt.Errorf("read hardware ports: %w", err))
	}

	var stale []device.OID
	for _, key := range slices.Sorted(maps.Keys(existing)) {
		if _, ok := r.collected[key]; !ok {
			stale = append(stale, existing[key])
		}
	}
	if len(stale) > 0 {
		statuses := dev.BulkRemove(ctx, device.ObjectPort, stale)
		if err := device.BulkErr(device.OpRemove, device.ObjectPort, stale, statuses); err != nil {
			return engine.NewDeviceFatal(PortTable, "", fmt.Errorf("remove unconfigured ports: %w", err))
		}
	}

	configs := slices.Collect(maps.Values(r.collected))
	slices.SortFunc(configs, func(a, b collectedPort) int { return comparePorts(a.lanes, a.alias, b.lanes, b.alias) })

	var (
		createKeys  []string
		createAttrs [][]device.Attr
	)
	for _, cp := range configs {
		key := device.LaneKey(cp.lanes)
		if _, ok := existing[key]; ok {
			continue
		}
		attrs := []device.Attr{{ID: device.AttrPortHwLanes, Value: cp.lanes}}
		if cp.speed != 0 {
			attrs = append(attrs, device.Attr{ID: device.AttrPortSpeed, Value: cp.speed})
		}
		createKeys = append(createKeys, key)
		createAttrs = append(createAttrs, attrs)
	}
	if len(createAttrs) > 0 {
		oids, statuses := dev.BulkCreate(ctx, device.ObjectPort, createAttrs)
		if err := device.BulkErr(device.OpCreate, device.ObjectPort, oids, statuses); err != nil {
			return engine.NewDeviceFatal(PortTable, "", fmt.Errorf("create ports: %w", err))
		}
		for i, key := range createKeys {
			existing[key] = oids[i]
		}
	}

	for _, cp := range configs {
		p := newPort(cp.alias, existing[device.LaneKey(cp.lanes)], cp.lanes)
		if err := r.initPort(ctx, p); err != nil {
			return err
		}
	}

	r.state = ConfigDone
	r.collected = make(map[string]collectedPort)
	slog.Info("port config done",
		"ports", len(configs),
		"removed", len(stale),
		"created", len(createAttrs))
	return nil
}

// initPort creates the port's host interface and reads its initial state,
// then starts tracking it. Failures are fatal.
func (r *Reconciler) initPort(ctx context.Context, p *Port) error {
	dev := r.octx.Device

	hif, st := dev.Create(ctx, device.ObjectHostIf,
		device.Attr{ID: device.AttrHostIfName, Value: p.Alias},
		device.Attr{ID: device.AttrHostIfObject, Value: p.OID})
	if err := device.NewStatusError(device.OpCreate, device.ObjectHostIf, p.OID, "", st); err != nil {
		if device.OutcomeOf(err) != device.Success {
			return engine.NewDeviceFatal(PortTable, p.Alias, err)
		}
		slog.Warn("host interface not created", "port", p.Alias, "status", st.String())
	} else {
		p.HostIf = hif
	}

	attrs, st := dev.Get(ctx, device.ObjectPort, p.OID,
		device.AttrPortAdminState, device.AttrPortOperStatus, device.AttrPortSpeed,
		device.AttrPortMTU, device.AttrPortFEC,
		device.AttrPortQueueList, device.AttrPortPriorityGroupList, device.AttrPortSchedulerGroupList)
	if st != device.StatusSuccess {
		return engine.NewDeviceFatal(PortTable, p.Alias,
			device.NewStatusError(device.OpGet, device.ObjectPort, p.OID, "", st))
	}
	for _, a := range attrs {
		switch a.ID {
		case device.AttrPortAdminState:
			p.AdminUp, _ = a.Value.(bool)
		case device.AttrPortOperStatus:
			p.OperStatus, _ = a.Value.(device.OperStatus)
		case device.AttrPortSpeed:
			p.Speed, _ = a.Value.(uint32)
		case device.AttrPortMTU:
			p.MTU, _ = a.Value.(uint32)
		case device.AttrPortFEC:
			p.FEC, _ = a.Value.(string)
		case device.AttrPortQueueList:
			p.Queues, _ = a.Value.([]device.OID)
		case device.AttrPortPriorityGroupList:
			p.PriorityGroups, _ = a.Value.([]device.OID)
		case device.AttrPortSchedulerGroupList:
			p.SchedulerGroups, _ = a.Value.([]device.OID)
		}
	}

	if _, err := r.octx.Graph.AddObject(RefPort, p.Alias, uint64(p.OID)); err != nil {
		return engine.NewInvariantFatal(PortTable, p.Alias, "track port: %v", err)
	}
	r.ports[p.Alias] = p
	r.byOID[p.OID] = p
	r.byLanes[device.LaneKey(p.Lanes)] = p.Alias

	if err := r.publishState(ctx, p.Alias, "state", "ok"); err != nil {
		return err
	}
	slog.Info("port initialized",
		"port", p.Alias,
		"oid", p.OID.String(),
		"lanes", formatUint32List(p.Lanes),
		"queues", len(p.Queues))
	r.notifyPort(Added, p)
	return nil
}

// setPort applies a row to an existing port, creating the port first when
// it is new.
func (r *Reconciler) setPort(ctx context.Context, t task.Task) (engine.Result, error) {
	p, ok := r.ports[t.Key]
	if !ok {
		res, err := r.createPort(ctx, t)
		if err != nil || res.Status != engine.StatusSuccess {
			return res, err
		}
		p = r.ports[t.Key]
	}

	if !r.buffer.IsPortReady(p.Alias) {
		if !r.pending.Contains(p.Alias) {
			slog.Debug("port waiting for buffer configuration", "port", p.Alias)
		}
		r.pending.Add(p.Alias)
		return engine.Retry(), nil
	}
	r.pending.Remove(p.Alias)

	return r.applyAttributes(ctx, p, t)
}

// createPort creates a port added after config was done.
func (r *Reconciler) createPort(ctx context.Context, t task.Task) (engine.Result, error) {
	v, ok := t.Get(fieldLanes)
	if !ok {
		slog.Error("new port without lanes", "task", t.Dump(PortTable))
		return engine.Invalid(), nil
	}
	lanes, err := parseLanes(v)
	if err != nil {
		slog.Error("invalid port lanes", "port", t.Key, "error", err)
		return engine.Invalid(), nil
	}
	if owner, ok := r.byLanes[device.LaneKey(lanes)]; ok {
		slog.Warn("lanes still used by another port", "port", t.Key, "owner", owner)
		return engine.Retry(), nil
	}

	attrs := []device.Attr{{ID: device.AttrPortHwLanes, Value: lanes}}
	if s, ok := t.Get(fieldSpeed); ok {
		speed, err := parseUint32(s)
		if err != nil {
			slog.Error("invalid port speed", "port", t.Key, "error", err)
			return engine.Invalid(), nil
		}
		attrs = append(attrs, device.Attr{ID: device.AttrPortSpeed, Value: speed})
	}
	oid, st := r.octx.Device.Create(ctx, device.ObjectPort, attrs...)
	if err := device.NewStatusError(device.OpCreate, device.ObjectPort, device.NullOID, "", st); err != nil {
		slog.Warn("port create failed", "port", t.Key, "error", err)
		return orch.Fail(PortTable, t.Key, err)
	}
	if err := r.initPort(ctx, newPort(t.Key, oid, lanes)); err != nil {
		return engine.Result{}, err
	}
	return engine.Consumed(), nil
}

// removePort removes a port once nothing uses it.
func (r *Reconciler) removePort(ctx context.Context, alias string) (engine.Result, error) {
	p, ok := r.ports[alias]
	if !ok {
		r.pending.Remove(alias)
		return engine.Consumed(), nil
	}
	if p.BridgePort != device.NullOID || p.LagMember != device.NullOID {
		slog.Info("port removal waiting for membership removal", "port", alias)
		return engine.Retry(), nil
	}
	if r.octx.Graph.IsObjectBeingReferenced(RefPort, alias) {
		slog.Info("port removal waiting for references", "info", r.octx.Graph.ReferenceInfo(RefPort, alias))
		return engine.Retry(), nil
	}

	dev := r.octx.Device
	if p.Serdes != device.NullOID {
		st := dev.Remove(ctx, device.ObjectPortSerdes, p.Serdes)
		if err := device.NewStatusError(device.OpRemove, device.ObjectPortSerdes, p.Serdes, "", st); err != nil {
			return removeFailure(alias, err)
		}
		p.Serdes = device.NullOID
	}
	if p.HostIf != device.NullOID {
		st := dev.Remove(ctx, device.ObjectHostIf, p.HostIf)
		if err := device.NewStatusError(device.OpRemove, device.ObjectHostIf, p.HostIf, "", st); err != nil {
			return removeFailure(alias, err)
		}
		p.HostIf = device.NullOID
	}
	st := dev.Remove(ctx, device.ObjectPort, p.OID)
	if err := device.NewStatusError(device.OpRemove, device.ObjectPort, p.OID, "", st); err != nil {
		res, ferr := removeFailure(alias, err)
		if ferr != nil {
			return res, ferr
		}
		// The port stays until the retry; give it back what was torn down.
		if err := r.restoreParts(ctx, p); err != nil {
			return engine.Result{}, err
		}
		return res, nil
	}

	delete(r.ports, alias)
	delete(r.byOID, p.OID)
	delete(r.byLanes, device.LaneKey(p.Lanes))
	r.pending.Remove(alias)
	r.octx.Graph.RemoveObject(RefPort, alias)
	if err := r.octx.Unpublish(ctx, store.DBState, PortTable, alias); err != nil {
		return engine.Result{}, &engine.FatalError{Code: engine.ErrCodeStore, Table: PortTable, Key: alias, Err: err}
	}
	slog.Info("port removed", "port", alias, "oid", p.OID.String())
	r.notifyPort(Removed, p)
	return engine.Consumed(), nil
}

// restoreParts recreates the host interface and serdes object of a port
// whose removal is being retried.
func (r *Reconciler) restoreParts(ctx context.Context, p *Port) error {
	dev := r.octx.Device
	if p.HostIf == device.NullOID {
		hif, st := dev.Create(ctx, device.ObjectHostIf,
			device.Attr{ID: device.AttrHostIfName, Value: p.Alias},
			device.Attr{ID: device.AttrHostIfObject, Value: p.OID})
		switch err := device.NewStatusError(device.OpCreate, device.ObjectHostIf, p.OID, "", st); {
		case err == nil:
			p.HostIf = hif
		case device.OutcomeOf(err) != device.Success:
			return engine.NewDeviceFatal(PortTable, p.Alias, err)
		default:
			slog.Warn("host interface not restored", "port", p.Alias, "status", st.String())
		}
	}
	if p.Serdes == device.NullOID && len(p.SerdesFields) > 0 {
		if err := r.applySerdes(ctx, p, nil); err != nil {
			return engine.NewDeviceFatal(PortTable, p.Alias, err)
		}
	}
	return nil
}

// removeFailure retries an object that is still in use; any other removal
// failure means the device and the reconciler disagree.
func removeFailure(alias string, err error) (engine.Result, error) {
	if device.OutcomeOf(err) == device.Retry {
		slog.Warn("port removal retried", "port", alias, "error", err)
		return engine.Retry(), nil
	}
	return engine.Result{}, engine.NewDeviceFatal(PortTable, alias, err)
}
