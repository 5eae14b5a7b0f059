// Package sflow reconciles packet sampling on ports.
//
// One sample-packet object exists per sampling rate and is shared by every
// port sampling at that rate. Sessions reference their sampler and their
// port in the reference graph; a sampler is removed as soon as no session
// references it, and a port is not removed while a session is configured
// on it.
package sflow

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// Tables.
const (
	GlobalTable  = "SFLOW_TABLE"
	SessionTable = "SFLOW_SESSION_TABLE"
)

// Reference graph tables.
const (
	RefSampler = "SAMPLEPACKET"
	RefSession = "SFLOW_SESSION"
)

const (
	// KeyGlobal is the only key of GlobalTable.
	KeyGlobal = "global"
	// KeyAll applies a session row to every port.
	KeyAll = "all"
)

const (
	fieldAdminState = "admin_state"
	fieldRate       = "sample_rate"
	fieldDirection  = "sample_direction"

	defaultDirection = "rx"
)

var directions = []string{"rx", "tx", "both"}

// Ports is what the sflow reconciler needs from the ports reconciler.
type Ports interface {
	AllPortsReady() bool
	GetPort(alias string) (ports.Port, bool)
	Ports() []ports.Port
}

// Session is the sampling configuration applied to one port.
type Session struct {
	Admin     bool
	Rate      uint32
	Direction string
	Sampler   device.OID
}

// Reconciler owns the sflow tables.
type Reconciler struct {
	octx  *orch.Context
	ports Ports

	enabled  bool
	samplers map[uint32]device.OID
	sessions map[string]*Session
}

// New creates a Reconciler.
func New(octx *orch.Context, p Ports) *Reconciler {
	octx.Graph.Register(RefSampler)
	octx.Graph.Register(RefSession)
	return &Reconciler{
		octx:     octx,
		ports:    p,
		samplers: make(map[uint32]device.OID),
		sessions: make(map[string]*Session),
	}
}

// Executors subscribes to the sflow tables. Sessions are only handled once
// every port is ready.
func (r *Reconciler) Executors(ctx context.Context) ([]engine.Executor, error) {
	global, err := r.octx.Subscribe(ctx, store.DBAppl, GlobalTable, engine.HandlerReconciler(r.handleGlobal))
	if err != nil {
		return nil, err
	}
	sessions, err := r.octx.Subscribe(ctx, store.DBAppl, SessionTable,
		engine.ReconcilerFunc(func(ctx context.Context, c *engine.Consumer) error {
			if !r.ports.AllPortsReady() {
				return nil
			}
			return c.DrainWith(ctx, r.handleSession)
		}))
	if err != nil {
		return nil, err
	}
	return []engine.Executor{global, sessions}, nil
}

// Enabled reports the global sampling state.
func (r *Reconciler) Enabled() bool { return r.enabled }

// Session returns the session configured on alias.
func (r *Reconciler) Session(alias string) (Session, bool) {
	s, ok := r.sessions[alias]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sampler returns the sample-packet object for rate.
func (r *Reconciler) Sampler(rate uint32) (device.OID, bool) {
	oid, ok := r.samplers[rate]
	return oid, ok
}

func (r *Reconciler) handleGlobal(_ context.Context, t task.Task) (engine.Result, error) {
	if t.Key != KeyGlobal {
		slog.Error("unknown sflow key", "task", t.Dump(GlobalTable))
		return engine.Invalid(), nil
	}
	enabled := false
	if t.Op == task.OpUpsert {
		if v, ok := t.Get(fieldAdminState); ok {
			enabled = v == "up"
		} else {
			enabled = r.enabled
		}
	}
	if enabled != r.enabled {
		slog.Info("sflow admin state changed", "enabled", enabled)
	}
	r.enabled = enabled
	return engine.Consumed(), nil
}

func (r *Reconciler) handleSession(ctx context.Context, t task.Task) (engine.Result, error) {
	if t.Key != KeyAll {
		return r.handlePortSession(ctx, t.Key, t)
	}
	retry := false
	for _, p := range r.ports.Ports() {
		res, err := r.handlePortSession(ctx, p.Alias, t)
		if err != nil {
			return res, err
		}
		switch res.Status {
		case engine.StatusNeedRetry:
			retry = true
		case engine.StatusInvalidEntry:
			return res, nil
		}
	}
	if retry {
		return engine.Retry(), nil
	}
	return engine.Consumed(), nil
}

func (r *Reconciler) handlePortSession(ctx context.Context, alias string, t task.Task) (engine.Result, error) {
	p, ok := r.ports.GetPort(alias)
	if !ok {
		if t.Op == task.OpDelete {
			return engine.Consumed(), nil
		}
		slog.Debug("sflow session waiting for port", "port", alias)
		return engine.Retry(), nil
	}
	cur, exists := r.sessions[alias]

	if t.Op == task.OpDelete {
		if !exists {
			return engine.Consumed(), nil
		}
		return r.removeSession(ctx, p, cur)
	}
	if !r.enabled {
		slog.Debug("sflow disabled, session retained", "port", alias)
		return engine.Retry(), nil
	}

	next := Session{Admin: true, Direction: defaultDirection}
	if exists {
		next = *cur
	}
	for _, fv := range t.Fields {
		switch fv.Field {
		case fieldAdminState:
			next.Admin = fv.Value == "up"
		case fieldRate:
			if fv.Value == "error" {
				next.Rate = 0
				continue
			}
			v, err := strconv.ParseUint(strings.TrimSpace(fv.Value), 10, 32)
			if err != nil {
				slog.Error("invalid sflow sample rate", "port", alias, "sample_rate", fv.Value)
				return engine.Invalid(), nil
			}
			next.Rate = uint32(v)
		case fieldDirection:
			if fv.Value == "error" {
				continue
			}
			if !slices.Contains(directions, fv.Value) {
				slog.Error("invalid sflow sample direction", "port", alias, "sample_direction", fv.Value)
				return engine.Invalid(), nil
			}
			next.Direction = fv.Value
		}
	}

	if !exists {
		if next.Rate == 0 {
			slog.Debug("sflow session waiting for a sample rate", "port", alias)
			return engine.Retry(), nil
		}
		return r.createSession(ctx, p, next, t)
	}
	return r.updateSession(ctx, p, cur, next, t)
}

func (r *Reconciler) createSession(ctx context.Context, p ports.Port, next Session, t task.Task) (engine.Result, error) {
	sampler, res, err := r.sampler(ctx, next.Rate, t.Key)
	if err != nil || res.Status != engine.StatusSuccess {
		return res, err
	}
	next.Sampler = sampler
	if next.Admin {
		if err := r.bind(ctx, p, sampler, next.Direction); err != nil {
			return r.release(ctx, next.Rate, func() (engine.Result, error) { return orch.Fail(SessionTable, t.Key, err) })
		}
	}
	if err := r.track(p.Alias, next.Rate); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(SessionTable, p.Alias, "track session: %v", err)
	}
	r.sessions[p.Alias] = &next
	slog.Info("sflow session created", "port", p.Alias, "rate", next.Rate, "direction", next.Direction, "admin", next.Admin)
	return engine.Consumed(), nil
}

func (r *Reconciler) updateSession(ctx context.Context, p ports.Port, cur *Session, next Session, t task.Task) (engine.Result, error) {
	if next.Rate != cur.Rate && next.Rate != 0 {
		sampler, res, err := r.sampler(ctx, next.Rate, t.Key)
		if err != nil || res.Status != engine.StatusSuccess {
			return res, err
		}
		if cur.Admin {
			if err := r.bind(ctx, p, sampler, cur.Direction); err != nil {
				return r.release(ctx, next.Rate, func() (engine.Result, error) { return orch.Fail(SessionTable, t.Key, err) })
			}
		}
		old := cur.Rate
		cur.Rate, cur.Sampler = next.Rate, sampler
		if err := r.track(p.Alias, cur.Rate); err != nil {
			return engine.Result{}, engine.NewInvariantFatal(SessionTable, p.Alias, "track session: %v", err)
		}
		if res, err := r.release(ctx, old, nil); err != nil || res.Status != engine.StatusSuccess {
			return res, err
		}
	}

	if next.Admin != cur.Admin {
		sampler := device.NullOID
		if next.Admin {
			sampler = cur.Sampler
		}
		if err := r.bind(ctx, p, sampler, cur.Direction); err != nil {
			return orch.Fail(SessionTable, t.Key, err)
		}
		cur.Admin = next.Admin
	}

	if next.Direction != cur.Direction {
		if cur.Admin {
			if err := r.redirect(ctx, p, cur.Sampler, next.Direction); err != nil {
				return orch.Fail(SessionTable, t.Key, err)
			}
		}
		cur.Direction = next.Direction
	}
	slog.Debug("sflow session updated", "port", p.Alias, "rate", cur.Rate, "direction", cur.Direction, "admin", cur.Admin)
	return engine.Consumed(), nil
}

func (r *Reconciler) removeSession(ctx context.Context, p ports.Port, cur *Session) (engine.Result, error) {
	if cur.Admin {
		if err := r.bind(ctx, p, device.NullOID, cur.Direction); err != nil {
			return orch.Fail(SessionTable, p.Alias, err)
		}
		cur.Admin = false
	}
	delete(r.sessions, p.Alias)
	r.octx.Graph.RemoveObject(RefSession, p.Alias)
	slog.Info("sflow session removed", "port", p.Alias)
	return r.release(ctx, cur.Rate, nil)
}

// track records that the session on alias uses the sampler for rate.
func (r *Reconciler) track(alias string, rate uint32) error {
	g := r.octx.Graph
	if err := g.SetObjectReference(RefSession, alias, fieldRate, RefSampler+refgraph.Delimiter+rateName(rate)); err != nil {
		return err
	}
	return g.SetObjectReference(RefSession, alias, "port", ports.RefPort+refgraph.Delimiter+alias)
}

// sampler returns the sample-packet object for rate, creating it when
// absent.
func (r *Reconciler) sampler(ctx context.Context, rate uint32, key string) (device.OID, engine.Result, error) {
	if oid, ok := r.samplers[rate]; ok {
		return oid, engine.Consumed(), nil
	}
	oid, st := r.octx.Device.Create(ctx, device.ObjectSamplePacket, device.Attr{ID: device.AttrSampleRate, Value: rate})
	if err := device.NewStatusError(device.OpCreate, device.ObjectSamplePacket, device.NullOID, "", st); err != nil {
		slog.Error("sample packet not created", "rate", rate, "error", err)
		res, err := orch.Fail(SessionTable, key, err)
		return device.NullOID, res, err
	}
	if _, err := r.octx.Graph.AddObject(RefSampler, rateName(rate), uint64(oid)); err != nil {
		return device.NullOID, engine.Result{}, engine.NewInvariantFatal(SessionTable, key, "track sampler: %v", err)
	}
	r.samplers[rate] = oid
	slog.Info("sample packet created", "rate", rate, "oid", oid.String())
	return oid, engine.Consumed(), nil
}

// release removes the sampler for rate when no session references it any
// more, then returns then().
func (r *Reconciler) release(ctx context.Context, rate uint32, then func() (engine.Result, error)) (engine.Result, error) {
	if then == nil {
		then = func() (engine.Result, error) { return engine.Consumed(), nil }
	}
	oid, ok := r.samplers[rate]
	g := r.octx.Graph
	if !ok || g.IsObjectBeingReferenced(RefSampler, rateName(rate)) {
		return then()
	}
	st := r.octx.Device.Remove(ctx, device.ObjectSamplePacket, oid)
	if err := device.NewStatusError(device.OpRemove, device.ObjectSamplePacket, oid, "", st); err != nil {
		slog.Error("sample packet not removed", "rate", rate, "error", err)
		return orch.Fail(SessionTable, rateName(rate), err)
	}
	delete(r.samplers, rate)
	g.RemoveObject(RefSampler, rateName(rate))
	slog.Info("sample packet removed", "rate", rate)
	return then()
}

// bind points the port's sampling attributes for dir at sampler.
func (r *Reconciler) bind(ctx context.Context, p ports.Port, sampler device.OID, dir string) error {
	if dir == "rx" || dir == "both" {
		if err := r.setPort(ctx, p, device.AttrPortIngressSamplePacket, sampler); err != nil {
			return err
		}
	}
	if dir == "tx" || dir == "both" {
		if err := r.setPort(ctx, p, device.AttrPortEgressSamplePacket, sampler); err != nil {
			return err
		}
	}
	return nil
}

// redirect moves sampling on the port to direction dir.
func (r *Reconciler) redirect(ctx context.Context, p ports.Port, sampler device.OID, dir string) error {
	ingress, egress := device.NullOID, device.NullOID
	if dir == "rx" || dir == "both" {
		ingress = sampler
	}
	if dir == "tx" || dir == "both" {
		egress = sampler
	}
	if err := r.setPort(ctx, p, device.AttrPortIngressSamplePacket, ingress); err != nil {
		return err
	}
	return r.setPort(ctx, p, device.AttrPortEgressSamplePacket, egress)
}

func (r *Reconciler) setPort(ctx context.Context, p ports.Port, id device.AttrID, v device.OID) error {
	st := r.octx.Device.Set(ctx, device.ObjectPort, p.OID, device.Attr{ID: id, Value: v})
	return device.NewStatusError(device.OpSet, device.ObjectPort, p.OID, id, st)
}

func rateName(rate uint32) string { return strconv.FormatUint(uint64(rate), 10) }
