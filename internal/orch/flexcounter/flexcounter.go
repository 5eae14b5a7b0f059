// Package flexcounter turns counter polling configuration into flex counter
// group rows and publishes the counter name maps for ports, queues and
// priority groups.
package flexcounter

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// Table is the CONFIG table holding one row per counter group.
const Table = "FLEX_COUNTER_TABLE"

// GroupTable is the FLEX_COUNTER table the group settings are written to.
const GroupTable = "FLEX_COUNTER_GROUP_TABLE"

// Name map tables in the COUNTERS database.
const (
	PortNameMap  = "COUNTERS_PORT_NAME_MAP"
	QueueNameMap = "COUNTERS_QUEUE_NAME_MAP"
	PGNameMap    = "COUNTERS_PG_NAME_MAP"
)

const (
	fieldPollInterval = "POLL_INTERVAL"
	fieldStatus       = "FLEX_COUNTER_STATUS"
	fieldDelay        = "FLEX_COUNTER_DELAY_STATUS"
	fieldOID          = "oid"
)

type nameMap int

const (
	noMap nameMap = iota
	portMap
	queueMap
	pgMap
)

type group struct {
	name string
	maps nameMap
}

var groups = map[string]group{
	"PORT":                  {"PORT_STAT_COUNTER", portMap},
	"PORT_BUFFER_DROP":      {"PORT_BUFFER_DROP_STAT", portMap},
	"QUEUE":                 {"QUEUE_STAT_COUNTER", queueMap},
	"QUEUE_WATERMARK":       {"QUEUE_WATERMARK_STAT_COUNTER", queueMap},
	"PG_WATERMARK":          {"PG_WATERMARK_STAT_COUNTER", pgMap},
	"PG_DROP":               {"PG_DROP_STAT_COUNTER", pgMap},
	"BUFFER_POOL_WATERMARK": {"BUFFER_POOL_WATERMARK_STAT_COUNTER", noMap},
}

// GroupName returns the flex counter group name for a configuration key.
func GroupName(key string) (string, bool) {
	g, ok := groups[key]
	return g.name, ok
}

// Ports is what the reconciler needs from the ports reconciler.
type Ports interface {
	AllPortsReady() bool
	Ports() []ports.Port
}

// Reconciler owns FLEX_COUNTER_TABLE.
type Reconciler struct {
	octx    *orch.Context
	ports   Ports
	enabled map[nameMap]bool
}

// New creates a Reconciler.
func New(octx *orch.Context, p Ports) *Reconciler {
	return &Reconciler{octx: octx, ports: p, enabled: make(map[nameMap]bool)}
}

// Executors subscribes to FLEX_COUNTER_TABLE. Rows are handled once every
// port is ready.
func (r *Reconciler) Executors(ctx context.Context) ([]engine.Executor, error) {
	c, err := r.octx.Subscribe(ctx, store.DBConfig, Table,
		engine.ReconcilerFunc(func(ctx context.Context, c *engine.Consumer) error {
			if !r.ports.AllPortsReady() {
				return nil
			}
			return c.DrainWith(ctx, r.handle)
		}))
	if err != nil {
		return nil, err
	}
	return []engine.Executor{c}, nil
}

// Observer keeps the name maps current as ports come and go.
func (r *Reconciler) Observer() ports.Observer {
	return ports.ObserverFuncs{Port: r.onPortChange}
}

func (r *Reconciler) handle(ctx context.Context, t task.Task) (engine.Result, error) {
	g, ok := groups[t.Key]
	if !ok {
		slog.Warn("unknown flex counter group", "group", t.Key)
		return engine.Invalid(), nil
	}
	if t.Op == task.OpDelete {
		return engine.Consumed(), nil
	}
	if v, _ := t.Get(fieldDelay); v == "true" {
		slog.Debug("flex counter group delayed", "group", t.Key)
		return engine.Consumed(), nil
	}

	var out []task.FieldValue
	for _, fv := range t.Fields {
		switch fv.Field {
		case fieldPollInterval:
			if _, err := strconv.ParseUint(fv.Value, 10, 32); err != nil {
				slog.Error("invalid poll interval", "group", t.Key, "value", fv.Value)
				return engine.Invalid(), nil
			}
			out = append(out, fv)
		case fieldStatus:
			if fv.Value != "enable" && fv.Value != "disable" {
				slog.Error("invalid counter status", "group", t.Key, "value", fv.Value)
				return engine.Invalid(), nil
			}
			out = append(out, fv)
		}
	}
	if len(out) == 0 {
		return engine.Consumed(), nil
	}
	if err := r.octx.Publish(ctx, store.DBFlexCounter, GroupTable, g.name, out...); err != nil {
		return engine.Result{}, &engine.FatalError{Code: engine.ErrCodeStore, Table: Table, Key: t.Key, Err: err}
	}
	if v, ok := t.Get(fieldStatus); ok && v == "enable" && g.maps != noMap && !r.enabled[g.maps] {
		if err := r.publishMaps(ctx, g.maps); err != nil {
			return engine.Result{}, &engine.FatalError{Code: engine.ErrCodeStore, Table: Table, Key: t.Key, Err: err}
		}
		r.enabled[g.maps] = true
	}
	slog.Info("flex counter group configured", "group", g.name, "fields", len(out))
	return engine.Consumed(), nil
}

func (r *Reconciler) publishMaps(ctx context.Context, m nameMap) error {
	for _, p := range r.ports.Ports() {
		if err := r.publishPort(ctx, m, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) publishPort(ctx context.Context, m nameMap, p ports.Port) error {
	for key, oid := range mapEntries(m, p) {
		if err := r.octx.Publish(ctx, store.DBCounters, mapTable(m), key, task.FieldValue{Field: fieldOID, Value: oid}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) unpublishPort(ctx context.Context, m nameMap, p ports.Port) error {
	for key := range mapEntries(m, p) {
		if err := r.octx.Unpublish(ctx, store.DBCounters, mapTable(m), key); err != nil {
			return err
		}
	}
	return nil
}

// onPortChange runs inside the ports reconciler's drain, which does not
// hand observers a context.
func (r *Reconciler) onPortChange(c ports.PortChange) {
	if c.Kind == ports.Updated {
		return
	}
	ctx := context.Background()
	for _, m := range []nameMap{portMap, queueMap, pgMap} {
		if !r.enabled[m] {
			continue
		}
		var err error
		if c.Kind == ports.Added {
			err = r.publishPort(ctx, m, c.Port)
		} else {
			err = r.unpublishPort(ctx, m, c.Port)
		}
		if err != nil {
			slog.Error("counter name map not updated", "table", mapTable(m), "port", c.Port.Alias, "error", err)
		}
	}
}

func mapTable(m nameMap) string {
	switch m {
	case portMap:
		return PortNameMap
	case queueMap:
		return QueueNameMap
	default:
		return PGNameMap
	}
}
