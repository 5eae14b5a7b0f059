// Package buffer reconciles buffer profiles and their assignment to port
// priority groups and queues.
//
// Profiles are tracked in the reference graph so a profile still assigned
// to a range is kept, marked pending-remove, until the range lets go of it.
// The reconciler also answers the ports reconciler's readiness question: a
// port is ready once every buffer range stored for it at startup has been
// handled.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/store"
)

// Tables.
const (
	ProfileTable = "BUFFER_PROFILE_TABLE"
	PGTable      = "BUFFER_PG_TABLE"
	QueueTable   = "BUFFER_QUEUE_TABLE"
)

// Reference graph tables.
const (
	RefProfile = "BUFFER_PROFILE"
	RefPG      = "BUFFER_PG"
	RefQueue   = "BUFFER_QUEUE"
)

// KeyDelimiter separates the port alias from the index range in PG and
// queue keys, e.g. "Ethernet0|3-4".
const KeyDelimiter = "|"

// Ports is what the buffer reconciler needs from the ports reconciler.
type Ports interface {
	ConfigDone() bool
	GetPort(alias string) (ports.Port, bool)
}

type profile struct {
	oid    device.OID
	values map[device.AttrID]any
}

// rangeKind describes one of the two range tables.
type rangeKind struct {
	table   string
	ref     string
	object  device.ObjectType
	attr    device.AttrID
	objects func(ports.Port) []device.OID
}

var (
	pgKind = rangeKind{
		table:   PGTable,
		ref:     RefPG,
		object:  device.ObjectPriorityGroup,
		attr:    device.AttrPriorityGroupProfile,
		objects: func(p ports.Port) []device.OID { return p.PriorityGroups },
	}
	queueKind = rangeKind{
		table:   QueueTable,
		ref:     RefQueue,
		object:  device.ObjectQueue,
		attr:    device.AttrQueueProfile,
		objects: func(p ports.Port) []device.OID { return p.Queues },
	}
)

// Reconciler owns the buffer tables.
type Reconciler struct {
	octx  *orch.Context
	ports Ports

	profiles map[string]*profile
	// applied holds, per range table and port, the bitmap of every applied
	// range key.
	applied map[string]map[string]map[string]uint64
	// unready holds, per port, the range keys stored at startup that have
	// not been handled yet.
	unready map[string]mapset.Set[string]
}

// New creates a Reconciler.
func New(octx *orch.Context, p Ports) *Reconciler {
	for _, t := range []string{RefProfile, RefPG, RefQueue} {
		octx.Graph.Register(t)
	}
	return &Reconciler{
		octx:     octx,
		ports:    p,
		profiles: make(map[string]*profile),
		applied: map[string]map[string]map[string]uint64{
			PGTable:    {},
			QueueTable: {},
		},
		unready: make(map[string]mapset.Set[string]),
	}
}

// Executors subscribes to the buffer tables. The ranges already stored
// become the readiness list each port waits on.
func (r *Reconciler) Executors(ctx context.Context) ([]engine.Executor, error) {
	for _, table := range []string{PGTable, QueueTable} {
		keys, err := r.octx.Store.Table(store.DBAppl, table).Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
		for _, key := range keys {
			alias, _, ok := strings.Cut(key, KeyDelimiter)
			if !ok {
				continue
			}
			set, ok := r.unready[alias]
			if !ok {
				set = mapset.NewThreadUnsafeSet[string]()
				r.unready[alias] = set
			}
			set.Add(table + KeyDelimiter + key)
		}
	}
	if n := len(r.unready); n > 0 {
		slog.Info("ports waiting for buffer configuration", "ports", n)
	}

	var out []engine.Executor
	for _, t := range []struct {
		name string
		rec  engine.Reconciler
	}{
		{ProfileTable, r.gated(r.handleProfile)},
		{PGTable, r.gated(r.rangeHandler(pgKind))},
		{QueueTable, r.gated(r.rangeHandler(queueKind))},
	} {
		c, err := r.octx.Subscribe(ctx, store.DBAppl, t.name, t.rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// gated drains through fn once the ports exist.
func (r *Reconciler) gated(fn engine.HandlerFunc) engine.Reconciler {
	return engine.ReconcilerFunc(func(ctx context.Context, c *engine.Consumer) error {
		if !r.ports.ConfigDone() {
			return nil
		}
		return c.DrainWith(ctx, fn)
	})
}

// IsPortReady reports whether every buffer range stored for alias at
// startup has been handled.
func (r *Reconciler) IsPortReady(alias string) bool {
	set, ok := r.unready[alias]
	return !ok || set.Cardinality() == 0
}

func (r *Reconciler) markReady(table, key string) {
	alias, _, _ := strings.Cut(key, KeyDelimiter)
	set, ok := r.unready[alias]
	if !ok {
		return
	}
	set.Remove(table + KeyDelimiter + key)
	if set.Cardinality() == 0 {
		delete(r.unready, alias)
		slog.Info("port buffer configuration complete", "port", alias)
	}
}

// Profile returns the device handle of a profile.
func (r *Reconciler) Profile(name string) (device.OID, bool) {
	p, ok := r.profiles[name]
	if !ok {
		return device.NullOID, false
	}
	return p.oid, true
}
