package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/orchd/internal/bitmap"
	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

const (
	fieldProfile = "profile"
	// fieldRanges lists the applied ranges of a port in STATE.
	fieldRanges = "ranges"
)

// rangeKey is a parsed "alias|range" key.
type rangeKey struct {
	alias string
	rng   string
	bits  uint64
}

func parseRangeKey(key string) (rangeKey, error) {
	alias, rng, ok := strings.Cut(key, KeyDelimiter)
	if !ok || alias == "" {
		return rangeKey{}, fmt.Errorf("malformed key %q, want alias%srange", key, KeyDelimiter)
	}
	bits, err := bitmap.FromRange(rng)
	if err != nil {
		return rangeKey{}, err
	}
	return rangeKey{alias: alias, rng: rng, bits: bits}, nil
}

// indices returns the set bit positions of b in ascending order.
func indices(b uint64) []int {
	var out []int
	for i := 0; i < bitmap.MaxID; i++ {
		if b&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func (r *Reconciler) rangeHandler(k rangeKind) engine.HandlerFunc {
	return func(ctx context.Context, t task.Task) (engine.Result, error) {
		res, err := r.handleRange(ctx, k, t)
		if err == nil && res.Status != engine.StatusNeedRetry {
			r.markReady(k.table, t.Key)
		}
		return res, err
	}
}

func (r *Reconciler) handleRange(ctx context.Context, k rangeKind, t task.Task) (engine.Result, error) {
	rk, err := parseRangeKey(t.Key)
	if err != nil {
		slog.Error("invalid buffer range", "table", k.table, "key", t.Key, "error", err)
		return engine.Invalid(), nil
	}
	p, ok := r.ports.GetPort(rk.alias)
	if !ok {
		if t.Op == task.OpDelete {
			return engine.Consumed(), nil
		}
		slog.Debug("buffer range waiting for port", "table", k.table, "key", t.Key)
		return engine.Retry(), nil
	}
	if t.Op == task.OpDelete {
		return r.removeRange(ctx, k, p, rk, t.Key)
	}

	resolved, err := r.octx.Graph.ResolveFieldRef(t, fieldProfile, RefProfile)
	switch {
	case refgraph.IsRetryable(err):
		slog.Debug("buffer range waiting for profile", "table", k.table, "key", t.Key, "error", err)
		return engine.Retry(), nil
	case err != nil:
		slog.Error("invalid buffer profile reference", "table", k.table, "key", t.Key, "error", err)
		return engine.Invalid(), nil
	}

	applied := r.applied[k.table][rk.alias]
	for other, bits := range applied {
		if other != rk.rng && bits&rk.bits != 0 {
			slog.Error("buffer range overlaps an applied range",
				"table", k.table, "key", t.Key, "applied", other)
			return engine.Failed(), nil
		}
	}
	objects := k.objects(p)
	idx := indices(rk.bits)
	if idx[len(idx)-1] >= len(objects) {
		slog.Error("buffer range beyond port objects",
			"table", k.table, "key", t.Key, "objects", len(objects))
		return engine.Invalid(), nil
	}

	profileOID := device.OID(resolved.Handle())
	for _, i := range idx {
		st := r.octx.Device.Set(ctx, k.object, objects[i], device.Attr{ID: k.attr, Value: profileOID})
		if err := device.NewStatusError(device.OpSet, k.object, objects[i], k.attr, st); err != nil {
			return orch.Fail(k.table, t.Key, err)
		}
	}

	g := r.octx.Graph
	if err := g.SetObjectReference(k.ref, t.Key, fieldProfile, resolved.Canonical); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(k.table, t.Key, "reference profile: %v", err)
	}
	if err := g.SetObjectReference(k.ref, t.Key, "port", ports.RefPort+refgraph.Delimiter+rk.alias); err != nil {
		return engine.Result{}, engine.NewInvariantFatal(k.table, t.Key, "reference port: %v", err)
	}
	if applied == nil {
		applied = make(map[string]uint64)
		r.applied[k.table][rk.alias] = applied
	}
	applied[rk.rng] = rk.bits
	slog.Info("buffer range applied", "table", k.table, "key", t.Key, "profile", resolved.Canonical)
	return engine.Consumed(), r.publishRanges(ctx, k.table, rk.alias)
}

func (r *Reconciler) removeRange(ctx context.Context, k rangeKind, p ports.Port, rk rangeKey, key string) (engine.Result, error) {
	applied := r.applied[k.table][rk.alias]
	if _, ok := applied[rk.rng]; !ok {
		return engine.Consumed(), nil
	}
	objects := k.objects(p)
	for _, i := range indices(rk.bits) {
		if i >= len(objects) {
			break
		}
		st := r.octx.Device.Set(ctx, k.object, objects[i], device.Attr{ID: k.attr, Value: device.NullOID})
		if err := device.NewStatusError(device.OpSet, k.object, objects[i], k.attr, st); err != nil {
			return orch.Fail(k.table, key, err)
		}
	}
	delete(applied, rk.rng)
	if len(applied) == 0 {
		delete(r.applied[k.table], rk.alias)
	}
	r.octx.Graph.RemoveObject(k.ref, key)
	slog.Info("buffer range removed", "table", k.table, "key", key)
	return engine.Consumed(), r.publishRanges(ctx, k.table, rk.alias)
}

// publishRanges writes the applied ranges of alias to STATE table|alias, or
// removes the row when none are left.
func (r *Reconciler) publishRanges(ctx context.Context, table, alias string) error {
	applied := r.applied[table][alias]
	var err error
	if len(applied) == 0 {
		err = r.octx.Unpublish(ctx, store.DBState, table, alias)
	} else {
		var union uint64
		for _, b := range applied {
			union |= b
		}
		ranges := bitmap.RangeStrings(union, bitmap.MaxID)
		err = r.octx.Publish(ctx, store.DBState, table, alias, task.Pairs(fieldRanges, strings.Join(ranges, ","))...)
	}
	if err != nil {
		return &engine.FatalError{Code: engine.ErrCodeStore, Table: table, Key: alias, Err: err}
	}
	return nil
}

// AppliedRanges returns the applied range keys of alias in table, sorted.
func (r *Reconciler) AppliedRanges(table, alias string) []string {
	return slices.Sorted(maps.Keys(r.applied[table][alias]))
}
