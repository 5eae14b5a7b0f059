package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBootstrapPriority is the drain order used on startup: ports first,
// then the objects built on top of them.
var DefaultBootstrapPriority = []string{
	"PORT_TABLE",
	"LAG_TABLE",
	"LAG_MEMBER_TABLE",
	"VLAN_TABLE",
	"VLAN_MEMBER_TABLE",
}

// Bootstrap rebuilds desired state after a start or restart.
//
// Every Consumer is refilled from its table's current rows, which are merged
// into its queue as Upserts, and then every executor is drained with the
// given priority. Changes logged before a Source was opened are never
// replayed; the refill reflects them.
//
// Bootstrap must complete before Run starts.
func (d *Dispatcher) Bootstrap(ctx context.Context, priority []string) error {
	slog.Info("bootstrap starting", "run_id", d.runID, "priority", priority)

	refilled := 0
	for _, e := range d.executors {
		c, ok := e.(*Consumer)
		if !ok {
			continue
		}
		if err := c.Refill(ctx); err != nil {
			return &FatalError{Code: ErrCodeStore, Table: c.Table(), Err: err}
		}
		refilled += c.queue.Len()
	}

	if err := d.DrainAll(ctx, priority...); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	slog.Info("bootstrap complete",
		"run_id", d.runID,
		"refilled", refilled,
		"pending", len(d.PendingTasks()))
	return nil
}
