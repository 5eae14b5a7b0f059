// Package orch holds what reconcilers share: the device, the reference
// graph, the table store and the host interface manager.
//
// Reconcilers live in subpackages (ports, buffer, sflow, flexcounter). Each
// one subscribes to the tables it owns through Context.Subscribe and is
// handed its Consumers by the dispatcher; siblings are wired to one another
// explicitly at construction.
package orch

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// Context is the set of shared handles passed to every reconciler.
type Context struct {
	Device device.API
	Graph  *refgraph.Graph
	Store  *store.Store
	HostIf hostif.Manager

	// ConsumerOptions are applied to every Consumer built by Subscribe,
	// ahead of the caller's.
	ConsumerOptions []engine.ConsumerOption
}

// Subscribe opens db/table and binds it to rec in a new Consumer.
func (c *Context) Subscribe(ctx context.Context, db, table string, rec engine.Reconciler, opts ...engine.ConsumerOption) (*engine.Consumer, error) {
	sub, err := c.Store.Subscribe(ctx, db, table)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s %s: %w", db, table, err)
	}
	return engine.NewConsumer(sub, rec, append(slices.Clone(c.ConsumerOptions), opts...)...), nil
}

// Publish merges fields into db/table|key.
func (c *Context) Publish(ctx context.Context, db, table, key string, fields ...task.FieldValue) error {
	if err := c.Store.Table(db, table).Set(ctx, key, fields); err != nil {
		return fmt.Errorf("publish %s %s|%s: %w", db, table, key, err)
	}
	return nil
}

// Unpublish deletes db/table|key.
func (c *Context) Unpublish(ctx context.Context, db, table, key string) error {
	if err := c.Store.Table(db, table).Del(ctx, key); err != nil {
		return fmt.Errorf("unpublish %s %s|%s: %w", db, table, key, err)
	}
	return nil
}

// Fail converts a device call outcome into a per-task result. Fatal
// outcomes become a *engine.FatalError naming table and key.
func Fail(table, key string, err error) (engine.Result, error) {
	switch device.OutcomeOf(err) {
	case device.Success:
		return engine.Consumed(), nil
	case device.Retry:
		return engine.Retry(), nil
	case device.Terminal:
		return engine.Failed(), nil
	default:
		return engine.Result{}, engine.NewDeviceFatal(table, key, err)
	}
}
