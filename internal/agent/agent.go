// Package agent assembles the reconcilers around one dispatcher.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/orch/buffer"
	"github.com/roach88/orchd/internal/orch/flexcounter"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/orch/sflow"
	"github.com/roach88/orchd/internal/orch/switchattr"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// DefaultPriority is the bootstrap drain order: ports and L2 first, then
// buffers.
var DefaultPriority = append(append([]string{}, engine.DefaultBootstrapPriority...),
	buffer.ProfileTable, buffer.PGTable, buffer.QueueTable)

// InstanceTable and InstanceKey locate the STATE row naming the running
// instance.
const (
	InstanceTable = "ORCHD"
	InstanceKey   = "instance"
)

// Options tune an Agent.
type Options struct {
	// Priority overrides DefaultPriority.
	Priority []string
	// Dispatcher options, passed to engine.NewDispatcher.
	Dispatcher []engine.Option
}

// Agent is the set of wired reconcilers and the dispatcher running them.
type Agent struct {
	Dispatcher *engine.Dispatcher
	Ports      *ports.Reconciler
	Buffer     *buffer.Reconciler
	Sflow      *sflow.Reconciler
	Counters   *flexcounter.Reconciler
	Switch     *switchattr.Reconciler

	priority []string
	octx     *orch.Context
}

// New builds every reconciler on octx and registers their executors.
// Buffer readiness rows already stored gate their ports from the start.
func New(ctx context.Context, octx *orch.Context, opts Options) (*Agent, error) {
	a := &Agent{
		Dispatcher: engine.NewDispatcher(opts.Dispatcher...),
		priority:   opts.Priority,
		octx:       octx,
	}
	if a.priority == nil {
		a.priority = DefaultPriority
	}

	a.Ports = ports.New(octx)
	a.Buffer = buffer.New(octx, a.Ports)
	a.Ports.SetBufferReadiness(a.Buffer)
	a.Sflow = sflow.New(octx, a.Ports)
	a.Counters = flexcounter.New(octx, a.Ports)
	a.Ports.Subscribe(a.Counters.Observer())
	a.Switch = switchattr.New(octx)

	groups := []struct {
		name  string
		build func(context.Context) ([]engine.Executor, error)
	}{
		{"ports", a.Ports.Executors},
		{"buffer", a.Buffer.Executors},
		{"sflow", a.Sflow.Executors},
		{"flexcounter", a.Counters.Executors},
		{"switch", a.Switch.Executors},
	}
	for _, g := range groups {
		execs, err := g.build(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s executors: %w", g.name, err)
		}
		if err := a.Dispatcher.Add(execs...); err != nil {
			return nil, fmt.Errorf("%s executors: %w", g.name, err)
		}
	}
	slog.Debug("agent assembled", "run_id", a.Dispatcher.RunID())
	return a, nil
}

// Bootstrap publishes the run id to STATE, then refills every queue from
// stored rows and drains them in priority order.
func (a *Agent) Bootstrap(ctx context.Context) error {
	if err := a.octx.Publish(ctx, store.DBState, InstanceTable, InstanceKey,
		task.FieldValue{Field: "run_id", Value: a.Dispatcher.RunID()}); err != nil {
		return fmt.Errorf("publish instance: %w", err)
	}
	return a.Dispatcher.Bootstrap(ctx, a.priority)
}

// Run processes changes until ctx is cancelled or a fatal error occurs.
func (a *Agent) Run(ctx context.Context) error {
	return a.Dispatcher.Run(ctx)
}

// Step executes every executor once, in registration order.
func (a *Agent) Step(ctx context.Context) error {
	return a.Dispatcher.ExecuteAll(ctx)
}

// Deliver moves notifications waiting on the device channel to the port
// status executor and returns how many were moved. It is for stepping the
// agent without Run, whose background reader otherwise does this.
func (a *Agent) Deliver() int {
	e, ok := a.Dispatcher.Executor(ports.StatusExecutor)
	if !ok {
		return 0
	}
	nc := e.(*engine.NotificationConsumer[device.Notification])
	n := 0
	for {
		select {
		case item := <-a.octx.Device.Notifications():
			nc.Push(item)
			n++
		default:
			return n
		}
	}
}
