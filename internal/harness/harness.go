package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/orchd/internal/agent"
	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/device/sim"
	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/refgraph"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// Harness holds one scenario run.
type Harness struct {
	store *store.Store
	dev   *sim.Switch
	octx  *orch.Context
	agent *agent.Agent
}

// Run executes a scenario in a fresh store and simulator and evaluates its
// assertions. The returned error reports a run that could not complete,
// including a fatal reconciliation error; failed assertions are reported
// in the Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "orchd-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "orchd.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	dev, err := sim.New(simConfig(scenario.Device))
	if err != nil {
		return nil, fmt.Errorf("failed to build device: %w", err)
	}
	links := hostif.NewStatic()
	links.AutoCreate = true

	h := &Harness{
		store: st,
		dev:   dev,
		octx:  &orch.Context{Device: dev, Graph: refgraph.New(), Store: st, HostIf: links},
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.step(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if h.agent == nil {
		if err := h.start(ctx); err != nil {
			return nil, err
		}
	}

	result := NewResult()
	result.Trace = append(result.Trace, dev.CallStrings()...)
	result.Pending = append(result.Pending, h.agent.Dispatcher.PendingTasks()...)
	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		result.AddError(msg)
	}
	slog.Debug("scenario finished", "scenario", scenario.Name, "pass", result.Pass, "calls", len(result.Trace))
	return result, nil
}

func simConfig(p *DeviceProfile) sim.Config {
	cfg := sim.DefaultConfig()
	if p == nil {
		return cfg
	}
	if p.Ports > 0 {
		cfg.Ports = cfg.Ports[:0]
		for i := range p.Ports {
			base := uint32(i * 4)
			cfg.Ports = append(cfg.Ports, sim.HardwarePort{
				Lanes: []uint32{base, base + 1, base + 2, base + 3},
				Speed: 100000,
			})
		}
	}
	if p.AutoNeg != nil {
		cfg.Capabilities.AutoNeg = *p.AutoNeg
	}
	if p.LinkTraining != nil {
		cfg.Capabilities.LinkTraining = *p.LinkTraining
	}
	if p.LinkFollowsAdmin != nil {
		cfg.LinkFollowsAdmin = *p.LinkFollowsAdmin
	}
	if p.FECModes != nil {
		cfg.Capabilities.FECModes = p.FECModes
	}
	if p.Speeds != nil {
		cfg.Capabilities.Speeds = p.Speeds
	}
	return cfg
}

func (h *Harness) start(ctx context.Context) error {
	a, err := agent.New(ctx, h.octx, agent.Options{})
	if err != nil {
		return fmt.Errorf("failed to assemble agent: %w", err)
	}
	h.agent = a
	return nil
}

func (h *Harness) step(ctx context.Context, s Step) error {
	db := s.DB
	if db == "" {
		db = store.DBAppl
	}
	switch {
	case s.Set != "":
		table, key, _ := splitTableKey(s.Set)
		return h.store.Table(db, table).Set(ctx, key, []task.FieldValue(s.Fields))

	case s.Del != "":
		table, key, _ := splitTableKey(s.Del)
		return h.store.Table(db, table).Del(ctx, key)

	case s.Bootstrap:
		if h.agent == nil {
			if err := h.start(ctx); err != nil {
				return err
			}
		}
		if err := h.agent.Bootstrap(ctx); err != nil {
			return err
		}
		h.agent.Deliver()
		return nil

	case s.Drain > 0:
		if h.agent == nil {
			if err := h.start(ctx); err != nil {
				return err
			}
		}
		for range s.Drain {
			h.agent.Deliver()
			if err := h.agent.Step(ctx); err != nil {
				return err
			}
		}
		return nil

	case s.Notify != nil:
		if h.agent == nil {
			return fmt.Errorf("notify before the agent started")
		}
		p, ok := h.agent.Ports.GetPort(s.Notify.Port)
		if !ok {
			return fmt.Errorf("notify: unknown port %s", s.Notify.Port)
		}
		oper := device.OperDown
		if s.Notify.Oper == "up" {
			oper = device.OperUp
		}
		return h.dev.SetOperStatus(p.OID, oper)

	case s.Fail != nil:
		op, err := device.ParseOp(s.Fail.Op)
		if err != nil {
			return err
		}
		st, err := device.ParseStatus(s.Fail.Status)
		if err != nil {
			return err
		}
		h.dev.InjectFault(sim.Fault{
			Op:     op,
			Type:   device.ObjectType(s.Fail.Type),
			Attr:   device.AttrID(s.Fail.Attr),
			Status: st,
			Count:  s.Fail.Count,
		})
		return nil
	}
	return fmt.Errorf("empty step")
}
