package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is how often every executor is re-run to pick up
	// writes made by other processes.
	DefaultPollInterval = time.Second

	// DefaultIdleInterval is how long the loop waits without work before
	// draining every pending queue.
	DefaultIdleInterval = time.Second
)

// binder is implemented by executors that need the Dispatcher to wake them.
type binder interface {
	bind(d *Dispatcher)
}

// backgrounder is implemented by executors with a feeding goroutine.
type backgrounder interface {
	runBackground(ctx context.Context)
}

// Dispatcher runs every executor from one goroutine.
//
// CRITICAL: Reconcilers are only invoked from Run, DrainAll and Bootstrap,
// which must not be called concurrently. This is the single-writer guarantee
// that lets reconcilers share state without locks.
type Dispatcher struct {
	executors []Executor
	byName    map[string]Executor
	ready     *readyQueue
	clock     *Clock
	runIDs    RunIDGenerator
	runID     string

	pollInterval time.Duration
	idleInterval time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets how often every executor is re-run. Zero disables
// polling.
func WithPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.pollInterval = d }
}

// WithIdleInterval sets the quiet period after which all pending queues are
// drained.
func WithIdleInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.idleInterval = d
		}
	}
}

// WithRunIDGenerator overrides the run id generator.
// Useful for testing with a FixedGenerator.
func WithRunIDGenerator(gen RunIDGenerator) Option {
	return func(disp *Dispatcher) { disp.runIDs = gen }
}

// NewDispatcher creates a Dispatcher with no executors.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		byName:       make(map[string]Executor),
		ready:        newReadyQueue(),
		clock:        NewClock(),
		runIDs:       UUIDv7Generator{},
		pollInterval: DefaultPollInterval,
		idleInterval: DefaultIdleInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.runID = d.runIDs.Generate()
	return d
}

// RunID returns the id of this Dispatcher's run.
func (d *Dispatcher) RunID() string { return d.runID }

// Add registers executors. Names must be unique.
func (d *Dispatcher) Add(executors ...Executor) error {
	for _, e := range executors {
		name := e.Name()
		if _, ok := d.byName[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateExecutor, name)
		}
		d.byName[name] = e
		d.executors = append(d.executors, e)
		if b, ok := e.(binder); ok {
			b.bind(d)
		}
	}
	return nil
}

// Executor returns the executor registered under name.
func (d *Dispatcher) Executor(name string) (Executor, bool) {
	e, ok := d.byName[name]
	return e, ok
}

// Consumer returns the table Consumer registered under name.
func (d *Dispatcher) Consumer(name string) (*Consumer, bool) {
	c, ok := d.byName[name].(*Consumer)
	return c, ok
}

// Wake schedules the named executor. Safe to call from any goroutine.
func (d *Dispatcher) Wake(name string) {
	d.ready.Enqueue(name)
}

// DrainAll drains every executor: those named in priority first, in the
// given order, then the rest in registration order. Unknown names in
// priority are ignored.
func (d *Dispatcher) DrainAll(ctx context.Context, priority ...string) error {
	for _, e := range d.ordered(priority) {
		if err := e.Drain(ctx); err != nil {
			if IsFatal(err) {
				return err
			}
			slog.Warn("drain failed", "executor", e.Name(), "error", err)
		}
	}
	return nil
}

// ExecuteAll executes every executor in registration order.
func (d *Dispatcher) ExecuteAll(ctx context.Context) error {
	for _, e := range d.executors {
		if err := d.execute(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) ordered(priority []string) []Executor {
	out := make([]Executor, 0, len(d.executors))
	seen := make(map[string]struct{}, len(priority))
	for _, name := range priority {
		if e, ok := d.byName[name]; ok {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, e)
		}
	}
	for _, e := range d.executors {
		if _, ok := seen[e.Name()]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// PendingTasks renders every queued Task of every Consumer, oldest arrival
// first across tables.
func (d *Dispatcher) PendingTasks() []string {
	type stamped struct {
		seq  int64
		line string
	}
	var all []stamped
	for _, e := range d.executors {
		c, ok := e.(*Consumer)
		if !ok {
			continue
		}
		for _, en := range c.queue.Stamped() {
			all = append(all, stamped{seq: en.Seq, line: en.Task.Dump(c.Table())})
		}
	}
	slices.SortStableFunc(all, func(a, b stamped) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]string, 0, len(all))
	for _, s := range all {
		out = append(out, s.line)
	}
	return out
}

// execute runs one executor, returning only fatal and context errors.
func (d *Dispatcher) execute(ctx context.Context, e Executor) error {
	err := e.Execute(ctx)
	if err == nil {
		return nil
	}
	if IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	slog.Warn("executor failed", "executor", e.Name(), "run_id", d.runID, "error", err)
	return nil
}

// Run processes executors until ctx is cancelled or a fatal error occurs.
//
// On cancellation Run returns ctx.Err(). A *FatalError is returned as is;
// the caller is expected to exit the process.
func (d *Dispatcher) Run(ctx context.Context) (err error) {
	slog.Info("dispatcher starting", "run_id", d.runID, "executors", len(d.executors))

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, e := range d.executors {
		if b, ok := e.(backgrounder); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.runBackground(ctx)
			}()
		}
	}

	var pollC <-chan time.Time
	if d.pollInterval > 0 {
		poll := time.NewTicker(d.pollInterval)
		defer poll.Stop()
		pollC = poll.C
	}
	idle := time.NewTimer(d.idleInterval)
	defer idle.Stop()

	defer func() {
		if IsFatal(err) {
			fatalAbortsCounter.Inc()
			slog.Error("dispatcher stopping: fatal error", "run_id", d.runID, "error", err)
		}
	}()

	for {
		if name, ok := d.ready.TryDequeue(); ok {
			if e, found := d.byName[name]; found {
				if err := d.execute(ctx, e); err != nil {
					return err
				}
			}
			// Every event is a chance for work retained on other tables.
			if err := d.DrainAll(ctx); err != nil {
				return err
			}
			idle.Reset(d.idleInterval)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled", "run_id", d.runID)
			return ctx.Err()

		case _, ok := <-d.ready.Wait():
			if !ok {
				slog.Info("dispatcher stopping: stopped", "run_id", d.runID)
				return nil
			}

		case <-pollC:
			for _, e := range d.executors {
				d.ready.Enqueue(e.Name())
			}

		case <-idle.C:
			if err := d.DrainAll(ctx); err != nil {
				return err
			}
			idle.Reset(d.idleInterval)
		}
	}
}

// Stop closes the ready queue. Wakes after Stop are dropped.
func (d *Dispatcher) Stop() {
	d.ready.Close()
}
