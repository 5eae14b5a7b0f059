package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/orchd/internal/task"
)

// DefaultBatchSize is how many changes a Consumer reads per Pops call.
const DefaultBatchSize = 128

// Executor is a unit of work the Dispatcher schedules.
type Executor interface {
	// Name identifies the executor. Names are unique per Dispatcher.
	Name() string

	// Execute reads whatever input is available and processes it.
	Execute(ctx context.Context) error

	// Drain processes input already read, without reading more.
	Drain(ctx context.Context) error
}

// Source is a table subscription feeding one Consumer.
type Source interface {
	// Table names the subscribed table.
	Table() string

	// Pops returns up to max changes after the last one returned, without
	// blocking. An empty result means the source is caught up.
	Pops(ctx context.Context, max int) ([]task.Task, error)

	// Refill returns every stored key as an Upsert carrying its current
	// fields.
	Refill(ctx context.Context) ([]task.Task, error)

	// Watch registers wake to be called after every write to the table made
	// in this process.
	Watch(wake func())
}

// Reconciler owns a table's pending queue. Process is called with the
// Consumer whose queue is non-empty; it returns an error only for the fatal
// class.
type Reconciler interface {
	Process(ctx context.Context, c *Consumer) error
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context, c *Consumer) error

// Process calls f(ctx, c).
func (f ReconcilerFunc) Process(ctx context.Context, c *Consumer) error {
	return f(ctx, c)
}

// HandlerReconciler returns a Reconciler that drains the queue through fn.
func HandlerReconciler(fn HandlerFunc) Reconciler {
	return ReconcilerFunc(func(ctx context.Context, c *Consumer) error {
		return c.DrainWith(ctx, fn)
	})
}

// Consumer binds one Source, its PendingQueue and the Reconciler that owns
// the table.
type Consumer struct {
	name  string
	src   Source
	rec   Reconciler
	queue *PendingQueue
	clock *Clock
	batch int
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithName overrides the executor name, which defaults to the table name.
func WithName(name string) ConsumerOption {
	return func(c *Consumer) { c.name = name }
}

// WithBatchSize sets how many changes are read per Pops call.
func WithBatchSize(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithClock sets the clock used to stamp arriving Tasks. A Dispatcher
// replaces it with its own clock when the Consumer is added.
func WithClock(clock *Clock) ConsumerOption {
	return func(c *Consumer) { c.clock = clock }
}

// NewConsumer creates a Consumer for src handled by rec.
func NewConsumer(src Source, rec Reconciler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		name:  src.Table(),
		src:   src,
		rec:   rec,
		queue: NewPendingQueue(),
		clock: NewClock(),
		batch: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the executor name.
func (c *Consumer) Name() string { return c.name }

// Table returns the subscribed table.
func (c *Consumer) Table() string { return c.src.Table() }

// Queue returns the Consumer's pending queue.
func (c *Consumer) Queue() *PendingQueue { return c.queue }

// Pull reads every available change and merges it into the queue.
func (c *Consumer) Pull(ctx context.Context) (int, error) {
	total := 0
	for {
		tasks, err := c.src.Pops(ctx, c.batch)
		if err != nil {
			return total, fmt.Errorf("pull %s: %w", c.Table(), err)
		}
		if len(tasks) == 0 {
			return total, nil
		}
		for _, t := range tasks {
			c.queue.MergeEntry(Entry{Task: t, Seq: c.clock.Next()})
		}
		total += len(tasks)
	}
}

// AddToSync merges tasks into the queue as if they had been read from the
// source.
func (c *Consumer) AddToSync(tasks []task.Task) int {
	for _, t := range tasks {
		c.queue.MergeEntry(Entry{Task: t, Seq: c.clock.Next()})
	}
	c.updateGauge()
	return len(tasks)
}

// Refill merges a snapshot of every stored key into the queue.
func (c *Consumer) Refill(ctx context.Context) error {
	tasks, err := c.src.Refill(ctx)
	if err != nil {
		return fmt.Errorf("refill %s: %w", c.Table(), err)
	}
	n := c.AddToSync(tasks)
	slog.Debug("consumer refilled", "table", c.Table(), "tasks", n)
	return nil
}

// Execute pulls available changes, then drains the queue.
func (c *Consumer) Execute(ctx context.Context) error {
	n, err := c.Pull(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Debug("consumer pulled", "table", c.Table(), "tasks", n)
	}
	return c.Drain(ctx)
}

// Drain hands the queue to the Reconciler when it is non-empty.
func (c *Consumer) Drain(ctx context.Context) error {
	defer c.updateGauge()
	if c.queue.Len() == 0 {
		return nil
	}
	start := time.Now()
	err := c.rec.Process(ctx, c)
	drainDurationHistogram.WithLabelValues(c.Table()).Observe(time.Since(start).Seconds())
	return err
}

// DrainWith runs one pass over the queue, handing each Task to fn.
//
// Tasks reported NeedRetry stay queued. Failed and invalid Tasks are logged
// and dropped. A fatal error stops the pass and is returned with the
// remaining Tasks still queued.
func (c *Consumer) DrainWith(ctx context.Context, fn HandlerFunc) error {
	table := c.Table()
	return c.queue.Drain(func(t task.Task) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := fn(ctx, t)
		if err != nil {
			slog.Error("fatal error handling task",
				"table", table,
				"key", t.Key,
				"op", t.Op.String(),
				"error", err)
			return res, err
		}
		processedTasksCounter.WithLabelValues(table, res.Status.String()).Inc()
		switch res.Status {
		case StatusSuccess, StatusNeedRetry, StatusIgnore:
			slog.Debug("task handled",
				"table", table,
				"key", t.Key,
				"op", t.Op.String(),
				"status", res.Status.String())
		case StatusFailed, StatusInvalidEntry:
			slog.Error("task dropped",
				"table", table,
				"task", t.Dump(table),
				"status", res.Status.String())
		}
		return res, nil
	})
}

// Dump renders the queued Tasks as TABLE:key|OP|f:v.
func (c *Consumer) Dump() []string {
	return c.queue.Dump(c.Table())
}

func (c *Consumer) updateGauge() {
	pendingTasksGauge.WithLabelValues(c.Table()).Set(float64(c.queue.Len()))
}

// bind attaches the Consumer to a Dispatcher.
func (c *Consumer) bind(d *Dispatcher) {
	c.clock = d.clock
	c.src.Watch(func() { d.Wake(c.name) })
}
