package store

import (
	"context"
	"fmt"

	"github.com/roach88/orchd/internal/task"
)

// Subscriber reads the change log of one table.
// A Subscriber is used by a single goroutine.
type Subscriber struct {
	t    *Table
	last int64
}

// Subscribe returns a Subscriber positioned after the latest change, so it
// sees only changes committed from now on. Use Refill to read what is
// already stored.
func (s *Store) Subscribe(ctx context.Context, db, table string) (*Subscriber, error) {
	last, err := s.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s|%s: %w", db, table, err)
	}
	return &Subscriber{t: s.Table(db, table), last: last}, nil
}

// Table returns the subscribed table name.
func (sub *Subscriber) Table() string { return sub.t.name }

// Position returns the seq of the last change returned by Pops.
func (sub *Subscriber) Position() int64 { return sub.last }

// Pops returns up to max changes after the current position as Tasks, in
// commit order, and advances past them. It never blocks waiting for
// changes; an empty result means the log is drained.
func (sub *Subscriber) Pops(ctx context.Context, max int) ([]task.Task, error) {
	rows, err := sub.t.s.db.QueryContext(ctx, `
		SELECT seq, key, op, fields FROM changes
		WHERE db = ? AND tbl = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, sub.t.db, sub.t.name, sub.last, max)
	if err != nil {
		return nil, fmt.Errorf("pops %s|%s: %w", sub.t.db, sub.t.name, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		var (
			seq     int64
			key, op string
			data    string
		)
		if err := rows.Scan(&seq, &key, &op, &data); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		parsed, err := task.ParseOp(op)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", seq, err)
		}
		fields, err := unmarshalFields(data)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", seq, err)
		}
		tasks = append(tasks, task.New(key, parsed, fields...))
		sub.last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return tasks, nil
}

// Refill returns every stored row of the table as an upsert Task, ordered by
// key.
func (sub *Subscriber) Refill(ctx context.Context) ([]task.Task, error) {
	rows, err := sub.t.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("refill %s|%s: %w", sub.t.db, sub.t.name, err)
	}
	tasks := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, task.New(r.Key, task.OpUpsert, r.Fields...))
	}
	return tasks, nil
}

// Watch registers wake to run after every in-process write to the table.
// wake runs on the writer's goroutine and must not block.
func (sub *Subscriber) Watch(wake func()) {
	sub.t.s.watch(sub.t.db, sub.t.name, wake)
}
