package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/orchd/internal/task"
)

// Entry is one queued Task with the logical time it arrived.
type Entry struct {
	Task task.Task
	Seq  int64
}

// PendingQueue holds the Tasks a reconciler has not yet applied, in arrival
// order, at most two per key.
//
// Merge keeps the queue minimal: a later Delete supersedes everything queued
// for its key, and later Upserts fold into the queued Upsert field by field.
// When a key has two entries they are always a Delete followed by an Upsert,
// which lets a reconciler tear an object down and rebuild it.
//
// Thread-safety: not safe for concurrent use. Only the Dispatcher goroutine
// touches a PendingQueue.
type PendingQueue struct {
	entries []Entry

	// draining is set while Drain runs; Tasks merged meanwhile wait in
	// arrived and are merged after the retained entries.
	draining bool
	arrived  []Entry
}

// NewPendingQueue creates an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Merge adds t to the queue.
func (q *PendingQueue) Merge(t task.Task) {
	q.MergeEntry(Entry{Task: t})
}

// MergeEntry adds e to the queue, keeping e.Seq on a newly inserted entry.
func (q *PendingQueue) MergeEntry(e Entry) {
	if q.draining {
		q.arrived = append(q.arrived, e)
		return
	}
	q.entries = mergeInto(q.entries, e)
}

// AddToSync merges tasks left to right and returns how many were merged.
func (q *PendingQueue) AddToSync(tasks []task.Task) int {
	for _, t := range tasks {
		q.Merge(t)
	}
	return len(tasks)
}

func mergeInto(entries []Entry, e Entry) []Entry {
	t := e.Task
	if t.Op == task.OpDelete {
		kept := entries[:0]
		for _, cur := range entries {
			if cur.Task.Key != t.Key {
				kept = append(kept, cur)
			}
		}
		// Zero the tail so removed Tasks can be collected.
		for i := len(kept); i < len(entries); i++ {
			entries[i] = Entry{}
		}
		return append(kept, e)
	}

	for i := range entries {
		cur := &entries[i]
		if cur.Task.Key == t.Key && cur.Task.Op == task.OpUpsert {
			cur.Task = cur.Task.MergeFrom(t)
			return entries
		}
	}
	return append(entries, e)
}

// Drain hands every queued Task to fn in queue order.
//
// Tasks for which fn reports StatusNeedRetry stay queued, replaced by
// Result.Replace when set, in their original relative order. All other
// statuses consume the Task. Once a Task is retained, later Tasks for the
// same key are retained without being visited, so a Delete that cannot
// complete yet is never overtaken by the Upsert that follows it. If fn
// returns an error the pass stops: the current Task and every unvisited one
// stay queued and the error is returned.
//
// Tasks merged while Drain runs (for example by fn itself) are merged after
// the retained ones once the pass ends.
func (q *PendingQueue) Drain(fn func(task.Task) (Result, error)) error {
	if q.draining {
		return fmt.Errorf("pending queue: nested drain")
	}
	snapshot := q.entries
	q.entries = nil
	q.draining = true

	var retained []Entry
	blocked := make(map[string]struct{})
	var err error
	for i, e := range snapshot {
		if _, ok := blocked[e.Task.Key]; ok {
			retained = append(retained, e)
			continue
		}
		var res Result
		res, err = fn(e.Task)
		if err != nil {
			retained = append(retained, snapshot[i:]...)
			break
		}
		if !res.Retained() {
			continue
		}
		if res.Replace != nil {
			e.Task = *res.Replace
		}
		retained = append(retained, e)
		blocked[e.Task.Key] = struct{}{}
	}

	q.draining = false
	q.entries = retained
	arrived := q.arrived
	q.arrived = nil
	for _, e := range arrived {
		q.entries = mergeInto(q.entries, e)
	}
	return err
}

// view returns the queue as it will stand once Tasks merged during a drain
// are folded in.
func (q *PendingQueue) view() []Entry {
	if len(q.arrived) == 0 {
		return q.entries
	}
	out := slices.Clone(q.entries)
	for _, e := range q.arrived {
		out = mergeInto(out, e)
	}
	return out
}

// Len returns the number of queued entries.
func (q *PendingQueue) Len() int {
	return len(q.view())
}

// Keys returns the distinct queued keys in first-arrival order.
func (q *PendingQueue) Keys() []string {
	entries := q.view()
	seen := make(map[string]struct{}, len(entries))
	var keys []string
	for _, e := range entries {
		if _, ok := seen[e.Task.Key]; ok {
			continue
		}
		seen[e.Task.Key] = struct{}{}
		keys = append(keys, e.Task.Key)
	}
	return keys
}

// Entries returns the Tasks queued for key, in queue order.
func (q *PendingQueue) Entries(key string) []task.Task {
	var out []task.Task
	for _, e := range q.view() {
		if e.Task.Key == key {
			out = append(out, e.Task)
		}
	}
	return out
}

// Tasks returns every queued Task in queue order.
func (q *PendingQueue) Tasks() []task.Task {
	entries := q.view()
	out := make([]task.Task, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Task)
	}
	return out
}

// Stamped returns every queued Entry in queue order, with its arrival Seq.
func (q *PendingQueue) Stamped() []Entry {
	return slices.Clone(q.view())
}

// Dump renders every queued Task as TABLE:key|OP|f:v.
func (q *PendingQueue) Dump(table string) []string {
	entries := q.view()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Task.Dump(table))
	}
	return out
}
