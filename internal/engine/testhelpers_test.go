package engine

import (
	"context"
	"sync"

	"github.com/roach88/orchd/internal/task"
)

// fakeSource is an in-memory Source. push appends a change and calls the
// registered wake hook like an in-process store write would.
type fakeSource struct {
	table string

	mu      sync.Mutex
	changes []task.Task
	rows    []task.Task
	wake    func()
	popErr  error
}

func newFakeSource(table string) *fakeSource {
	return &fakeSource{table: table}
}

func (s *fakeSource) Table() string { return s.table }

func (s *fakeSource) Pops(_ context.Context, max int) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popErr != nil {
		return nil, s.popErr
	}
	n := min(max, len(s.changes))
	out := s.changes[:n:n]
	s.changes = s.changes[n:]
	return out, nil
}

func (s *fakeSource) Refill(context.Context) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Task(nil), s.rows...), nil
}

func (s *fakeSource) Watch(wake func()) {
	s.mu.Lock()
	s.wake = wake
	s.mu.Unlock()
}

func (s *fakeSource) push(tasks ...task.Task) {
	s.mu.Lock()
	s.changes = append(s.changes, tasks...)
	wake := s.wake
	s.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// recorder is a HandlerFunc that records visited tasks and answers with a
// per-key result.
type recorder struct {
	mu      sync.Mutex
	seen    []string
	results map[string]Result
	fatal   map[string]error
	calls   chan string
}

func newRecorder() *recorder {
	return &recorder{
		results: make(map[string]Result),
		fatal:   make(map[string]error),
		calls:   make(chan string, 64),
	}
}

func (r *recorder) handle(_ context.Context, t task.Task) (Result, error) {
	r.mu.Lock()
	r.seen = append(r.seen, t.String())
	res, ok := r.results[t.Key]
	err := r.fatal[t.Key]
	r.mu.Unlock()

	select {
	case r.calls <- t.Key:
	default:
	}
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Consumed(), nil
	}
	return res, nil
}

func (r *recorder) visited() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}
