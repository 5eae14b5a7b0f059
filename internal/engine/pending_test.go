package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/orchd/internal/task"
)

func TestPendingQueue_MergeAbsentKeyInserts(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Upsert("Ethernet0", "speed", "100000"))
	q.Merge(task.Delete("Ethernet4"))

	require.Equal(t, 2, q.Len())
	assert.Equal(t, []string{"Ethernet0", "Ethernet4"}, q.Keys())
}

func TestPendingQueue_MergeUpsertFoldsFields(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Upsert("Ethernet0", "speed", "100000", "mtu", "9100"))
	q.Merge(task.Upsert("Ethernet0", "speed", "40000", "fec", "rs"))

	got := q.Entries("Ethernet0")
	require.Len(t, got, 1)
	assert.True(t, task.Upsert("Ethernet0", "mtu", "9100", "speed", "40000", "fec", "rs").Equal(got[0]),
		"got %s", got[0])
}

func TestPendingQueue_MergeDeleteErasesKey(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Upsert("Ethernet0", "speed", "100000"))
	q.Merge(task.Upsert("Ethernet4", "speed", "100000"))
	q.Merge(task.Delete("Ethernet0"))

	assert.Equal(t, []string{"Ethernet4", "Ethernet0"}, q.Keys())
	got := q.Entries("Ethernet0")
	require.Len(t, got, 1)
	assert.Equal(t, task.OpDelete, got[0].Op)
}

func TestPendingQueue_DeleteThenUpsert(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Upsert("Ethernet0", "speed", "100000"))
	q.Merge(task.Delete("Ethernet0"))
	q.Merge(task.Upsert("Ethernet0", "lanes", "0,1"))
	q.Merge(task.Upsert("Ethernet0", "speed", "50000"))

	got := q.Entries("Ethernet0")
	require.Len(t, got, 2)
	assert.Equal(t, task.OpDelete, got[0].Op)
	assert.True(t, task.Upsert("Ethernet0", "lanes", "0,1", "speed", "50000").Equal(got[1]), "got %s", got[1])
}

func TestPendingQueue_DeleteForUnknownKeyIsStored(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Delete("Ethernet0"))

	assert.Equal(t, []string{"Ethernet0|DEL"}, entriesString(q))
}

func TestPendingQueue_AddToSync(t *testing.T) {
	q := NewPendingQueue()
	n := q.AddToSync([]task.Task{
		task.Upsert("a", "f", "1"),
		task.Upsert("a", "g", "2"),
		task.Delete("b"),
	})

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a|SET|f:1|g:2", "b|DEL"}, entriesString(q))
}

func TestPendingQueue_DrainRetainsNeedRetry(t *testing.T) {
	q := NewPendingQueue()
	q.AddToSync([]task.Task{
		task.Upsert("a", "f", "1"),
		task.Upsert("b", "f", "1"),
		task.Upsert("c", "f", "1", "g", "2"),
		task.Upsert("d", "f", "1"),
	})

	err := q.Drain(func(tk task.Task) (Result, error) {
		switch tk.Key {
		case "a":
			return Consumed(), nil
		case "b":
			return Retry(), nil
		case "c":
			return RetryWith(tk.Narrow("g")), nil
		default:
			return Failed(), nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"b|SET|f:1", "c|SET|g:2"}, entriesString(q))
}

func TestPendingQueue_DrainFatalRetainsRest(t *testing.T) {
	q := NewPendingQueue()
	q.AddToSync([]task.Task{
		task.Upsert("a", "f", "1"),
		task.Upsert("b", "f", "1"),
		task.Upsert("c", "f", "1"),
	})
	boom := NewDeviceFatal("T", "b", errors.New("boom"))

	var visited []string
	err := q.Drain(func(tk task.Task) (Result, error) {
		visited = append(visited, tk.Key)
		if tk.Key == "b" {
			return Result{}, boom
		}
		return Consumed(), nil
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, visited)
	assert.Equal(t, []string{"b", "c"}, q.Keys())
}

func TestPendingQueue_RetainedDeleteHoldsUpsert(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Delete("Ethernet0"))
	q.Merge(task.Upsert("Ethernet0", "mtu", "1500"))
	q.Merge(task.Upsert("Ethernet4", "mtu", "1500"))

	var visited []string
	err := q.Drain(func(tk task.Task) (Result, error) {
		visited = append(visited, tk.String())
		if tk.Op == task.OpDelete {
			return Retry(), nil
		}
		return Consumed(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Ethernet0|DEL", "Ethernet4|SET|mtu:1500"}, visited)
	assert.Equal(t, []string{"Ethernet0|DEL", "Ethernet0|SET|mtu:1500"}, entriesString(q))

	visited = nil
	require.NoError(t, q.Drain(func(tk task.Task) (Result, error) {
		visited = append(visited, tk.String())
		return Consumed(), nil
	}))
	assert.Equal(t, []string{"Ethernet0|DEL", "Ethernet0|SET|mtu:1500"}, visited)
	assert.Zero(t, q.Len())
}

func TestPendingQueue_IntrospectionDuringDrain(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Upsert("a", "f", "1"))

	var keys []string
	var dump []string
	var n int
	require.NoError(t, q.Drain(func(task.Task) (Result, error) {
		q.Merge(task.Upsert("b", "f", "1"))
		q.Merge(task.Upsert("b", "g", "2"))
		n = q.Len()
		keys = q.Keys()
		dump = q.Dump("T")
		return Consumed(), nil
	}))

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, keys)
	assert.Equal(t, []string{"T:b|SET|f:1|g:2"}, dump)
	assert.Equal(t, []string{"b|SET|f:1|g:2"}, entriesString(q))
}

func TestPendingQueue_MergeDuringDrain(t *testing.T) {
	q := NewPendingQueue()
	q.AddToSync([]task.Task{
		task.Upsert("a", "f", "1"),
		task.Upsert("b", "f", "1"),
	})

	err := q.Drain(func(tk task.Task) (Result, error) {
		if tk.Key == "a" {
			q.Merge(task.Upsert("b", "g", "2"))
			q.Merge(task.Upsert("z", "f", "1"))
			return Consumed(), nil
		}
		return Retry(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"b|SET|f:1|g:2", "z|SET|f:1"}, entriesString(q))
}

func TestPendingQueue_NestedDrainRejected(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Upsert("a"))

	var inner error
	require.NoError(t, q.Drain(func(task.Task) (Result, error) {
		inner = q.Drain(func(task.Task) (Result, error) { return Consumed(), nil })
		return Retry(), nil
	}))
	assert.Error(t, inner)
	assert.Equal(t, 1, q.Len())
}

func TestPendingQueue_Dump(t *testing.T) {
	q := NewPendingQueue()
	q.Merge(task.Upsert("Ethernet0", "speed", "100000"))

	assert.Equal(t, []string{"PORT_TABLE:Ethernet0|SET|speed:100000"}, q.Dump("PORT_TABLE"))
}

func entriesString(q *PendingQueue) []string {
	var out []string
	for _, tk := range q.Tasks() {
		out = append(out, tk.String())
	}
	return out
}

// apply replays tasks onto state the way a reconciler would see them.
func apply(state map[string]map[string]string, tasks []task.Task) {
	for _, tk := range tasks {
		if tk.Op == task.OpDelete {
			delete(state, tk.Key)
			continue
		}
		row, ok := state[tk.Key]
		if !ok {
			row = make(map[string]string)
			state[tk.Key] = row
		}
		for _, fv := range tk.Fields {
			row[fv.Field] = fv.Value
		}
	}
}

func TestPendingQueue_MergeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := []string{"a", "b", "c"}
		fields := []string{"f", "g", "h"}
		n := rapid.IntRange(0, 40).Draw(t, "n")

		q := NewPendingQueue()
		var raw []task.Task
		for i := 0; i < n; i++ {
			key := rapid.SampledFrom(keys).Draw(t, "key")
			var tk task.Task
			if rapid.Bool().Draw(t, "delete") {
				tk = task.Delete(key)
			} else {
				tk = task.Upsert(key,
					rapid.SampledFrom(fields).Draw(t, "field"),
					rapid.StringMatching(`[0-9]`).Draw(t, "value"))
			}
			raw = append(raw, tk)
			q.Merge(tk)

			for _, k := range keys {
				entries := q.Entries(k)
				if len(entries) > 2 {
					t.Fatalf("key %s has %d entries", k, len(entries))
				}
				if len(entries) == 2 && (entries[0].Op != task.OpDelete || entries[1].Op != task.OpUpsert) {
					t.Fatalf("key %s entries %v are not [DEL, SET]", k, entries)
				}
			}
		}

		want := map[string]map[string]string{"a": {"x": "0"}, "b": {"x": "0"}}
		got := map[string]map[string]string{"a": {"x": "0"}, "b": {"x": "0"}}
		apply(want, raw)
		apply(got, q.Tasks())
		if len(want) != len(got) {
			t.Fatalf("state mismatch: want %v got %v", want, got)
		}
		for k, row := range want {
			if len(got[k]) != len(row) {
				t.Fatalf("state mismatch for %s: want %v got %v", k, row, got[k])
			}
			for f, v := range row {
				if got[k][f] != v {
					t.Fatalf("state mismatch for %s.%s: want %v got %v", k, f, v, got[k][f])
				}
			}
		}
	})
}
