package store

import (
	"context"
	"testing"

	"github.com/roach88/orchd/internal/task"
)

func TestSubscriberSeesOnlyNewChanges(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tbl := s.Table(DBAppl, "PORT_TABLE")

	if err := tbl.SetKV(ctx, "Ethernet0", "mtu", "1500"); err != nil {
		t.Fatal(err)
	}

	sub, err := s.Subscribe(ctx, DBAppl, "PORT_TABLE")
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if err := tbl.SetKV(ctx, "Ethernet0", "mtu", "9100"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Del(ctx, "Ethernet4"); err != nil {
		t.Fatal(err)
	}
	// Another table's change is not delivered.
	if err := s.Table(DBAppl, "LAG_TABLE").SetKV(ctx, "PortChannel1", "mtu", "9100"); err != nil {
		t.Fatal(err)
	}

	tasks, err := sub.Pops(ctx, 10)
	if err != nil {
		t.Fatalf("Pops() failed: %v", err)
	}
	want := []task.Task{
		task.Upsert("Ethernet0", "mtu", "9100"),
		task.Delete("Ethernet4"),
	}
	if len(tasks) != len(want) {
		t.Fatalf("Pops() returned %d tasks, want %d: %v", len(tasks), len(want), tasks)
	}
	for i := range want {
		if !tasks[i].Equal(want[i]) {
			t.Errorf("task[%d] = %v, want %v", i, tasks[i], want[i])
		}
	}

	tasks, err = sub.Pops(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("second Pops() = %v, want empty", tasks)
	}
}

func TestSubscriberPopsRespectsMax(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sub, err := s.Subscribe(ctx, DBAppl, "PORT_TABLE")
	if err != nil {
		t.Fatal(err)
	}
	tbl := s.Table(DBAppl, "PORT_TABLE")
	for _, k := range []string{"Ethernet0", "Ethernet4", "Ethernet8"} {
		if err := tbl.SetKV(ctx, k, "mtu", "9100"); err != nil {
			t.Fatal(err)
		}
	}

	first, err := sub.Pops(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := sub.Pops(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 1 || second[0].Key != "Ethernet8" {
		t.Errorf("pops = %v then %v", first, second)
	}
}

func TestSubscriberRefill(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tbl := s.Table(DBAppl, "PORT_TABLE")
	if err := tbl.SetKV(ctx, "Ethernet4", "mtu", "9100"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetKV(ctx, "Ethernet0", "speed", "100000", "mtu", "9100"); err != nil {
		t.Fatal(err)
	}

	sub, err := s.Subscribe(ctx, DBAppl, "PORT_TABLE")
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := sub.Refill(ctx)
	if err != nil {
		t.Fatalf("Refill() failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Refill() = %v", tasks)
	}
	if !tasks[0].Equal(task.Upsert("Ethernet0", "speed", "100000", "mtu", "9100")) {
		t.Errorf("tasks[0] = %v", tasks[0])
	}
	if !tasks[1].Equal(task.Upsert("Ethernet4", "mtu", "9100")) {
		t.Errorf("tasks[1] = %v", tasks[1])
	}
}

func TestSubscriberWatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sub, err := s.Subscribe(ctx, DBAppl, "PORT_TABLE")
	if err != nil {
		t.Fatal(err)
	}
	woken := 0
	sub.Watch(func() { woken++ })

	if err := s.Table(DBAppl, "PORT_TABLE").SetKV(ctx, "Ethernet0", "mtu", "9100"); err != nil {
		t.Fatal(err)
	}
	if err := s.Table(DBAppl, "LAG_TABLE").SetKV(ctx, "PortChannel1", "mtu", "9100"); err != nil {
		t.Fatal(err)
	}
	if err := s.Table(DBAppl, "PORT_TABLE").Del(ctx, "Ethernet0"); err != nil {
		t.Fatal(err)
	}
	if woken != 2 {
		t.Errorf("woken = %d, want 2", woken)
	}
}

func TestTrimChanges(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tbl := s.Table(DBAppl, "PORT_TABLE")
	for i := 0; i < 3; i++ {
		if err := tbl.SetKV(ctx, "Ethernet0", "mtu", "9100"); err != nil {
			t.Fatal(err)
		}
	}
	last, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != 3 {
		t.Fatalf("LastSeq() = %d, want 3", last)
	}
	n, err := s.TrimChanges(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("trimmed %d, want 2", n)
	}
	// Trimming keeps the sequence monotonic.
	if err := tbl.SetKV(ctx, "Ethernet0", "mtu", "1500"); err != nil {
		t.Fatal(err)
	}
	if last, _ = s.LastSeq(ctx); last != 4 {
		t.Errorf("LastSeq() after trim = %d, want 4", last)
	}
}
