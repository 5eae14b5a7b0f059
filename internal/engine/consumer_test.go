package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/task"
)

func TestConsumer_PullLoopsUntilEmpty(t *testing.T) {
	src := newFakeSource("PORT_TABLE")
	src.push(
		task.Upsert("Ethernet0", "speed", "100000"),
		task.Upsert("Ethernet4", "speed", "100000"),
		task.Upsert("Ethernet0", "mtu", "9100"),
	)
	c := NewConsumer(src, HandlerReconciler(newRecorder().handle), WithBatchSize(1))

	n, err := c.Pull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"PORT_TABLE:Ethernet0|SET|speed:100000|mtu:9100",
		"PORT_TABLE:Ethernet4|SET|speed:100000",
	}, c.Dump())
}

func TestConsumer_PullError(t *testing.T) {
	src := newFakeSource("PORT_TABLE")
	src.popErr = errors.New("disk gone")
	c := NewConsumer(src, HandlerReconciler(newRecorder().handle))

	_, err := c.Pull(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pull PORT_TABLE")
}

func TestConsumer_ExecuteDrainsThroughReconciler(t *testing.T) {
	src := newFakeSource("VLAN_TABLE")
	src.push(task.Upsert("Vlan10"), task.Upsert("Vlan20"))
	rec := newRecorder()
	rec.results["Vlan20"] = Retry()
	c := NewConsumer(src, HandlerReconciler(rec.handle))

	require.NoError(t, c.Execute(context.Background()))

	assert.Equal(t, []string{"Vlan10|SET", "Vlan20|SET"}, rec.visited())
	assert.Equal(t, []string{"VLAN_TABLE:Vlan20|SET"}, c.Dump())
}

func TestConsumer_DrainSkipsEmptyQueue(t *testing.T) {
	called := false
	c := NewConsumer(newFakeSource("T"), ReconcilerFunc(func(context.Context, *Consumer) error {
		called = true
		return nil
	}))

	require.NoError(t, c.Drain(context.Background()))
	assert.False(t, called)
}

func TestConsumer_DrainWithDropsFailedAndInvalid(t *testing.T) {
	rec := newRecorder()
	rec.results["bad"] = Invalid()
	rec.results["broken"] = Failed()
	rec.results["other"] = Ignore()
	c := NewConsumer(newFakeSource("T"), HandlerReconciler(rec.handle))
	c.AddToSync([]task.Task{task.Upsert("bad"), task.Upsert("broken"), task.Upsert("other")})

	require.NoError(t, c.Drain(context.Background()))
	assert.Equal(t, 0, c.Queue().Len())
}

func TestConsumer_DrainWithFatal(t *testing.T) {
	rec := newRecorder()
	rec.fatal["b"] = NewDeviceFatal("T", "b", errors.New("switch lost"))
	c := NewConsumer(newFakeSource("T"), HandlerReconciler(rec.handle))
	c.AddToSync([]task.Task{task.Upsert("a"), task.Upsert("b"), task.Upsert("c")})

	err := c.Drain(context.Background())

	require.True(t, IsFatal(err))
	assert.Equal(t, []string{"b", "c"}, c.Queue().Keys())
}

func TestConsumer_Refill(t *testing.T) {
	src := newFakeSource("PORT_TABLE")
	src.rows = []task.Task{task.Upsert("Ethernet0", "lanes", "0,1,2,3")}
	c := NewConsumer(src, HandlerReconciler(newRecorder().handle))
	c.AddToSync([]task.Task{task.Upsert("Ethernet0", "mtu", "9100")})

	require.NoError(t, c.Refill(context.Background()))
	assert.Equal(t, []string{"PORT_TABLE:Ethernet0|SET|mtu:9100|lanes:0,1,2,3"}, c.Dump())
}

func TestConsumer_NameDefaultsToTable(t *testing.T) {
	c := NewConsumer(newFakeSource("PORT_TABLE"), HandlerReconciler(newRecorder().handle))
	assert.Equal(t, "PORT_TABLE", c.Name())

	named := NewConsumer(newFakeSource("PORT_TABLE"), HandlerReconciler(newRecorder().handle), WithName("ports"))
	assert.Equal(t, "ports", named.Name())
	assert.Equal(t, "PORT_TABLE", named.Table())
}
