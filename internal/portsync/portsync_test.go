package portsync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/hostif"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "orchd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSyncConfig(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cfg := s.Table(store.DBConfig, ConfigTable)
	require.NoError(t, cfg.SetKV(ctx, "Ethernet0", "lanes", "0,1,2,3", "mtu", "1500"))
	require.NoError(t, cfg.SetKV(ctx, "Ethernet4", "lanes", "4,5,6,7", "admin_status", "up"))
	appl := s.Table(store.DBAppl, ports.PortTable)
	require.NoError(t, appl.SetKV(ctx, "Ethernet8", "lanes", "8,9,10,11"))

	n, err := New(s, hostif.NewStatic()).SyncConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := appl.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ethernet0", "Ethernet4", ports.KeyPortConfigDone}, keys)

	row, _, err := appl.Get(ctx, "Ethernet0")
	require.NoError(t, err)
	assert.Equal(t, task.Pairs("lanes", "0,1,2,3", "mtu", "1500", "admin_status", "down"), row)
	row, _, err = appl.Get(ctx, "Ethernet4")
	require.NoError(t, err)
	assert.Equal(t, task.Pairs("lanes", "4,5,6,7", "admin_status", "up", "mtu", "9100"), row)

	count, _, err := appl.GetField(ctx, ports.KeyPortConfigDone, "count")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
}

func TestWaitInit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cfg := s.Table(store.DBConfig, ConfigTable)
	require.NoError(t, cfg.SetKV(ctx, "Ethernet0", "lanes", "0"))
	require.NoError(t, cfg.SetKV(ctx, "Ethernet4", "lanes", "4"))

	links := hostif.NewStatic("Ethernet0")
	sync := New(s, links)
	sync.PollInterval = time.Millisecond
	_, err := sync.SyncConfig(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sync.WaitInit(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("returned before Ethernet4 existed: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	links.Add("Ethernet4", hostif.Link{})
	require.NoError(t, <-done)

	_, ok, err := s.Table(store.DBAppl, ports.PortTable).Get(ctx, ports.KeyPortInitDone)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitInitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := openStore(t)
	require.NoError(t, s.Table(store.DBConfig, ConfigTable).SetKV(ctx, "Ethernet0", "lanes", "0"))
	sync := New(s, hostif.NewStatic())
	sync.PollInterval = time.Millisecond
	_, err := sync.SyncConfig(ctx)
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, sync.WaitInit(ctx), context.Canceled)
}

func TestSyncConfigMTU(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Table(store.DBConfig, ConfigTable).SetKV(ctx, "Ethernet0", "lanes", "0"))
	sync := New(s, hostif.NewStatic())
	sync.MTU = 1500
	_, err := sync.SyncConfig(ctx)
	require.NoError(t, err)
	mtu, _, err := s.Table(store.DBAppl, ports.PortTable).GetField(ctx, "Ethernet0", "mtu")
	require.NoError(t, err)
	assert.Equal(t, "1500", mtu)
}
