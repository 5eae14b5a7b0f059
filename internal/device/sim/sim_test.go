package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/device"
)

func newSwitch(t *testing.T) *Switch {
	t.Helper()
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	return s
}

func hardwarePorts(t *testing.T, s *Switch) []device.OID {
	t.Helper()
	attrs, st := s.Get(context.Background(), device.ObjectSwitch, s.SwitchID(), device.AttrSwitchPortList)
	require.Equal(t, device.StatusSuccess, st)
	return attrs[0].Value.([]device.OID)
}

func TestNewSeedsHardwarePorts(t *testing.T) {
	s := newSwitch(t)
	ports := hardwarePorts(t, s)
	require.Len(t, ports, 8)

	attrs, st := s.Get(context.Background(), device.ObjectPort, ports[1], device.AttrPortHwLanes, device.AttrPortQueueList)
	require.Equal(t, device.StatusSuccess, st)
	assert.Equal(t, []uint32{4, 5, 6, 7}, attrs[0].Value)
	assert.Len(t, attrs[1].Value, 8)
	assert.Empty(t, s.Calls())
}

func TestCreateRejectsDuplicateLanes(t *testing.T) {
	s := newSwitch(t)
	ctx := context.Background()

	_, st := s.Create(ctx, device.ObjectPort, device.Attr{ID: device.AttrPortHwLanes, Value: []uint32{3, 2, 1, 0}})
	assert.Equal(t, device.StatusItemAlreadyExists, st)

	oid, st := s.Create(ctx, device.ObjectPort,
		device.Attr{ID: device.AttrPortHwLanes, Value: []uint32{100, 101}},
		device.Attr{ID: device.AttrPortSpeed, Value: uint32(50000)})
	require.Equal(t, device.StatusSuccess, st)
	assert.Len(t, hardwarePorts(t, s), 9)

	v, ok := s.Attr(oid, device.AttrPortSpeed)
	require.True(t, ok)
	assert.Equal(t, uint32(50000), v)
}

func TestSetValidatesPortAttributes(t *testing.T) {
	s := newSwitch(t)
	ctx := context.Background()
	port := hardwarePorts(t, s)[0]

	assert.Equal(t, device.StatusSuccess, s.Set(ctx, device.ObjectPort, port, device.Attr{ID: device.AttrPortSpeed, Value: uint32(40000)}))
	assert.Equal(t, device.StatusInvalidAttrValue, s.Set(ctx, device.ObjectPort, port, device.Attr{ID: device.AttrPortSpeed, Value: uint32(12345)}))
	assert.Equal(t, device.StatusInvalidAttrValue, s.Set(ctx, device.ObjectPort, port, device.Attr{ID: device.AttrPortFEC, Value: "bogus"}))
	assert.Equal(t, device.StatusItemNotFound, s.Set(ctx, device.ObjectPort, 9999, device.Attr{ID: device.AttrPortMTU, Value: uint32(9100)}))

	assert.Equal(t, []string{
		"set PORT oid:0x3 PORT_SPEED=40000 SUCCESS",
		"set PORT oid:0x3 PORT_SPEED=12345 INVALID_ATTR_VALUE",
		"set PORT oid:0x3 PORT_FEC_MODE=bogus INVALID_ATTR_VALUE",
		"set PORT oid:0x270f PORT_MTU=9100 ITEM_NOT_FOUND",
	}, s.CallStrings())
}

// TestAdminUpEmitsNotification tests that the link follows the admin state.
func TestAdminUpEmitsNotification(t *testing.T) {
	s := newSwitch(t)
	ctx := context.Background()
	port := hardwarePorts(t, s)[0]

	require.Equal(t, device.StatusSuccess, s.Set(ctx, device.ObjectPort, port, device.Attr{ID: device.AttrPortAdminState, Value: true}))
	select {
	case n := <-s.Notifications():
		assert.Equal(t, device.Notification{Kind: device.NotifyPortOperStatus, OID: port, OperStatus: device.OperUp}, n)
	default:
		t.Fatal("expected oper status notification")
	}

	// Setting up again does not re-notify.
	require.Equal(t, device.StatusSuccess, s.Set(ctx, device.ObjectPort, port, device.Attr{ID: device.AttrPortAdminState, Value: true}))
	assert.Len(t, s.Notifications(), 0)
}

func TestRemoveInUse(t *testing.T) {
	s := newSwitch(t)
	ctx := context.Background()
	port := hardwarePorts(t, s)[0]

	bp, st := s.Create(ctx, device.ObjectBridgePort, device.Attr{ID: device.AttrBridgePortPort, Value: port})
	require.Equal(t, device.StatusSuccess, st)

	assert.Equal(t, device.StatusObjectInUse, s.Remove(ctx, device.ObjectPort, port))
	assert.Equal(t, device.StatusSuccess, s.Remove(ctx, device.ObjectBridgePort, bp))
	assert.Equal(t, device.StatusSuccess, s.Remove(ctx, device.ObjectPort, port))
	assert.Equal(t, device.StatusItemNotFound, s.Remove(ctx, device.ObjectPort, port))

	assert.Len(t, hardwarePorts(t, s), 7)
	assert.Equal(t, 7*8, s.Count(device.ObjectQueue))
}

func TestInjectFault(t *testing.T) {
	s := newSwitch(t)
	ctx := context.Background()
	port := hardwarePorts(t, s)[0]

	s.InjectFault(Fault{Op: device.OpSet, Type: device.ObjectPort, Attr: device.AttrPortSpeed, Status: device.StatusFailure, Count: 2})

	// Other attributes are unaffected.
	assert.Equal(t, device.StatusSuccess, s.Set(ctx, device.ObjectPort, port, device.Attr{ID: device.AttrPortMTU, Value: uint32(9100)}))

	speed := device.Attr{ID: device.AttrPortSpeed, Value: uint32(40000)}
	assert.Equal(t, device.StatusFailure, s.Set(ctx, device.ObjectPort, port, speed))
	assert.Equal(t, device.StatusFailure, s.Set(ctx, device.ObjectPort, port, speed))
	assert.Equal(t, device.StatusSuccess, s.Set(ctx, device.ObjectPort, port, speed))

	s.InjectFault(Fault{Op: device.OpGet, Type: device.ObjectPort, Attr: device.AttrPortSupportedAutoNeg, Status: device.StatusFailure})
	_, st := s.Get(ctx, device.ObjectPort, port, device.AttrPortSupportedAutoNeg)
	assert.Equal(t, device.StatusFailure, st)
	attrs, st := s.Get(ctx, device.ObjectPort, port, device.AttrPortSupportedAutoNeg)
	require.Equal(t, device.StatusSuccess, st)
	assert.Equal(t, true, attrs[0].Value)
}

func TestBulkCreateAndRemove(t *testing.T) {
	s := newSwitch(t)
	ctx := context.Background()

	oids, statuses := s.BulkCreate(ctx, device.ObjectPort, [][]device.Attr{
		{{ID: device.AttrPortHwLanes, Value: []uint32{200}}},
		{{ID: device.AttrPortHwLanes, Value: []uint32{0, 1, 2, 3}}},
	})
	assert.Equal(t, []device.Status{device.StatusSuccess, device.StatusItemAlreadyExists}, statuses)
	assert.NotEqual(t, device.NullOID, oids[0])
	assert.Equal(t, device.NullOID, oids[1])

	statuses = s.BulkRemove(ctx, device.ObjectPort, []device.OID{oids[0]})
	assert.Equal(t, []device.Status{device.StatusSuccess}, statuses)
}
