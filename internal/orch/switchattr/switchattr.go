// Package switchattr applies SWITCH_TABLE rows to the switch object.
//
// The table has one key, "switch". Each field maps to one switch attribute.
// Fields are applied in row order; an unknown field or an invalid value
// stops the row there and the remaining fields are dropped with it. Device
// failures go through the shared classifier; for the switch object every
// set failure is fatal.
package switchattr

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/engine"
	"github.com/roach88/orchd/internal/orch"
	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// Table is the subscribed table.
const Table = "SWITCH_TABLE"

// KeySwitch is the only key of Table.
const KeySwitch = "switch"

type kind int

const (
	kindAction kind = iota
	kindUint32
	kindBool
	kindPort
	kindMAC
)

type attribute struct {
	id   device.AttrID
	kind kind
}

var attributes = map[string]attribute{
	"fdb_unicast_miss_packet_action":   {device.AttrSwitchFDBUnicastMissAction, kindAction},
	"fdb_broadcast_miss_packet_action": {device.AttrSwitchFDBBroadcastMissAction, kindAction},
	"fdb_multicast_miss_packet_action": {device.AttrSwitchFDBMulticastMissAction, kindAction},
	"ecmp_hash_seed":                   {device.AttrSwitchECMPHashSeed, kindUint32},
	"lag_hash_seed":                    {device.AttrSwitchLAGHashSeed, kindUint32},
	"fdb_aging_time":                   {device.AttrSwitchFDBAgingTime, kindUint32},
	"debug_shell_enable":               {device.AttrSwitchShellEnable, kindBool},
	"vxlan_port":                       {device.AttrSwitchVxlanPort, kindPort},
	"vxlan_router_mac":                 {device.AttrSwitchVxlanRouterMAC, kindMAC},
}

var packetActions = []string{"drop", "forward", "copy", "copy_cancel", "trap", "log", "deny", "transit"}

// Reconciler owns SWITCH_TABLE.
type Reconciler struct {
	octx    *orch.Context
	applied map[string]string
}

// New creates a Reconciler.
func New(octx *orch.Context) *Reconciler {
	return &Reconciler{octx: octx, applied: make(map[string]string)}
}

// Executors subscribes to SWITCH_TABLE.
func (r *Reconciler) Executors(ctx context.Context) ([]engine.Executor, error) {
	c, err := r.octx.Subscribe(ctx, store.DBAppl, Table, engine.HandlerReconciler(r.handle))
	if err != nil {
		return nil, err
	}
	return []engine.Executor{c}, nil
}

// Applied returns the value last applied for field.
func (r *Reconciler) Applied(field string) (string, bool) {
	v, ok := r.applied[field]
	return v, ok
}

func (r *Reconciler) handle(ctx context.Context, t task.Task) (engine.Result, error) {
	if t.Key != KeySwitch {
		slog.Error("unknown switch key", "task", t.Dump(Table))
		return engine.Invalid(), nil
	}
	if t.Op == task.OpDelete {
		slog.Warn("switch attributes cannot be deleted", "key", t.Key)
		return engine.Ignore(), nil
	}

	dev := r.octx.Device
	for _, fv := range t.Fields {
		attr, ok := attributes[fv.Field]
		if !ok {
			slog.Error("unsupported switch attribute", "field", fv.Field)
			return engine.Invalid(), nil
		}
		value, err := parseValue(attr.kind, fv.Value)
		if err != nil {
			slog.Error("invalid switch attribute value", "field", fv.Field, "value", fv.Value, "error", err)
			return engine.Invalid(), nil
		}

		st := dev.Set(ctx, device.ObjectSwitch, dev.SwitchID(), device.Attr{ID: attr.id, Value: value})
		if err := device.NewStatusError(device.OpSet, device.ObjectSwitch, dev.SwitchID(), attr.id, st); err != nil {
			slog.Error("switch attribute not set", "field", fv.Field, "value", fv.Value, "error", err)
			return orch.Fail(Table, t.Key, err)
		}
		r.applied[fv.Field] = fv.Value
		slog.Info("switch attribute set", "field", fv.Field, "value", fv.Value)
	}
	return engine.Consumed(), nil
}

func parseValue(k kind, v string) (any, error) {
	v = strings.TrimSpace(v)
	switch k {
	case kindAction:
		if !slices.Contains(packetActions, v) {
			return nil, fmt.Errorf("unknown packet action %q", v)
		}
		return v, nil
	case kindUint32:
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, err
		}
		return uint32(n), nil
	case kindBool:
		switch v {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean: %q", v)
	case kindPort:
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, err
		}
		return uint32(n), nil
	case kindMAC:
		mac, err := net.ParseMAC(v)
		if err != nil {
			return nil, err
		}
		if len(mac) != 6 {
			return nil, fmt.Errorf("not an ethernet address: %q", v)
		}
		return mac.String(), nil
	}
	return nil, fmt.Errorf("unknown attribute kind %d", k)
}
