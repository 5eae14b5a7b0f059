package ports

import (
	"fmt"

	"github.com/roach88/orchd/internal/device"
)

// Tables owned by the reconciler, all in the APPL database.
const (
	PortTable       = "PORT_TABLE"
	LagTable        = "LAG_TABLE"
	LagMemberTable  = "LAG_MEMBER_TABLE"
	VlanTable       = "VLAN_TABLE"
	VlanMemberTable = "VLAN_MEMBER_TABLE"

	// StatusExecutor names the executor handling oper status
	// notifications.
	StatusExecutor = "PORT_STATUS"
)

// Sentinel keys of PORT_TABLE.
const (
	KeyPortConfigDone = "PortConfigDone"
	KeyPortInitDone   = "PortInitDone"
)

// Reference graph tables.
const (
	RefPort       = "PORT"
	RefLag        = "LAG"
	RefVlan       = "VLAN"
	RefLagMember  = "LAG_MEMBER"
	RefVlanMember = "VLAN_MEMBER"
)

// ConfigState is the global port configuration state.
type ConfigState int

const (
	ConfigMissing ConfigState = iota
	ConfigReceived
	ConfigDone
)

// String returns the state name.
func (s ConfigState) String() string {
	switch s {
	case ConfigMissing:
		return "missing"
	case ConfigReceived:
		return "received"
	case ConfigDone:
		return "done"
	default:
		return fmt.Sprintf("ConfigState(%d)", int(s))
	}
}

// l2 is the bridging state shared by ports and LAGs.
type l2 struct {
	// BridgePort is the bridge port created on first VLAN membership.
	BridgePort device.OID
	// VlanMembers maps VLAN name to VLAN member handle.
	VlanMembers map[string]device.OID
}

// Port is the reconciler's view of one front-panel port. Values returned by
// GetPort share slices and maps with the reconciler and must not be
// modified.
type Port struct {
	Alias       string
	Index       int
	Description string
	OID         device.OID
	Lanes       []uint32

	Speed             uint32
	MTU               uint32
	AdminUp           bool
	OperStatus        device.OperStatus
	FEC               string
	AutoNeg           bool
	LinkTraining      bool
	AdvSpeeds         []uint32
	InterfaceType     string
	AdvInterfaceTypes []string
	FlapCount         uint64

	HostIf          device.OID
	Serdes          device.OID
	SerdesFields    map[string]string
	Queues          []device.OID
	PriorityGroups  []device.OID
	SchedulerGroups []device.OID

	l2
	Lag       string
	LagMember device.OID

	// caps caches capability queries; a nil value means unsupported.
	caps map[device.AttrID]any
}

func newPort(alias string, oid device.OID, lanes []uint32) *Port {
	return &Port{
		Alias: alias,
		OID:   oid,
		Lanes: lanes,
		l2:    l2{VlanMembers: make(map[string]device.OID)},
		caps:  make(map[device.AttrID]any),
	}
}

// Lag is a link aggregation group.
type Lag struct {
	Alias   string
	OID     device.OID
	Members map[string]device.OID
	l2
}

// Vlan is a VLAN and its members, keyed by port or LAG name.
type Vlan struct {
	Alias   string
	ID      uint16
	OID     device.OID
	Members map[string]device.OID
}

// ChangeKind says how an object changed.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Updated
	Removed
)

// String returns the change name.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// PortChange reports a port being initialised, updated or removed.
type PortChange struct {
	Kind ChangeKind
	Port Port
}

// BridgePortChange reports a bridge port created or removed for a port or
// LAG.
type BridgePortChange struct {
	Kind   ChangeKind
	Member string
	OID    device.OID
}

// VlanMemberChange reports a VLAN membership change.
type VlanMemberChange struct {
	Kind    ChangeKind
	Vlan    string
	Member  string
	Tagging string
	OID     device.OID
}

// LagMemberChange reports a LAG membership change.
type LagMemberChange struct {
	Kind   ChangeKind
	Lag    string
	Member string
	OID    device.OID
}

// Observer is notified synchronously, on the dispatcher goroutine, after
// each change.
type Observer interface {
	OnPortChange(PortChange)
	OnBridgePortChange(BridgePortChange)
	OnVlanMemberChange(VlanMemberChange)
	OnLagMemberChange(LagMemberChange)
}

// ObserverFuncs adapts functions to Observer. Nil functions are skipped.
type ObserverFuncs struct {
	Port       func(PortChange)
	BridgePort func(BridgePortChange)
	VlanMember func(VlanMemberChange)
	LagMember  func(LagMemberChange)
}

func (o ObserverFuncs) OnPortChange(c PortChange) {
	if o.Port != nil {
		o.Port(c)
	}
}

func (o ObserverFuncs) OnBridgePortChange(c BridgePortChange) {
	if o.BridgePort != nil {
		o.BridgePort(c)
	}
}

func (o ObserverFuncs) OnVlanMemberChange(c VlanMemberChange) {
	if o.VlanMember != nil {
		o.VlanMember(c)
	}
}

func (o ObserverFuncs) OnLagMemberChange(c LagMemberChange) {
	if o.LagMember != nil {
		o.LagMember(c)
	}
}

// BufferReadiness reports whether a port's buffer configuration has been
// applied.
type BufferReadiness interface {
	IsPortReady(alias string) bool
}

type alwaysReady struct{}

func (alwaysReady) IsPortReady(string) bool { return true }
