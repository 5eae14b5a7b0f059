package device

import (
	"fmt"
	"slices"
	"strings"
)

// ObjectType names a kind of device object.
type ObjectType string

const (
	ObjectSwitch         ObjectType = "SWITCH"
	ObjectPort           ObjectType = "PORT"
	ObjectPortSerdes     ObjectType = "PORT_SERDES"
	ObjectHostIf         ObjectType = "HOSTIF"
	ObjectLag            ObjectType = "LAG"
	ObjectLagMember      ObjectType = "LAG_MEMBER"
	ObjectVlan           ObjectType = "VLAN"
	ObjectVlanMember     ObjectType = "VLAN_MEMBER"
	ObjectBridgePort     ObjectType = "BRIDGE_PORT"
	ObjectQueue          ObjectType = "QUEUE"
	ObjectPriorityGroup  ObjectType = "INGRESS_PRIORITY_GROUP"
	ObjectSchedulerGroup ObjectType = "SCHEDULER_GROUP"
	ObjectBufferPool     ObjectType = "BUFFER_POOL"
	ObjectBufferProfile  ObjectType = "BUFFER_PROFILE"
	ObjectSamplePacket   ObjectType = "SAMPLEPACKET"
	ObjectRoute          ObjectType = "ROUTE_ENTRY"
	ObjectNeighbor       ObjectType = "NEIGHBOR_ENTRY"
	ObjectNextHop        ObjectType = "NEXT_HOP"
	ObjectNextHopGroup   ObjectType = "NEXT_HOP_GROUP"
	ObjectFDB            ObjectType = "FDB_ENTRY"
	ObjectTunnel         ObjectType = "TUNNEL"
)

// OID is an opaque device object handle. NullOID is never a valid object.
type OID uint64

// NullOID is the zero handle.
const NullOID OID = 0

// String renders the handle the way counters maps store it.
func (o OID) String() string {
	return fmt.Sprintf("oid:0x%x", uint64(o))
}

// AttrID names an object attribute.
type AttrID string

// Port attributes.
const (
	AttrPortHwLanes             AttrID = "PORT_HW_LANE_LIST"
	AttrPortSpeed               AttrID = "PORT_SPEED"
	AttrPortAdminState          AttrID = "PORT_ADMIN_STATE"
	AttrPortMTU                 AttrID = "PORT_MTU"
	AttrPortFEC                 AttrID = "PORT_FEC_MODE"
	AttrPortAutoNeg             AttrID = "PORT_AUTO_NEG_MODE"
	AttrPortAdvSpeeds           AttrID = "PORT_ADVERTISED_SPEED"
	AttrPortInterfaceType       AttrID = "PORT_INTERFACE_TYPE"
	AttrPortAdvInterfaceTypes   AttrID = "PORT_ADVERTISED_INTERFACE_TYPE"
	AttrPortLinkTraining        AttrID = "PORT_LINK_TRAINING_ENABLE"
	AttrPortOperStatus          AttrID = "PORT_OPER_STATUS"
	AttrPortSupportedAutoNeg    AttrID = "PORT_SUPPORTED_AUTO_NEG_MODE"
	AttrPortSupportedLinkTrain  AttrID = "PORT_SUPPORTED_LINK_TRAINING_MODE"
	AttrPortSupportedFECModes   AttrID = "PORT_SUPPORTED_FEC_MODE"
	AttrPortSupportedSpeeds     AttrID = "PORT_SUPPORTED_SPEED"
	AttrPortQueueList           AttrID = "PORT_QOS_QUEUE_LIST"
	AttrPortPriorityGroupList   AttrID = "PORT_INGRESS_PRIORITY_GROUP_LIST"
	AttrPortSchedulerGroupList  AttrID = "PORT_QOS_SCHEDULER_GROUP_LIST"
	AttrPortIngressSamplePacket AttrID = "PORT_INGRESS_SAMPLEPACKET_ENABLE"
	AttrPortEgressSamplePacket  AttrID = "PORT_EGRESS_SAMPLEPACKET_ENABLE"
)

// Switch, host interface and serdes attributes.
const (
	AttrSwitchPortList AttrID = "SWITCH_PORT_LIST"
	AttrSwitchCPUPort  AttrID = "SWITCH_CPU_PORT"

	AttrSwitchFDBUnicastMissAction   AttrID = "SWITCH_FDB_UNICAST_MISS_PACKET_ACTION"
	AttrSwitchFDBBroadcastMissAction AttrID = "SWITCH_FDB_BROADCAST_MISS_PACKET_ACTION"
	AttrSwitchFDBMulticastMissAction AttrID = "SWITCH_FDB_MULTICAST_MISS_PACKET_ACTION"
	AttrSwitchECMPHashSeed           AttrID = "SWITCH_ECMP_DEFAULT_HASH_SEED"
	AttrSwitchLAGHashSeed            AttrID = "SWITCH_LAG_DEFAULT_HASH_SEED"
	AttrSwitchFDBAgingTime           AttrID = "SWITCH_FDB_AGING_TIME"
	AttrSwitchShellEnable            AttrID = "SWITCH_SWITCH_SHELL_ENABLE"
	AttrSwitchVxlanPort              AttrID = "SWITCH_VXLAN_DEFAULT_PORT"
	AttrSwitchVxlanRouterMAC         AttrID = "SWITCH_VXLAN_DEFAULT_ROUTER_MAC"

	AttrHostIfName   AttrID = "HOSTIF_NAME"
	AttrHostIfObject AttrID = "HOSTIF_OBJ_ID"

	AttrSerdesPort AttrID = "PORT_SERDES_PORT_ID"
)

// LAG, VLAN and bridge attributes.
const (
	AttrLagMemberLag   AttrID = "LAG_MEMBER_LAG_ID"
	AttrLagMemberPort  AttrID = "LAG_MEMBER_PORT_ID"
	AttrVlanID         AttrID = "VLAN_VLAN_ID"
	AttrVlanMemberVlan AttrID = "VLAN_MEMBER_VLAN_ID"
	AttrVlanMemberPort AttrID = "VLAN_MEMBER_BRIDGE_PORT_ID"
	AttrVlanTagging    AttrID = "VLAN_MEMBER_VLAN_TAGGING_MODE"
	AttrBridgePortPort AttrID = "BRIDGE_PORT_PORT_ID"
	AttrBridgePortType AttrID = "BRIDGE_PORT_TYPE"
)

// Buffer and sampling attributes.
const (
	AttrBufferProfileSize      AttrID = "BUFFER_PROFILE_BUFFER_SIZE"
	AttrBufferProfileDynamicTh AttrID = "BUFFER_PROFILE_SHARED_DYNAMIC_TH"
	AttrBufferProfileStaticTh  AttrID = "BUFFER_PROFILE_SHARED_STATIC_TH"
	AttrBufferProfileXon       AttrID = "BUFFER_PROFILE_XON_TH"
	AttrBufferProfileXoff      AttrID = "BUFFER_PROFILE_XOFF_TH"
	AttrPriorityGroupProfile   AttrID = "INGRESS_PRIORITY_GROUP_BUFFER_PROFILE"
	AttrQueueProfile           AttrID = "QUEUE_BUFFER_PROFILE_ID"
	AttrQueueIndex             AttrID = "QUEUE_INDEX"
	AttrSampleRate             AttrID = "SAMPLEPACKET_SAMPLE_RATE"
)

// Attr is one attribute value. Values are bool, uint32, int, string, OID,
// OperStatus, []uint32, []string or []OID.
type Attr struct {
	ID    AttrID
	Value any
}

// String renders the attribute for call traces. Slices print comma separated
// so traces stay stable.
func (a Attr) String() string {
	return string(a.ID) + "=" + FormatValue(a.Value)
}

// FormatValue renders an attribute value.
func FormatValue(v any) string {
	switch val := v.(type) {
	case []uint32:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = fmt.Sprint(n)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	case []OID:
		parts := make([]string, len(val))
		for i, o := range val {
			parts[i] = o.String()
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// Lookup returns the value of id in attrs.
func Lookup(attrs []Attr, id AttrID) (any, bool) {
	for _, a := range attrs {
		if a.ID == id {
			return a.Value, true
		}
	}
	return nil, false
}

// OperStatus is the operational state of a port.
type OperStatus int

const (
	OperUnknown OperStatus = iota
	OperUp
	OperDown
)

// String returns "up", "down" or "unknown".
func (s OperStatus) String() string {
	switch s {
	case OperUp:
		return "up"
	case OperDown:
		return "down"
	default:
		return "unknown"
	}
}

// LaneKey is the canonical form of a lane set, used to match configured
// ports against hardware ports.
func LaneKey(lanes []uint32) string {
	sorted := slices.Clone(lanes)
	slices.Sort(sorted)
	return FormatValue(sorted)
}
