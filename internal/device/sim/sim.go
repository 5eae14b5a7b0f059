package sim

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/roach88/orchd/internal/device"
)

// HardwarePort is a port present on the device before any configuration.
type HardwarePort struct {
	Lanes []uint32
	Speed uint32
}

// Capabilities is the port capability profile reported by the simulator.
type Capabilities struct {
	AutoNeg                bool
	LinkTraining           bool
	FECModes               []string
	Speeds                 []uint32
	InterfaceTypes         []string
	QueuesPerPort          int
	PriorityGroupsPerPort  int
	SchedulerGroupsPerPort int
}

// Config configures a Switch.
type Config struct {
	Ports        []HardwarePort
	Capabilities Capabilities
	// LinkFollowsAdmin makes a port go oper up when set admin up, and down
	// when set admin down, emitting a notification each time.
	LinkFollowsAdmin bool
	// NotificationBuffer sizes the notification channel. Notifications that
	// do not fit are dropped.
	NotificationBuffer int
}

// DefaultConfig returns eight 4-lane 100G ports with a permissive
// capability profile.
func DefaultConfig() Config {
	cfg := Config{
		Capabilities: Capabilities{
			AutoNeg:                true,
			LinkTraining:           true,
			FECModes:               []string{"none", "rs", "fc"},
			Speeds:                 []uint32{10000, 25000, 40000, 50000, 100000},
			InterfaceTypes:         []string{"none", "cr4", "sr4", "lr4", "kr4"},
			QueuesPerPort:          8,
			PriorityGroupsPerPort:  8,
			SchedulerGroupsPerPort: 2,
		},
		LinkFollowsAdmin:   true,
		NotificationBuffer: 64,
	}
	for i := 0; i < 8; i++ {
		base := uint32(i * 4)
		cfg.Ports = append(cfg.Ports, HardwarePort{
			Lanes: []uint32{base, base + 1, base + 2, base + 3},
			Speed: 100000,
		})
	}
	return cfg
}

// Call is one recorded mutating device call.
type Call struct {
	Op     string
	Type   device.ObjectType
	OID    device.OID
	Attrs  []device.Attr
	Status device.Status
}

// String renders the call for traces, e.g.
// "set PORT oid:0x3 PORT_ADMIN_STATE=false SUCCESS".
func (c Call) String() string {
	parts := []string{c.Op, string(c.Type)}
	if c.OID != device.NullOID {
		parts = append(parts, c.OID.String())
	}
	for _, a := range c.Attrs {
		parts = append(parts, a.String())
	}
	parts = append(parts, c.Status.String())
	return strings.Join(parts, " ")
}

// Fault makes matching calls fail with Status. Attr restricts set and get
// faults to one attribute. Count is the number of calls to fail; zero means
// one.
type Fault struct {
	Op     device.Op
	Type   device.ObjectType
	Attr   device.AttrID
	Status device.Status
	Count  int
}

// Switch is the simulated device.
type Switch struct {
	mu       sync.Mutex
	db       *memdb.MemDB
	cfg      Config
	nextID   uint64
	switchID device.OID
	calls    []Call
	faults   []Fault
	notify   chan device.Notification
}

var _ device.API = (*Switch)(nil)

// New builds a Switch seeded with cfg.Ports.
func New(cfg Config) (*Switch, error) {
	db, err := memdb.NewMemDB(newSchema())
	if err != nil {
		return nil, fmt.Errorf("create device db: %w", err)
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = 64
	}
	s := &Switch{
		db:     db,
		cfg:    cfg,
		notify: make(chan device.Notification, cfg.NotificationBuffer),
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	sw, err := s.insert(txn, device.ObjectSwitch, nil)
	if err != nil {
		return nil, err
	}
	s.switchID = sw
	cpu, err := s.insert(txn, device.ObjectPort, map[device.AttrID]any{
		device.AttrPortHwLanes: []uint32{},
	})
	if err != nil {
		return nil, err
	}
	var ports []device.OID
	for _, hp := range cfg.Ports {
		oid, err := s.createPort(txn, hp.Lanes, hp.Speed)
		if err != nil {
			return nil, err
		}
		ports = append(ports, oid)
	}
	if err := s.setAttr(txn, sw, device.AttrSwitchPortList, ports); err != nil {
		return nil, err
	}
	if err := s.setAttr(txn, sw, device.AttrSwitchCPUPort, cpu); err != nil {
		return nil, err
	}
	txn.Commit()
	return s, nil
}

// SwitchID implements device.API.
func (s *Switch) SwitchID() device.OID { return s.switchID }

// Notifications implements device.API.
func (s *Switch) Notifications() <-chan device.Notification { return s.notify }

// InjectFault queues a fault.
func (s *Switch) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Count <= 0 {
		f.Count = 1
	}
	s.faults = append(s.faults, f)
}

// Calls returns the recorded mutating calls.
func (s *Switch) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallStrings returns Calls rendered with Call.String.
func (s *Switch) CallStrings() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// ResetCalls clears the call record.
func (s *Switch) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// SetOperStatus forces a port's oper status and emits a notification, as a
// link partner going up or down would.
func (s *Switch) SetOperStatus(oid device.OID, st device.OperStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := s.setAttr(txn, oid, device.AttrPortOperStatus, st); err != nil {
		return err
	}
	txn.Commit()
	s.emit(device.Notification{Kind: device.NotifyPortOperStatus, OID: oid, OperStatus: st})
	return nil
}

// Count returns the number of objects of type t.
func (s *Switch) Count(t device.ObjectType) int {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableObjects, indexType, string(t))
	if err != nil {
		return 0
	}
	n := 0
	for o := it.Next(); o != nil; o = it.Next() {
		n++
	}
	return n
}

// Attr returns the current value of an attribute, for tests.
func (s *Switch) Attr(oid device.OID, id device.AttrID) (any, bool) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	obj, err := s.lookup(txn, oid)
	if err != nil || obj == nil {
		return nil, false
	}
	v, ok := obj.Attrs[id]
	return v, ok
}

// Create implements device.API.
func (s *Switch) Create(_ context.Context, t device.ObjectType, attrs ...device.Attr) (device.OID, device.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oid, st := s.create(t, attrs)
	s.record("create", t, oid, attrs, st)
	return oid, st
}

// BulkCreate implements device.API.
func (s *Switch) BulkCreate(_ context.Context, t device.ObjectType, attrs [][]device.Attr) ([]device.OID, []device.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oids := make([]device.OID, len(attrs))
	statuses := make([]device.Status, len(attrs))
	for i, a := range attrs {
		oids[i], statuses[i] = s.create(t, a)
		s.record("bulk_create", t, oids[i], a, statuses[i])
	}
	return oids, statuses
}

func (s *Switch) create(t device.ObjectType, attrs []device.Attr) (device.OID, device.Status) {
	if st, ok := s.fault(device.OpCreate, t, attrs); ok {
		return device.NullOID, st
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if t == device.ObjectPort {
		v, _ := device.Lookup(attrs, device.AttrPortHwLanes)
		lanes, ok := v.([]uint32)
		if !ok || len(lanes) == 0 {
			return device.NullOID, device.StatusInvalidParameter
		}
		if s.portByLanes(txn, lanes) != device.NullOID {
			return device.NullOID, device.StatusItemAlreadyExists
		}
		speed := uint32(0)
		if v, ok := device.Lookup(attrs, device.AttrPortSpeed); ok {
			speed, _ = v.(uint32)
		}
		oid, err := s.createPort(txn, lanes, speed)
		if err != nil {
			return device.NullOID, device.StatusFailure
		}
		for _, a := range attrs {
			if err := s.setAttr(txn, oid, a.ID, a.Value); err != nil {
				return device.NullOID, device.StatusFailure
			}
		}
		if err := s.appendSwitchPort(txn, oid); err != nil {
			return device.NullOID, device.StatusFailure
		}
		txn.Commit()
		return oid, device.StatusSuccess
	}

	values := make(map[device.AttrID]any, len(attrs))
	for _, a := range attrs {
		values[a.ID] = a.Value
	}
	oid, err := s.insert(txn, t, values)
	if err != nil {
		return device.NullOID, device.StatusFailure
	}
	txn.Commit()
	return oid, device.StatusSuccess
}

// Remove implements device.API.
func (s *Switch) Remove(_ context.Context, t device.ObjectType, oid device.OID) device.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.remove(t, oid)
	s.record("remove", t, oid, nil, st)
	return st
}

// BulkRemove implements device.API.
func (s *Switch) BulkRemove(_ context.Context, t device.ObjectType, oids []device.OID) []device.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]device.Status, len(oids))
	for i, oid := range oids {
		statuses[i] = s.remove(t, oid)
		s.record("bulk_remove", t, oid, nil, statuses[i])
	}
	return statuses
}

func (s *Switch) remove(t device.ObjectType, oid device.OID) device.Status {
	if st, ok := s.fault(device.OpRemove, t, nil); ok {
		return st
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	obj, err := s.lookup(txn, oid)
	if err != nil || obj == nil || obj.Type != string(t) {
		return device.StatusItemNotFound
	}
	if s.referenced(txn, oid) {
		return device.StatusObjectInUse
	}
	if t == device.ObjectPort {
		for _, id := range []device.AttrID{device.AttrPortQueueList, device.AttrPortPriorityGroupList, device.AttrPortSchedulerGroupList} {
			children, _ := obj.Attrs[id].([]device.OID)
			for _, c := range children {
				if child, _ := s.lookup(txn, c); child != nil {
					if err := txn.Delete(tableObjects, child); err != nil {
						return device.StatusFailure
					}
				}
			}
		}
		if err := s.dropSwitchPort(txn, oid); err != nil {
			return device.StatusFailure
		}
	}
	if err := txn.Delete(tableObjects, obj); err != nil {
		return device.StatusFailure
	}
	txn.Commit()
	return device.StatusSuccess
}

// Set implements device.API.
func (s *Switch) Set(_ context.Context, t device.ObjectType, oid device.OID, attr device.Attr) device.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.set(t, oid, attr)
	s.record("set", t, oid, []device.Attr{attr}, st)
	return st
}

func (s *Switch) set(t device.ObjectType, oid device.OID, attr device.Attr) device.Status {
	if st, ok := s.fault(device.OpSet, t, []device.Attr{attr}); ok {
		return st
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	obj, err := s.lookup(txn, oid)
	if err != nil || obj == nil || obj.Type != string(t) {
		return device.StatusItemNotFound
	}
	if t == device.ObjectPort {
		if st := s.validatePortAttr(attr); st != device.StatusSuccess {
			return st
		}
	}
	if err := s.setAttr(txn, oid, attr.ID, attr.Value); err != nil {
		return device.StatusFailure
	}

	var note *device.Notification
	if t == device.ObjectPort && attr.ID == device.AttrPortAdminState && s.cfg.LinkFollowsAdmin {
		up, _ := attr.Value.(bool)
		oper := device.OperDown
		if up {
			oper = device.OperUp
		}
		if prev, _ := obj.Attrs[device.AttrPortOperStatus].(device.OperStatus); prev != oper {
			if err := s.setAttr(txn, oid, device.AttrPortOperStatus, oper); err != nil {
				return device.StatusFailure
			}
			note = &device.Notification{Kind: device.NotifyPortOperStatus, OID: oid, OperStatus: oper}
		}
	}
	txn.Commit()
	if note != nil {
		s.emit(*note)
	}
	return device.StatusSuccess
}

func (s *Switch) validatePortAttr(attr device.Attr) device.Status {
	caps := s.cfg.Capabilities
	switch attr.ID {
	case device.AttrPortSpeed:
		speed, ok := attr.Value.(uint32)
		if !ok || !slices.Contains(caps.Speeds, speed) {
			return device.StatusInvalidAttrValue
		}
	case device.AttrPortAdvSpeeds:
		speeds, ok := attr.Value.([]uint32)
		if !ok {
			return device.StatusInvalidAttrValue
		}
		for _, sp := range speeds {
			if !slices.Contains(caps.Speeds, sp) {
				return device.StatusInvalidAttrValue
			}
		}
	case device.AttrPortFEC:
		mode, ok := attr.Value.(string)
		if !ok || !slices.Contains(caps.FECModes, mode) {
			return device.StatusInvalidAttrValue
		}
	case device.AttrPortInterfaceType:
		it, ok := attr.Value.(string)
		if !ok || !slices.Contains(caps.InterfaceTypes, it) {
			return device.StatusInvalidAttrValue
		}
	case device.AttrPortAutoNeg:
		if !caps.AutoNeg {
			return device.StatusAttrNotSupported
		}
	case device.AttrPortLinkTraining:
		if !caps.LinkTraining {
			return device.StatusAttrNotSupported
		}
	}
	return device.StatusSuccess
}

// Get implements device.API. Get calls are not recorded.
func (s *Switch) Get(_ context.Context, t device.ObjectType, oid device.OID, ids ...device.AttrID) ([]device.Attr, device.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make([]device.Attr, len(ids))
	for i, id := range ids {
		wanted[i] = device.Attr{ID: id}
	}
	if st, ok := s.fault(device.OpGet, t, wanted); ok {
		return nil, st
	}

	txn := s.db.Txn(false)
	defer txn.Abort()
	obj, err := s.lookup(txn, oid)
	if err != nil || obj == nil || obj.Type != string(t) {
		return nil, device.StatusItemNotFound
	}
	out := make([]device.Attr, 0, len(ids))
	for _, id := range ids {
		v, ok := s.capability(t, id)
		if !ok {
			v, ok = obj.Attrs[id]
		}
		if !ok {
			return nil, device.StatusAttrNotSupported
		}
		out = append(out, device.Attr{ID: id, Value: v})
	}
	return out, device.StatusSuccess
}

func (s *Switch) capability(t device.ObjectType, id device.AttrID) (any, bool) {
	if t != device.ObjectPort {
		return nil, false
	}
	caps := s.cfg.Capabilities
	switch id {
	case device.AttrPortSupportedAutoNeg:
		return caps.AutoNeg, true
	case device.AttrPortSupportedLinkTrain:
		return caps.LinkTraining, true
	case device.AttrPortSupportedFECModes:
		return slices.Clone(caps.FECModes), true
	case device.AttrPortSupportedSpeeds:
		return slices.Clone(caps.Speeds), true
	}
	return nil, false
}

func (s *Switch) fault(op device.Op, t device.ObjectType, attrs []device.Attr) (device.Status, bool) {
	for i, f := range s.faults {
		if f.Op != op || f.Type != t {
			continue
		}
		if f.Attr != "" && !slices.ContainsFunc(attrs, func(a device.Attr) bool { return a.ID == f.Attr }) {
			continue
		}
		s.faults[i].Count--
		if s.faults[i].Count <= 0 {
			s.faults = slices.Delete(s.faults, i, i+1)
		}
		return f.Status, true
	}
	return device.StatusSuccess, false
}

func (s *Switch) record(op string, t device.ObjectType, oid device.OID, attrs []device.Attr, st device.Status) {
	s.calls = append(s.calls, Call{Op: op, Type: t, OID: oid, Attrs: slices.Clone(attrs), Status: st})
}

func (s *Switch) emit(n device.Notification) {
	select {
	case s.notify <- n:
	default:
	}
}

func (s *Switch) insert(txn *memdb.Txn, t device.ObjectType, attrs map[device.AttrID]any) (device.OID, error) {
	s.nextID++
	if attrs == nil {
		attrs = make(map[device.AttrID]any)
	}
	obj := &object{ID: s.nextID, Type: string(t), Attrs: attrs}
	if err := txn.Insert(tableObjects, obj); err != nil {
		return device.NullOID, fmt.Errorf("insert %s: %w", t, err)
	}
	return device.OID(obj.ID), nil
}

func (s *Switch) lookup(txn *memdb.Txn, oid device.OID) (*object, error) {
	raw, err := txn.First(tableObjects, indexID, uint64(oid))
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.(*object), nil
}

func (s *Switch) setAttr(txn *memdb.Txn, oid device.OID, id device.AttrID, v any) error {
	obj, err := s.lookup(txn, oid)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("object %s not found", oid)
	}
	updated := obj.clone()
	updated.Attrs[id] = v
	return txn.Insert(tableObjects, updated)
}

func (s *Switch) createPort(txn *memdb.Txn, lanes []uint32, speed uint32) (device.OID, error) {
	caps := s.cfg.Capabilities
	oid, err := s.insert(txn, device.ObjectPort, map[device.AttrID]any{
		device.AttrPortHwLanes:      slices.Clone(lanes),
		device.AttrPortSpeed:        speed,
		device.AttrPortAdminState:   false,
		device.AttrPortOperStatus:   device.OperDown,
		device.AttrPortMTU:          uint32(1514),
		device.AttrPortFEC:          "none",
		device.AttrPortAutoNeg:      false,
		device.AttrPortLinkTraining: false,
	})
	if err != nil {
		return device.NullOID, err
	}
	children := []struct {
		t  device.ObjectType
		id device.AttrID
		n  int
	}{
		{device.ObjectQueue, device.AttrPortQueueList, caps.QueuesPerPort},
		{device.ObjectPriorityGroup, device.AttrPortPriorityGroupList, caps.PriorityGroupsPerPort},
		{device.ObjectSchedulerGroup, device.AttrPortSchedulerGroupList, caps.SchedulerGroupsPerPort},
	}
	for _, c := range children {
		list := make([]device.OID, 0, c.n)
		for i := 0; i < c.n; i++ {
			child, err := s.insert(txn, c.t, map[device.AttrID]any{device.AttrQueueIndex: uint32(i)})
			if err != nil {
				return device.NullOID, err
			}
			list = append(list, child)
		}
		if err := s.setAttr(txn, oid, c.id, list); err != nil {
			return device.NullOID, err
		}
	}
	return oid, nil
}

func (s *Switch) portByLanes(txn *memdb.Txn, lanes []uint32) device.OID {
	want := device.LaneKey(lanes)
	it, err := txn.Get(tableObjects, indexType, string(device.ObjectPort))
	if err != nil {
		return device.NullOID
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		obj := raw.(*object)
		have, _ := obj.Attrs[device.AttrPortHwLanes].([]uint32)
		if len(have) > 0 && device.LaneKey(have) == want {
			return device.OID(obj.ID)
		}
	}
	return device.NullOID
}

// referenced reports whether any object holds oid in one of its attributes.
func (s *Switch) referenced(txn *memdb.Txn, oid device.OID) bool {
	it, err := txn.LowerBound(tableObjects, indexID, uint64(0))
	if err != nil {
		return false
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		obj := raw.(*object)
		if obj.Type == string(device.ObjectSwitch) {
			continue
		}
		for _, v := range obj.Attrs {
			if ref, ok := v.(device.OID); ok && ref == oid {
				return true
			}
		}
	}
	return false
}

func (s *Switch) appendSwitchPort(txn *memdb.Txn, oid device.OID) error {
	sw, err := s.lookup(txn, s.switchID)
	if err != nil || sw == nil {
		return fmt.Errorf("switch object missing")
	}
	ports, _ := sw.Attrs[device.AttrSwitchPortList].([]device.OID)
	return s.setAttr(txn, s.switchID, device.AttrSwitchPortList, append(slices.Clone(ports), oid))
}

func (s *Switch) dropSwitchPort(txn *memdb.Txn, oid device.OID) error {
	sw, err := s.lookup(txn, s.switchID)
	if err != nil || sw == nil {
		return fmt.Errorf("switch object missing")
	}
	ports, _ := sw.Attrs[device.AttrSwitchPortList].([]device.OID)
	ports = slices.DeleteFunc(slices.Clone(ports), func(o device.OID) bool { return o == oid })
	return s.setAttr(txn, s.switchID, device.AttrSwitchPortList, ports)
}
