package device

import "context"

// API is the device programming interface. Implementations must be safe to
// call from the dispatcher goroutine while notifications are produced
// elsewhere.
type API interface {
	// SwitchID returns the handle of the switch object.
	SwitchID() OID

	Create(ctx context.Context, t ObjectType, attrs ...Attr) (OID, Status)
	Remove(ctx context.Context, t ObjectType, oid OID) Status
	Set(ctx context.Context, t ObjectType, oid OID, attr Attr) Status
	Get(ctx context.Context, t ObjectType, oid OID, ids ...AttrID) ([]Attr, Status)

	// BulkCreate creates one object per attribute list. The returned slices
	// are index-aligned with the input.
	BulkCreate(ctx context.Context, t ObjectType, attrs [][]Attr) ([]OID, []Status)
	// BulkRemove removes the objects and returns index-aligned statuses.
	BulkRemove(ctx context.Context, t ObjectType, oids []OID) []Status

	// Notifications delivers asynchronous device events.
	Notifications() <-chan Notification
}

// NotificationKind distinguishes asynchronous device events.
type NotificationKind int

const (
	// NotifyPortOperStatus reports a port oper status change.
	NotifyPortOperStatus NotificationKind = iota + 1
)

// Notification is an asynchronous device event.
type Notification struct {
	Kind       NotificationKind
	OID        OID
	OperStatus OperStatus
}
