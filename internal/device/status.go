package device

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Status is the result code of a device call.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusNotSupported
	StatusNotImplemented
	StatusInvalidParameter
	StatusInvalidAttrValue
	StatusAttrNotSupported
	StatusInsufficientResources
	StatusTableFull
	StatusItemAlreadyExists
	StatusItemNotFound
	StatusObjectInUse
	StatusNotExecuted
)

var statusNames = map[Status]string{
	StatusSuccess:               "SUCCESS",
	StatusFailure:               "FAILURE",
	StatusNotSupported:          "NOT_SUPPORTED",
	StatusNotImplemented:        "NOT_IMPLEMENTED",
	StatusInvalidParameter:      "INVALID_PARAMETER",
	StatusInvalidAttrValue:      "INVALID_ATTR_VALUE",
	StatusAttrNotSupported:      "ATTR_NOT_SUPPORTED",
	StatusInsufficientResources: "INSUFFICIENT_RESOURCES",
	StatusTableFull:             "TABLE_FULL",
	StatusItemAlreadyExists:     "ITEM_ALREADY_EXISTS",
	StatusItemNotFound:          "ITEM_NOT_FOUND",
	StatusObjectInUse:           "OBJECT_IN_USE",
	StatusNotExecuted:           "NOT_EXECUTED",
}

// String returns the status name.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// ParseStatus parses a status name as printed by String.
func ParseStatus(s string) (Status, error) {
	for st, n := range statusNames {
		if n == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown device status %q", s)
}

// Op is the kind of device call being classified.
type Op int

const (
	OpCreate Op = iota
	OpSet
	OpRemove
	OpGet
)

// String returns the lower-case call name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	case OpGet:
		return "get"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	for _, op := range []Op{OpCreate, OpSet, OpRemove, OpGet} {
		if op.String() == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown device op %q", s)
}

// Outcome is the classification of a device status.
type Outcome int

const (
	Success Outcome = iota
	Retry
	Terminal
	Fatal
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Terminal:
		return "terminal"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify maps the status of a device call onto an Outcome. It is the only
// place statuses are interpreted. Anything not listed is Fatal for create,
// set and remove; a failed get is Terminal unless the attribute is not
// implemented at all.
func Classify(op Op, t ObjectType, st Status) Outcome {
	if st == StatusSuccess {
		return Success
	}
	switch op {
	case OpCreate:
		return classifyCreate(t, st)
	case OpSet:
		return classifySet(t, st)
	case OpRemove:
		return classifyRemove(t, st)
	case OpGet:
		if st == StatusNotImplemented {
			return Fatal
		}
		return Terminal
	}
	return Fatal
}

func classifyCreate(t ObjectType, st Status) Outcome {
	switch t {
	case ObjectFDB:
		if st == StatusItemAlreadyExists {
			return Success
		}
	case ObjectHostIf:
		// Host interface creation failures leave the port without a netdev
		// but are not worth aborting for.
		if st == StatusFailure {
			return Success
		}
	case ObjectRoute:
		switch st {
		case StatusItemAlreadyExists, StatusNotExecuted:
			return Success
		case StatusTableFull:
			return Retry
		}
	case ObjectNeighbor, ObjectNextHop, ObjectNextHopGroup:
		switch st {
		case StatusItemAlreadyExists:
			return Success
		case StatusTableFull:
			return Retry
		}
	}
	return Fatal
}

func classifySet(t ObjectType, st Status) Outcome {
	switch t {
	case ObjectPort:
		if st == StatusInvalidAttrValue {
			return Terminal
		}
	case ObjectTunnel:
		if st == StatusAttrNotSupported {
			return Terminal
		}
	case ObjectBufferPool, ObjectBufferProfile:
		if st == StatusInsufficientResources {
			return Terminal
		}
	}
	return Fatal
}

func classifyRemove(t ObjectType, st Status) Outcome {
	switch t {
	case ObjectRoute:
		switch st {
		case StatusItemNotFound, StatusNotExecuted:
			return Success
		}
	case ObjectNeighbor, ObjectNextHop, ObjectNextHopGroup:
		if st == StatusItemNotFound {
			return Success
		}
	}
	if st == StatusObjectInUse {
		return Retry
	}
	return Fatal
}

// StatusError describes a failed device call.
type StatusError struct {
	Op     Op
	Type   ObjectType
	OID    OID
	Attr   AttrID
	Status Status
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("device %s %s", e.Op, e.Type)
	if e.OID != NullOID {
		msg += " " + e.OID.String()
	}
	if e.Attr != "" {
		msg += " attr " + string(e.Attr)
	}
	return msg + ": " + e.Status.String()
}

// Outcome classifies the failed call.
func (e *StatusError) Outcome() Outcome {
	return Classify(e.Op, e.Type, e.Status)
}

// NewStatusError builds a StatusError, or returns nil for StatusSuccess.
func NewStatusError(op Op, t ObjectType, oid OID, attr AttrID, st Status) error {
	if st == StatusSuccess {
		return nil
	}
	return &StatusError{Op: op, Type: t, OID: oid, Attr: attr, Status: st}
}

// OutcomeOf returns the outcome of err: Success for nil, the classification
// for a StatusError, and Fatal for anything else.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Outcome()
	}
	return Fatal
}

// BulkErr combines the per-element statuses of a bulk call into one error.
// Element errors keep their order. It returns nil when every element
// succeeded.
func BulkErr(op Op, t ObjectType, oids []OID, statuses []Status) error {
	var err error
	for i, st := range statuses {
		var oid OID
		if i < len(oids) {
			oid = oids[i]
		}
		err = multierr.Append(err, NewStatusError(op, t, oid, "", st))
	}
	return err
}

// WorstOutcome returns the most severe outcome among the errors combined by
// BulkErr.
func WorstOutcome(err error) Outcome {
	worst := Success
	for _, e := range multierr.Errors(err) {
		if o := OutcomeOf(e); o > worst {
			worst = o
		}
	}
	return worst
}
