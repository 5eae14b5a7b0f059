package task

import (
	"fmt"
	"strings"
)

// Op is the operation carried by a Task.
type Op int

const (
	// OpUpsert creates the object or merges the fields into it.
	OpUpsert Op = iota
	// OpDelete removes the object.
	OpDelete
)

// String returns the wire form of the op, "SET" or "DEL".
func (o Op) String() string {
	switch o {
	case OpUpsert:
		return "SET"
	case OpDelete:
		return "DEL"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// ParseOp parses the wire form of an op. It accepts "SET" and "DEL" in any
// case.
func ParseOp(s string) (Op, error) {
	switch strings.ToUpper(s) {
	case "SET":
		return OpUpsert, nil
	case "DEL":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("unknown op %q", s)
	}
}

// FieldValue is one field/value pair of a Task.
type FieldValue struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Task is a desired-state change for one key of one table.
type Task struct {
	Key    string
	Op     Op
	Fields []FieldValue
}

// New builds a Task. Field order is preserved; when a field name repeats the
// last value wins and takes the position of the last occurrence.
func New(key string, op Op, fields ...FieldValue) Task {
	return Task{Key: key, Op: op, Fields: dedupe(fields)}
}

// Upsert builds an OpUpsert Task from alternating field/value strings.
// It panics on an odd number of arguments.
func Upsert(key string, kv ...string) Task {
	return New(key, OpUpsert, Pairs(kv...)...)
}

// Delete builds an OpDelete Task with no fields.
func Delete(key string) Task {
	return Task{Key: key, Op: OpDelete}
}

// Pairs converts alternating field/value strings into FieldValues.
func Pairs(kv ...string) []FieldValue {
	if len(kv)%2 != 0 {
		panic("task.Pairs: odd number of arguments")
	}
	out := make([]FieldValue, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		out = append(out, FieldValue{Field: kv[i], Value: kv[i+1]})
	}
	return out
}

func dedupe(fields []FieldValue) []FieldValue {
	if len(fields) == 0 {
		return nil
	}
	out := make([]FieldValue, 0, len(fields))
	for _, fv := range fields {
		out = removeField(out, fv.Field)
		out = append(out, fv)
	}
	return out
}

func removeField(fields []FieldValue, name string) []FieldValue {
	for i, fv := range fields {
		if fv.Field == name {
			out := make([]FieldValue, 0, len(fields)-1)
			out = append(out, fields[:i]...)
			return append(out, fields[i+1:]...)
		}
	}
	return fields
}

// Get returns the value of a field and whether it is present.
func (t Task) Get(field string) (string, bool) {
	for _, fv := range t.Fields {
		if fv.Field == field {
			return fv.Value, true
		}
	}
	return "", false
}

// Has reports whether the Task carries field.
func (t Task) Has(field string) bool {
	_, ok := t.Get(field)
	return ok
}

// FieldNames returns the field names in order.
func (t Task) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, fv := range t.Fields {
		names[i] = fv.Field
	}
	return names
}

// WithField returns a copy of t where field is moved to the end with value.
func (t Task) WithField(field, value string) Task {
	fields := removeField(cloneFields(t.Fields), field)
	return Task{Key: t.Key, Op: t.Op, Fields: append(fields, FieldValue{Field: field, Value: value})}
}

// MergeFrom returns the field-merge of t with other: every field of other
// replaces the same-named field of t and is appended in other's order. The
// result carries other's op.
func (t Task) MergeFrom(other Task) Task {
	fields := cloneFields(t.Fields)
	for _, fv := range other.Fields {
		fields = removeField(fields, fv.Field)
		fields = append(fields, fv)
	}
	return Task{Key: t.Key, Op: other.Op, Fields: fields}
}

// Without returns a copy of t with the named fields removed.
func (t Task) Without(names ...string) Task {
	fields := cloneFields(t.Fields)
	for _, n := range names {
		fields = removeField(fields, n)
	}
	return Task{Key: t.Key, Op: t.Op, Fields: fields}
}

// Narrow returns a copy of t that keeps only the named fields, in t's order.
func (t Task) Narrow(names ...string) Task {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	var fields []FieldValue
	for _, fv := range t.Fields {
		if _, ok := keep[fv.Field]; ok {
			fields = append(fields, fv)
		}
	}
	return Task{Key: t.Key, Op: t.Op, Fields: fields}
}

// Equal reports whether two Tasks carry the same key, op and ordered fields.
func (t Task) Equal(o Task) bool {
	if t.Key != o.Key || t.Op != o.Op || len(t.Fields) != len(o.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// String renders the Task in dump form: key|OP|field:value|field:value.
func (t Task) String() string {
	var b strings.Builder
	b.WriteString(t.Key)
	b.WriteByte('|')
	b.WriteString(t.Op.String())
	for _, fv := range t.Fields {
		b.WriteByte('|')
		b.WriteString(fv.Field)
		b.WriteByte(':')
		b.WriteString(fv.Value)
	}
	return b.String()
}

// Dump renders the Task prefixed by its table, as it appears in pending task
// dumps.
func (t Task) Dump(table string) string {
	return table + ":" + t.String()
}

func cloneFields(fields []FieldValue) []FieldValue {
	if len(fields) == 0 {
		return nil
	}
	out := make([]FieldValue, len(fields))
	copy(out, fields)
	return out
}
