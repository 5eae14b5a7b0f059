package refgraph

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/orchd/internal/task"
)

const (
	// Delimiter separates table and name in a canonical reference.
	Delimiter = ":"
	// ListDelimiter separates entries of a reference list.
	ListDelimiter = ","
)

// Object is one tracked object.
type Object struct {
	Table  string
	Name   string
	Handle uint64

	// PendingRemove marks an object whose deletion is waiting for its
	// dependents to go away. New references to it do not resolve.
	PendingRemove bool

	referencing map[string]string
	dependents  mapset.Set[string]
}

// Referencing returns the canonical reference string held in field.
func (o *Object) Referencing(field string) (string, bool) {
	ref, ok := o.referencing[field]
	return ref, ok
}

// Dependents returns the sorted "TABLE:name" ids of objects referencing o.
func (o *Object) Dependents() []string {
	out := o.dependents.ToSlice()
	slices.Sort(out)
	return out
}

// Graph is the reference graph.
type Graph struct {
	tables map[string]map[string]*Object
}

// New returns a Graph with the given tables registered.
func New(tables ...string) *Graph {
	g := &Graph{tables: make(map[string]map[string]*Object)}
	for _, t := range tables {
		g.Register(t)
	}
	return g
}

// Register adds a table. Registering twice is a no-op.
func (g *Graph) Register(table string) {
	if _, ok := g.tables[table]; !ok {
		g.tables[table] = make(map[string]*Object)
	}
}

// AddObject inserts or updates an object's handle. An existing object keeps
// its references and dependents and is no longer pending removal.
func (g *Graph) AddObject(table, name string, handle uint64) (*Object, error) {
	objs, ok := g.tables[table]
	if !ok {
		return nil, &RefError{Code: ErrCodeUnknownType, Table: table, Name: name}
	}
	obj, ok := objs[name]
	if !ok {
		obj = &Object{
			Table:       table,
			Name:        name,
			referencing: make(map[string]string),
			dependents:  mapset.NewThreadUnsafeSet[string](),
		}
		objs[name] = obj
	}
	obj.Handle = handle
	obj.PendingRemove = false
	return obj, nil
}

// Object returns the object (table, name).
func (g *Graph) Object(table, name string) (*Object, bool) {
	obj, ok := g.tables[table][name]
	return obj, ok
}

// Exists reports whether (table, name) is tracked.
func (g *Graph) Exists(table, name string) bool {
	_, ok := g.Object(table, name)
	return ok
}

// SetPendingRemove marks or clears the pending-removal flag. It reports
// whether the object exists.
func (g *Graph) SetPendingRemove(table, name string, pending bool) bool {
	obj, ok := g.Object(table, name)
	if ok {
		obj.PendingRemove = pending
	}
	return ok
}

// Names returns the sorted names tracked in table.
func (g *Graph) Names(table string) []string {
	names := make([]string, 0, len(g.tables[table]))
	for n := range g.tables[table] {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// ParseReference validates ref as the name of a live object in table. An
// empty ref is valid and yields an empty name.
func (g *Graph) ParseReference(table, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if strings.HasPrefix(ref, "[") || strings.HasSuffix(ref, "]") {
		return "", &RefError{Code: ErrCodeMalformed, Table: table, Name: ref,
			Err: fmt.Errorf("reference must not be surrounded by [ ]")}
	}
	objs, ok := g.tables[table]
	if !ok {
		return "", &RefError{Code: ErrCodeUnknownType, Table: table, Name: ref}
	}
	obj, ok := objs[ref]
	if !ok {
		return "", &RefError{Code: ErrCodeNotFound, Table: table, Name: ref}
	}
	if obj.PendingRemove {
		return "", &RefError{Code: ErrCodeNotFound, Table: table, Name: ref, Err: ErrPendingRemove}
	}
	return ref, nil
}

// Resolved is the outcome of resolving a reference field.
type Resolved struct {
	Handles []uint64
	// Canonical is the "TABLE:name[,TABLE:name]" form to store with
	// SetObjectReference.
	Canonical string
}

// Handle returns the first resolved handle.
func (r Resolved) Handle() uint64 {
	if len(r.Handles) == 0 {
		return 0
	}
	return r.Handles[0]
}

// ResolveFieldRef resolves the single-object reference held in field of t
// against table. An empty value yields an EMPTY error.
func (g *Graph) ResolveFieldRef(t task.Task, field, table string) (Resolved, error) {
	var res Resolved
	hit := false
	for _, fv := range t.Fields {
		if fv.Field != field {
			continue
		}
		if hit {
			return Resolved{}, &RefError{Code: ErrCodeMultipleInstances, Field: field, Table: table}
		}
		name, err := g.ParseReference(table, fv.Value)
		if err != nil {
			return Resolved{}, &RefError{Code: ErrCodeNotResolved, Field: field, Table: table, Name: fv.Value, Err: err}
		}
		if name == "" {
			return Resolved{}, &RefError{Code: ErrCodeEmpty, Field: field, Table: table}
		}
		res = Resolved{
			Handles:   []uint64{g.tables[table][name].Handle},
			Canonical: table + Delimiter + name,
		}
		hit = true
	}
	if !hit {
		return Resolved{}, &RefError{Code: ErrCodeFieldNotFound, Field: field, Table: table}
	}
	return res, nil
}

// ResolveFieldRefArray resolves a comma separated list of references held in
// field of t against table.
func (g *Graph) ResolveFieldRefArray(t task.Task, field, table string) (Resolved, error) {
	var res Resolved
	hit := false
	for _, fv := range t.Fields {
		if fv.Field != field {
			continue
		}
		if hit {
			return Resolved{}, &RefError{Code: ErrCodeMultipleInstances, Field: field, Table: table}
		}
		hit = true
		if fv.Value == "" {
			return Resolved{}, &RefError{Code: ErrCodeEmpty, Field: field, Table: table}
		}
		var canon []string
		for _, item := range strings.Split(fv.Value, ListDelimiter) {
			name, err := g.ParseReference(table, item)
			if err == nil && name == "" {
				err = &RefError{Code: ErrCodeNotFound, Table: table, Err: fmt.Errorf("empty list item")}
			}
			if err != nil {
				return Resolved{}, &RefError{Code: ErrCodeNotResolved, Field: field, Table: table, Name: item, Err: err}
			}
			res.Handles = append(res.Handles, g.tables[table][name].Handle)
			canon = append(canon, table+Delimiter+name)
		}
		res.Canonical = strings.Join(canon, ListDelimiter)
	}
	if !hit {
		return Resolved{}, &RefError{Code: ErrCodeFieldNotFound, Field: field, Table: table}
	}
	return res, nil
}

type objectID struct{ table, name string }

func (id objectID) String() string { return id.table + Delimiter + id.name }

// parseCanonical splits "T:n,T:n" into object ids.
func parseCanonical(refs string) ([]objectID, error) {
	if refs == "" {
		return nil, nil
	}
	var ids []objectID
	for _, item := range strings.Split(refs, ListDelimiter) {
		table, name, ok := strings.Cut(item, Delimiter)
		if !ok || table == "" || name == "" {
			return nil, fmt.Errorf("malformed canonical reference %q", item)
		}
		ids = append(ids, objectID{table, name})
	}
	return ids, nil
}

// SetObjectReference records that (table, name).field references refs, a
// canonical reference string. The previous value of the field is unlinked
// first. The referencing object is created when absent. Every referenced
// object must exist.
func (g *Graph) SetObjectReference(table, name, field, refs string) error {
	ids, err := parseCanonical(refs)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !g.Exists(id.table, id.name) {
			return &RefError{Code: ErrCodeNotFound, Table: id.table, Name: id.name, Field: field}
		}
	}
	obj, ok := g.Object(table, name)
	if !ok {
		if obj, err = g.AddObject(table, name, 0); err != nil {
			return err
		}
	}
	g.unlinkField(obj, field)
	if refs == "" {
		return nil
	}
	obj.referencing[field] = refs
	me := objectID{table, name}.String()
	for _, id := range ids {
		g.tables[id.table][id.name].dependents.Add(me)
	}
	return nil
}

// RemoveObjectReference drops field from (table, name)'s references.
func (g *Graph) RemoveObjectReference(table, name, field string) {
	if obj, ok := g.Object(table, name); ok {
		g.unlinkField(obj, field)
	}
}

func (g *Graph) unlinkField(obj *Object, field string) {
	old, ok := obj.referencing[field]
	if !ok {
		return
	}
	delete(obj.referencing, field)
	me := objectID{obj.Table, obj.Name}.String()
	// Canonical strings were validated when stored.
	ids, _ := parseCanonical(old)
	for _, id := range ids {
		if obj.refersTo(id) {
			continue
		}
		if ref, ok := g.Object(id.table, id.name); ok {
			ref.dependents.Remove(me)
		}
	}
}

// refersTo reports whether any field of o still names id.
func (o *Object) refersTo(id objectID) bool {
	for _, refs := range o.referencing {
		ids, _ := parseCanonical(refs)
		if slices.Contains(ids, id) {
			return true
		}
	}
	return false
}

// RemoveObject unlinks (table, name) from everything it references and
// erases it. It does not look at the object's dependents; callers check
// IsObjectBeingReferenced first.
func (g *Graph) RemoveObject(table, name string) {
	obj, ok := g.Object(table, name)
	if !ok {
		return
	}
	for field := range obj.referencing {
		g.unlinkField(obj, field)
	}
	delete(g.tables[table], name)
}

// IsObjectBeingReferenced reports whether any object references (table,
// name).
func (g *Graph) IsObjectBeingReferenced(table, name string) bool {
	obj, ok := g.Object(table, name)
	return ok && obj.dependents.Cardinality() > 0
}

// ReferenceInfo describes who references (table, name), for retry logs.
func (g *Graph) ReferenceInfo(table, name string) string {
	obj, ok := g.Object(table, name)
	if !ok || obj.dependents.Cardinality() == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%s is referenced by %s", table, name, strings.Join(obj.Dependents(), ","))
}

// DoesObjectExist reports whether (table, name) exists and, when field is
// not empty, whether it holds a reference in field. The canonical reference
// is returned when present.
func (g *Graph) DoesObjectExist(table, name, field string) (bool, string) {
	obj, ok := g.Object(table, name)
	if !ok {
		return false, ""
	}
	if field == "" {
		return true, ""
	}
	ref, ok := obj.referencing[field]
	return ok, ref
}
