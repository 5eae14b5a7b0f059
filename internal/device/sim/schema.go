package sim

import (
	memdb "github.com/hashicorp/go-memdb"

	"github.com/roach88/orchd/internal/device"
)

const (
	tableObjects = "objects"
	indexID      = "id"
	indexType    = "type"
)

// object is one stored device object. Stored objects are never modified in
// place; updates insert a copy.
type object struct {
	ID    uint64
	Type  string
	Attrs map[device.AttrID]any
}

func (o *object) clone() *object {
	attrs := make(map[device.AttrID]any, len(o.Attrs))
	for k, v := range o.Attrs {
		attrs[k] = v
	}
	return &object{ID: o.ID, Type: o.Type, Attrs: attrs}
}

func newSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableObjects: {
				Name: tableObjects,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
					indexType: {
						Name:    indexType,
						Indexer: &memdb.StringFieldIndex{Field: "Type"},
					},
				},
			},
		},
	}
}
