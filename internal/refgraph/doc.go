// Package refgraph tracks named objects per table and the references between
// them, so a reconciler can tell whether an object is still in use before
// removing it.
//
// Objects live in an arena keyed by (table, name). Each object records, per
// field, the canonical reference string it points at ("TABLE:name" or a
// comma separated list of those) and the set of objects that point at it.
// Both directions are updated together by SetObjectReference, so the
// dependent sets always mirror the referencing maps.
//
// A Graph is not safe for concurrent use. It is owned by the dispatcher
// goroutine together with the reconcilers that share it.
package refgraph
