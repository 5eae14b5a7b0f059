package flexcounter

import (
	"iter"
	"strconv"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/orch/ports"
)

// mapEntries yields the name map keys for p and the object each names.
// Queues and priority groups are keyed "alias:index".
func mapEntries(m nameMap, p ports.Port) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		var objs []device.OID
		switch m {
		case portMap:
			yield(p.Alias, p.OID.String())
			return
		case queueMap:
			objs = p.Queues
		case pgMap:
			objs = p.PriorityGroups
		}
		for i, oid := range objs {
			if !yield(p.Alias+":"+strconv.Itoa(i), oid.String()) {
				return
			}
		}
	}
}
