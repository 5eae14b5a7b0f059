// Package sim implements device.API in memory.
//
// Objects are kept in a go-memdb database indexed by handle and by type, the
// way moby's swarmkit store keeps cluster objects. The simulator seeds the
// hardware ports given in its Config, records every mutating call for
// traces, can be told to fail specific calls, and emits oper status
// notifications when a port changes admin state.
package sim
