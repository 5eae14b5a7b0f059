// Package harness runs reconciliation scenarios against the simulated
// device.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: admin_down_window
//	description: "Speed changes on an up port take it down first"
//	device:
//	  ports: 4
//	  fec_modes: [none, rs]
//	steps:
//	  - set: PORT_TABLE|Ethernet0
//	    fields: { lanes: "0,1,2,3", admin_status: up }
//	  - bootstrap: true
//	  - set: PORT_TABLE|Ethernet0
//	    fields: { speed: "40000" }
//	  - drain: 1
//	  - notify: { port: Ethernet0, oper: down }
//	  - fail: { op: set, type: PORT, attr: PORT_FEC_MODE, status: INVALID_ATTR_VALUE }
//	  - del: PORT_TABLE|Ethernet4
//	assertions:
//	  - type: pending
//	    table: PORT_TABLE
//	    count: 0
//	  - type: port
//	    port: Ethernet0
//	    expect: { speed: "40000", admin: up }
//	  - type: calls
//	    calls:
//	      - "set PORT oid:0x3 PORT_ADMIN_STATE=false SUCCESS"
//	      - "set PORT oid:0x3 PORT_SPEED=40000 SUCCESS"
//
// Field order in set steps is kept. Writes land in the table store; the
// agent is assembled at the first bootstrap or drain step, so rows written
// before it are what a restarting agent finds.
//
// # Assertion Types
//
//   - pending: the number of queued tasks of a table
//   - port: fields of a port as the ports reconciler sees it
//   - calls: device calls appearing in the trace in the given order
//   - all_ports_ready: the global port readiness flag
//   - state: fields of a stored row (STATE by default)
//
// # Determinism
//
// Every run uses a fresh store and simulator, so object handles and the
// device call trace are identical across runs and can be compared with
// golden files.
package harness
