// Package device defines the hardware abstraction the reconcilers program:
// objects identified by opaque handles, created, set, read and removed with
// status-returning calls.
//
// Every status a call returns is mapped by Classify onto one of four
// outcomes. Reconcilers never interpret raw statuses themselves:
//
//	Success   the call took effect (or its effect already holds)
//	Retry     transient, keep the task and try again on a later drain
//	Terminal  the task cannot succeed, drop it and log
//	Fatal     the agent and the device disagree, abort the process
//
// Package sim provides an in-memory implementation used by tests, the
// scenario harness, and the "sim" device backend of the agent.
package device
