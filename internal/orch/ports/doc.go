// Package ports reconciles the port, LAG and VLAN tables against the device.
//
// Port configuration goes through a one-way global state machine:
//
//	ConfigMissing -> ConfigReceived -> ConfigDone
//
// PortConfigDone (carrying the expected port count) moves Missing to
// Received. While Received, per-port rows are collected by lane set and kept
// queued. Once the collection reaches the expected count the hardware port
// list is reconciled in bulk: hardware ports whose lane set is no longer
// configured are removed, new lane sets are created, and every port is
// initialised. Queued rows are then applied as ordinary attribute updates.
//
// PortInitDone marks host netdevs as created. AllPortsReady holds once
// config is done, netdevs exist and no port is waiting on buffer
// configuration; LAG, VLAN and the other reconcilers wait for it.
package ports
