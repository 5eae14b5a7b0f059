// Package engine implements the single-threaded dispatch loop that feeds
// desired-state Tasks to reconcilers.
//
// ARCHITECTURE:
//
// Each subscribed table is bound to a Consumer: a Source (the table's change
// log), a PendingQueue of unapplied Tasks, and the Reconciler that owns the
// table. The Dispatcher owns every Consumer and runs them from one goroutine:
//
//  1. A Source signals that it may have data (Watch hook or poll tick)
//  2. The Dispatcher calls Execute on that Consumer
//  3. Execute pulls every available Task, merging each into the queue
//  4. Execute hands the queue to the Reconciler when it is non-empty
//  5. The Reconciler keeps the Tasks it must retry and consumes the rest
//
// Retained Tasks are retried on the next drain of their Consumer, triggered
// by a new event for that table or by the periodic tick. There is no other
// retry timer.
//
// CRITICAL PATTERNS:
//
// Merge Invariant:
// A PendingQueue holds at most two Tasks per key. When it holds two, they
// are a Delete followed by an Upsert. See PendingQueue.Merge.
//
// Single Writer:
// PendingQueues, reconcilers and the state they share are touched only from
// the Run goroutine. Sources and notification executors may be fed from
// other goroutines; they only signal the Dispatcher.
//
// Fatal Path:
// A reconciler that finds the device and the agent out of sync returns a
// *FatalError. The Dispatcher stops immediately and Run returns it; the
// process exits and its supervisor restarts it, which rebuilds all state
// from the store through Bootstrap.
package engine
