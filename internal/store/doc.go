// Package store provides SQLite-backed table storage shared by the agent and
// its producers.
//
// The store holds named databases (APPL, CONFIG, STATE, COUNTERS,
// FLEX_COUNTER), each a set of tables of key -> ordered field/value rows.
// Writes go through Table.Set and Table.Del, which update the row and append
// a record to the change log in one transaction.
//
// Consumers read the change log through a Subscriber:
//   - Pops is non-blocking and returns changes after the last one seen
//   - Refill replays the current rows as upserts, used at bootstrap
//   - Watch registers a wake-up hook fired after in-process writes
//
// Writes made by another process are not announced through Watch; the
// dispatcher's poll ticker picks them up.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// All change log queries order by seq, so every subscriber sees changes to a
// table in commit order.
package store
