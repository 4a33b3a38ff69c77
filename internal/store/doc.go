// Package store provides SQLite-backed durable storage for the kinrule audit log.
//
// Every dispatch the engine processes is written as one row in dispatches
// plus its rule evaluations (derivations) and remote writes (updates). Writes
// are transactional and idempotent on the dispatch id.
//
// # Ordering
//
// All reads order by seq ASC, id ASC COLLATE BINARY. seq is the engine's
// logical clock; LastSeq lets a restarted engine continue the sequence.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
