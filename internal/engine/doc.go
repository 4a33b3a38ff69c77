// Package engine dispatches host lifecycle events to the configured rules.
//
// ARCHITECTURE:
//
// Dispatch:
// One envelope is processed at a time. Every rule subscribed to the event is
// evaluated, in declaration order, against the same input snapshot. Field
// derivations are applied to a clone of the record; remote updates are then
// performed one at a time. Rules never see each other's output within one
// event.
//
// Single-Writer Event Loop:
// For callers on many goroutines (the HTTP surface) Run() processes queued
// jobs in a single goroutine, reproducing the host's one-event-at-a-time
// model. Submit() enqueues an envelope and waits for its result; Reload()
// swaps the rule set between two events.
//
// Error Handling:
// A failed remote update is logged, recorded and exposed on the Result. It is
// never returned as an error and never retried. Audit recording failures are
// logged and do not fail the dispatch.
//
// Every dispatch is stamped with a monotonic seq from Clock.Next() and a
// UUIDv7 dispatch id.
package engine
