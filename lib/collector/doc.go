// Package collector drives the generational mark-sweep plan.
//
// A Collector owns the plan and a work scheduler. Collections are
// stop-the-world: mutators hold the world lock shared while they allocate or
// write references, a cycle holds it exclusively.
//
// Allocation:
//   - Mutator.Alloc takes the fast path of the allocator the plan maps the
//     semantics to; default allocations above the nursery limit are pretenured
//   - on exhaustion it collects (full heap if the mature space ran out) and
//     retries; a failure after a full-heap cycle returns ErrOutOfMemory
//
// Failure: a cycle that fails (a binding capability is missing, promotion ran
// out of mature space) poisons the collector, every later call returns
// ErrCollectorPoisoned wrapping the cause.
//
// Every cycle produces a CycleReport. Aggregated statistics are available
// through Stats, Registry (go-metrics timers) and WritePrometheus.
package collector
