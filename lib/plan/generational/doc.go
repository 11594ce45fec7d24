// Package generational holds the generation coordinator (CommonGenPlan) that
// every generational plan embeds.
//
// The coordinator owns the nursery and three pieces of cycle state:
//   - whether the current cycle is full heap (fixed by BeginCycle at schedule
//     time and never changed during the cycle)
//   - whether the next cycle has to be full heap (set by
//     ForceFullHeapCollection or by the heuristic at EndOfGC, consumed by
//     BeginCycle)
//   - whether the last released cycle was full heap
//
// Heuristic: a cycle is full heap if it was requested, or if the nursery
// occupancy multiplied by Options.PromotionHeadroom exceeds the pages still
// available to the mature space. After a cycle the same test is applied to
// the nursery capacity to pick the default scope of the next one.
//
// Promotion: TraceObjectNursery copies a nursery object into the mature space
// through the plan's copy configuration. The nursery forwarding table makes
// sure only one copy is created no matter how many workers reach the object.
//
// Write barrier: mature objects carry a log bit (global side metadata). The
// first write into a logged object clears the bit and records the object in
// the mod buffer; ProcessModBuf scans the recorded objects as extra roots of
// the next nursery cycle and re-arms their bits.
package generational
