// Package scheduler runs the work packets of a collection cycle on a pool of
// GC workers.
//
// A cycle is split into four stages that are opened strictly in order:
//
//  1. Prepare: the plan prepares its spaces (PreparePlan)
//  2. Closure: the roots are scanned and the transitive closure is computed
//     (ScanStaticRoots, ScanGlobalRoots, ScanThreadRoots, ScanBootImageRoots,
//     ProcessEdges, ScanObjects)
//  3. Release: the plan releases its spaces (ReleasePlan)
//  4. Final: work that must see the released heap
//
// The tracing configuration of a cycle is a WorkContext. Its ObjectTracer
// decides, per object, whether it is traced, marked or copied, so the generic
// packets never branch on the destination space.
//
// A stage is open until its pending count drops to zero. Packets discover new
// work and add it to the open stage while they run, so the count only reaches
// zero once the closure is complete. All workers push into a lock-free MPSC
// queue (util.LockFreeMPSC); one dispatcher hands the packets out.
//
// Errors: a packet error is fatal for the cycle. The scheduler records the
// first error, skips the remaining packets of the stage, discards the later
// stages and returns the error from RunStage. A binding that reports
// vm.ErrNotImplemented for a root scan thus stops the cycle before the plan
// is released and nothing is swept.
package scheduler
