// Package marksweepspace implements the mature space of the generational
// collector: a free-list space whose objects never move and are reclaimed by
// mark-sweep.
//
// Layout: the space reserves pages from a heap.PageResource with a page budget.
// Small objects (up to MaxSmallSize bytes) live in blocks of BlockPages pages
// split into equal cells of one size class; each class keeps its free cells in
// a util.MapHeap ordered by address. Larger objects get a dedicated block.
//
// Metadata: the mark bit and the alloc bit of each cell are side metadata
// (heap.SideMetadata), never part of the object.
//
// Phases:
//   - Prepare clears all mark bits (full-heap cycles only)
//   - Mark / TraceObject set a mark bit with an atomic test-and-set, so every
//     object is enqueued for scanning exactly once
//   - Release sweeps: unmarked cells are freed, marked cells are unmarked and
//     empty blocks return their pages
//
// The space is also the copy target of promotion (AllocCopy / PostCopy).
package marksweepspace
