// Package heap provides the address arithmetic, page accounting and side
// metadata shared by all spaces.
//
// Address is a plain uint64 location; addresses below HeapStart are never
// handed out, so 0 is the null reference. A PageResource reserves page runs
// of a virtual range under a page budget. SideMetadata stores per-granule
// bits (log bit, mark bit, alloc bit) outside of the objects; the layout of
// all specs is checked once by VerifySideMetadataSanity.
package heap
