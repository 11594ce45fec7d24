// Package vm defines the contract between the collector and the embedding
// runtime (the "binding").
//
// The collector never looks inside objects and never finds roots on its own.
// Instead it calls into a Binding:
//   - Scanning: enumerate the reference slots of an object and the root sets
//     (static, global, thread, new-thread and boot-image roots), plus the
//     per-cycle thread scan hooks
//   - ObjectModel: report the size of an object and copy it to a new cell when
//     it is promoted out of the nursery
//
// A binding that does not implement a capability must return ErrNotImplemented
// (see Unimplemented). The collector treats that as a fatal contract violation
// and aborts the cycle before anything is reclaimed.
//
// Related Packages:
//
// The dummyvm package is a binding that implements nothing; it documents the
// minimal surface and fails fast. The testvm package is a complete in-memory
// binding used by the tests and by the simulate command.
package vm
