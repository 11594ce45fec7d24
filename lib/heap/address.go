package heap

import (
	"errors"
	"fmt"
)

// ErrSpaceExhausted is returned by allocation paths when a space cannot
// satisfy a request without a collection.
var ErrSpaceExhausted = errors.New("space exhausted")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// LogPageSize is log2 of PageSize
	LogPageSize = 12
	// PageSize is the granularity of all page accounting
	PageSize = 1 << LogPageSize

	// LogMinObjectAlignment is log2 of MinObjectAlignment
	LogMinObjectAlignment = 4
	// MinObjectAlignment is the alignment of every object start
	MinObjectAlignment = 1 << LogMinObjectAlignment

	// HeapStart is the lowest address handed out to any space.
	// Address 0 is never part of the heap so it can serve as the null reference.
	HeapStart Address = 0x1000_0000
)

// --------------------------------------------------------------------------
// Address
// --------------------------------------------------------------------------

// Address is a location in the managed heap. Object references are addresses
// of object starts; Null is the null reference.
type Address uint64

// Null is the null reference
const Null Address = 0

// IsNull reports whether the address is the null reference
func (a Address) IsNull() bool {
	return a == Null
}

// Add returns the address offset by n bytes
func (a Address) Add(n uint64) Address {
	return a + Address(n)
}

// Diff returns the distance in bytes from other to a (a must not be below other)
func (a Address) Diff(other Address) uint64 {
	return uint64(a - other)
}

// AlignUp rounds the address up to the given power-of-two alignment
func (a Address) AlignUp(align uint64) Address {
	return Address(AlignUp(uint64(a), align))
}

// IsAligned reports whether the address is a multiple of align
func (a Address) IsAligned(align uint64) bool {
	return uint64(a)&(align-1) == 0
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// --------------------------------------------------------------------------
// Size helpers
// --------------------------------------------------------------------------

// AlignUp rounds n up to the given power-of-two alignment
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// BytesToPages converts a byte count to pages, rounding up
func BytesToPages(bytes uint64) uint64 {
	return (bytes + PageSize - 1) >> LogPageSize
}

// PagesToBytes converts a page count to bytes
func PagesToBytes(pages uint64) uint64 {
	return pages << LogPageSize
}

// Range is a half-open address range [Start, End)
type Range struct {
	Start Address
	End   Address
}

// Contains reports whether addr lies inside the range
func (r Range) Contains(addr Address) bool {
	return addr >= r.Start && addr < r.End
}

// Bytes returns the size of the range
func (r Range) Bytes() uint64 {
	return r.End.Diff(r.Start)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End)
}
