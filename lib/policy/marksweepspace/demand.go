package marksweepspace

import (
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/heap"
)

// Demand counts objects that may later be allocated in the space (the
// contents of the nursery, all of which a cycle may promote) and bounds the
// pages they can take.
//
// Thread-safety: Add and Pages are safe for concurrent use
type Demand struct {
	cells      []atomic.Uint64 // per size class
	largePages atomic.Uint64
}

// NewDemand creates an empty demand
func NewDemand() *Demand {
	return &Demand{cells: make([]atomic.Uint64, len(SizeClasses))}
}

// Add records an object of size bytes
func (d *Demand) Add(size uint64) {
	size = heap.AlignUp(size, heap.MinObjectAlignment)
	if size == 0 {
		size = heap.MinObjectAlignment
	}
	if class := SizeClassFor(size); class >= 0 {
		d.cells[class].Add(1)
		return
	}
	d.largePages.Add(heap.BytesToPages(size))
}

// Pages returns the pages the recorded objects take in the worst case, when
// no existing block has a free cell for them: whole blocks per size class
// plus the dedicated runs of large objects.
func (d *Demand) Pages() uint64 {
	pages := d.largePages.Load()
	for class := range d.cells {
		n := d.cells[class].Load()
		if n == 0 {
			continue
		}
		perBlock := BlockBytes / SizeClasses[class]
		pages += (n + perBlock - 1) / perBlock * BlockPages
	}
	return pages
}

// Reset forgets all recorded objects
func (d *Demand) Reset() {
	for class := range d.cells {
		d.cells[class].Store(0)
	}
	d.largePages.Store(0)
}
