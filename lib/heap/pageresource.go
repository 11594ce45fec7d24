package heap

import (
	"fmt"
	"sort"
	"sync"
)

// freeRun is a run of unreserved pages starting at start
type freeRun struct {
	start Address
	pages uint64
}

// PageResource hands out page runs from a fixed virtual range.
// Reservations are additionally capped by a page budget, so a space can own a
// larger virtual range than it is allowed to occupy (discontiguous spaces).
//
// Thread-safety: all methods are safe for concurrent use.
type PageResource struct {
	mu       sync.Mutex
	extent   Range
	budget   uint64    // maximum number of reserved pages
	reserved uint64    // currently reserved pages
	free     []freeRun // sorted by start, never adjacent
}

// NewPageResource creates a page resource over extent that never reserves more
// than budgetPages pages at once.
func NewPageResource(extent Range, budgetPages uint64) *PageResource {
	pages := extent.Bytes() >> LogPageSize
	if budgetPages > pages {
		budgetPages = pages
	}
	return &PageResource{
		extent: extent,
		budget: budgetPages,
		free:   []freeRun{{start: extent.Start, pages: pages}},
	}
}

// AcquirePages reserves n contiguous pages (first fit) and returns their start.
// ErrSpaceExhausted is returned when the budget or the virtual range is exhausted.
func (pr *PageResource) AcquirePages(n uint64) (Address, error) {
	if n == 0 {
		return Null, fmt.Errorf("acquire of zero pages")
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.reserved+n > pr.budget {
		return Null, ErrSpaceExhausted
	}

	for i := range pr.free {
		run := &pr.free[i]
		if run.pages < n {
			continue
		}

		start := run.start
		run.start = run.start.Add(PagesToBytes(n))
		run.pages -= n
		if run.pages == 0 {
			pr.free = append(pr.free[:i], pr.free[i+1:]...)
		}

		pr.reserved += n
		return start, nil
	}

	// budget left but the virtual range is too fragmented
	return Null, ErrSpaceExhausted
}

// ReleasePages returns n pages starting at start to the resource.
// Adjacent free runs are coalesced.
func (pr *PageResource) ReleasePages(start Address, n uint64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if !pr.extent.Contains(start) || n > pr.reserved {
		panic(fmt.Sprintf("release of %d pages at %s outside of %s", n, start, pr.extent))
	}
	pr.reserved -= n

	// find the insert position
	i := sort.Search(len(pr.free), func(i int) bool {
		return pr.free[i].start > start
	})
	pr.free = append(pr.free, freeRun{})
	copy(pr.free[i+1:], pr.free[i:])
	pr.free[i] = freeRun{start: start, pages: n}

	// merge with the successor
	if i+1 < len(pr.free) && pr.free[i].start.Add(PagesToBytes(pr.free[i].pages)) == pr.free[i+1].start {
		pr.free[i].pages += pr.free[i+1].pages
		pr.free = append(pr.free[:i+1], pr.free[i+2:]...)
	}

	// merge with the predecessor
	if i > 0 && pr.free[i-1].start.Add(PagesToBytes(pr.free[i-1].pages)) == pr.free[i].start {
		pr.free[i-1].pages += pr.free[i].pages
		pr.free = append(pr.free[:i], pr.free[i+1:]...)
	}
}

// ReservedPages returns the number of pages currently reserved
func (pr *PageResource) ReservedPages() uint64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.reserved
}

// AvailablePages returns how many more pages the budget allows
func (pr *PageResource) AvailablePages() uint64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.budget - pr.reserved
}

// BudgetPages returns the page budget of the resource
func (pr *PageResource) BudgetPages() uint64 {
	return pr.budget
}

// Extent returns the virtual range of the resource
func (pr *PageResource) Extent() Range {
	return pr.extent
}
