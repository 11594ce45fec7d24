package heap

import (
	"errors"
	"sync"
	"testing"
)

func newTestResource(pages, budget uint64) *PageResource {
	return NewPageResource(Range{Start: HeapStart, End: HeapStart.Add(PagesToBytes(pages))}, budget)
}

func TestPageResourceAcquireRelease(t *testing.T) {
	pr := newTestResource(64, 32)

	a, err := pr.AcquirePages(16)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	b, err := pr.AcquirePages(16)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if a != HeapStart || b != HeapStart.Add(PagesToBytes(16)) {
		t.Errorf("Expected first-fit runs, got %s and %s", a, b)
	}
	if pr.ReservedPages() != 32 || pr.AvailablePages() != 0 {
		t.Errorf("Expected 32 reserved and 0 available pages, got %d and %d", pr.ReservedPages(), pr.AvailablePages())
	}

	if _, err := pr.AcquirePages(1); !errors.Is(err, ErrSpaceExhausted) {
		t.Errorf("Expected ErrSpaceExhausted over budget, got %v", err)
	}

	pr.ReleasePages(a, 16)
	if pr.ReservedPages() != 16 {
		t.Errorf("Expected 16 reserved pages, got %d", pr.ReservedPages())
	}
	c, err := pr.AcquirePages(8)
	if err != nil || c != a {
		t.Errorf("Expected the released run to be reused at %s, got %s (%v)", a, c, err)
	}

	if _, err := pr.AcquirePages(0); err == nil {
		t.Errorf("Expected an error for zero pages")
	}
}

func TestPageResourceCoalescing(t *testing.T) {
	pr := newTestResource(12, 12)

	runs := make([]Address, 4)
	for i := range runs {
		addr, err := pr.AcquirePages(3)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		runs[i] = addr
	}

	// free out of order; the runs have to merge back into one
	pr.ReleasePages(runs[1], 3)
	pr.ReleasePages(runs[3], 3)
	pr.ReleasePages(runs[0], 3)
	pr.ReleasePages(runs[2], 3)

	addr, err := pr.AcquirePages(12)
	if err != nil || addr != HeapStart {
		t.Errorf("Expected the whole range to be free again, got %s (%v)", addr, err)
	}
}

func TestPageResourceFragmentation(t *testing.T) {
	// the virtual range is larger than the budget, so fragmentation only fails
	// requests once the range is used up
	pr := newTestResource(8, 4)

	a, _ := pr.AcquirePages(2)
	if _, err := pr.AcquirePages(2); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	pr.ReleasePages(a, 2)

	addr, err := pr.AcquirePages(2)
	if err != nil || addr != a {
		t.Errorf("Expected a first fit at %s, got %s (%v)", a, addr, err)
	}
}

func TestPageResourceBudgetCappedByRange(t *testing.T) {
	pr := newTestResource(4, 100)
	if pr.BudgetPages() != 4 {
		t.Errorf("Expected the budget to be capped at 4 pages, got %d", pr.BudgetPages())
	}
}

func TestPageResourceConcurrent(t *testing.T) {
	pr := newTestResource(1024, 1024)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[Address]bool)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 64; i++ {
				addr, err := pr.AcquirePages(2)
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
					return
				}
				mu.Lock()
				if seen[addr] {
					t.Errorf("Run %s handed out twice", addr)
				}
				seen[addr] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if pr.ReservedPages() != 1024 || len(seen) != 512 {
		t.Errorf("Expected 512 runs over 1024 pages, got %d runs and %d pages", len(seen), pr.ReservedPages())
	}
}
