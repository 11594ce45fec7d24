package marksweepspace

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/genms/lib/heap"
)

func newSpace(budgetPages uint64) *Space {
	extent := heap.Range{
		Start: heap.HeapStart,
		End:   heap.HeapStart.Add(heap.PagesToBytes(budgetPages * 2)),
	}
	return New("ms", extent, budgetPages)
}

type sliceQueue struct {
	mu      sync.Mutex
	objects []heap.Address
}

func (q *sliceQueue) Enqueue(obj heap.Address) {
	q.mu.Lock()
	q.objects = append(q.objects, obj)
	q.mu.Unlock()
}

func TestSizeClasses(t *testing.T) {
	for i := 1; i < len(SizeClasses); i++ {
		if SizeClasses[i] <= SizeClasses[i-1] {
			t.Fatalf("Expected strictly increasing classes, got %d after %d", SizeClasses[i], SizeClasses[i-1])
		}
		if SizeClasses[i]%heap.MinObjectAlignment != 0 {
			t.Errorf("Expected class %d to be aligned", SizeClasses[i])
		}
	}
	if last := SizeClasses[len(SizeClasses)-1]; last != MaxSmallSize {
		t.Errorf("Expected the last class to be %d, got %d", MaxSmallSize, last)
	}

	tests := []struct {
		size uint64
		want uint64
	}{
		{1, 16},
		{16, 16},
		{17, 32},
		{512, 512},
		{513, 768},
		{768, 768},
		{769, 1152},
		{MaxSmallSize, MaxSmallSize},
	}
	for _, tt := range tests {
		class := SizeClassFor(tt.size)
		if class < 0 || SizeClasses[class] != tt.want {
			t.Errorf("SizeClassFor(%d): Expected cells of %d bytes, got class %d", tt.size, tt.want, class)
		}
	}
	if SizeClassFor(MaxSmallSize+1) != -1 {
		t.Errorf("Expected objects above %d bytes to be large", MaxSmallSize)
	}
}

func TestAllocFromBlocks(t *testing.T) {
	s := newSpace(64)

	a, err := s.Alloc(24)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	b, _ := s.Alloc(32)
	if b != a.Add(32) {
		t.Errorf("Expected consecutive cells of the same class, got %s and %s", a, b)
	}
	if !s.IsAllocated(a) || !s.IsAllocated(b) {
		t.Errorf("Expected alloc bits to be set")
	}
	if got := s.ReservedPages(); got != BlockPages {
		t.Errorf("Expected one block of %d pages, got %d", BlockPages, got)
	}

	// a different class takes a new block
	c, _ := s.Alloc(100)
	if c >= a && c < a.Add(BlockBytes) {
		t.Errorf("Expected a separate block for another class, got %s", c)
	}
	if got := s.ReservedPages(); got != 2*BlockPages {
		t.Errorf("Expected two blocks, got %d pages", got)
	}
	if got := s.AvailablePhysicalPages(); got != 64-2*BlockPages {
		t.Errorf("Expected %d available pages, got %d", 64-2*BlockPages, got)
	}

	large, err := s.Alloc(MaxSmallSize + 1)
	if err != nil {
		t.Fatalf("Large alloc failed: %v", err)
	}
	if !large.IsAligned(heap.PageSize) || !s.IsAllocated(large) {
		t.Errorf("Expected a page aligned large object, got %s", large)
	}
	if got := s.ReservedPages(); got != 2*BlockPages+3 {
		t.Errorf("Expected the large object to take 3 pages, got %d reserved", got)
	}
}

func TestAllocExhaustion(t *testing.T) {
	s := newSpace(BlockPages)

	if _, err := s.Alloc(16); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if _, err := s.Alloc(64); !errors.Is(err, heap.ErrSpaceExhausted) {
		t.Errorf("Expected ErrSpaceExhausted for a second block, got %v", err)
	}
	if _, err := s.Alloc(1 << 20); !errors.Is(err, heap.ErrSpaceExhausted) {
		t.Errorf("Expected ErrSpaceExhausted for a large object, got %v", err)
	}

	// the first block still serves its class
	for i := 1; i < BlockBytes/16; i++ {
		if _, err := s.Alloc(16); err != nil {
			t.Fatalf("Expected cell %d to fit into the block, got %v", i, err)
		}
	}
	if _, err := s.Alloc(16); !errors.Is(err, heap.ErrSpaceExhausted) {
		t.Errorf("Expected ErrSpaceExhausted once the block is full, got %v", err)
	}
}

func TestConcurrentMarkIsExactlyOnce(t *testing.T) {
	s := newSpace(64)
	obj, _ := s.Alloc(48)

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Mark(obj) {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	if firsts.Load() != 1 {
		t.Errorf("Expected exactly one first mark, got %d", firsts.Load())
	}
	if !s.IsMarked(obj) {
		t.Errorf("Expected the object to be marked")
	}
}

func TestTraceObjectEnqueuesOnce(t *testing.T) {
	s := newSpace(64)
	obj, _ := s.Alloc(48)
	q := &sliceQueue{}

	for i := 0; i < 3; i++ {
		if got := s.TraceObject(q, obj); got != obj {
			t.Errorf("Expected objects not to move, got %s", got)
		}
	}
	if len(q.objects) != 1 {
		t.Errorf("Expected one enqueue, got %d", len(q.objects))
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	s := newSpace(64)
	obj, _ := s.Alloc(48)
	s.Mark(obj)

	s.Prepare()
	s.Prepare()
	if s.IsMarked(obj) {
		t.Errorf("Expected prepare to clear the mark")
	}
	if !s.IsAllocated(obj) {
		t.Errorf("Expected prepare to keep the allocation")
	}
	if got := s.Stats().Prepares; got != 2 {
		t.Errorf("Expected 2 prepares, got %d", got)
	}
}

func TestReleaseSweeps(t *testing.T) {
	s := newSpace(128)

	var live, dead []heap.Address
	for i := 0; i < 100; i++ {
		obj, err := s.Alloc(64)
		if err != nil {
			t.Fatalf("Alloc failed: %v", err)
		}
		if i%4 == 0 {
			live = append(live, obj)
		} else {
			dead = append(dead, obj)
		}
	}
	deadLarge, _ := s.Alloc(3 * heap.PageSize)
	liveLarge, _ := s.Alloc(3 * heap.PageSize)

	s.Prepare()
	for _, obj := range live {
		s.Mark(obj)
	}
	s.Mark(liveLarge)

	result := s.Release()
	if result.LiveObjects != uint64(len(live))+1 {
		t.Errorf("Expected %d live objects, got %d", len(live)+1, result.LiveObjects)
	}
	if result.ReclaimedObjects != uint64(len(dead))+1 {
		t.Errorf("Expected %d reclaimed objects, got %d", len(dead)+1, result.ReclaimedObjects)
	}
	if result.ReclaimedBytes != uint64(len(dead))*64+3*heap.PageSize {
		t.Errorf("Unexpected reclaimed bytes %d", result.ReclaimedBytes)
	}

	for _, obj := range live {
		if !s.IsAllocated(obj) || s.IsMarked(obj) {
			t.Fatalf("Expected live %s to stay allocated and unmarked", obj)
		}
	}
	for _, obj := range dead {
		if s.IsAllocated(obj) {
			t.Fatalf("Expected dead %s to be freed", obj)
		}
	}
	if s.IsAllocated(deadLarge) || !s.IsAllocated(liveLarge) {
		t.Errorf("Unexpected large object state after sweep")
	}
	if got := s.ReservedPages(); got != BlockPages+3 {
		t.Errorf("Expected one block and the live large object, got %d pages", got)
	}

	// freed cells are reused lowest address first
	reused, _ := s.Alloc(64)
	if reused != dead[0] {
		t.Errorf("Expected the lowest free cell %s to be reused, got %s", dead[0], reused)
	}

	stats := s.Stats()
	if stats.Releases != 1 || stats.LastSweep.ReclaimedObjects != result.ReclaimedObjects {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if got := len(s.AllocatedObjects()); got != len(live)+2 {
		t.Errorf("Expected %d allocated objects, got %d", len(live)+2, got)
	}
}

func TestReleaseReturnsEmptyBlocks(t *testing.T) {
	s := newSpace(64)
	for i := 0; i < 10; i++ {
		if _, err := s.Alloc(256); err != nil {
			t.Fatalf("Alloc failed: %v", err)
		}
	}
	if s.ReservedPages() == 0 {
		t.Fatalf("Expected reserved pages")
	}

	s.Prepare()
	result := s.Release()
	if result.ReleasedPages != BlockPages || s.ReservedPages() != 0 {
		t.Errorf("Expected the empty block to be released, reserved %d", s.ReservedPages())
	}
	if s.Stats().Blocks != 0 {
		t.Errorf("Expected no blocks, got %d", s.Stats().Blocks)
	}

	// the class works again after losing all blocks
	if _, err := s.Alloc(256); err != nil {
		t.Errorf("Expected allocation after release to work, got %v", err)
	}
}

func TestPostCopy(t *testing.T) {
	s := newSpace(64)

	unmarked, _ := s.AllocCopy(32)
	s.PostCopy(unmarked, false)
	marked, _ := s.AllocCopy(32)
	s.PostCopy(marked, true)

	if s.IsMarked(unmarked) || !s.IsMarked(marked) {
		t.Errorf("Expected only the full-heap copy to be marked")
	}
}

func TestLocalMetadataSpecsAreSane(t *testing.T) {
	covered := uint64(64 << 20)
	ctx := heap.SideMetadataContext{Local: LocalMetadataSpecs(covered)}
	if err := heap.VerifySideMetadataSanity(covered, ctx); err != nil {
		t.Errorf("Expected a sane layout, got %v", err)
	}
}

func BenchmarkAllocSweep(b *testing.B) {
	s := newSpace(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 1000; j++ {
			if _, err := s.Alloc(64); err != nil {
				b.Fatal(err)
			}
		}
		s.Prepare()
		s.Release()
	}
}
