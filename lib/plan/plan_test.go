package plan

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/vm"
	"github.com/ValentinKolb/genms/lib/vm/dummyvm"
	"github.com/ValentinKolb/genms/lib/vm/testvm"
)

type recordingDestination struct {
	next     heap.Address
	fail     error
	postCopy map[heap.Address]bool
}

func (d *recordingDestination) AllocCopy(size uint64) (heap.Address, error) {
	if d.fail != nil {
		return heap.Null, d.fail
	}
	addr := d.next
	d.next = d.next.Add(size)
	return addr, nil
}

func (d *recordingDestination) PostCopy(obj heap.Address, markLive bool) {
	d.postCopy[obj] = markLive
}

func TestAllocatorMappingIsImmutable(t *testing.T) {
	selectors := map[AllocationSemantics]AllocatorSelector{
		Default: {Kind: BumpPointer},
		Mature:  {Kind: FreeList},
	}
	m := NewAllocatorMapping(selectors)

	selectors[Default] = AllocatorSelector{Kind: FreeList, Index: 7}
	sel, ok := m.Selector(Default)
	if !ok || sel.Kind != BumpPointer || sel.Index != 0 {
		t.Errorf("Expected the mapping to keep its own copy, got %s", sel)
	}
	if m.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", m.Len())
	}
	if _, ok := m.Selector(AllocationSemantics(42)); ok {
		t.Errorf("Expected unknown semantics to be unmapped")
	}
}

func TestGenConstraints(t *testing.T) {
	c := GenConstraints(8 << 20)
	if !c.MovesObjects || !c.NeedsLogBit || !c.GenerationalBarrier || c.Barrier != ObjectBarrier {
		t.Errorf("Unexpected generational constraints %+v", c)
	}
	if c.MaxNonLOSDefaultAllocBytes != 1<<20 {
		t.Errorf("Expected objects up to 1MiB in the nursery, got %d", c.MaxNonLOSDefaultAllocBytes)
	}
}

func TestCopyContext(t *testing.T) {
	tvm := testvm.New(testvm.Options{})
	next := heap.HeapStart
	obj, _ := tvm.New(func(size uint64) (heap.Address, error) {
		addr := next
		next = next.Add(size)
		return addr, nil
	}, 2, 0)

	dst := &recordingDestination{next: heap.Address(0x2000_0000), postCopy: map[heap.Address]bool{}}
	config := NewCopyConfig(map[CopySemantics]CopyAllocator{PromoteToMature: dst})

	t.Run("copies and finishes", func(t *testing.T) {
		ctx := NewCopyContext(config, tvm, true)
		to, size, err := ctx.Copy(obj, PromoteToMature, 0)
		if err != nil {
			t.Fatalf("Copy failed: %v", err)
		}
		if size != testvm.ObjectSize(2, 0) {
			t.Errorf("Expected size %d, got %d", testvm.ObjectSize(2, 0), size)
		}
		original, _ := tvm.Object(obj)
		copied, ok := tvm.Object(to)
		if !ok || copied.ID != original.ID {
			t.Errorf("Expected a copy of %s at %s", obj, to)
		}
		if markLive, ok := dst.postCopy[to]; !ok || !markLive {
			t.Errorf("Expected PostCopy with markLive for a full-heap context")
		}
	})

	t.Run("allocation failure", func(t *testing.T) {
		dst.fail = heap.ErrSpaceExhausted
		defer func() { dst.fail = nil }()
		ctx := NewCopyContext(config, tvm, false)
		if _, _, err := ctx.Copy(obj, PromoteToMature, 0); !errors.Is(err, heap.ErrSpaceExhausted) {
			t.Errorf("Expected ErrSpaceExhausted, got %v", err)
		}
	})

	t.Run("unimplemented object model", func(t *testing.T) {
		ctx := NewCopyContext(config, dummyvm.New(), false)
		if _, _, err := ctx.Copy(obj, PromoteToMature, 0); !errors.Is(err, vm.ErrNotImplemented) {
			t.Errorf("Expected ErrNotImplemented, got %v", err)
		}
	})

	t.Run("unregistered semantics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Errorf("Expected a panic for an unregistered copy semantic")
			}
		}()
		ctx := NewCopyContext(NewCopyConfig(nil), tvm, false)
		_, _, _ = ctx.Copy(obj, PromoteToMature, 0)
	})
}

type fixedAccounting struct {
	used, reserve, total uint64
}

func (f fixedAccounting) UsedPages() uint64               { return f.used }
func (f fixedAccounting) CollectionReservedPages() uint64 { return f.reserve }
func (f fixedAccounting) TotalPages() uint64              { return f.total }

func TestAccountingHelpers(t *testing.T) {
	tests := []struct {
		name      string
		p         fixedAccounting
		reserved  uint64
		available uint64
		full      bool
	}{
		{"empty", fixedAccounting{0, 0, 100}, 0, 100, false},
		{"half", fixedAccounting{40, 10, 100}, 50, 50, false},
		{"exactly full", fixedAccounting{60, 40, 100}, 100, 0, false},
		{"over budget", fixedAccounting{80, 40, 100}, 120, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReservedPages(tt.p); got != tt.reserved {
				t.Errorf("Expected %d reserved pages, got %d", tt.reserved, got)
			}
			if got := AvailablePages(tt.p); got != tt.available {
				t.Errorf("Expected %d available pages, got %d", tt.available, got)
			}
			if got := IsHeapFull(tt.p); got != tt.full {
				t.Errorf("Expected heap full %v, got %v", tt.full, got)
			}
		})
	}
}
