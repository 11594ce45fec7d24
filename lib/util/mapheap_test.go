package util

import (
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if _, ok := mh.Peek(); ok {
		t.Error("Peek() on an empty heap should return false")
	}

	if _, ok := mh.PopMin(); ok {
		t.Error("PopMin() on an empty heap should return false")
	}
}

// TestPopMinOrder verifies that items come out in priority order
func TestPopMinOrder(t *testing.T) {
	mh := NewMapHeap()
	for _, addr := range []uint64{0x5000, 0x1000, 0x3000, 0x2000, 0x4000} {
		mh.AddItem(addr, addr)
	}

	var prev uint64
	for i := 0; i < 5; i++ {
		item, ok := mh.PopMin()
		if !ok {
			t.Fatalf("Expected item %d", i)
		}
		if item.Priority < prev {
			t.Errorf("Expected ascending order, got %d after %d", item.Priority, prev)
		}
		prev = item.Priority
	}

	if mh.Len() != 0 {
		t.Errorf("Heap should be empty, but has %d items", mh.Len())
	}
}

// TestAddItemUpdates verifies that adding an existing key updates its priority
func TestAddItemUpdates(t *testing.T) {
	mh := NewMapHeap()
	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(2, 50)

	if mh.Len() != 2 {
		t.Fatalf("Expected 2 items, got %d", mh.Len())
	}

	item, _ := mh.Peek()
	if item.Key != 2 || item.Priority != 50 {
		t.Errorf("Expected (2,50) first, got (%d,%d)", item.Key, item.Priority)
	}
}

// TestRemoveByKey tests removal of arbitrary items
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap()
	mh.AddItem(1, 10)
	mh.AddItem(2, 20)
	mh.AddItem(3, 30)

	priority, ok := mh.RemoveByKey(2)
	if !ok || priority != 20 {
		t.Errorf("Expected to remove key 2 with priority 20, got %d (%v)", priority, ok)
	}
	if mh.Contains(2) {
		t.Error("Key 2 should be gone")
	}
	if _, ok := mh.RemoveByKey(2); ok {
		t.Error("Second removal of key 2 should fail")
	}

	item, _ := mh.PopMin()
	if item.Key != 1 {
		t.Errorf("Expected key 1, got %d", item.Key)
	}
	item, _ = mh.PopMin()
	if item.Key != 3 {
		t.Errorf("Expected key 3, got %d", item.Key)
	}
}

// TestClear tests that Clear empties heap and map
func TestClear(t *testing.T) {
	mh := NewMapHeap()
	for i := uint64(0); i < 10; i++ {
		mh.AddItem(i, i)
	}
	mh.Clear()

	if mh.Len() != 0 || mh.Contains(3) {
		t.Error("Heap should be empty after Clear")
	}

	mh.AddItem(7, 7)
	if item, ok := mh.PopMin(); !ok || item.Key != 7 {
		t.Error("Heap should be usable after Clear")
	}
}
