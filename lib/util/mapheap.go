// Package util
//
// This file provides the priority queue behind the mature space's free lists.
//
// MapHeap combines a binary min-heap with a map so that free cells can be taken
// in priority order (lowest address first, which keeps the live part of a size
// class compact) while the sweeper can still look up or remove a specific cell
// in O(1)/O(log n):
//
//   - O(log n) for Push, PopMin and RemoveByKey
//   - O(1) for Contains and Peek
//
// Concurrency: MapHeap is not thread-safe. The mature space guards every
// size class' heap with its own mutex.
//
// Example usage:
//
//	cells := NewMapHeap()
//	cells.AddItem(uint64(addr), uint64(addr)) // free cell keyed and ordered by address
//	lowest, ok := cells.PopMin()
package util

import (
	"container/heap"
	"strconv"
)

// Item is an entry of the heap: a key with the priority it is ordered by
type Item struct {
	Key      uint64
	Priority uint64
	index    int // maintained by container/heap
}

func (i *Item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap by priority with key-based access
type MapHeap struct {
	items    []*Item
	itemsMap map[uint64]*Item
}

// NewMapHeap creates a new, empty MapHeap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*Item, 0),
		itemsMap: make(map[uint64]*Item),
	}
}

// Len returns the number of items (part of heap.Interface)
func (mh *MapHeap) Len() int { return len(mh.items) }

// Less orders items by priority, ties broken by key (part of heap.Interface)
func (mh *MapHeap) Less(i, j int) bool {
	if mh.items[i].Priority == mh.items[j].Priority {
		return mh.items[i].Key < mh.items[j].Key
	}
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item (part of heap.Interface, use AddItem instead)
func (mh *MapHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(mh.items)
	mh.items = append(mh.items, item)
	mh.itemsMap[item.Key] = item
}

// Pop removes the last item (part of heap.Interface, use PopMin instead)
func (mh *MapHeap) Pop() interface{} {
	old := mh.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, item.Key)
	return item
}

// AddItem adds a new item or updates the priority of an existing one
func (mh *MapHeap) AddItem(key, priority uint64) {
	if item, exists := mh.itemsMap[key]; exists {
		item.Priority = priority
		heap.Fix(mh, item.index)
		return
	}
	heap.Push(mh, &Item{Key: key, Priority: priority})
}

// PopMin removes and returns the item with the lowest priority
func (mh *MapHeap) PopMin() (Item, bool) {
	if len(mh.items) == 0 {
		return Item{}, false
	}
	item := heap.Pop(mh).(*Item)
	return *item, true
}

// RemoveByKey removes an item by its key and returns its priority
func (mh *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	item, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, item.index)
	return item.Priority, true
}

// Peek returns the item with the lowest priority without removing it
func (mh *MapHeap) Peek() (Item, bool) {
	if len(mh.items) == 0 {
		return Item{}, false
	}
	return *mh.items[0], true
}

// Contains checks if a key is in the heap
func (mh *MapHeap) Contains(key uint64) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// Clear removes all items
func (mh *MapHeap) Clear() {
	clear(mh.items)
	mh.items = mh.items[:0]
	clear(mh.itemsMap)
}
