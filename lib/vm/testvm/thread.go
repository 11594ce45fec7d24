package testvm

import (
	"sync"

	"github.com/ValentinKolb/genms/lib/vm"
)

// Thread is a mutator thread with a stack of root slots.
//
// The stack keeps a watermark: slots below it were scanned by the last
// collection and have not been written since. With a return barrier only the
// slots above the watermark have to be scanned again.
type Thread struct {
	ID vm.ThreadContext

	mu        sync.Mutex
	stack     []*RootSlot
	watermark int
}

// Push pushes a new stack slot and returns it
func (t *Thread) Push() *RootSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	index := len(t.stack)
	slot := &RootSlot{}
	slot.onStore = func() { t.touch(index) }
	t.stack = append(t.stack, slot)
	return slot
}

// Pop removes the topmost stack slot
func (t *Thread) Pop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.stack) == 0 {
		return
	}
	t.stack = t.stack[:len(t.stack)-1]
	if t.watermark > len(t.stack) {
		t.watermark = len(t.stack)
	}
}

// Depth returns the number of stack slots
func (t *Thread) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// touch lowers the watermark below a modified slot
func (t *Thread) touch(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < t.watermark {
		t.watermark = index
	}
}

// scanned moves the watermark to the top of the stack
func (t *Thread) scanned() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watermark = len(t.stack)
}

// slots returns the stack slots, only those above the watermark if onlyNew is set
func (t *Thread) slots(onlyNew bool) []*RootSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := 0
	if onlyNew {
		from = t.watermark
	}
	return append([]*RootSlot(nil), t.stack[from:]...)
}
