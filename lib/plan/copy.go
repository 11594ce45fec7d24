package plan

import (
	"fmt"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/vm"
)

// CopySemantics is the abstract destination of a copy
type CopySemantics int

const (
	// PromoteToMature copies a nursery survivor into the mature space
	PromoteToMature CopySemantics = iota
)

func (c CopySemantics) String() string {
	switch c {
	case PromoteToMature:
		return "promote"
	default:
		return fmt.Sprintf("copy(%d)", int(c))
	}
}

// CopyAllocator is the allocation path of a copy destination
type CopyAllocator interface {
	AllocCopy(size uint64) (heap.Address, error)
	// PostCopy finishes the copy; markLive is set during full-heap cycles
	PostCopy(obj heap.Address, markLive bool)
}

// CopyConfig maps copy semantics to copy destinations. It is registered by
// the plan at construction and never changes afterwards.
type CopyConfig struct {
	destinations map[CopySemantics]CopyAllocator
}

// NewCopyConfig creates a config from a copy of destinations
func NewCopyConfig(destinations map[CopySemantics]CopyAllocator) *CopyConfig {
	c := &CopyConfig{destinations: make(map[CopySemantics]CopyAllocator, len(destinations))}
	for sem, dst := range destinations {
		c.destinations[sem] = dst
	}
	return c
}

// Destination returns the copy allocator registered for sem
func (c *CopyConfig) Destination(sem CopySemantics) (CopyAllocator, bool) {
	dst, ok := c.destinations[sem]
	return dst, ok
}

// CopyContext copies objects for one cycle
type CopyContext struct {
	config   *CopyConfig
	model    vm.ObjectModel
	markLive bool
}

// NewCopyContext creates the copy context of a cycle. markLive is set for
// full-heap cycles, whose sweep must not free the fresh copies.
func NewCopyContext(config *CopyConfig, model vm.ObjectModel, markLive bool) *CopyContext {
	return &CopyContext{config: config, model: model, markLive: markLive}
}

// Copy copies obj to the destination of sem and returns the copy and its size
func (c *CopyContext) Copy(obj heap.Address, sem CopySemantics, tls vm.ThreadContext) (heap.Address, uint64, error) {
	dst, ok := c.config.Destination(sem)
	if !ok {
		panic(fmt.Sprintf("no copy destination registered for %s", sem))
	}

	size, err := c.model.GetCurrentSize(obj)
	if err != nil {
		return heap.Null, 0, fmt.Errorf("size of %s: %w", obj, err)
	}
	to, err := dst.AllocCopy(size)
	if err != nil {
		return heap.Null, 0, fmt.Errorf("%s of %s (%d bytes): %w", sem, obj, size, err)
	}
	if err := c.model.CopyObject(obj, to, tls); err != nil {
		return heap.Null, 0, fmt.Errorf("copy of %s to %s: %w", obj, to, err)
	}
	dst.PostCopy(to, c.markLive)
	return to, size, nil
}
