package simulate

import (
	"fmt"
	"math/rand"

	"github.com/ValentinKolb/genms/lib/collector"
	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/plan"
	"github.com/ValentinKolb/genms/lib/vm/testvm"
)

const chainLength = 8

// Workload describes a synthetic allocation pattern
type Workload struct {
	// Rounds is the number of allocation rounds
	Rounds int
	// ObjectsPerRound is the number of objects allocated per round
	ObjectsPerRound int
	// Fields is the number of reference fields per object
	Fields int
	// Payload is the number of data bytes per object
	Payload uint64
	// Survival is the fraction of objects that are kept alive
	Survival float64
	// Window is the number of live objects held by roots; older survivors die
	Window int
	// PretenureEvery allocates every n-th object in the mature space (0 disables)
	PretenureEvery int
	// FullHeapEvery forces a full-heap collection after every n-th round (0 disables)
	FullHeapEvery int
	// Seed seeds the random choice of survivors
	Seed int64
}

// Validate checks the workload for consistency
func (w Workload) Validate() error {
	if w.Rounds < 1 || w.ObjectsPerRound < 1 {
		return fmt.Errorf("rounds and objects per round must be positive")
	}
	if w.Fields < 1 {
		return fmt.Errorf("objects need at least one reference field")
	}
	if w.Survival < 0 || w.Survival > 1 {
		return fmt.Errorf("survival %f must be within [0, 1]", w.Survival)
	}
	if w.Window < 1 {
		return fmt.Errorf("the root window must hold at least one object")
	}
	return nil
}

// RunWorkload runs w on a collector over tvm with a single mutator. Every
// finished cycle is passed to onCycle.
//
// Survivors form chains of up to chainLength objects: each survivor links to
// the previous one, so a chain stays alive until the root of its newest
// member is reused.
func RunWorkload(c *collector.Collector, tvm *testvm.VM, w Workload, onCycle func(*collector.CycleReport)) error {
	if err := w.Validate(); err != nil {
		return err
	}

	m := c.BindMutator()
	rng := rand.New(rand.NewSource(w.Seed))
	window := make([]*testvm.RootSlot, w.Window)
	for i := range window {
		window[i] = tvm.AddStaticRoot()
	}

	seen := c.Cycles()
	report := func() {
		if cycles := c.Cycles(); cycles != seen {
			seen = cycles
			if onCycle != nil {
				onCycle(c.LastCycle())
			}
		}
	}

	kept := 0
	for round := 1; round <= w.Rounds; round++ {
		for i := 0; i < w.ObjectsPerRound; i++ {
			alloc := m.AllocDefault
			if w.PretenureEvery > 0 && i%w.PretenureEvery == 0 {
				alloc = func(size uint64) (heap.Address, error) {
					return m.Alloc(size, plan.Mature)
				}
			}

			obj, err := tvm.New(alloc, w.Fields, w.Payload)
			report()
			if err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
			if rng.Float64() >= w.Survival {
				continue
			}

			// no allocation until the object is rooted
			prev := window[(kept+w.Window-1)%w.Window].Load()
			if !prev.IsNull() && kept%chainLength != 0 {
				slot, err := tvm.FieldSlot(obj, 0)
				if err != nil {
					return err
				}
				m.WriteReference(obj, slot, prev)
			}
			window[kept%w.Window].Set(obj)
			kept++
		}

		if w.FullHeapEvery > 0 && round%w.FullHeapEvery == 0 {
			if err := c.HandleUserCollectionRequest(m.TLS, true); err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
			report()
		}
	}
	return nil
}
