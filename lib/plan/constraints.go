package plan

// BarrierSelector names the write barrier a plan needs
type BarrierSelector int

const (
	NoBarrier BarrierSelector = iota
	ObjectBarrier
)

func (b BarrierSelector) String() string {
	switch b {
	case ObjectBarrier:
		return "object"
	default:
		return "none"
	}
}

// PlanConstraints are the static capability flags of a plan
type PlanConstraints struct {
	// MovesObjects is set if objects may change their address
	MovesObjects bool
	// NeedsLogBit is set if the plan uses the global log bit
	NeedsLogBit bool
	// Barrier is the write barrier mutators must run
	Barrier BarrierSelector
	// MaxNonLOSDefaultAllocBytes is the largest object the default
	// allocator takes; larger objects are allocated as mature objects
	MaxNonLOSDefaultAllocBytes uint64
	// GenerationalBarrier is set if the barrier records old-to-young pointers
	GenerationalBarrier bool
}

// GenConstraints returns the constraints shared by generational plans with a
// nursery of nurseryBytes
func GenConstraints(nurseryBytes uint64) PlanConstraints {
	return PlanConstraints{
		MovesObjects:               true,
		NeedsLogBit:                true,
		Barrier:                    ObjectBarrier,
		MaxNonLOSDefaultAllocBytes: nurseryBytes / 8,
		GenerationalBarrier:        true,
	}
}
