// Package plan defines what a collection plan is: its capability sets
// (Plan, GenerationalPlan, GenerationalPlanExt), its static constraints, the
// mapping from allocation semantics to allocators and the copy configuration
// that routes promoted objects to their destination space.
//
// Callers depend on the narrowest capability set they need. The allocation
// slow path only needs Plan, the heuristics of the generational coordinator
// need GenerationalPlan, and nursery tracing needs GenerationalPlanExt.
package plan
