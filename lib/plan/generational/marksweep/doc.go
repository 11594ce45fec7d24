// Package marksweep implements the generational mark-sweep plan GenMarkSweep.
//
// The plan composes the generation coordinator (generational.CommonGenPlan,
// which owns the nursery) with a mature marksweepspace.Space and offers the
// plan.GenerationalPlanExt capability set.
//
// Tracing configurations: ScheduleCollection picks exactly one per cycle.
//   - NewNurseryWorkContext traces only nursery objects and promotes them; the
//     mature space is neither prepared nor swept
//   - NewFullHeapWorkContext promotes nursery objects and marks mature objects
//     in place; the mature space is prepared before and swept after tracing
//
// A cycle started as nursery-only never turns into a full-heap cycle. If the
// mature space runs short, the heuristic in EndOfGC (or an explicit
// ForceFullHeapCollection) escalates the next cycle instead.
//
// Example:
//
//	p, err := marksweep.NewGenMarkSweep(plan.CreateGeneralPlanArgs{Options: opts, Binding: binding})
//	if err != nil {
//		return err // invalid options or side metadata layout
//	}
//	s := scheduler.New(opts.Workers, binding)
//	p.ScheduleCollection(s)
//	if err := s.Run(tls); err != nil {
//		return err // e.g. vm.ErrNotImplemented from the binding
//	}
//	p.EndOfGC(tls)
package marksweep
