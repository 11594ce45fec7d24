// Package dummyvm is a placeholder binding: apart from the thread counter it
// implements no capability, and every call reports vm.ErrNotImplemented.
// A collector created with it fails at construction or at its first cycle
// instead of silently skipping scans.
package dummyvm

import (
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/vm"
)

// DummyVM implements vm.Binding without any capability
type DummyVM struct {
	threads atomic.Uint64
}

// New returns a new DummyVM
func New() *DummyVM {
	return &DummyVM{}
}

func (d *DummyVM) ScanObject(vm.SlotVisitor, heap.Address, vm.ThreadContext) error {
	return vm.Unimplemented("ScanObject")
}

func (d *DummyVM) ResetThreadCounter() {
	d.threads.Store(0)
}

func (d *DummyVM) NotifyInitialThreadScanComplete(bool, vm.ThreadContext) error {
	return vm.Unimplemented("NotifyInitialThreadScanComplete")
}

func (d *DummyVM) ComputeStaticRoots(vm.SlotVisitor, vm.ThreadContext) error {
	return vm.Unimplemented("ComputeStaticRoots")
}

func (d *DummyVM) ComputeGlobalRoots(vm.SlotVisitor, vm.ThreadContext) error {
	return vm.Unimplemented("ComputeGlobalRoots")
}

func (d *DummyVM) ComputeThreadRoots(vm.SlotVisitor, vm.ThreadContext) error {
	return vm.Unimplemented("ComputeThreadRoots")
}

func (d *DummyVM) ComputeNewThreadRoots(vm.SlotVisitor, vm.ThreadContext) error {
	return vm.Unimplemented("ComputeNewThreadRoots")
}

func (d *DummyVM) ComputeBootImageRoots(vm.SlotVisitor, vm.ThreadContext) error {
	return vm.Unimplemented("ComputeBootImageRoots")
}

func (d *DummyVM) SupportsReturnBarrier() (bool, error) {
	return false, vm.Unimplemented("SupportsReturnBarrier")
}

func (d *DummyVM) GetCurrentSize(heap.Address) (uint64, error) {
	return 0, vm.Unimplemented("GetCurrentSize")
}

func (d *DummyVM) CopyObject(heap.Address, heap.Address, vm.ThreadContext) error {
	return vm.Unimplemented("CopyObject")
}
