package testvm

import (
	"fmt"

	"github.com/ValentinKolb/genms/lib/heap"
)

// Graph is the result of a reachability walk from the roots
type Graph struct {
	// Addresses maps every reachable address to its object record
	Addresses map[heap.Address]*Object
	// ByID maps object ids to the addresses they were reached at
	ByID map[uint64][]heap.Address
}

// Contains reports whether an object with the given id is reachable
func (g *Graph) Contains(id uint64) bool {
	_, ok := g.ByID[id]
	return ok
}

// Bytes returns the total size of all reachable objects
func (g *Graph) Bytes() uint64 {
	var total uint64
	for _, obj := range g.Addresses {
		total += obj.Size
	}
	return total
}

// Duplicates returns the ids reached at more than one address
func (g *Graph) Duplicates() []uint64 {
	var ids []uint64
	for id, addrs := range g.ByID {
		if len(addrs) > 1 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reachable walks the object graph from all roots. It fails if a reachable
// reference has no object record, which means the reference is dangling.
func (v *VM) Reachable() (*Graph, error) {
	g := &Graph{
		Addresses: make(map[heap.Address]*Object),
		ByID:      make(map[uint64][]heap.Address),
	}

	var stack []heap.Address
	for _, root := range v.Roots() {
		if ref := root.Load(); !ref.IsNull() {
			stack = append(stack, ref)
		}
	}

	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := g.Addresses[addr]; seen {
			continue
		}

		obj, ok := v.objects.Load(addr)
		if !ok {
			return nil, fmt.Errorf("dangling reference to %s", addr)
		}
		g.Addresses[addr] = obj
		g.ByID[obj.ID] = append(g.ByID[obj.ID], addr)

		for i := range obj.Fields {
			if ref := obj.Field(i); !ref.IsNull() {
				stack = append(stack, ref)
			}
		}
	}
	return g, nil
}

// Forget drops the records of all objects that are not reachable from the
// roots. Long running simulations use it to keep the record store bounded.
func (v *VM) Forget() (int, error) {
	g, err := v.Reachable()
	if err != nil {
		return 0, err
	}
	dropped := 0
	v.objects.Range(func(addr heap.Address, _ *Object) bool {
		if _, live := g.Addresses[addr]; !live {
			v.objects.Delete(addr)
			dropped++
		}
		return true
	})
	return dropped, nil
}

// NumRecords returns the number of object records, stale ones included
func (v *VM) NumRecords() int {
	return v.objects.Size()
}
