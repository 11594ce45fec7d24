package marksweepspace

import (
	"sort"

	"github.com/ValentinKolb/genms/lib/heap"
)

const (
	// BlockPages is the size of a block of small cells in pages
	BlockPages = 16
	// BlockBytes is the size of a block of small cells in bytes
	BlockBytes = BlockPages * heap.PageSize

	// MaxSmallSize is the largest cell size; larger objects get a dedicated block
	MaxSmallSize = 8192

	linearStep  = 16
	linearLimit = 512
)

// SizeClasses lists the cell sizes of the space: 16 byte steps up to 512
// bytes, then steps of roughly 1.5x (aligned to 16 bytes) up to MaxSmallSize.
var SizeClasses = buildSizeClasses()

func buildSizeClasses() []uint64 {
	var classes []uint64
	for size := uint64(linearStep); size <= linearLimit; size += linearStep {
		classes = append(classes, size)
	}
	for size := uint64(linearLimit); size < MaxSmallSize; {
		size = heap.AlignUp(size+size/2, heap.MinObjectAlignment)
		if size > MaxSmallSize {
			size = MaxSmallSize
		}
		classes = append(classes, size)
	}
	return classes
}

// SizeClassFor returns the index of the smallest class that fits size, or -1
// if the object is too large for a small cell
func SizeClassFor(size uint64) int {
	if size > MaxSmallSize {
		return -1
	}
	if size <= linearLimit {
		if size == 0 {
			return 0
		}
		return int((size+linearStep-1)/linearStep) - 1
	}
	return sort.Search(len(SizeClasses), func(i int) bool {
		return SizeClasses[i] >= size
	})
}
