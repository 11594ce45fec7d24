package heap

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidSideMetadata is returned when a side metadata layout request is inconsistent
var ErrInvalidSideMetadata = errors.New("invalid side metadata layout")

// --------------------------------------------------------------------------
// Specs
// --------------------------------------------------------------------------

// SideMetadataSpec describes one kind of out-of-band per-object metadata.
// Every region of 1<<LogBytesInRegion bytes is described by 1<<LogNumOfBits bits.
// Offset is the byte offset of the metadata inside its metadata region (global or
// space-local); specs of the same region must not overlap.
type SideMetadataSpec struct {
	Name             string
	IsGlobal         bool
	Offset           uint64
	LogNumOfBits     uint
	LogBytesInRegion uint
}

// NumOfBits returns the number of bits per region
func (s SideMetadataSpec) NumOfBits() uint {
	return 1 << s.LogNumOfBits
}

// MetadataBytes returns the number of metadata bytes needed to describe covered bytes of heap
func (s SideMetadataSpec) MetadataBytes(covered uint64) uint64 {
	regions := (covered + (1 << s.LogBytesInRegion) - 1) >> s.LogBytesInRegion
	bits := regions << s.LogNumOfBits
	// round up to whole words so atomic word updates never straddle two specs
	return AlignUp((bits+7)/8, 8)
}

func (s SideMetadataSpec) String() string {
	scope := "local"
	if s.IsGlobal {
		scope = "global"
	}
	return fmt.Sprintf("%s(%s, offset=%d, bits=%d, region=%d)", s.Name, scope, s.Offset, s.NumOfBits(), 1<<s.LogBytesInRegion)
}

// LayoutSpecs assigns consecutive, non-overlapping offsets to specs that all
// cover covered bytes of heap.
func LayoutSpecs(covered uint64, specs ...SideMetadataSpec) []SideMetadataSpec {
	out := make([]SideMetadataSpec, len(specs))
	var offset uint64
	for i, spec := range specs {
		spec.Offset = offset
		offset += spec.MetadataBytes(covered)
		out[i] = spec
	}
	return out
}

// SideMetadataContext groups the global specs (shared by all spaces) with the
// local specs of one space. LocalCovered is the size of the space's own range
// the local specs describe; zero means they cover the whole heap.
type SideMetadataContext struct {
	Global       []SideMetadataSpec
	Local        []SideMetadataSpec
	LocalCovered uint64
}

// VerifySideMetadataSanity checks the layout request of every space against
// the global specs. covered is the number of heap bytes the global specs
// describe. The returned error wraps ErrInvalidSideMetadata.
func VerifySideMetadataSanity(covered uint64, contexts ...SideMetadataContext) error {
	if covered == 0 {
		return fmt.Errorf("%w: empty heap", ErrInvalidSideMetadata)
	}

	for _, ctx := range contexts {
		localCovered := ctx.LocalCovered
		if localCovered == 0 {
			localCovered = covered
		}
		if localCovered > covered {
			return fmt.Errorf("%w: local specs cover %d bytes of a %d byte heap", ErrInvalidSideMetadata, localCovered, covered)
		}
		if err := verifySpecSet(covered, true, ctx.Global); err != nil {
			return err
		}
		if err := verifySpecSet(localCovered, false, ctx.Local); err != nil {
			return err
		}
	}
	return nil
}

func verifySpecSet(covered uint64, global bool, specs []SideMetadataSpec) error {
	names := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if spec.IsGlobal != global {
			return fmt.Errorf("%w: spec %s registered in the wrong scope", ErrInvalidSideMetadata, spec)
		}
		if names[spec.Name] {
			return fmt.Errorf("%w: duplicate spec %s", ErrInvalidSideMetadata, spec.Name)
		}
		names[spec.Name] = true

		if spec.LogNumOfBits > 3 {
			return fmt.Errorf("%w: spec %s uses more than 8 bits per region", ErrInvalidSideMetadata, spec)
		}
		if spec.LogBytesInRegion < LogMinObjectAlignment {
			return fmt.Errorf("%w: spec %s describes regions smaller than the object alignment", ErrInvalidSideMetadata, spec)
		}

		start, end := spec.Offset, spec.Offset+spec.MetadataBytes(covered)
		for _, other := range specs[:i] {
			oStart, oEnd := other.Offset, other.Offset+other.MetadataBytes(covered)
			if start < oEnd && oStart < end {
				return fmt.Errorf("%w: spec %s overlaps %s", ErrInvalidSideMetadata, spec, other)
			}
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Side metadata storage
// --------------------------------------------------------------------------

// SideMetadata is the storage of one spec over one address range: a dense
// array of atomic words indexed by (addr - start) >> LogBytesInRegion.
//
// Thread-safety: all accessors are atomic and safe for concurrent use.
type SideMetadata struct {
	spec   SideMetadataSpec
	extent Range
	mask   uint64
	words  []atomic.Uint64
}

// NewSideMetadata allocates zeroed metadata for spec covering extent
func NewSideMetadata(spec SideMetadataSpec, extent Range) *SideMetadata {
	return &SideMetadata{
		spec:   spec,
		extent: extent,
		mask:   (1 << spec.NumOfBits()) - 1,
		words:  make([]atomic.Uint64, spec.MetadataBytes(extent.Bytes())/8),
	}
}

// Spec returns the spec this metadata stores
func (m *SideMetadata) Spec() SideMetadataSpec {
	return m.spec
}

// Covers reports whether addr is described by this metadata
func (m *SideMetadata) Covers(addr Address) bool {
	return m.extent.Contains(addr)
}

// position returns the word index and the bit shift of addr
func (m *SideMetadata) position(addr Address) (int, uint) {
	if !m.extent.Contains(addr) {
		panic(fmt.Sprintf("side metadata %s does not cover %s", m.spec.Name, addr))
	}
	region := addr.Diff(m.extent.Start) >> m.spec.LogBytesInRegion
	bit := region << m.spec.LogNumOfBits
	return int(bit >> 6), uint(bit & 63)
}

// Load returns the metadata value of addr
func (m *SideMetadata) Load(addr Address) uint8 {
	word, shift := m.position(addr)
	return uint8((m.words[word].Load() >> shift) & m.mask)
}

// Store sets the metadata value of addr
func (m *SideMetadata) Store(addr Address, value uint8) {
	word, shift := m.position(addr)
	for {
		old := m.words[word].Load()
		updated := (old &^ (m.mask << shift)) | ((uint64(value) & m.mask) << shift)
		if m.words[word].CompareAndSwap(old, updated) {
			return
		}
	}
}

// CompareExchange sets the value of addr to new if it currently is old.
// It returns whether the exchange happened.
func (m *SideMetadata) CompareExchange(addr Address, old, new uint8) bool {
	word, shift := m.position(addr)
	for {
		current := m.words[word].Load()
		if uint8((current>>shift)&m.mask) != old {
			return false
		}
		updated := (current &^ (m.mask << shift)) | ((uint64(new) & m.mask) << shift)
		if m.words[word].CompareAndSwap(current, updated) {
			return true
		}
	}
}

// TrySet sets all bits of addr and returns true if this call changed them from zero.
// Concurrent callers racing on the same address see exactly one true result.
func (m *SideMetadata) TrySet(addr Address) bool {
	word, shift := m.position(addr)
	old := m.words[word].Or(m.mask << shift)
	return (old>>shift)&m.mask == 0
}

// TryClear clears all bits of addr and returns true if they were not all zero before
func (m *SideMetadata) TryClear(addr Address) bool {
	word, shift := m.position(addr)
	old := m.words[word].And(^(m.mask << shift))
	return (old>>shift)&m.mask != 0
}

// IsSet reports whether any bit of addr is set
func (m *SideMetadata) IsSet(addr Address) bool {
	return m.Load(addr) != 0
}

// Zero clears the metadata of the whole extent
func (m *SideMetadata) Zero() {
	for i := range m.words {
		m.words[i].Store(0)
	}
}

// ZeroRange clears the metadata of every region inside r.
// r must be aligned to whole metadata words (64 bits worth of regions).
func (m *SideMetadata) ZeroRange(r Range) {
	if r.Bytes() == 0 {
		return
	}
	first, firstShift := m.position(r.Start)
	last, lastShift := m.position(r.End - 1)
	if firstShift != 0 || lastShift+m.spec.NumOfBits() != 64 {
		// unaligned bounds: clear region by region
		for addr := r.Start; addr < r.End; addr = addr.Add(1 << m.spec.LogBytesInRegion) {
			m.Store(addr, 0)
		}
		return
	}
	for i := first; i <= last; i++ {
		m.words[i].Store(0)
	}
}
