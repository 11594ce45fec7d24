package common

import (
	"errors"
	"fmt"
	"github.com/inhies/go-bytesize"
	"runtime"
	"strconv"
	"strings"
)

// ErrInvalidOptions is returned when the global plan arguments are inconsistent.
// It is a configuration error: the collector refuses to start.
var ErrInvalidOptions = errors.New("invalid collector options")

const (
	pageSize  = 4096
	blockSize = 16 * pageSize

	// DefaultHeapSize is the total heap budget (nursery + mature space)
	DefaultHeapSize = 64 * 1024 * 1024
	// DefaultNurserySize is the size of the contiguous nursery region
	DefaultNurserySize = 8 * 1024 * 1024
	// DefaultPromotionHeadroom scales the projected promotion volume in the full-heap heuristic
	DefaultPromotionHeadroom = 1.0
)

// --------------------------------------------------------------------------
// Global plan arguments
// --------------------------------------------------------------------------

// Options holds the global arguments every plan and space is created from.
type Options struct {
	// HeapSize is the total heap budget in bytes (nursery included)
	HeapSize uint64
	// NurserySize is the size of the nursery region in bytes
	NurserySize uint64

	// Workers is the number of parallel GC worker goroutines
	Workers int

	// PromotionHeadroom multiplies the nursery occupancy before it is compared
	// against the pages still available in the mature space. Values above 1
	// trigger full-heap collections earlier.
	PromotionHeadroom float64

	// FullHeapSystemGC makes user-requested collections trace the full heap
	FullHeapSystemGC bool

	// LogLevel is the level at which logs will be output (debug, info, warn, error)
	LogLevel string
}

// DefaultOptions returns the default collector options
func DefaultOptions() *Options {
	return &Options{
		HeapSize:          DefaultHeapSize,
		NurserySize:       DefaultNurserySize,
		Workers:           runtime.NumCPU(),
		PromotionHeadroom: DefaultPromotionHeadroom,
		FullHeapSystemGC:  false,
		LogLevel:          "info",
	}
}

// MatureSize returns the bytes of the heap budget left for the mature space
func (o *Options) MatureSize() uint64 {
	if o.NurserySize >= o.HeapSize {
		return 0
	}
	return o.HeapSize - o.NurserySize
}

// Validate checks the options for consistency.
// All returned errors wrap ErrInvalidOptions.
func (o *Options) Validate() error {
	if o.HeapSize == 0 || o.HeapSize%pageSize != 0 {
		return fmt.Errorf("%w: heap size %d must be a positive multiple of %d", ErrInvalidOptions, o.HeapSize, pageSize)
	}
	if o.NurserySize == 0 || o.NurserySize%pageSize != 0 {
		return fmt.Errorf("%w: nursery size %d must be a positive multiple of %d", ErrInvalidOptions, o.NurserySize, pageSize)
	}
	if o.NurserySize >= o.HeapSize {
		return fmt.Errorf("%w: nursery size %d must be smaller than the heap size %d", ErrInvalidOptions, o.NurserySize, o.HeapSize)
	}
	if o.MatureSize() < blockSize {
		return fmt.Errorf("%w: mature space of %d bytes cannot hold a single block of %d bytes", ErrInvalidOptions, o.MatureSize(), blockSize)
	}
	if o.Workers < 1 {
		return fmt.Errorf("%w: at least one GC worker is required, got %d", ErrInvalidOptions, o.Workers)
	}
	if o.PromotionHeadroom <= 0 {
		return fmt.Errorf("%w: promotion headroom must be positive, got %f", ErrInvalidOptions, o.PromotionHeadroom)
	}
	if _, err := ParseLogLevel(o.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the options
func (o *Options) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Heap")
	addField("Heap Size", bytesize.New(float64(o.HeapSize)).String())
	addField("Nursery Size", bytesize.New(float64(o.NurserySize)).String())
	addField("Mature Size", bytesize.New(float64(o.MatureSize())).String())

	addSection("Collection")
	addField("Workers", strconv.Itoa(o.Workers))
	addField("Promotion Headroom", strconv.FormatFloat(o.PromotionHeadroom, 'f', 2, 64))
	addField("Full Heap System GC", strconv.FormatBool(o.FullHeapSystemGC))

	addSection("Logging")
	addField("Log Level", o.LogLevel)

	return sb.String()
}
