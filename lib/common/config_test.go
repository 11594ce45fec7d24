package common

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	opts := DefaultOptions()
	if err := opts.Validate(); err != nil {
		t.Fatalf("Expected the default options to be valid, got %v", err)
	}
	if opts.MatureSize() != DefaultHeapSize-DefaultNurserySize {
		t.Errorf("Expected a mature size of %d, got %d", DefaultHeapSize-DefaultNurserySize, opts.MatureSize())
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
	}{
		{"zero heap", func(o *Options) { o.HeapSize = 0 }},
		{"unaligned heap", func(o *Options) { o.HeapSize = DefaultHeapSize + 1 }},
		{"zero nursery", func(o *Options) { o.NurserySize = 0 }},
		{"unaligned nursery", func(o *Options) { o.NurserySize = 1000 }},
		{"nursery as large as heap", func(o *Options) { o.NurserySize = o.HeapSize }},
		{"mature space below one block", func(o *Options) { o.NurserySize = o.HeapSize - pageSize }},
		{"no workers", func(o *Options) { o.Workers = 0 }},
		{"zero headroom", func(o *Options) { o.PromotionHeadroom = 0 }},
		{"negative headroom", func(o *Options) { o.PromotionHeadroom = -1 }},
		{"unknown log level", func(o *Options) { o.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(opts)
			if err := opts.Validate(); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestMatureSize(t *testing.T) {
	opts := &Options{HeapSize: 4 << 20, NurserySize: 1 << 20}
	if opts.MatureSize() != 3<<20 {
		t.Errorf("Expected %d, got %d", 3<<20, opts.MatureSize())
	}

	opts.NurserySize = 8 << 20
	if opts.MatureSize() != 0 {
		t.Errorf("Expected 0 for a nursery larger than the heap, got %d", opts.MatureSize())
	}
}

func TestOptionsString(t *testing.T) {
	out := DefaultOptions().String()
	for _, want := range []string{"HEAP", "COLLECTION", "LOGGING", "64.00MB", "8.00MB", "56.00MB"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in\n%s", want, out)
		}
	}
}
