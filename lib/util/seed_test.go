package util

import "testing"

func TestGenerateSeed(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 16; i++ {
		seed := GenerateSeed()
		if seed < 0 {
			t.Errorf("Expected a non-negative seed, got %d", seed)
		}
		seen[seed] = true
	}
	if len(seen) < 2 {
		t.Errorf("Expected different seeds, got %v", seen)
	}
}
