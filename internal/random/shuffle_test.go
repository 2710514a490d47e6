package random

import (
	"errors"
	"testing"
)

func TestNewSeedProducesValues(t *testing.T) {
	first, err := NewSeed()
	if err != nil {
		t.Fatalf("new seed: %v", err)
	}
	second, err := NewSeed()
	if err != nil {
		t.Fatalf("new seed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct seeds, got %d twice", first)
	}
}

func TestNewShufflerSeedError(t *testing.T) {
	_, err := NewShuffler(func() (int64, error) { return 0, errors.New("entropy exhausted") })
	if err == nil {
		t.Fatal("expected seed error to propagate")
	}
}

func TestPermIsAPermutation(t *testing.T) {
	s, err := NewShuffler(func() (int64, error) { return 42, nil })
	if err != nil {
		t.Fatalf("new shuffler: %v", err)
	}

	for n := 0; n <= 50; n++ {
		perm := s.Perm(n)
		if len(perm) != n {
			t.Fatalf("Perm(%d) returned %d entries", n, len(perm))
		}
		seen := make(map[int]bool, n)
		for _, idx := range perm {
			if idx < 0 || idx >= n {
				t.Fatalf("Perm(%d) produced out-of-range index %d", n, idx)
			}
			if seen[idx] {
				t.Fatalf("Perm(%d) repeated index %d", n, idx)
			}
			seen[idx] = true
		}
	}
}

func TestPermIsDeterministicPerSeed(t *testing.T) {
	a, err := NewShuffler(func() (int64, error) { return 7, nil })
	if err != nil {
		t.Fatalf("new shuffler: %v", err)
	}
	b, err := NewShuffler(func() (int64, error) { return 7, nil })
	if err != nil {
		t.Fatalf("new shuffler: %v", err)
	}

	left := a.Perm(10)
	right := b.Perm(10)
	for i := range left {
		if left[i] != right[i] {
			t.Fatalf("same seed produced different permutations: %v vs %v", left, right)
		}
	}
}
