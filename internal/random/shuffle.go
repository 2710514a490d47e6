package random

import (
	"fmt"
	"math/rand"
	"sync"
)

// Shuffler produces uniformly random permutations.
type Shuffler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShuffler creates a Shuffler seeded by seedFunc.
// A nil seedFunc defaults to NewSeed.
func NewShuffler(seedFunc func() (int64, error)) (*Shuffler, error) {
	if seedFunc == nil {
		seedFunc = NewSeed
	}
	seed, err := seedFunc()
	if err != nil {
		return nil, fmt.Errorf("seed shuffler: %w", err)
	}
	return &Shuffler{rng: rand.New(rand.NewSource(seed))}, nil
}

// Perm returns a uniformly random permutation of [0, n).
func (s *Shuffler) Perm(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Perm(n)
}
