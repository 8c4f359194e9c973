package volume

import (
	"math/rand/v2"
	"sync/atomic"
)

// Chooser picks the volume a new file is written to. Implementations must be
// pure with respect to the set: safe for unbounded concurrent calls with no
// shared mutable state beyond the immutable Set. The key identifies the
// logical entity asking for placement (typically the tablet); strategies may
// use it to avoid pathological skew but never for correctness.
type Chooser interface {
	Choose(set *Set, key string) (string, error)
}

// RandomChooser selects uniformly at random across active volumes. With N
// volumes and M independent placements the probability that some volume
// receives nothing is ((N-1)/N)^M, so callers wanting even spread need M
// comfortably larger than N.
type RandomChooser struct{}

// NewRandomChooser creates the default placement strategy.
func NewRandomChooser() *RandomChooser {
	return &RandomChooser{}
}

// Choose picks one active volume at random.
func (c *RandomChooser) Choose(set *Set, key string) (string, error) {
	active := set.active
	if len(active) == 0 {
		return "", ErrNoActiveVolumes
	}
	return active[rand.IntN(len(active))], nil
}

// RoundRobinChooser cycles through active volumes in order. Deterministic
// given a call sequence, which makes it useful in tests and for small volume
// counts where random placement is too lumpy.
type RoundRobinChooser struct {
	next atomic.Uint64
}

// NewRoundRobinChooser creates a chooser starting at the first volume.
func NewRoundRobinChooser() *RoundRobinChooser {
	return &RoundRobinChooser{}
}

// Choose picks the next active volume in configuration order.
func (c *RoundRobinChooser) Choose(set *Set, key string) (string, error) {
	active := set.active
	if len(active) == 0 {
		return "", ErrNoActiveVolumes
	}
	n := c.next.Add(1) - 1
	return active[int(n%uint64(len(active)))], nil
}
