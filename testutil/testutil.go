// Package testutil provides deterministic helpers for index tests.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/cloudtree/tree"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Float64 returns a pseudo-random number in [0, 1).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Intn returns a non-negative pseudo-random number in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// UniformPoints generates n points uniformly distributed in bbox. A
// degenerate z range produces planar points.
func (r *RNG) UniformPoints(n int, bbox tree.BBox) []tree.Point {
	pts := make([]tree.Point, n)
	for i := range pts {
		pts[i] = tree.Point{
			X: bbox.Min.X + r.Float64()*bbox.Width(),
			Y: bbox.Min.Y + r.Float64()*bbox.Depth(),
			Z: bbox.Min.Z + r.Float64()*bbox.Height(),
		}
	}
	return pts
}

// ClusteredPoints generates n points gathered around a center with the
// given spread, clamped to bbox. Useful for exercising sparse, deep
// branches.
func (r *RNG) ClusteredPoints(n int, center tree.Point, spread float64, bbox tree.BBox) []tree.Point {
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}

	pts := make([]tree.Point, n)
	for i := range pts {
		pts[i] = tree.Point{
			X: clamp(center.X+(r.Float64()-0.5)*spread, bbox.Min.X, bbox.Max.X),
			Y: clamp(center.Y+(r.Float64()-0.5)*spread, bbox.Min.Y, bbox.Max.Y),
			Z: clamp(center.Z+(r.Float64()-0.5)*spread, bbox.Min.Z, bbox.Max.Z),
		}
	}
	return pts
}
