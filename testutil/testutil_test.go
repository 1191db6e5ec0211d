package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/cloudtree/tree"
)

func TestRNG_Deterministic(t *testing.T) {
	bbox := tree.NewBBox(tree.Point{}, tree.Point{X: 1, Y: 1, Z: 1})

	a := NewRNG(42).UniformPoints(10, bbox)
	b := NewRNG(42).UniformPoints(10, bbox)
	assert.Equal(t, a, b)

	r := NewRNG(42)
	first := r.UniformPoints(10, bbox)
	r.Reset()
	assert.Equal(t, first, r.UniformPoints(10, bbox))

	for _, p := range first {
		assert.True(t, bbox.Contains(p))
	}
}

func TestRNG_ClusteredPoints(t *testing.T) {
	bbox := tree.NewBBox(tree.Point{}, tree.Point{X: 10, Y: 10})
	center := tree.Point{X: 5, Y: 5}

	pts := NewRNG(1).ClusteredPoints(50, center, 2, bbox)
	for _, p := range pts {
		assert.InDelta(t, center.X, p.X, 1.0)
		assert.InDelta(t, center.Y, p.Y, 1.0)
	}
}
