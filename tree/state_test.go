package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitBox(w float64) BBox {
	return NewBBox(Point{}, Point{X: w, Y: w, Z: w})
}

func mustStructure(t *testing.T, cfg StructureConfig) *Structure {
	t.Helper()
	s, err := NewStructure(cfg)
	require.NoError(t, err)
	return &s
}

func TestPointState_Climb(t *testing.T) {
	s := mustStructure(t, StructureConfig{BaseDepth: 4, Dimensions: 2, PointsPerChunk: 16})
	root := NewPointState(s, NewBBox(Point{}, Point{X: 4, Y: 4}))

	sw := root.Climb(SWD)
	assert.Equal(t, uint64(1), sw.Depth())
	assert.Equal(t, "1", sw.ID().String())
	assert.Equal(t, NewBBox(Point{}, Point{X: 2, Y: 2}), sw.BBox())

	ne := root.Climb(NED)
	assert.Equal(t, "4", ne.ID().String())
	assert.Equal(t, NewBBox(Point{X: 2, Y: 2}, Point{X: 4, Y: 4}), ne.BBox())

	// Child of child: (1 << 2) + 1 + 1 = 6.
	assert.Equal(t, "6", sw.Climb(SED).ID().String())
}

func TestPointState_ClimbTo(t *testing.T) {
	s := mustStructure(t, StructureConfig{BaseDepth: 4, Dimensions: 2, PointsPerChunk: 16})
	root := NewPointState(s, NewBBox(Point{}, Point{X: 4, Y: 4}))

	ps, dir := root.ClimbTo(Point{X: 1, Y: 1})
	assert.Equal(t, SWD, dir)
	assert.True(t, ps.BBox().Contains(Point{X: 1, Y: 1}))

	ps, dir = root.ClimbTo(Point{X: 3, Y: 1})
	assert.Equal(t, SED, dir)
	assert.True(t, ps.BBox().Contains(Point{X: 3, Y: 1}))
}

func TestPointState_Deferred(t *testing.T) {
	s := mustStructure(t, StructureConfig{BaseDepth: 2, Dimensions: 2, PointsPerChunk: 4})
	ps := NewPointState(s, unitBox(4))

	ps = ps.Climb(NED)
	assert.Empty(t, ps.Deferred())

	ps = ps.Defer(SWD)
	ps = ps.Defer(SED)
	assert.Equal(t, []Dir{SWD, SED}, ps.Deferred())

	// A plain climb drops the queue; a new block scope has begun.
	assert.Empty(t, ps.Climb(NWD).Deferred())
}

func TestCalcTick(t *testing.T) {
	box := NewBBox(Point{}, Point{X: 1, Y: 1, Z: 8})

	assert.Equal(t, uint64(0), CalcTick(0, box, 3))
	assert.Equal(t, uint64(3), CalcTick(3.5, box, 3))
	assert.Equal(t, uint64(7), CalcTick(7.999, box, 3))
	// Values at or past the top clamp to the last slice.
	assert.Equal(t, uint64(7), CalcTick(8, box, 3))

	flat := NewBBox(Point{}, Point{X: 1, Y: 1})
	assert.Equal(t, uint64(0), CalcTick(5, flat, 3))
}

func TestChunkState_DenseClimb(t *testing.T) {
	s := mustStructure(t, StructureConfig{
		BaseDepth:      2,
		Dimensions:     2,
		PointsPerChunk: 4,
		SparseDepth:    4,
		DynamicChunks:  true,
	})
	cs := NewChunkState(s, unitBox(4))

	// 4 = 4^1, so chunks nominally start at depth 1, id 1.
	assert.Equal(t, uint64(1), cs.Depth())
	assert.Equal(t, "1", cs.ChunkID().String())
	require.True(t, cs.AllDirections())

	// (1 << 2) + 1 + 2*4 = 13.
	child, err := cs.Climb(NWD)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), child.Depth())
	assert.Equal(t, "13", child.ChunkID().String())
	assert.Equal(t, "4", child.PointsPerChunk().String())
}

func TestChunkState_SparseClimb(t *testing.T) {
	s := mustStructure(t, StructureConfig{
		BaseDepth:      2,
		Dimensions:     2,
		PointsPerChunk: 4,
		SparseDepth:    2,
		DynamicChunks:  true,
	})
	cs := NewChunkState(s, unitBox(4))

	child, err := cs.Climb(SWD)
	require.NoError(t, err)
	assert.False(t, child.AllDirections())

	// Past the boundary the chunk grows instead of splitting.
	sparse := child.ClimbSparse()
	assert.Equal(t, uint64(3), sparse.Depth())
	assert.Equal(t, "16", sparse.PointsPerChunk().String())
	assert.Equal(t, child.BBox(), sparse.BBox())
}

func TestChunkState_SparseBoundaryViolation(t *testing.T) {
	s := mustStructure(t, StructureConfig{
		BaseDepth:      2,
		Dimensions:     2,
		PointsPerChunk: 4,
		SparseDepth:    2,
	})
	cs := NewChunkState(s, unitBox(4))

	child, err := cs.Climb(SWD)
	require.NoError(t, err)

	_, err = child.Climb(SED)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolated)
}

func TestChunkState_ClimbDeterminism(t *testing.T) {
	s := mustStructure(t, StructureConfig{
		BaseDepth:      4,
		Dimensions:     3,
		PointsPerChunk: 64,
		SparseDepth:    8,
		DynamicChunks:  true,
	})
	box := unitBox(1024)

	dirs := []Dir{NWU, SED, NEU, SWD, SEU}

	walk := func() ChunkState {
		cs := NewChunkState(s, box)
		for _, d := range dirs {
			if cs.AllDirections() {
				next, err := cs.Climb(d)
				require.NoError(t, err)
				cs = next
			} else {
				cs = cs.ClimbSparse()
			}
		}
		return cs
	}

	a, b := walk(), walk()
	assert.Equal(t, a.ChunkID().String(), b.ChunkID().String())
	assert.Equal(t, a.BBox(), b.BBox())
	assert.Equal(t, a.PointsPerChunk().String(), b.PointsPerChunk().String())
}
