package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudtree/tree"
)

func TestDeriveStructure(t *testing.T) {
	ts, err := tree.NewStructure(tree.StructureConfig{
		BaseDepth:      8,
		Dimensions:     2,
		PointsPerChunk: 256,
		NumPointsHint:  1 << 20,
		SparseDepth:    11,
		Tubular:        true,
	})
	require.NoError(t, err)

	hs, err := DeriveStructure(&ts)
	require.NoError(t, err)

	// Shallow trees are widened to the minimum hierarchy base depth.
	assert.Equal(t, uint64(12), hs.BaseDepth())
	assert.Equal(t, uint64(0), hs.NullDepth())
	assert.Equal(t, uint64(0), hs.ColdDepth())
	// The sparse threshold shifts by the hierarchy start depth.
	assert.Equal(t, uint64(11-StartDepth), hs.SparseDepthBegin())
	assert.True(t, hs.Tubular())
	assert.True(t, hs.DynamicChunks())

	// A tree already deeper than the minimum keeps its base depth.
	deep, err := tree.NewStructure(tree.StructureConfig{
		BaseDepth:      14,
		Dimensions:     2,
		PointsPerChunk: 256,
	})
	require.NoError(t, err)

	hs, err = DeriveStructure(&deep)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), hs.BaseDepth())
	// A never-sparse tree stays never-sparse.
	assert.Equal(t, uint64(0), hs.SparseDepthBegin())
}
