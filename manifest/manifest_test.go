package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/chunk"
	"github.com/hupe1980/cloudtree/tree"
)

func TestManifest_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := blobstore.NewMemoryEndpoint()

	bbox := tree.NewBBox(tree.Point{X: -1, Y: -2, Z: -3}, tree.Point{X: 1, Y: 2, Z: 3})
	cfg := tree.StructureConfig{BaseDepth: 6, Dimensions: 3, PointsPerChunk: 64}

	m := New(bbox, cfg, chunk.DefaultSchema(), nil)
	m.NumPoints = 1234
	m.MaxDepth = 9
	require.NotEmpty(t, m.ID)

	ok, err := Exists(ctx, ep, "")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Save(ctx, ep, ""))

	ok, err = Exists(ctx, ep, "")
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := Load(ctx, ep, "")
	require.NoError(t, err)
	assert.Equal(t, m.ID, out.ID)
	assert.Equal(t, bbox, out.Bounds())
	assert.Equal(t, cfg, out.Structure)
	assert.Equal(t, uint64(1234), out.NumPoints)
	assert.Equal(t, uint64(9), out.MaxDepth)
	assert.Equal(t, m.Schema.PointSize(), out.Schema.PointSize())
}

func TestManifest_SubsetPostfix(t *testing.T) {
	ctx := context.Background()
	ep := blobstore.NewMemoryEndpoint()

	bbox := tree.NewBBox(tree.Point{}, tree.Point{X: 1, Y: 1})
	cfg := tree.StructureConfig{BaseDepth: 4, Dimensions: 2}

	m := New(bbox, cfg, chunk.DefaultSchema(), nil)
	m.Subset = 3
	require.NoError(t, m.Save(ctx, ep, "-3"))

	_, err := Load(ctx, ep, "")
	assert.True(t, blobstore.IsNotFound(err))

	out, err := Load(ctx, ep, "-3")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.Subset)
}

func TestManifest_LoadMalformed(t *testing.T) {
	ctx := context.Background()
	ep := blobstore.NewMemoryEndpoint()

	require.NoError(t, ep.Put(ctx, Key, []byte("{not json")))
	_, err := Load(ctx, ep, "")
	assert.ErrorIs(t, err, ErrMalformed)

	require.NoError(t, ep.Put(ctx, Key, []byte(`{"version": 99}`)))
	_, err = Load(ctx, ep, "")
	assert.ErrorIs(t, err, ErrMalformed)
}
