package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/tree"
)

func TestSchema(t *testing.T) {
	s := DefaultSchema()
	assert.Equal(t, uint64(24), s.PointSize())

	withIntensity, err := NewSchema([]Dim{
		{Name: "X", Type: "floating", Size: 8},
		{Name: "Y", Type: "floating", Size: 8},
		{Name: "Z", Type: "floating", Size: 8},
		{Name: "Intensity", Type: "unsigned", Size: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(26), withIntensity.PointSize())

	dim, off, ok := withIntensity.Find("Intensity")
	require.True(t, ok)
	assert.Equal(t, uint64(24), off)
	assert.Equal(t, uint64(2), dim.Size)

	_, _, ok = withIntensity.Find("Color")
	assert.False(t, ok)

	// Spatial prefix is mandatory.
	_, err = NewSchema([]Dim{{Name: "Intensity", Type: "unsigned", Size: 2}})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	// Bad width.
	_, err = NewSchema([]Dim{
		{Name: "X", Type: "floating", Size: 8},
		{Name: "Y", Type: "floating", Size: 8},
		{Name: "Z", Type: "floating", Size: 8},
		{Name: "Odd", Type: "unsigned", Size: 3},
	})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestSchema_PositionRoundTrip(t *testing.T) {
	s := DefaultSchema()
	record := make([]byte, s.PointSize())

	p := tree.Point{X: 1.5, Y: -2.25, Z: 1e9}
	s.PackPosition(record, p)
	assert.Equal(t, p, s.UnpackPosition(record))
}

func TestSchema_JSONRoundTrip(t *testing.T) {
	s := DefaultSchema()
	data, err := s.MarshalJSON()
	require.NoError(t, err)

	var out Schema
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, s.PointSize(), out.PointSize())
	assert.Equal(t, s.Dims(), out.Dims())
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		c := NewCodec(DefaultSchema(), compression)

		b := NewBuilder(c.Schema())
		b.AppendPosition(tree.Point{X: 1, Y: 2, Z: 3}, 4)
		b.AppendPosition(tree.Point{X: 4, Y: 5, Z: 6}, 5)
		b.AppendPosition(tree.Point{X: 7, Y: 8, Z: 9}, 5)

		data, err := c.Encode(b.Chunk())
		require.NoError(t, err)

		out, err := c.Decode(data)
		require.NoError(t, err)
		require.Equal(t, 3, out.Len())
		assert.Equal(t, tree.Point{X: 1, Y: 2, Z: 3}, out.Position(0))
		assert.Equal(t, uint64(4), out.Depth(0))
		assert.Equal(t, tree.Point{X: 7, Y: 8, Z: 9}, out.Position(2))
		assert.Equal(t, uint64(5), out.Depth(2))
	}
}

func TestCodec_CompressesRepetitiveData(t *testing.T) {
	c := NewCodec(DefaultSchema(), CompressionLZ4)

	b := NewBuilder(c.Schema())
	for i := 0; i < 1000; i++ {
		b.AppendPosition(tree.Point{X: 1, Y: 1, Z: 1}, 3)
	}

	data, err := c.Encode(b.Chunk())
	require.NoError(t, err)
	assert.Less(t, len(data), 1000*24/2, "identical records should compress well")

	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 1000, out.Len())
}

func TestCodec_DecodeMalformed(t *testing.T) {
	c := NewCodec(DefaultSchema(), CompressionNone)

	_, err := c.Decode([]byte{1, 0})
	assert.ErrorIs(t, err, ErrMalformedChunk)

	b := NewBuilder(c.Schema())
	b.AppendPosition(tree.Point{X: 1, Y: 1, Z: 1}, 1)
	data, err := c.Encode(b.Chunk())
	require.NoError(t, err)

	// Truncated payload.
	_, err = c.Decode(data[:len(data)-4])
	assert.ErrorIs(t, err, ErrMalformedChunk)

	// Unsupported version.
	bad := append([]byte{}, data...)
	bad[0] = 99
	_, err = c.Decode(bad)
	assert.ErrorIs(t, err, ErrMalformedChunk)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	small := tree.NewId(42)
	big := tree.NewId(1).Shl(100)

	assert.False(t, r.Has(small))
	r.Add(small)
	r.Add(big)

	assert.True(t, r.Has(small))
	assert.True(t, r.Has(big))
	assert.False(t, r.Has(tree.NewId(43)))
	assert.Equal(t, uint64(2), r.Len())

	data, err := r.Bytes()
	require.NoError(t, err)
	out, err := LoadRegistry(data)
	require.NoError(t, err)
	assert.True(t, out.Has(small))
	assert.True(t, out.Has(big))
	assert.Equal(t, uint64(2), out.Len())

	_, err = LoadRegistry([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedChunk)
}

func TestRegistry_SaveOpenMerge(t *testing.T) {
	ctx := context.Background()
	ep := blobstore.NewMemoryEndpoint()

	a := NewRegistry()
	a.Add(tree.NewId(1))
	require.NoError(t, a.Save(ctx, ep, "-1"))

	b := NewRegistry()
	b.Add(tree.NewId(2))

	loaded, err := OpenRegistry(ctx, ep, "-1")
	require.NoError(t, err)
	loaded.Merge(b)
	assert.True(t, loaded.Has(tree.NewId(1)))
	assert.True(t, loaded.Has(tree.NewId(2)))

	empty, err := OpenRegistry(ctx, ep, "-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), empty.Len())
}

func TestWriterReader(t *testing.T) {
	ctx := context.Background()
	ep := blobstore.NewMemoryEndpoint()

	s, err := tree.NewStructure(tree.StructureConfig{
		BaseDepth:      2,
		Dimensions:     2,
		PointsPerChunk: 4,
		SparseDepth:    4,
		DynamicChunks:  true,
	})
	require.NoError(t, err)

	codec := NewCodec(DefaultSchema(), CompressionLZ4)
	w := NewWriter(&s, codec)

	bbox := tree.NewBBox(tree.Point{}, tree.Point{X: 4, Y: 4})

	// One base-zone point, two chunked points.
	require.NoError(t, w.AppendBase(tree.Point{X: 1, Y: 1}, 1, nil))

	cs := tree.NewChunkState(&s, bbox)
	cs2, err := cs.Climb(tree.NED)
	require.NoError(t, err)
	require.NoError(t, w.Append(cs2, tree.Point{X: 3, Y: 3}, nil))
	require.NoError(t, w.Append(cs2, tree.Point{X: 3.5, Y: 3.5}, nil))

	assert.Equal(t, uint64(3), w.NumPoints())
	require.NoError(t, w.Flush(ctx, ep, ""))

	r := NewReader(&s, ep, codec, w.Registry(), "")

	base, err := r.FetchBase(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, base.Len())
	assert.Equal(t, tree.Point{X: 1, Y: 1}, base.Position(0))

	require.True(t, r.Has(cs2.ChunkID()))
	ch, err := r.Fetch(ctx, cs2.Depth(), cs2.ChunkID())
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Len())
	assert.Equal(t, cs2.Depth(), ch.Depth(0))

	// Unwritten chunks are absent from both registry and endpoint.
	other, err := cs.Climb(tree.SWD)
	require.NoError(t, err)
	assert.False(t, r.Has(other.ChunkID()))
	_, err = r.Fetch(ctx, other.Depth(), other.ChunkID())
	assert.True(t, blobstore.IsNotFound(err))
}
