package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStructure_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StructureConfig
		wantErr bool
	}{
		{
			name: "valid 2d",
			cfg:  StructureConfig{BaseDepth: 4, Dimensions: 2, PointsPerChunk: 16},
		},
		{
			name: "valid 3d",
			cfg:  StructureConfig{BaseDepth: 6, ColdDepth: 10, Dimensions: 3, PointsPerChunk: 64},
		},
		{
			name:    "bad dimensions",
			cfg:     StructureConfig{BaseDepth: 4, Dimensions: 4},
			wantErr: true,
		},
		{
			name:    "base below null",
			cfg:     StructureConfig{NullDepth: 5, BaseDepth: 4, Dimensions: 2},
			wantErr: true,
		},
		{
			name:    "cold below base",
			cfg:     StructureConfig{BaseDepth: 6, ColdDepth: 4, Dimensions: 3},
			wantErr: true,
		},
		{
			name:    "chunk size not a power of two",
			cfg:     StructureConfig{BaseDepth: 4, Dimensions: 2, PointsPerChunk: 10},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStructure(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestStructure_Derived(t *testing.T) {
	s, err := NewStructure(StructureConfig{
		BaseDepth:      4,
		Dimensions:     2,
		PointsPerChunk: 16,
		SparseDepth:    6,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(4), s.Factor())
	// 1 + 4 + 16 + 64 nodes above depth 4.
	assert.Equal(t, uint64(85), s.BaseIndexSpan())
	// 16 = 4^2, so chunks nominally start at depth 2, id 5.
	assert.Equal(t, uint64(2), s.NominalChunkDepth())
	assert.Equal(t, uint64(5), s.NominalChunkIndex())

	assert.True(t, s.InBase(0))
	assert.True(t, s.InBase(3))
	assert.False(t, s.InBase(4))
	assert.True(t, s.InCold(4))
}

func TestStructure_LevelIndex(t *testing.T) {
	s, err := NewStructure(StructureConfig{BaseDepth: 2, Dimensions: 3, PointsPerChunk: 8})
	require.NoError(t, err)

	assert.Equal(t, "0", s.LevelIndex(0).String())
	assert.Equal(t, "1", s.LevelIndex(1).String())
	assert.Equal(t, "9", s.LevelIndex(2).String())
	assert.Equal(t, "73", s.LevelIndex(3).String())
}

func TestParseStructureConfig(t *testing.T) {
	cfg, err := ParseStructureConfig([]byte(
		`{"baseDepth": 6, "dimensions": 3, "pointsPerChunk": 64, "tubular": true}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), cfg.BaseDepth)
	assert.True(t, cfg.Tubular)

	_, err = ParseStructureConfig([]byte(`{"baseDeepth": 6}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
