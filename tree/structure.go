package tree

import (
	"bytes"
	"errors"
	"fmt"

	gojson "github.com/goccy/go-json"
)

var (
	// ErrInvalidConfig is returned when a structure configuration or query
	// range is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvariantViolated indicates a programming error, e.g. a
	// directional climb past the sparse boundary. Callers must not retry.
	ErrInvariantViolated = errors.New("invariant violated")
)

// StructureConfig enumerates the tree parameters. Unknown keys are rejected
// during parsing so misspelled options fail loudly instead of silently
// defaulting.
type StructureConfig struct {
	// NullDepth is the end of the empty zone at the top of the tree.
	NullDepth uint64 `json:"nullDepth"`
	// BaseDepth is the end of the always-resident contiguous zone.
	BaseDepth uint64 `json:"baseDepth"`
	// ColdDepth is the end of the chunked zone; 0 means unbounded.
	ColdDepth uint64 `json:"coldDepth"`
	// PointsPerChunk is the nominal chunk capacity. Must be a power of two.
	PointsPerChunk uint64 `json:"pointsPerChunk"`
	// Dimensions selects octree (3) or quadtree (2) splitting.
	Dimensions uint64 `json:"dimensions"`
	// NumPointsHint sizes pre-allocations; 0 means unknown.
	NumPointsHint uint64 `json:"numPointsHint"`
	// Tubular collapses the z axis during splits, keeping z-awareness via
	// per-cell ticks.
	Tubular bool `json:"tubular"`
	// DynamicChunks lets chunks grow by the fan-out factor beyond the
	// sparse threshold instead of staying fixed-size.
	DynamicChunks bool `json:"dynamicChunks"`
	// PrefixIds prepends the depth to chunk keys.
	PrefixIds bool `json:"prefixIds"`
	// SparseDepth is the depth at or beyond which chunks stop subdividing;
	// 0 means never sparse.
	SparseDepth uint64 `json:"sparseDepth"`
}

// ParseStructureConfig decodes a configuration from JSON, rejecting unknown
// keys.
func ParseStructureConfig(data []byte) (StructureConfig, error) {
	var cfg StructureConfig
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return StructureConfig{}, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Structure parameterizes the tree: depth zones, fan-out, chunk sizing, the
// sparse threshold and the tubular flag. It is immutable after construction
// and freely shared; every other component consults it.
type Structure struct {
	cfg StructureConfig

	factor            uint64
	baseIndexSpan     uint64
	nominalChunkDepth uint64
	nominalChunkIndex uint64
}

// NewStructure validates the configuration and computes the derived
// parameters.
func NewStructure(cfg StructureConfig) (Structure, error) {
	if cfg.Dimensions != 2 && cfg.Dimensions != 3 {
		return Structure{}, fmt.Errorf(
			"%w: dimensions must be 2 or 3, got %d", ErrInvalidConfig, cfg.Dimensions)
	}
	if cfg.BaseDepth < cfg.NullDepth {
		return Structure{}, fmt.Errorf(
			"%w: baseDepth %d < nullDepth %d", ErrInvalidConfig, cfg.BaseDepth, cfg.NullDepth)
	}
	if cfg.ColdDepth > 0 && cfg.ColdDepth < cfg.BaseDepth {
		return Structure{}, fmt.Errorf(
			"%w: coldDepth %d < baseDepth %d", ErrInvalidConfig, cfg.ColdDepth, cfg.BaseDepth)
	}

	s := Structure{cfg: cfg, factor: 1 << cfg.Dimensions}

	if cfg.PointsPerChunk > 0 {
		if cfg.PointsPerChunk&(cfg.PointsPerChunk-1) != 0 {
			return Structure{}, fmt.Errorf(
				"%w: pointsPerChunk %d is not a power of two",
				ErrInvalidConfig, cfg.PointsPerChunk)
		}
		// The shallowest depth whose level a nominal chunk still divides
		// evenly.
		s.nominalChunkDepth = ceilLog(cfg.PointsPerChunk, s.factor)
	}

	span := s.LevelIndex(cfg.BaseDepth)
	if !span.IsSimple() {
		return Structure{}, fmt.Errorf(
			"%w: base zone of depth %d exceeds the machine-word id range",
			ErrInvalidConfig, cfg.BaseDepth)
	}
	s.baseIndexSpan = span.Simple()
	s.nominalChunkIndex = s.LevelIndex(s.nominalChunkDepth).Simple()

	return s, nil
}

// ceilLog returns the smallest d with base^d >= v.
func ceilLog(v, base uint64) uint64 {
	var d uint64
	for cur := uint64(1); cur < v; cur *= base {
		d++
	}
	return d
}

// Dimensions returns 2 or 3.
func (s *Structure) Dimensions() uint64 { return s.cfg.Dimensions }

// Factor is the fan-out per split, 2^dimensions.
func (s *Structure) Factor() uint64 { return s.factor }

// NullDepth is the end of the empty zone.
func (s *Structure) NullDepth() uint64 { return s.cfg.NullDepth }

// BaseDepth is the end of the always-resident zone.
func (s *Structure) BaseDepth() uint64 { return s.cfg.BaseDepth }

// ColdDepth is the end of the chunked zone; 0 means unbounded.
func (s *Structure) ColdDepth() uint64 { return s.cfg.ColdDepth }

// Tubular reports quadtree-with-ticks mode.
func (s *Structure) Tubular() bool { return s.cfg.Tubular }

// DynamicChunks reports whether sparse chunks grow with depth.
func (s *Structure) DynamicChunks() bool { return s.cfg.DynamicChunks }

// PrefixIds reports whether chunk keys carry a depth prefix.
func (s *Structure) PrefixIds() bool { return s.cfg.PrefixIds }

// NumPointsHint returns the expected total point count, 0 if unknown.
func (s *Structure) NumPointsHint() uint64 { return s.cfg.NumPointsHint }

// BasePointsPerChunk returns the nominal chunk capacity.
func (s *Structure) BasePointsPerChunk() uint64 { return s.cfg.PointsPerChunk }

// SparseDepthBegin is the depth at which directional climbs stop and chunks
// grow tube-like instead of splitting. 0 means never sparse.
func (s *Structure) SparseDepthBegin() uint64 { return s.cfg.SparseDepth }

// BaseIndexSpan is the total number of nodes across depths [0, baseDepth).
// The base hierarchy block covers exactly this id range.
func (s *Structure) BaseIndexSpan() uint64 { return s.baseIndexSpan }

// NominalChunkDepth is the shallowest depth at which a single chunk spans
// exactly one nominal chunk's worth of node ids. ChunkState cursors are
// seeded here.
func (s *Structure) NominalChunkDepth() uint64 { return s.nominalChunkDepth }

// NominalChunkIndex is the id of the first node at the nominal chunk depth.
func (s *Structure) NominalChunkIndex() uint64 { return s.nominalChunkIndex }

// LevelIndex returns the id of the first node at the given depth:
// (factor^depth - 1) / (factor - 1).
func (s *Structure) LevelIndex(depth uint64) Id {
	num := NewId(1).Shl(s.cfg.Dimensions * depth).Sub(NewId(1))
	return num.Div(NewId(s.factor - 1))
}

// NumNodesAt returns the node population of a whole depth level.
func (s *Structure) NumNodesAt(depth uint64) Id {
	return NewId(1).Shl(s.cfg.Dimensions * depth)
}

// InBase reports whether a node depth lies within the base zone.
func (s *Structure) InBase(depth uint64) bool {
	return depth >= s.cfg.NullDepth && depth < s.cfg.BaseDepth
}

// InCold reports whether a node depth lies within the chunked zone.
func (s *Structure) InCold(depth uint64) bool {
	if depth < s.cfg.BaseDepth {
		return false
	}
	return s.cfg.ColdDepth == 0 || depth < s.cfg.ColdDepth
}

// Config returns the originating configuration.
func (s *Structure) Config() StructureConfig { return s.cfg }
