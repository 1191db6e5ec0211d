package tree

import "fmt"

// PointState is a cursor identifying a cell within the tree: an id, a depth,
// the bounding box of that cell and, in tubular mode, a z-slice tick. All
// intra-block cell addressing goes through this cursor; no other component
// computes child ids by hand.
//
// PointState additionally carries a deferred-direction queue: a short FIFO
// of Dir values accumulated while descending past the end of the current
// block. Directions consumed before a block boundary become part of the
// block key; directions after become the within-block address.
//
// PointState is a small value type; Climb returns a copy.
type PointState struct {
	s *Structure

	bbox  BBox
	depth uint64
	id    Id
	tick  uint64

	deferred []Dir
}

// NewPointState creates a root cursor over the full index bounds.
func NewPointState(s *Structure, bbox BBox) PointState {
	return PointState{s: s, bbox: bbox}
}

// Climb descends into the child identified by dir.
func (ps PointState) Climb(dir Dir) PointState {
	out := ps
	out.depth++
	out.bbox = ps.bbox.Go(dir, ps.s.Tubular())
	out.id = ps.id.Shl(ps.s.Dimensions()).Add(1 + ToIntegral(dir))
	out.deferred = nil
	return out
}

// ClimbTo descends toward p, returning the new cursor and the direction
// taken. In tubular mode the tick is recomputed for p's z at the new depth.
func (ps PointState) ClimbTo(p Point) (PointState, Dir) {
	dir := DirFromPoint(p, ps.bbox.Mid(), ps.s.Dimensions())
	out := ps.Climb(dir)
	if ps.s.Tubular() {
		out.tick = CalcTick(p.Z, out.bbox, out.depth)
	}
	return out, dir
}

// Defer queues a direction taken past the current block boundary. The copy
// semantics of PointState make the queue local to one traversal branch.
func (ps PointState) Defer(dir Dir) PointState {
	out := ps.Climb(dir)
	out.deferred = append(append([]Dir(nil), ps.deferred...), dir)
	return out
}

// Deferred returns the queued directions, oldest first.
func (ps PointState) Deferred() []Dir { return ps.deferred }

// BBox returns the cell bounds.
func (ps PointState) BBox() BBox { return ps.bbox }

// Depth returns the cell depth.
func (ps PointState) Depth() uint64 { return ps.depth }

// ID returns the node id.
func (ps PointState) ID() Id { return ps.id }

// Tick returns the z-slice index; always 0 outside tubular mode.
func (ps PointState) Tick() uint64 { return ps.tick }

// CalcTick maps a z value onto a slice index in [0, 2^depth) within the
// given bounds. Degenerate z ranges collapse to tick 0.
func CalcTick(z float64, bbox BBox, depth uint64) uint64 {
	height := bbox.Height()
	if height <= 0 {
		return 0
	}
	if depth > 63 {
		depth = 63
	}
	slices := uint64(1) << depth
	tick := uint64((z - bbox.Min.Z) / height * float64(slices))
	if tick >= slices {
		tick = slices - 1
	}
	return tick
}

// ChunkState is a cursor identifying which chunk covers the current
// sub-region of the tree. Chunk ids and per-chunk capacities are
// deterministic functions of the initial root state and the climb sequence.
type ChunkState struct {
	s *Structure

	bbox           BBox
	depth          uint64
	chunkID        Id
	pointsPerChunk Id
}

// NewChunkState creates a cursor seeded at the root of the chunked region.
func NewChunkState(s *Structure, bbox BBox) ChunkState {
	return ChunkState{
		s:              s,
		bbox:           bbox,
		depth:          s.NominalChunkDepth(),
		chunkID:        NewId(s.NominalChunkIndex()),
		pointsPerChunk: NewId(s.BasePointsPerChunk()),
	}
}

// AllDirections reports whether the next climb subdivides: true while the
// next depth is at or above the sparse threshold, or when the structure is
// never sparse.
func (cs ChunkState) AllDirections() bool {
	sparse := cs.s.SparseDepthBegin()
	return sparse == 0 || cs.depth+1 <= sparse
}

// Climb descends into the child chunk in the given direction. Calling Climb
// when AllDirections is false is a programming error and returns
// ErrInvariantViolated.
func (cs ChunkState) Climb(dir Dir) (ChunkState, error) {
	if !cs.AllDirections() {
		return ChunkState{}, fmt.Errorf(
			"%w: directional climb to depth %d crosses the sparse boundary at %d",
			ErrInvariantViolated, cs.depth+1, cs.s.SparseDepthBegin())
	}

	out := cs
	out.depth++
	out.bbox = cs.bbox.Go(dir, cs.s.Tubular())
	out.chunkID = cs.chunkID.Shl(cs.s.Dimensions()).
		Inc().
		AddId(cs.pointsPerChunk.Mul(ToIntegral(dir)))
	return out, nil
}

// ClimbSparse descends without picking a side: the chunk stops subdividing
// and grows tube-like by the fan-out factor instead, unless dynamic chunk
// sizing is disabled.
func (cs ChunkState) ClimbSparse() ChunkState {
	out := cs
	out.depth++
	out.chunkID = cs.chunkID.Shl(cs.s.Dimensions()).Inc()
	if cs.s.DynamicChunks() {
		out.pointsPerChunk = cs.pointsPerChunk.Mul(cs.s.Factor())
	}
	return out
}

// BBox returns the chunk bounds.
func (cs ChunkState) BBox() BBox { return cs.bbox }

// Depth returns the chunk depth.
func (cs ChunkState) Depth() uint64 { return cs.depth }

// ChunkID returns the chunk id.
func (cs ChunkState) ChunkID() Id { return cs.chunkID }

// PointsPerChunk returns the current chunk capacity.
func (cs ChunkState) PointsPerChunk() Id { return cs.pointsPerChunk }
