// Package query translates a box, a depth window and an output schema into
// a restartable stream of matching points: first the resident base chunk,
// then cold chunks leased from the cache.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/cloudtree/cache"
	"github.com/hupe1980/cloudtree/chunk"
	"github.com/hupe1980/cloudtree/hierarchy"
	"github.com/hupe1980/cloudtree/tree"
)

// maxTraversalDepth caps gather recursion when neither a depth window nor
// an ingested max depth bounds it.
const maxTraversalDepth = 64

// Config assembles a query.
type Config struct {
	Structure *tree.Structure
	BBox      tree.BBox

	// Hierarchy optionally prunes subtrees with zero population. It must
	// share the tree's structure domain.
	Hierarchy *hierarchy.Hierarchy

	Reader *chunk.Reader
	Cache  *cache.Cache

	// Base is the resident chunk of base-zone points; nil means none.
	Base *chunk.Chunk

	OutSchema chunk.Schema

	QBox       tree.BBox
	DepthBegin uint64
	// DepthEnd bounds the window exclusively; 0 means unbounded.
	DepthEnd uint64
	// MaxDepth is the deepest ingested depth, bounding sparse descent when
	// DepthEnd is unbounded.
	MaxDepth uint64

	// Scale and Offset transform spatial output: (p - Offset) * Scale.
	// A zero Scale means 1.
	Scale  float64
	Offset tree.Point

	// OnFetch, when set, observes every backend chunk fetch.
	OnFetch func(bytes int64, d time.Duration, err error)
}

// dimSource maps one non-spatial output dimension onto its offset in the
// stored records; absent dimensions stay zero-filled.
type dimSource struct {
	srcOff int
	size   uint64
	outOff uint64
}

type phase int

const (
	phaseBase phase = iota
	phaseChunked
	phaseDone
)

// Query emits matching points in two phases. The Next contract: append zero
// or more points to the buffer; true means call again, false means
// drained. Queries are single-goroutine; cancel via the context between
// Next calls.
type Query struct {
	cfg   Config
	scale float64

	sources []dimSource

	phase     phase
	block     *cache.Block
	chunkKeys []string
	chunkIdx  int

	numPoints uint64
}

// New validates the configuration and prepares the output layout.
func New(cfg Config) (*Query, error) {
	if cfg.DepthEnd > 0 && cfg.DepthBegin >= cfg.DepthEnd {
		return nil, fmt.Errorf(
			"%w: query depth range [%d, %d)", tree.ErrInvalidConfig, cfg.DepthBegin, cfg.DepthEnd)
	}
	if cfg.Structure == nil || cfg.Reader == nil || cfg.Cache == nil {
		return nil, fmt.Errorf("%w: query requires structure, reader and cache", tree.ErrInvalidConfig)
	}

	scale := cfg.Scale
	if scale == 0 {
		scale = 1
	}

	q := &Query{cfg: cfg, scale: scale}
	q.sources = layoutSources(cfg.OutSchema, cfg.Reader)
	return q, nil
}

func layoutSources(out chunk.Schema, r *chunk.Reader) []dimSource {
	var sources []dimSource
	var outOff uint64
	for i, dim := range out.Dims() {
		// The X, Y, Z prefix is packed from the transformed position.
		if i >= 3 {
			src := dimSource{srcOff: -1, size: dim.Size, outOff: outOff}
			if _, off, ok := r.Schema().Find(dim.Name); ok {
				src.srcOff = int(off)
			}
			sources = append(sources, src)
		}
		outOff += dim.Size
	}
	return sources
}

// NumPoints returns the number of points emitted so far.
func (q *Query) NumPoints() uint64 { return q.numPoints }

// Done reports whether the query is drained.
func (q *Query) Done() bool { return q.phase == phaseDone }

// Close releases any held chunk lease. Call it when abandoning a query
// before Next returns false.
func (q *Query) Close() {
	if q.block != nil {
		q.block.Release()
		q.block = nil
	}
	q.phase = phaseDone
}

// Next appends zero or more packed points to buffer and returns the
// extended buffer. The boolean is true while more points may be produced.
// On error the buffer's existing content stays valid but the appended tail
// must be discarded.
func (q *Query) Next(ctx context.Context, buffer []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		q.Close()
		return buffer, false, err
	}

	switch q.phase {
	case phaseBase:
		buffer = q.nextBase(buffer)
		q.phase = phaseChunked
		return buffer, true, nil

	case phaseChunked:
		var err error
		buffer, err = q.nextChunked(ctx, buffer)
		if err != nil {
			q.Close()
			return buffer, false, err
		}
		return buffer, q.phase != phaseDone, nil

	default:
		return buffer, false, nil
	}
}

// nextBase emits every matching point from the resident base chunk.
func (q *Query) nextBase(buffer []byte) []byte {
	if q.cfg.Base == nil {
		return buffer
	}
	for i := 0; i < q.cfg.Base.Len(); i++ {
		buffer = q.processPoint(buffer, q.cfg.Base, i)
	}
	return buffer
}

// nextChunked lazily gathers the FetchInfoSet, acquires the lease on first
// call, then drains one chunk per call.
func (q *Query) nextChunked(ctx context.Context, buffer []byte) ([]byte, error) {
	if q.block == nil {
		set := cache.NewFetchInfoSet()
		cs := tree.NewChunkState(q.cfg.Structure, q.cfg.BBox)
		ps := tree.NewPointState(q.cfg.Structure, q.cfg.BBox)
		if err := q.gather(ctx, set, cs, ps); err != nil {
			return buffer, err
		}

		if len(set) == 0 {
			q.phase = phaseDone
			return buffer, nil
		}

		block, err := q.cfg.Cache.Acquire(ctx, q.fetchChunk, set)
		if err != nil {
			return buffer, err
		}
		q.block = block
		q.chunkKeys = block.Keys()
		q.chunkIdx = 0
	}

	if q.chunkIdx < len(q.chunkKeys) {
		if v, ok := q.block.Get(q.chunkKeys[q.chunkIdx]); ok {
			ch := v.(*chunk.Chunk)
			for i := 0; i < ch.Len(); i++ {
				buffer = q.processPoint(buffer, ch, i)
			}
		}
		q.chunkIdx++
	}

	if q.chunkIdx >= len(q.chunkKeys) {
		q.block.Release()
		q.block = nil
		q.phase = phaseDone
	}
	return buffer, nil
}

func (q *Query) fetchChunk(ctx context.Context, info cache.FetchInfo) (cache.Value, error) {
	start := time.Now()
	ch, err := q.cfg.Reader.Fetch(ctx, info.Depth, info.ID)
	if q.cfg.OnFetch != nil {
		var bytes int64
		if ch != nil {
			bytes = ch.SizeBytes()
		}
		q.cfg.OnFetch(bytes, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// depthCap bounds traversal: the depth window end when given, otherwise the
// ingested max depth, otherwise a hard recursion cap.
func (q *Query) depthCap() uint64 {
	if q.cfg.DepthEnd > 0 {
		return q.cfg.DepthEnd
	}
	if q.cfg.MaxDepth > 0 {
		return q.cfg.MaxDepth + 1
	}
	return maxTraversalDepth
}

// gather walks the chunk tree inside qbox collecting chunks to fetch. The
// point cursor tracks the chunk's ancestor node in lockstep so the
// hierarchy can veto empty subtrees.
func (q *Query) gather(ctx context.Context, set cache.FetchInfoSet, cs tree.ChunkState, ps tree.PointState) error {
	if !q.cfg.QBox.Overlaps(cs.BBox()) {
		return nil
	}
	if cs.Depth() >= q.depthCap() {
		return nil
	}

	if q.cfg.Hierarchy != nil {
		n, err := q.cfg.Hierarchy.Sum(ctx, ps, 0, ^uint64(0))
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}

	if cs.Depth() >= q.cfg.Structure.BaseDepth() && q.cfg.Reader.Has(cs.ChunkID()) {
		set.Add(cache.FetchInfo{Depth: cs.Depth(), ID: cs.ChunkID(), BBox: cs.BBox()})
	}

	if cs.AllDirections() {
		for dir := tree.Dir(0); uint64(dir) < q.cfg.Structure.Factor(); dir++ {
			child, err := cs.Climb(dir)
			if err != nil {
				return err
			}
			if err := q.gather(ctx, set, child, ps.Climb(dir)); err != nil {
				return err
			}
		}
		return nil
	}

	// Sparse regime: the chunk chain stops splitting; descend the single
	// collapsed chunk until the depth cap. Directions no longer exist, so
	// the point cursor stays put and deeper cells are addressed within the
	// chunk.
	return q.gather(ctx, set, cs.ClimbSparse(), ps)
}

// processPoint applies the depth and box predicates, transforms the spatial
// values and packs the output record.
func (q *Query) processPoint(buffer []byte, ch *chunk.Chunk, i int) []byte {
	depth := ch.Depth(i)
	if depth < q.cfg.DepthBegin {
		return buffer
	}
	if q.cfg.DepthEnd > 0 && depth >= q.cfg.DepthEnd {
		return buffer
	}

	p := ch.Position(i)
	if !q.cfg.QBox.Contains(p) {
		return buffer
	}

	record := ch.Record(i)

	out := make([]byte, q.cfg.OutSchema.PointSize())
	q.cfg.OutSchema.PackPosition(out, p.Scale(q.cfg.Offset, q.scale))
	for _, src := range q.sources {
		if src.srcOff >= 0 {
			copy(out[src.outOff:src.outOff+src.size], record[src.srcOff:uint64(src.srcOff)+src.size])
		}
	}

	q.numPoints++
	return append(buffer, out...)
}
