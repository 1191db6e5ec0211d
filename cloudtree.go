// Package cloudtree organizes massive point clouds into an out-of-core
// octree (or quadtree in tubular mode) over pluggable storage endpoints,
// and answers spatial range queries at selectable levels of detail.
//
// The index has three depth zones: a conceptual null zone, an
// always-resident base zone and a chunked cold zone fetched on demand. A
// per-depth count hierarchy records every cell's population so queries can
// prune empty subtrees and report level-of-detail summaries without
// touching point data.
//
// # Building
//
//	ep, _ := blobstore.NewLocalEndpoint("./cloud")
//	ix, err := cloudtree.New(ctx, ep, cloudtree.Config{
//	    Bounds: bounds,
//	    Structure: tree.StructureConfig{
//	        BaseDepth:      6,
//	        Dimensions:     3,
//	        PointsPerChunk: 4096,
//	        SparseDepth:    10,
//	        DynamicChunks:  true,
//	    },
//	})
//	for _, p := range points {
//	    _ = ix.Add(ctx, p, depthFor(p))
//	}
//	_ = ix.Save(ctx)
//
// # Querying
//
//	ix, _ := cloudtree.Open(ctx, ep)
//	q, _ := ix.Query(ctx, qbox, 0, 12)
//	var buf []byte
//	for {
//	    buf, more, err := q.Next(ctx, buf)
//	    ...
//	}
//
// Hierarchy summaries come back as JSON:
//
//	data, _ := ix.QueryHierarchy(ctx, qbox, 0, 8)
//	// {"n": 1024, "nwd": {"n": 300}, ...}
package cloudtree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/cache"
	"github.com/hupe1980/cloudtree/chunk"
	"github.com/hupe1980/cloudtree/hierarchy"
	"github.com/hupe1980/cloudtree/manifest"
	"github.com/hupe1980/cloudtree/query"
	"github.com/hupe1980/cloudtree/tree"
)

// Storage namespaces under the index root: hierarchy blocks and point
// chunks each get their own keyspace so block and chunk ids never collide.
const (
	hierarchyPrefix = "h"
	chunkPrefix     = "d"
)

// Config describes a new index.
type Config struct {
	// Bounds are the conforming bounds of the input; they are expanded to
	// a cube before indexing so splits stay uniform.
	Bounds tree.BBox

	// Structure parameterizes the tree.
	Structure tree.StructureConfig

	// Schema is the stored record layout; zero means spatial-only.
	Schema chunk.Schema

	// Compression selects the chunk codec; default LZ4.
	Compression chunk.Compression
}

// Index ties the core together: structure, hierarchy, chunk storage and
// the query surface.
type Index struct {
	opts      options
	structure tree.Structure
	bbox      tree.BBox
	schema    chunk.Schema

	ep    blobstore.Endpoint
	ccdc  *chunk.Codec
	h     *hierarchy.Hierarchy
	cache *cache.Cache
	man   *manifest.Manifest

	// writer is non-nil in build mode; reader/base materialize for
	// queries.
	writer *chunk.Writer
	reader *chunk.Reader
	base   *chunk.Chunk

	mu        sync.Mutex
	numPoints uint64
	maxDepth  uint64
}

// New creates an empty index writing to ep.
func New(ctx context.Context, ep blobstore.Endpoint, cfg Config, opts ...Option) (*Index, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s, err := tree.NewStructure(cfg.Structure)
	if err != nil {
		return nil, err
	}

	bbox := cfg.Bounds
	if !bbox.IsCubic() {
		bbox = bbox.Cubeify()
	}

	schema := cfg.Schema
	if schema.PointSize() == 0 {
		schema = chunk.DefaultSchema()
	}

	ix := &Index{
		opts:      o,
		structure: s,
		bbox:      bbox,
		schema:    schema,
		ep:        ep,
		ccdc:      chunk.NewCodec(schema, compressionOrDefault(cfg.Compression)),
		man:       manifest.New(bbox, cfg.Structure, schema, o.cdc),
	}
	ix.man.Subset = o.subset
	ix.h = hierarchy.New(&ix.structure, bbox)
	ix.writer = chunk.NewWriter(&ix.structure, ix.ccdc)
	ix.cache = cache.New(cache.Config{
		MaxBytes:         o.cacheBytes,
		FetchConcurrency: o.fetchConcurrency,
		Limiter:          o.limiter,
	})
	return ix, nil
}

func compressionOrDefault(c chunk.Compression) chunk.Compression {
	if c == chunk.CompressionNone {
		return chunk.CompressionLZ4
	}
	return c
}

// Open restores an index previously saved to ep. It probes for a completed
// build first and fails with blobstore.ErrNotFound when none exists.
func Open(ctx context.Context, ep blobstore.Endpoint, opts ...Option) (*Index, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ok, err := manifest.Exists(ctx, ep, o.postfix)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no completed build at endpoint: %w", blobstore.ErrNotFound)
	}

	man, err := manifest.Load(ctx, ep, o.postfix)
	if err != nil {
		return nil, err
	}

	s, err := tree.NewStructure(man.Structure)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		opts:      o,
		structure: s,
		bbox:      man.Bounds(),
		schema:    man.Schema,
		ep:        ep,
		man:       man,
		numPoints: man.NumPoints,
		maxDepth:  man.MaxDepth,
	}
	ix.ccdc = chunk.NewCodec(ix.schema, chunk.CompressionLZ4)

	registry, err := chunk.OpenRegistry(ctx, ep.Sub(chunkPrefix), o.postfix)
	if err != nil {
		return nil, err
	}
	ix.reader = chunk.NewReader(&ix.structure, ep.Sub(chunkPrefix), ix.ccdc, registry, o.postfix)

	ix.base, err = ix.reader.FetchBase(ctx)
	if err != nil {
		return nil, err
	}

	ix.h, err = hierarchy.NewFromEndpoint(ctx, &ix.structure, ix.bbox, ep.Sub(hierarchyPrefix), o.postfix)
	if err != nil {
		return nil, err
	}

	ix.cache = cache.New(cache.Config{
		MaxBytes:         o.cacheBytes,
		FetchConcurrency: o.fetchConcurrency,
		Limiter:          o.limiter,
	})
	return ix, nil
}

// Structure returns the tree parameters.
func (ix *Index) Structure() *tree.Structure { return &ix.structure }

// Bounds returns the (cubified) indexed bounds.
func (ix *Index) Bounds() tree.BBox { return ix.bbox }

// Hierarchy returns the count index.
func (ix *Index) Hierarchy() *hierarchy.Hierarchy { return ix.h }

// NumPoints returns the total point count.
func (ix *Index) NumPoints() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.numPoints
}

// Add indexes one spatial-only point terminating at the given depth. The
// hierarchy is counted at every depth along the descent; the record lands
// in the base chunk or the chunk the cursor resolves.
func (ix *Index) Add(ctx context.Context, p tree.Point, depth uint64) error {
	return ix.AddRecord(ctx, p, depth, nil)
}

// AddRecord indexes one point with a schema-packed attribute record. The
// record's spatial prefix is overwritten with p.
func (ix *Index) AddRecord(ctx context.Context, p tree.Point, depth uint64, record []byte) error {
	start := time.Now()
	err := ix.addRecord(ctx, p, depth, record)
	ix.opts.metrics.RecordIngest(1, time.Since(start), err)
	if err != nil {
		ix.opts.logger.LogIngest(ctx, 1, depth, err)
	}
	return err
}

func (ix *Index) addRecord(ctx context.Context, p tree.Point, depth uint64, record []byte) error {
	if ix.writer == nil {
		return fmt.Errorf("%w: index opened read-only", tree.ErrInvalidConfig)
	}
	if !ix.bbox.Contains(p) {
		return fmt.Errorf("%w: point %s outside bounds %s", tree.ErrInvalidConfig, p, ix.bbox)
	}
	if depth < ix.structure.NullDepth() {
		return fmt.Errorf("%w: depth %d within the null zone", tree.ErrInvalidConfig, depth)
	}

	// Descend toward the point, counting every level so ancestor cells
	// reflect subtree populations.
	ps := tree.NewPointState(&ix.structure, ix.bbox)
	dirs := make([]tree.Dir, 0, depth)
	for {
		if err := ix.h.Count(ctx, ps, 1); err != nil {
			return err
		}
		if ps.Depth() == depth {
			break
		}
		var dir tree.Dir
		ps, dir = ps.ClimbTo(p)
		dirs = append(dirs, dir)
	}

	if depth < ix.structure.BaseDepth() {
		if err := ix.writer.AppendBase(p, depth, record); err != nil {
			return err
		}
	} else {
		// Replay the descent on the chunk cursor: dense climbs consume
		// the point's directions, sparse climbs none.
		cs := tree.NewChunkState(&ix.structure, ix.bbox)
		for cs.Depth() < depth {
			if cs.AllDirections() {
				next, err := cs.Climb(dirs[cs.Depth()-ix.structure.NominalChunkDepth()])
				if err != nil {
					return err
				}
				cs = next
			} else {
				cs = cs.ClimbSparse()
			}
		}
		if err := ix.writer.Append(cs, p, record); err != nil {
			return err
		}
	}

	ix.mu.Lock()
	ix.numPoints++
	if depth > ix.maxDepth {
		ix.maxDepth = depth
	}
	ix.mu.Unlock()
	return nil
}

// Save persists chunks, hierarchy and manifest. Quiesce ingest first;
// concurrent adds may or may not be included.
func (ix *Index) Save(ctx context.Context) error {
	start := time.Now()
	err := ix.save(ctx)
	ix.opts.metrics.RecordSave(time.Since(start), err)

	var chunks uint64
	if ix.writer != nil {
		chunks = ix.writer.Registry().Len()
	}
	ix.opts.logger.LogSave(ctx, ix.NumPoints(), chunks, err)
	return err
}

func (ix *Index) save(ctx context.Context) error {
	if ix.writer == nil {
		return fmt.Errorf("%w: index opened read-only", tree.ErrInvalidConfig)
	}

	if err := ix.writer.Flush(ctx, ix.ep.Sub(chunkPrefix), ix.opts.postfix); err != nil {
		return err
	}
	if err := ix.h.Save(ctx, ix.ep.Sub(hierarchyPrefix), ix.opts.postfix); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.man.NumPoints = ix.numPoints
	ix.man.MaxDepth = ix.maxDepth
	ix.mu.Unlock()

	return ix.man.Save(ctx, ix.ep, ix.opts.postfix)
}

// ensureReader materializes the query-side chunk access for a build-mode
// index after Save.
func (ix *Index) ensureReader(ctx context.Context) error {
	if ix.reader != nil {
		return nil
	}
	ix.reader = chunk.NewReader(
		&ix.structure, ix.ep.Sub(chunkPrefix), ix.ccdc, ix.writer.Registry(), ix.opts.postfix)

	base, err := ix.reader.FetchBase(ctx)
	if err != nil {
		return err
	}
	ix.base = base
	return nil
}

// Query creates a point query over qbox for depths [depthBegin, depthEnd);
// depthEnd 0 means unbounded. The result streams through Next.
func (ix *Index) Query(ctx context.Context, qbox tree.BBox, depthBegin, depthEnd uint64) (*query.Query, error) {
	return ix.QuerySchema(ctx, qbox, depthBegin, depthEnd, ix.schema, 0, tree.Point{})
}

// QuerySchema is Query with an explicit output schema and spatial
// transform: output positions are (p - offset) * scale.
func (ix *Index) QuerySchema(
	ctx context.Context,
	qbox tree.BBox,
	depthBegin, depthEnd uint64,
	outSchema chunk.Schema,
	scale float64,
	offset tree.Point,
) (*query.Query, error) {
	if err := ix.ensureReader(ctx); err != nil {
		return nil, err
	}

	ix.mu.Lock()
	maxDepth := ix.maxDepth
	ix.mu.Unlock()

	return query.New(query.Config{
		Structure:  &ix.structure,
		BBox:       ix.bbox,
		Hierarchy:  ix.h,
		Reader:     ix.reader,
		Cache:      ix.cache,
		Base:       ix.base,
		OutSchema:  outSchema,
		QBox:       qbox,
		DepthBegin: depthBegin,
		DepthEnd:   depthEnd,
		MaxDepth:   maxDepth,
		Scale:      scale,
		Offset:     offset,
		OnFetch:    ix.opts.metrics.RecordFetch,
	})
}

// Drain runs a query to completion, appending every point to buf.
func (ix *Index) Drain(ctx context.Context, q *query.Query, buf []byte) ([]byte, error) {
	start := time.Now()

	var err error
	more := true
	for more {
		buf, more, err = q.Next(ctx, buf)
		if err != nil {
			break
		}
	}

	ix.opts.metrics.RecordQuery(q.NumPoints(), time.Since(start), err)
	return buf, err
}

// QueryHierarchy evaluates qbox against the count index and returns the
// JSON summary.
func (ix *Index) QueryHierarchy(ctx context.Context, qbox tree.BBox, depthBegin, depthEnd uint64) ([]byte, error) {
	data, err := ix.h.QueryJSON(ctx, qbox, depthBegin, depthEnd)
	ix.opts.logger.LogQuery(ctx, depthBegin, depthEnd, 0, err)
	return data, err
}

// Merge unions another subset's hierarchy and chunk registry into this
// index. The other index is awakened first so lazily-loaded blocks are
// included. Chunk payloads are not copied: each subset's chunks stay under
// its own key postfix, and this index's reader fetches only keys carrying
// this index's postfix.
func (ix *Index) Merge(ctx context.Context, other *Index) error {
	if err := other.h.AwakenAll(ctx); err != nil {
		return err
	}
	if err := ix.h.Merge(ctx, other.h); err != nil {
		return err
	}

	if ix.writer != nil && other.writer != nil {
		ix.writer.Registry().Merge(other.writer.Registry())
	}

	ix.mu.Lock()
	other.mu.Lock()
	ix.numPoints += other.numPoints
	if other.maxDepth > ix.maxDepth {
		ix.maxDepth = other.maxDepth
	}
	other.mu.Unlock()
	ix.mu.Unlock()
	return nil
}
