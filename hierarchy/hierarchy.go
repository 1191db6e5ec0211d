package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/codec"
	"github.com/hupe1980/cloudtree/tree"
)

// baseKey is the storage key of the always-resident base block.
const baseKey = "0"

// idsKey records the root ids of all cold blocks ever saved, so a restored
// hierarchy can awaken them without listing the endpoint.
const idsKey = "ids"

// Hierarchy is the root of the count index. It exclusively owns one
// contiguous base block covering the base depth zone and a map of cold
// blocks, materialized on first touch and lazily loaded from the endpoint
// when one exists.
type Hierarchy struct {
	s    *tree.Structure
	bbox tree.BBox

	base *ContiguousBlock

	// mu guards the cold block map; blocks themselves self-synchronize.
	mu   sync.RWMutex
	cold map[string]Block

	ep      blobstore.Endpoint
	postfix string

	// knownIDs are cold block roots recorded by previous saves.
	knownIDs map[string]struct{}

	cdc codec.Codec
}

// New creates an empty hierarchy over the given structure and bounds.
func New(s *tree.Structure, bbox tree.BBox) *Hierarchy {
	return &Hierarchy{
		s:        s,
		bbox:     bbox,
		base:     NewContiguousBlock(tree.NewId(0), s.BaseIndexSpan()),
		cold:     make(map[string]Block),
		knownIDs: make(map[string]struct{}),
		cdc:      codec.Default,
	}
}

// NewFromEndpoint restores a hierarchy whose blocks live under ep. The base
// block is loaded eagerly; cold blocks load on first touch. A missing base
// key yields an empty hierarchy, matching a build that never counted.
func NewFromEndpoint(
	ctx context.Context,
	s *tree.Structure,
	bbox tree.BBox,
	ep blobstore.Endpoint,
	postfix string,
) (*Hierarchy, error) {
	h := New(s, bbox)
	h.ep = ep
	h.postfix = postfix

	data, err := ep.Get(ctx, baseKey+postfix)
	if err != nil && !blobstore.IsNotFound(err) {
		return nil, err
	}
	if err == nil {
		base, err := LoadContiguousBlock(tree.NewId(0), s.BaseIndexSpan(), data)
		if err != nil {
			return nil, err
		}
		h.base = base
	}

	ids, err := ep.Get(ctx, idsKey+postfix)
	if err != nil && !blobstore.IsNotFound(err) {
		return nil, err
	}
	if err == nil {
		var roots []string
		if err := h.cdc.Unmarshal(ids, &roots); err != nil {
			return nil, fmt.Errorf("%w: block id list: %s", ErrMalformedBlock, err)
		}
		for _, r := range roots {
			h.knownIDs[r] = struct{}{}
		}
	}

	return h, nil
}

// Structure returns the hierarchy's structure.
func (h *Hierarchy) Structure() *tree.Structure { return h.s }

// BBox returns the indexed bounds.
func (h *Hierarchy) BBox() tree.BBox { return h.bbox }

// blockSpan returns the id span of the block covering nodes at the given
// depth, and whether the block uses the sparse variant.
func (h *Hierarchy) blockSpan(depth uint64) (tree.Id, bool, error) {
	ppc := h.s.BasePointsPerChunk()
	if ppc == 0 {
		return tree.Id{}, false, fmt.Errorf(
			"%w: cold depth %d reached with no pointsPerChunk", tree.ErrInvalidConfig, depth)
	}

	span := tree.NewId(ppc)
	sparse := h.s.SparseDepthBegin()
	isSparse := sparse > 0 && depth >= sparse

	if isSparse && h.s.DynamicChunks() {
		for d := sparse; d < depth; d++ {
			span = span.Mul(h.s.Factor())
		}
	}
	return span, isSparse, nil
}

// blockRootFor returns the root id of the block owning id at depth.
func (h *Hierarchy) blockRootFor(id tree.Id, depth uint64) (tree.Id, tree.Id, bool, error) {
	span, isSparse, err := h.blockSpan(depth)
	if err != nil {
		return tree.Id{}, tree.Id{}, false, err
	}

	lvl := h.s.LevelIndex(depth)
	root := lvl.AddId(id.Sub(lvl).Div(span).MulId(span))
	return root, span, isSparse, nil
}

// depthOf returns the depth level containing id.
func (h *Hierarchy) depthOf(id tree.Id) uint64 {
	var depth uint64
	for h.s.LevelIndex(depth + 1).Cmp(id) <= 0 {
		depth++
	}
	return depth
}

// blockFor locates the block owning id at depth. When create is true a
// missing block is materialized (loaded from the endpoint if present there,
// fresh otherwise); when false, (nil, nil) means "no such block, count 0".
func (h *Hierarchy) blockFor(ctx context.Context, id tree.Id, depth uint64, create bool) (Block, error) {
	if depth < h.s.BaseDepth() {
		return h.base, nil
	}
	if cd := h.s.ColdDepth(); cd > 0 && depth >= cd {
		// Reads past the tracked zone report empty; writes there are a
		// programming error.
		if !create {
			return nil, nil
		}
		return nil, fmt.Errorf(
			"%w: depth %d beyond cold depth %d", tree.ErrInvariantViolated, depth, cd)
	}

	root, span, isSparse, err := h.blockRootFor(id, depth)
	if err != nil {
		return nil, err
	}
	key := root.String()

	h.mu.RLock()
	b, ok := h.cold[key]
	h.mu.RUnlock()
	if ok {
		return b, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.cold[key]; ok {
		return b, nil
	}

	// Lazy load from the backing endpoint, if any.
	if h.ep != nil {
		data, err := h.ep.Get(ctx, key+h.postfix)
		switch {
		case err == nil:
			b, err := loadBlock(root, span, isSparse, data)
			if err != nil {
				return nil, err
			}
			h.cold[key] = b
			return b, nil
		case !blobstore.IsNotFound(err):
			return nil, err
		}
	}

	if !create {
		return nil, nil
	}

	b = newBlock(root, span, isSparse)
	h.cold[key] = b
	return b, nil
}

func newBlock(root tree.Id, span tree.Id, isSparse bool) Block {
	if isSparse {
		spanSimple := uint64(0)
		if span.IsSimple() {
			spanSimple = span.Simple()
		}
		return NewSparseBlock(root, spanSimple)
	}
	return NewContiguousBlock(root, span.Simple())
}

func loadBlock(root tree.Id, span tree.Id, isSparse bool, data []byte) (Block, error) {
	if isSparse {
		spanSimple := uint64(0)
		if span.IsSimple() {
			spanSimple = span.Simple()
		}
		return LoadSparseBlock(root, spanSimple, data)
	}
	return LoadContiguousBlock(root, span.Simple(), data)
}

// Count routes a delta to the owning block: the base block within the base
// depth zone, a cold block otherwise. Thread-safe; blocks may be
// materialized concurrently.
func (h *Hierarchy) Count(ctx context.Context, ps tree.PointState, delta int64) error {
	b, err := h.blockFor(ctx, ps.ID(), ps.Depth(), true)
	if err != nil {
		return err
	}
	b.Count(ps.ID(), ps.Tick(), delta)
	return nil
}

// Get reads the count at the cursor's (id, tick). Absent blocks report 0.
func (h *Hierarchy) Get(ctx context.Context, ps tree.PointState) (uint64, error) {
	b, err := h.blockFor(ctx, ps.ID(), ps.Depth(), false)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, nil
	}
	return b.Get(ps.ID(), ps.Tick()), nil
}

// Sum reads the total count at the cursor's id across ticks in
// [tickBegin, tickEnd). Absent blocks report 0.
func (h *Hierarchy) Sum(ctx context.Context, ps tree.PointState, tickBegin, tickEnd uint64) (uint64, error) {
	b, err := h.blockFor(ctx, ps.ID(), ps.Depth(), false)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, nil
	}
	return b.Sum(ps.ID(), tickBegin, tickEnd), nil
}

// Save persists the base block, all loaded cold blocks and the block id
// list. Callers are expected to quiesce ingest first; concurrent counts may
// or may not be included.
func (h *Hierarchy) Save(ctx context.Context, ep blobstore.Endpoint, postfix string) error {
	if err := h.base.Save(ctx, ep, postfix); err != nil {
		return err
	}

	h.mu.RLock()
	blocks := make([]Block, 0, len(h.cold))
	for _, b := range h.cold {
		blocks = append(blocks, b)
	}
	h.mu.RUnlock()

	ids := make(map[string]struct{}, len(h.knownIDs)+len(blocks))
	for id := range h.knownIDs {
		ids[id] = struct{}{}
	}

	for _, b := range blocks {
		if err := b.Save(ctx, ep, postfix); err != nil {
			return err
		}
		ids[b.ID().String()] = struct{}{}
	}

	roots := make([]string, 0, len(ids))
	for id := range ids {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	data, err := h.cdc.Marshal(roots)
	if err != nil {
		return err
	}
	if err := ep.Put(ctx, idsKey+postfix, data); err != nil {
		return err
	}

	h.knownIDs = ids
	return nil
}

// AwakenAll force-loads every cold block recorded by previous saves. Useful
// as an eager prefetch before a merge or a latency-sensitive query phase.
func (h *Hierarchy) AwakenAll(ctx context.Context) error {
	h.mu.RLock()
	roots := make([]string, 0, len(h.knownIDs))
	for id := range h.knownIDs {
		roots = append(roots, id)
	}
	h.mu.RUnlock()
	sort.Strings(roots)

	for _, key := range roots {
		root, ok := tree.ParseId(key)
		if !ok {
			return fmt.Errorf("%w: block id %q", ErrMalformedBlock, key)
		}
		if _, err := h.blockFor(ctx, root, h.depthOf(root), true); err != nil {
			return err
		}
	}
	return nil
}

// Merge unions other's counts into h. Both hierarchies must share a
// structure. Only other's resident blocks are merged; call other.AwakenAll
// first when it is endpoint-backed.
func (h *Hierarchy) Merge(ctx context.Context, other *Hierarchy) error {
	if h.s.Config() != other.s.Config() {
		return fmt.Errorf("%w: merging hierarchies with different structures", tree.ErrInvalidConfig)
	}

	other.base.each(func(norm, tick, val uint64) {
		h.base.Count(tree.NewId(norm), tick, int64(val))
	})

	other.mu.RLock()
	blocks := make([]Block, 0, len(other.cold))
	for _, b := range other.cold {
		blocks = append(blocks, b)
	}
	other.mu.RUnlock()

	for _, ob := range blocks {
		root := ob.ID()
		depth := h.depthOf(root)
		dst, err := h.blockFor(ctx, root, depth, true)
		if err != nil {
			return err
		}
		ob.each(func(norm, tick, val uint64) {
			dst.Count(root.Add(norm), tick, int64(val))
		})
	}

	for id := range other.knownIDs {
		h.knownIDs[id] = struct{}{}
	}
	return nil
}
