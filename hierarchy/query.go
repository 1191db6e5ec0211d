package hierarchy

import (
	"context"
	"fmt"
	"math"

	"github.com/hupe1980/cloudtree/tree"
)

// countKey is the JSON key carrying a node's population.
const countKey = "n"

// Query evaluates a box against the count index, descending from the root
// to at most depthEnd - 1 (depthEnd 0 means unbounded). The result is a
// recursive object where each node has "n" and child keys named by
// direction; branches outside qbox, below depthEnd or with zero population
// are pruned. Nodes shallower than depthBegin emit nothing: every
// intersecting branch reaching depthBegin is merged into the root object.
func (h *Hierarchy) Query(
	ctx context.Context,
	qbox tree.BBox,
	depthBegin, depthEnd uint64,
) (map[string]any, error) {
	if depthEnd > 0 && depthBegin >= depthEnd {
		return nil, fmt.Errorf(
			"%w: query depth range [%d, %d)", tree.ErrInvalidConfig, depthBegin, depthEnd)
	}

	ps := tree.NewPointState(h.s, h.bbox)
	node, err := h.traverse(ctx, ps, qbox, depthBegin, depthEnd)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return map[string]any{}, nil
	}
	return node, nil
}

// QueryJSON is Query marshaled through the hierarchy's codec.
func (h *Hierarchy) QueryJSON(
	ctx context.Context,
	qbox tree.BBox,
	depthBegin, depthEnd uint64,
) ([]byte, error) {
	node, err := h.Query(ctx, qbox, depthBegin, depthEnd)
	if err != nil {
		return nil, err
	}
	return h.cdc.Marshal(node)
}

func (h *Hierarchy) traverse(
	ctx context.Context,
	ps tree.PointState,
	qbox tree.BBox,
	depthBegin, depthEnd uint64,
) (map[string]any, error) {
	if !qbox.Overlaps(ps.BBox()) {
		return nil, nil
	}
	if depthEnd > 0 && ps.Depth() >= depthEnd {
		return nil, nil
	}

	if ps.Depth() < depthBegin {
		// Above the emitting range: descend and merge every branch that
		// reaches depthBegin into a single object.
		var merged map[string]any
		for dir := tree.Dir(0); uint64(dir) < h.s.Factor(); dir++ {
			child, err := h.traverse(ctx, ps.Climb(dir), qbox, depthBegin, depthEnd)
			if err != nil {
				return nil, err
			}
			merged = mergeNode(merged, child)
		}
		return merged, nil
	}

	tickBegin, tickEnd := h.tickRange(qbox, ps.Depth())
	n, err := h.Sum(ctx, ps, tickBegin, tickEnd)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	node := map[string]any{countKey: n}
	for dir := tree.Dir(0); uint64(dir) < h.s.Factor(); dir++ {
		child, err := h.traverse(ctx, ps.Climb(dir), qbox, depthBegin, depthEnd)
		if err != nil {
			return nil, err
		}
		if child != nil {
			node[dir.Key(h.s.Dimensions())] = child
		}
	}
	return node, nil
}

// tickRange converts the query box's z extent to a slice range at the given
// depth. Outside tubular mode every tick is in range.
func (h *Hierarchy) tickRange(qbox tree.BBox, depth uint64) (uint64, uint64) {
	if !h.s.Tubular() || h.bbox.Height() <= 0 {
		return 0, allTicks
	}
	begin := tree.CalcTick(qbox.Min.Z, h.bbox, depth)
	end := tree.CalcTick(qbox.Max.Z, h.bbox, depth) + 1
	if end == 0 { // wrapped
		end = math.MaxUint64
	}
	return begin, end
}

// mergeNode merges src into dst, summing counts and recursing on shared
// child keys. Either side may be nil.
func mergeNode(dst, src map[string]any) map[string]any {
	if src == nil {
		return dst
	}
	if dst == nil {
		return src
	}

	for k, v := range src {
		if k == countKey {
			dst[countKey] = asCount(dst[countKey]) + asCount(v)
			continue
		}
		if cur, ok := dst[k].(map[string]any); ok {
			dst[k] = mergeNode(cur, v.(map[string]any))
		} else {
			dst[k] = v
		}
	}
	return dst
}

func asCount(v any) uint64 {
	n, _ := v.(uint64)
	return n
}
