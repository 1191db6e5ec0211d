package hierarchy

import (
	"context"

	"github.com/hupe1980/cloudtree/tree"
)

// Climber is the ingest-side cursor: reset it per point, magnify toward the
// point one depth at a time, and count at each level so every ancestor cell
// reflects its subtree population.
type Climber struct {
	h    *Hierarchy
	ps   tree.PointState
	root tree.PointState
}

// Climber returns a fresh climber positioned at the hierarchy root.
func (h *Hierarchy) Climber() *Climber {
	root := tree.NewPointState(h.s, h.bbox)
	return &Climber{h: h, ps: root, root: root}
}

// Reset repositions the climber at the root for the next point.
func (c *Climber) Reset() {
	c.ps = c.root
}

// Magnify descends one depth toward p.
func (c *Climber) Magnify(p tree.Point) {
	c.ps, _ = c.ps.ClimbTo(p)
}

// Count records one point at the current cell.
func (c *Climber) Count(ctx context.Context) error {
	return c.h.Count(ctx, c.ps, 1)
}

// CountDelta records delta points at the current cell.
func (c *Climber) CountDelta(ctx context.Context, delta int64) error {
	return c.h.Count(ctx, c.ps, delta)
}

// Depth returns the climber's current depth.
func (c *Climber) Depth() uint64 { return c.ps.Depth() }

// State returns the underlying cursor.
func (c *Climber) State() tree.PointState { return c.ps }
