package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBBox_ContainsOverlaps(t *testing.T) {
	b := NewBBox(Point{}, Point{X: 4, Y: 4, Z: 4})

	assert.True(t, b.Contains(Point{X: 1, Y: 2, Z: 3}))
	assert.True(t, b.Contains(Point{}))
	// Both edges are inclusive.
	assert.True(t, b.Contains(Point{X: 4, Y: 0, Z: 0}))
	assert.False(t, b.Contains(Point{X: -1, Y: 0, Z: 0}))
	assert.False(t, b.Contains(Point{X: 4.1, Y: 0, Z: 0}))

	assert.True(t, b.Overlaps(NewBBox(Point{X: 3, Y: 3, Z: 3}, Point{X: 5, Y: 5, Z: 5})))
	assert.True(t, b.Overlaps(NewBBox(Point{X: 4, Y: 0, Z: 0}, Point{X: 5, Y: 1, Z: 1})))
	assert.False(t, b.Overlaps(NewBBox(Point{X: 4.5, Y: 0, Z: 0}, Point{X: 5, Y: 1, Z: 1})))

	flat := NewBBox(Point{}, Point{X: 4, Y: 4})
	assert.True(t, flat.Contains(Point{X: 1, Y: 1, Z: 99}))
	assert.True(t, flat.Overlaps(b))
}

func TestBBox_Go(t *testing.T) {
	b := NewBBox(Point{}, Point{X: 4, Y: 4, Z: 4})

	swd := b.Go(SWD, false)
	assert.Equal(t, NewBBox(Point{}, Point{X: 2, Y: 2, Z: 2}), swd)

	neu := b.Go(NEU, false)
	assert.Equal(t, NewBBox(Point{X: 2, Y: 2, Z: 2}, Point{X: 4, Y: 4, Z: 4}), neu)

	// Tubular splits leave z intact.
	tub := b.Go(NED, true)
	assert.Equal(t, NewBBox(Point{X: 2, Y: 2, Z: 0}, Point{X: 4, Y: 4, Z: 4}), tub)
}

func TestBBox_Cubeify(t *testing.T) {
	b := NewBBox(Point{}, Point{X: 4, Y: 2, Z: 1})
	c := b.Cubeify()
	assert.True(t, c.IsCubic())
	assert.Equal(t, 4.0, c.Width())
	assert.Equal(t, 4.0, c.Depth())
	assert.Equal(t, 4.0, c.Height())
	assert.Equal(t, b.Mid(), c.Mid())

	flat := NewBBox(Point{}, Point{X: 4, Y: 2})
	fc := flat.Cubeify()
	assert.True(t, fc.IsCubic())
	assert.Equal(t, 0.0, fc.Height())
}

func TestDir(t *testing.T) {
	mid := Point{X: 2, Y: 2, Z: 2}

	assert.Equal(t, SWD, DirFromPoint(Point{X: 1, Y: 1, Z: 1}, mid, 3))
	assert.Equal(t, NEU, DirFromPoint(Point{X: 3, Y: 3, Z: 3}, mid, 3))
	assert.Equal(t, SEU, DirFromPoint(Point{X: 3, Y: 1, Z: 3}, mid, 3))
	// 2d ignores z.
	assert.Equal(t, SED, DirFromPoint(Point{X: 3, Y: 1, Z: 3}, mid, 2))
	// On-plane points stay on the negative side.
	assert.Equal(t, SWD, DirFromPoint(mid, mid, 3))

	assert.Equal(t, "swd", SWD.String())
	assert.Equal(t, "sw", SWD.Key(2))
	assert.Equal(t, "neu", NEU.Key(3))
	assert.Equal(t, uint64(5), ToIntegral(SEU))
}

func TestId(t *testing.T) {
	id := NewId(0)
	assert.True(t, id.IsZero())

	// Child arithmetic: (parent << dims) + 1 + childIndex.
	child := id.Shl(3).Add(1 + 4)
	assert.Equal(t, "5", child.String())
	assert.Equal(t, uint64(5), child.Simple())
	assert.True(t, child.IsSimple())

	big := NewId(1).Shl(200)
	assert.False(t, big.IsSimple())
	assert.Equal(t, 1, big.Cmp(child))
	assert.Equal(t, -1, child.Cmp(big))

	parsed, ok := ParseId(big.String())
	assert.True(t, ok)
	assert.Equal(t, 0, parsed.Cmp(big))

	_, ok = ParseId("not-an-id")
	assert.False(t, ok)

	assert.Equal(t, "12", NewId(3).Mul(4).String())
	assert.Equal(t, "3", NewId(13).Sub(NewId(1)).Div(NewId(4)).String())
}
