package tree

import "fmt"

// BBox is an axis-aligned bounding region. A 2-dimensional region carries a
// degenerate Z range (Min.Z == Max.Z).
type BBox struct {
	Min Point
	Max Point
}

// NewBBox creates a bounding box from its extrema.
func NewBBox(min, max Point) BBox {
	return BBox{Min: min, Max: max}
}

// Mid returns the center of the box.
func (b BBox) Mid() Point {
	return Point{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Width returns the x extent of the box.
func (b BBox) Width() float64 { return b.Max.X - b.Min.X }

// Depth returns the y extent of the box.
func (b BBox) Depth() float64 { return b.Max.Y - b.Min.Y }

// Height returns the z extent of the box.
func (b BBox) Height() float64 { return b.Max.Z - b.Min.Z }

// Contains reports whether p lies within the closed box. Both edges are
// inclusive; descent ambiguity at split planes is resolved by
// DirFromPoint, which sends on-plane points to the negative side.
func (b BBox) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		(b.Min.Z == b.Max.Z || (p.Z >= b.Min.Z && p.Z <= b.Max.Z))
}

// Overlaps reports whether the two closed boxes intersect.
func (b BBox) Overlaps(o BBox) bool {
	if b.Min.X > o.Max.X || o.Min.X > b.Max.X {
		return false
	}
	if b.Min.Y > o.Max.Y || o.Min.Y > b.Max.Y {
		return false
	}
	if b.Min.Z == b.Max.Z || o.Min.Z == o.Max.Z {
		return true
	}
	return b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Go shrinks the box to the child identified by dir. When tubular is true
// the z axis is left intact, collapsing the split to a quadtree.
func (b BBox) Go(dir Dir, tubular bool) BBox {
	mid := b.Mid()

	out := b
	if dir.East() {
		out.Min.X = mid.X
	} else {
		out.Max.X = mid.X
	}
	if dir.North() {
		out.Min.Y = mid.Y
	} else {
		out.Max.Y = mid.Y
	}
	if !tubular && b.Min.Z != b.Max.Z {
		if dir.Up() {
			out.Min.Z = mid.Z
		} else {
			out.Max.Z = mid.Z
		}
	}
	return out
}

// IsCubic reports whether all non-degenerate extents are equal.
func (b BBox) IsCubic() bool {
	if b.Width() != b.Depth() {
		return false
	}
	return b.Height() == 0 || b.Height() == b.Width()
}

// Cubeify expands the box around its center so all non-degenerate extents
// equal the largest one. Indexing requires cubic bounds so splits stay
// uniform.
func (b BBox) Cubeify() BBox {
	m := b.Width()
	if b.Depth() > m {
		m = b.Depth()
	}
	if b.Height() > m {
		m = b.Height()
	}

	mid := b.Mid()
	half := m / 2

	out := BBox{
		Min: Point{X: mid.X - half, Y: mid.Y - half, Z: b.Min.Z},
		Max: Point{X: mid.X + half, Y: mid.Y + half, Z: b.Max.Z},
	}
	if b.Height() != 0 {
		out.Min.Z = mid.Z - half
		out.Max.Z = mid.Z + half
	}
	return out
}

// String returns a string representation of the box.
func (b BBox) String() string {
	return fmt.Sprintf("[%s - %s]", b.Min, b.Max)
}
