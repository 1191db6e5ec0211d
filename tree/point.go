package tree

import "fmt"

// Point is a location in index space. In 2-dimensional structures Z is
// carried but ignored by splitting logic.
type Point struct {
	X float64
	Y float64
	Z float64
}

// String returns a string representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("(%g, %g, %g)", p.X, p.Y, p.Z)
}

// Scale returns (p - offset) * scale, the transform applied to spatial
// values before they are written to a query output buffer.
func (p Point) Scale(offset Point, scale float64) Point {
	return Point{
		X: (p.X - offset.X) * scale,
		Y: (p.Y - offset.Y) * scale,
		Z: (p.Z - offset.Z) * scale,
	}
}
