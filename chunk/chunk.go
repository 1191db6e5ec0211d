package chunk

import (
	"fmt"

	"github.com/hupe1980/cloudtree/tree"
)

// Chunk is a decoded set of point records. Every record carries its tree
// depth so chunks spanning multiple depths (the sparse regime) stay
// depth-filterable during queries.
type Chunk struct {
	schema Schema
	depths []uint32
	data   []byte
}

// Len returns the number of points.
func (c *Chunk) Len() int { return len(c.depths) }

// Schema returns the record layout.
func (c *Chunk) Schema() Schema { return c.schema }

// Record returns the i-th packed record. The slice aliases the chunk's
// buffer and must be treated as read-only.
func (c *Chunk) Record(i int) []byte {
	size := c.schema.PointSize()
	return c.data[uint64(i)*size : uint64(i+1)*size]
}

// Position returns the i-th point's location.
func (c *Chunk) Position(i int) tree.Point {
	return c.schema.UnpackPosition(c.Record(i))
}

// Depth returns the tree depth the i-th point terminated at.
func (c *Chunk) Depth(i int) uint64 { return uint64(c.depths[i]) }

// SizeBytes reports the resident size, used for cache accounting.
func (c *Chunk) SizeBytes() int64 {
	return int64(len(c.data)) + int64(len(c.depths))*4
}

// Builder accumulates records for one chunk during ingest.
type Builder struct {
	schema Schema
	depths []uint32
	data   []byte
}

// NewBuilder creates an empty builder for the given layout.
func NewBuilder(schema Schema) *Builder {
	return &Builder{schema: schema}
}

// Append adds a schema-packed record terminating at the given depth.
func (b *Builder) Append(record []byte, depth uint64) error {
	if uint64(len(record)) != b.schema.PointSize() {
		return fmt.Errorf("%w: record size %d, schema wants %d",
			ErrInvalidSchema, len(record), b.schema.PointSize())
	}
	b.depths = append(b.depths, uint32(depth))
	b.data = append(b.data, record...)
	return nil
}

// AppendPosition adds a spatial-only record. Non-spatial dimensions are
// zero-filled.
func (b *Builder) AppendPosition(p tree.Point, depth uint64) {
	record := make([]byte, b.schema.PointSize())
	b.schema.PackPosition(record, p)
	b.depths = append(b.depths, uint32(depth))
	b.data = append(b.data, record...)
}

// Len returns the number of accumulated points.
func (b *Builder) Len() int { return len(b.depths) }

// Chunk freezes the builder's contents.
func (b *Builder) Chunk() *Chunk {
	return &Chunk{schema: b.schema, depths: b.depths, data: b.data}
}
