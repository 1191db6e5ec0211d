// Package chunk implements the persistent unit of point data: schema-packed
// records, the compressed wire codec, the id registry of written chunks and
// the ingest-side writer.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	gojson "github.com/goccy/go-json"

	"github.com/hupe1980/cloudtree/tree"
)

// ErrInvalidSchema is returned when a schema cannot describe chunk records.
var ErrInvalidSchema = errors.New("invalid schema")

// Dim describes one attribute of a point record.
type Dim struct {
	Name string `json:"name"`
	// Type is "floating", "unsigned" or "signed".
	Type string `json:"type"`
	// Size is the byte width: 1, 2, 4 or 8.
	Size uint64 `json:"size"`
}

// Schema is an ordered attribute layout. Every schema leads with the X, Y
// and Z spatial dimensions as 8-byte floats.
type Schema struct {
	dims    []Dim
	offsets []uint64
	size    uint64
}

// DefaultSchema is the minimal spatial-only layout.
func DefaultSchema() Schema {
	s, _ := NewSchema([]Dim{
		{Name: "X", Type: "floating", Size: 8},
		{Name: "Y", Type: "floating", Size: 8},
		{Name: "Z", Type: "floating", Size: 8},
	})
	return s
}

// NewSchema validates and lays out the given dimensions.
func NewSchema(dims []Dim) (Schema, error) {
	if len(dims) < 3 ||
		dims[0] != (Dim{Name: "X", Type: "floating", Size: 8}) ||
		dims[1] != (Dim{Name: "Y", Type: "floating", Size: 8}) ||
		dims[2] != (Dim{Name: "Z", Type: "floating", Size: 8}) {
		return Schema{}, fmt.Errorf(
			"%w: schema must lead with X, Y, Z as 8-byte floats", ErrInvalidSchema)
	}

	s := Schema{dims: dims, offsets: make([]uint64, len(dims))}
	for i, d := range dims {
		switch d.Size {
		case 1, 2, 4, 8:
		default:
			return Schema{}, fmt.Errorf("%w: dim %q size %d", ErrInvalidSchema, d.Name, d.Size)
		}
		switch d.Type {
		case "floating", "unsigned", "signed":
		default:
			return Schema{}, fmt.Errorf("%w: dim %q type %q", ErrInvalidSchema, d.Name, d.Type)
		}
		s.offsets[i] = s.size
		s.size += d.Size
	}
	return s, nil
}

// Dims returns the ordered dimensions.
func (s Schema) Dims() []Dim { return s.dims }

// PointSize is the byte width of one record.
func (s Schema) PointSize() uint64 { return s.size }

// Find returns a dimension and its record offset by name.
func (s Schema) Find(name string) (Dim, uint64, bool) {
	for i, d := range s.dims {
		if d.Name == name {
			return d, s.offsets[i], true
		}
	}
	return Dim{}, 0, false
}

// PackPosition writes p into the spatial prefix of record.
func (s Schema) PackPosition(record []byte, p tree.Point) {
	binary.LittleEndian.PutUint64(record[0:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(record[8:], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(record[16:], math.Float64bits(p.Z))
}

// UnpackPosition reads the spatial prefix of record.
func (s Schema) UnpackPosition(record []byte) tree.Point {
	return tree.Point{
		X: math.Float64frombits(binary.LittleEndian.Uint64(record[0:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(record[8:])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(record[16:])),
	}
}

// MarshalJSON encodes the schema as its dimension list.
func (s Schema) MarshalJSON() ([]byte, error) {
	return marshalDims(s.dims)
}

// UnmarshalJSON decodes and re-validates a dimension list.
func (s *Schema) UnmarshalJSON(data []byte) error {
	dims, err := unmarshalDims(data)
	if err != nil {
		return err
	}
	out, err := NewSchema(dims)
	if err != nil {
		return err
	}
	*s = out
	return nil
}

func marshalDims(dims []Dim) ([]byte, error) {
	return gojson.Marshal(dims)
}

func unmarshalDims(data []byte) ([]Dim, error) {
	var dims []Dim
	if err := gojson.Unmarshal(data, &dims); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, err)
	}
	return dims, nil
}
