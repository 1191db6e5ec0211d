// Package manifest persists the metadata that makes an index self
// describing: its bounds, structure, schema and point counts.
package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/chunk"
	"github.com/hupe1980/cloudtree/codec"
	"github.com/hupe1980/cloudtree/tree"
)

// Key is the storage key of the manifest; a completed build always has
// one, so it doubles as the existing-build marker.
const Key = "ct"

// CurrentVersion is bumped on manifest layout changes.
const CurrentVersion = 1

// ErrMalformed is returned when a persisted manifest fails to decode.
var ErrMalformed = errors.New("malformed manifest")

// Manifest describes one build (or one subset of a split build).
type Manifest struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Codec   string `json:"codec"`

	BBox      boundsJSON           `json:"bounds"`
	Structure tree.StructureConfig `json:"structure"`
	Schema    chunk.Schema         `json:"schema"`

	NumPoints uint64 `json:"numPoints"`
	MaxDepth  uint64 `json:"maxDepth"`

	// Subset is the subset number of a split build, 0 for a whole build.
	Subset uint64 `json:"subset,omitempty"`
}

type boundsJSON struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// New creates a manifest for a fresh build, stamping a unique build id.
func New(bbox tree.BBox, structure tree.StructureConfig, schema chunk.Schema, cdc codec.Codec) *Manifest {
	if cdc == nil {
		cdc = codec.Default
	}
	return &Manifest{
		Version: CurrentVersion,
		ID:      uuid.NewString(),
		Codec:   cdc.Name(),
		BBox: boundsJSON{
			Min: [3]float64{bbox.Min.X, bbox.Min.Y, bbox.Min.Z},
			Max: [3]float64{bbox.Max.X, bbox.Max.Y, bbox.Max.Z},
		},
		Structure: structure,
		Schema:    schema,
	}
}

// Bounds returns the indexed bounding box.
func (m *Manifest) Bounds() tree.BBox {
	return tree.NewBBox(
		tree.Point{X: m.BBox.Min[0], Y: m.BBox.Min[1], Z: m.BBox.Min[2]},
		tree.Point{X: m.BBox.Max[0], Y: m.BBox.Max[1], Z: m.BBox.Max[2]},
	)
}

// Save writes the manifest under "ct<postfix>".
func (m *Manifest) Save(ctx context.Context, ep blobstore.Endpoint, postfix string) error {
	cdc, ok := codec.ByName(m.Codec)
	if !ok {
		cdc = codec.Default
	}
	data, err := cdc.Marshal(m)
	if err != nil {
		return err
	}
	return ep.Put(ctx, Key+postfix, data)
}

// Exists probes for a completed build without reading the manifest.
func Exists(ctx context.Context, ep blobstore.Endpoint, postfix string) (bool, error) {
	_, ok, err := ep.TrySize(ctx, Key+postfix)
	return ok, err
}

// Load reads and validates a persisted manifest.
func Load(ctx context.Context, ep blobstore.Endpoint, postfix string) (*Manifest, error) {
	data, err := ep.Get(ctx, Key+postfix)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := codec.Default.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, m.Version)
	}
	if _, ok := codec.ByName(m.Codec); !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrMalformed, m.Codec)
	}
	return &m, nil
}
