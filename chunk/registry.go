package chunk

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	gojson "github.com/goccy/go-json"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/tree"
)

// registryKey is the storage key of the persisted chunk id set.
const registryKey = "ids"

// Registry is the set of chunk ids that have received points. Queries
// consult it to skip fetches for chunks that were never written. Ids
// fitting a machine word live in a roaring bitmap; the rare deeper ids fall
// back to a string set.
type Registry struct {
	mu  sync.RWMutex
	ids *roaring64.Bitmap
	big map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ids: roaring64.New(),
		big: make(map[string]struct{}),
	}
}

// Add records a chunk id.
func (r *Registry) Add(id tree.Id) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id.IsSimple() {
		r.ids.Add(id.Simple())
	} else {
		r.big[id.String()] = struct{}{}
	}
}

// Has reports whether a chunk id was ever written.
func (r *Registry) Has(id tree.Id) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id.IsSimple() {
		return r.ids.Contains(id.Simple())
	}
	_, ok := r.big[id.String()]
	return ok
}

// Len returns the number of recorded chunks.
func (r *Registry) Len() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids.GetCardinality() + uint64(len(r.big))
}

// Bytes serializes the registry: the bitmap length, the bitmap, then a JSON
// array of oversized ids.
func (r *Registry) Bytes() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bitmap, err := r.ids.ToBytes()
	if err != nil {
		return nil, err
	}

	big := make([]string, 0, len(r.big))
	for id := range r.big {
		big = append(big, id)
	}
	sort.Strings(big)
	tail, err := gojson.Marshal(big)
	if err != nil {
		return nil, err
	}

	out := binary.LittleEndian.AppendUint64(nil, uint64(len(bitmap)))
	out = append(out, bitmap...)
	return append(out, tail...), nil
}

// LoadRegistry reconstructs a registry from its serialized form.
func LoadRegistry(data []byte) (*Registry, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: truncated registry", ErrMalformedChunk)
	}
	bitmapLen := binary.LittleEndian.Uint64(data)
	if uint64(len(data)-8) < bitmapLen {
		return nil, fmt.Errorf("%w: registry bitmap truncated", ErrMalformedChunk)
	}

	r := NewRegistry()
	if err := r.ids.UnmarshalBinary(data[8 : 8+bitmapLen]); err != nil {
		return nil, fmt.Errorf("%w: registry bitmap: %s", ErrMalformedChunk, err)
	}

	var big []string
	if err := gojson.Unmarshal(data[8+bitmapLen:], &big); err != nil {
		return nil, fmt.Errorf("%w: registry id list: %s", ErrMalformedChunk, err)
	}
	for _, id := range big {
		r.big[id] = struct{}{}
	}
	return r, nil
}

// Save persists the registry under "ids<postfix>".
func (r *Registry) Save(ctx context.Context, ep blobstore.Endpoint, postfix string) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	return ep.Put(ctx, registryKey+postfix, data)
}

// OpenRegistry loads a persisted registry, returning an empty one when none
// was saved.
func OpenRegistry(ctx context.Context, ep blobstore.Endpoint, postfix string) (*Registry, error) {
	data, err := ep.Get(ctx, registryKey+postfix)
	if blobstore.IsNotFound(err) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, err
	}
	return LoadRegistry(data)
}

// Merge unions other into r.
func (r *Registry) Merge(other *Registry) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ids.Or(other.ids)
	for id := range other.big {
		r.big[id] = struct{}{}
	}
}
