package chunk

import (
	"context"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/tree"
)

// Reader fetches and decodes chunks from an endpoint. Safe for concurrent
// use; the cache layer coalesces duplicate fetches above it.
type Reader struct {
	s        *tree.Structure
	ep       blobstore.Endpoint
	codec    *Codec
	registry *Registry
	postfix  string
}

// NewReader creates a reader over the given endpoint.
func NewReader(s *tree.Structure, ep blobstore.Endpoint, codec *Codec, registry *Registry, postfix string) *Reader {
	return &Reader{s: s, ep: ep, codec: codec, registry: registry, postfix: postfix}
}

// Schema returns the stored record layout.
func (r *Reader) Schema() Schema { return r.codec.Schema() }

// Has reports whether a chunk was ever written, per the registry.
func (r *Reader) Has(id tree.Id) bool {
	return r.registry.Has(id)
}

// Fetch loads and decodes one chunk. Missing chunks return
// blobstore.ErrNotFound.
func (r *Reader) Fetch(ctx context.Context, depth uint64, id tree.Id) (*Chunk, error) {
	data, err := r.ep.Get(ctx, Key(r.s, depth, id)+r.postfix)
	if err != nil {
		return nil, err
	}
	return r.codec.Decode(data)
}

// FetchBase loads the always-resident base chunk. An index that never
// received base-zone points yields an empty chunk.
func (r *Reader) FetchBase(ctx context.Context) (*Chunk, error) {
	data, err := r.ep.Get(ctx, baseChunkKey+r.postfix)
	if blobstore.IsNotFound(err) {
		return NewBuilder(r.codec.Schema()).Chunk(), nil
	}
	if err != nil {
		return nil, err
	}
	return r.codec.Decode(data)
}
