package chunk

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/tree"
)

// baseChunkKey is the storage key of the always-resident base chunk holding
// every point that terminated within the base depth zone.
const baseChunkKey = "base"

// Key returns the storage key for a chunk at the given depth. With
// prefixIds enabled the depth leads, keeping object-store listings grouped
// by level.
func Key(s *tree.Structure, depth uint64, id tree.Id) string {
	if s.PrefixIds() {
		return fmt.Sprintf("%d-%s", depth, id)
	}
	return id.String()
}

// Writer routes point records into per-chunk builders during ingest and
// flushes them through the codec. Thread-safe; concurrent workers may
// append to disjoint or shared chunks.
type Writer struct {
	s     *tree.Structure
	codec *Codec

	mu       sync.Mutex
	base     *Builder
	builders map[string]*pending
	registry *Registry
}

type pending struct {
	depth   uint64
	id      tree.Id
	builder *Builder
}

// NewWriter creates a writer over the given structure and codec.
func NewWriter(s *tree.Structure, codec *Codec) *Writer {
	return &Writer{
		s:        s,
		codec:    codec,
		base:     NewBuilder(codec.Schema()),
		builders: make(map[string]*pending),
		registry: NewRegistry(),
	}
}

// Registry returns the set of chunk ids written so far.
func (w *Writer) Registry() *Registry { return w.registry }

// AppendBase records a point that terminated within the base depth zone.
func (w *Writer) AppendBase(p tree.Point, depth uint64, record []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.append(w.base, p, depth, record)
}

// Append records a point into the chunk identified by the cursor.
func (w *Writer) Append(cs tree.ChunkState, p tree.Point, record []byte) error {
	key := Key(w.s, cs.Depth(), cs.ChunkID())

	w.mu.Lock()
	defer w.mu.Unlock()

	pend, ok := w.builders[key]
	if !ok {
		pend = &pending{
			depth:   cs.Depth(),
			id:      cs.ChunkID(),
			builder: NewBuilder(w.codec.Schema()),
		}
		w.builders[key] = pend
		w.registry.Add(cs.ChunkID())
	}
	return w.append(pend.builder, p, cs.Depth(), record)
}

func (w *Writer) append(b *Builder, p tree.Point, depth uint64, record []byte) error {
	if record == nil {
		b.AppendPosition(p, depth)
		return nil
	}
	w.codec.Schema().PackPosition(record, p)
	return b.Append(record, depth)
}

// NumPoints returns the total appended so far.
func (w *Writer) NumPoints() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := uint64(w.base.Len())
	for _, p := range w.builders {
		n += uint64(p.builder.Len())
	}
	return n
}

// Flush encodes and persists the base chunk, every pending chunk and the
// registry. Callers quiesce ingest first.
func (w *Writer) Flush(ctx context.Context, ep blobstore.Endpoint, postfix string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := w.codec.Encode(w.base.Chunk())
	if err != nil {
		return err
	}
	if err := ep.Put(ctx, baseChunkKey+postfix, data); err != nil {
		return err
	}

	for key, pend := range w.builders {
		data, err := w.codec.Encode(pend.builder.Chunk())
		if err != nil {
			return err
		}
		if err := ep.Put(ctx, key+postfix, data); err != nil {
			return err
		}
	}

	return w.registry.Save(ctx, ep, postfix)
}
