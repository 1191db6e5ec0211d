package hierarchy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hupe1980/cloudtree/blobstore"
	"github.com/hupe1980/cloudtree/tree"
)

// ErrMalformedBlock is returned when a persisted block fails to decode.
var ErrMalformedBlock = errors.New("malformed hierarchy block")

// recordSize is the wire size of one ⟨tube, tick, cell⟩ record, three
// little-endian uint64s.
const recordSize = 24

// Block stores per-cell counts for a contiguous range of node ids starting
// at the block root. Count is thread-safe; Get, Sum and Save are called
// only in single-threaded phases.
type Block interface {
	// ID returns the block root id. Cell addresses inside the block are
	// normalized to id - root.
	ID() tree.Id

	// Count atomically adjusts the count at (id, tick) by delta. Ids
	// outside the block span are a programming error and panic with
	// tree.ErrInvariantViolated.
	Count(id tree.Id, tick uint64, delta int64)

	// Get reads the count at (id, tick), 0 for absent cells.
	Get(id tree.Id, tick uint64) uint64

	// Sum totals the counts at id across ticks in [tickBegin, tickEnd).
	Sum(id tree.Id, tickBegin, tickEnd uint64) uint64

	// Save serializes the block and writes it under "<root><postfix>".
	Save(ctx context.Context, ep blobstore.Endpoint, postfix string) error

	// Bytes serializes the block: a flat array of records, absent cells
	// omitted. The order is deterministic so identical contents produce
	// identical bytes.
	Bytes() []byte

	// each visits every populated (normalized id, tick, count) triple in
	// ascending order. Used by Merge.
	each(fn func(norm, tick, val uint64))
}

// normalize converts an absolute id to a block-local index, enforcing the
// block span.
func normalize(root tree.Id, span uint64, id tree.Id) uint64 {
	norm := id.Sub(root)
	if !norm.IsSimple() {
		panic(fmt.Errorf("%w: id %s not addressable in block %s",
			tree.ErrInvariantViolated, id, root))
	}
	n := norm.Simple()
	if span > 0 && n >= span {
		panic(fmt.Errorf("%w: id %s outside block %s span %d",
			tree.ErrInvariantViolated, id, root, span))
	}
	return n
}

func appendRecord(data []byte, tube, tick, cell uint64) []byte {
	var rec [recordSize]byte
	binary.LittleEndian.PutUint64(rec[0:], tube)
	binary.LittleEndian.PutUint64(rec[8:], tick)
	binary.LittleEndian.PutUint64(rec[16:], cell)
	return append(data, rec[:]...)
}

// ContiguousBlock pre-allocates one tube per node id in its span for fast
// indexed access: the right trade where population density is high, i.e.
// the base zone and cold blocks above the sparse threshold. The tube vector
// is immutable in size after construction, so no block-level lock is
// needed.
type ContiguousBlock struct {
	id    tree.Id
	tubes []Tube
}

// NewContiguousBlock creates an empty block spanning maxPoints node ids
// from root.
func NewContiguousBlock(root tree.Id, maxPoints uint64) *ContiguousBlock {
	return &ContiguousBlock{
		id:    root,
		tubes: make([]Tube, maxPoints),
	}
}

// LoadContiguousBlock reconstructs a block from its serialized form.
func LoadContiguousBlock(root tree.Id, maxPoints uint64, data []byte) (*ContiguousBlock, error) {
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d",
			ErrMalformedBlock, len(data), recordSize)
	}

	b := NewContiguousBlock(root, maxPoints)
	for pos := 0; pos < len(data); pos += recordSize {
		tube := binary.LittleEndian.Uint64(data[pos:])
		tick := binary.LittleEndian.Uint64(data[pos+8:])
		cell := binary.LittleEndian.Uint64(data[pos+16:])

		if tube >= maxPoints {
			return nil, fmt.Errorf("%w: tube %d outside block %s span %d",
				ErrMalformedBlock, tube, root, maxPoints)
		}
		b.tubes[tube].Count(tick, int64(cell))
	}
	return b, nil
}

// ID returns the block root id.
func (b *ContiguousBlock) ID() tree.Id { return b.id }

// Count atomically adjusts the count at (id, tick) by delta.
func (b *ContiguousBlock) Count(id tree.Id, tick uint64, delta int64) {
	b.tubes[normalize(b.id, uint64(len(b.tubes)), id)].Count(tick, delta)
}

// Get reads the count at (id, tick).
func (b *ContiguousBlock) Get(id tree.Id, tick uint64) uint64 {
	return b.tubes[normalize(b.id, uint64(len(b.tubes)), id)].Get(tick)
}

// Sum totals the counts at id across ticks in [tickBegin, tickEnd).
func (b *ContiguousBlock) Sum(id tree.Id, tickBegin, tickEnd uint64) uint64 {
	return b.tubes[normalize(b.id, uint64(len(b.tubes)), id)].Sum(tickBegin, tickEnd)
}

// Bytes serializes the block.
func (b *ContiguousBlock) Bytes() []byte {
	var data []byte
	b.each(func(norm, tick, val uint64) {
		data = appendRecord(data, norm, tick, val)
	})
	return data
}

// Save writes the block under "<root><postfix>".
func (b *ContiguousBlock) Save(ctx context.Context, ep blobstore.Endpoint, postfix string) error {
	return ep.Put(ctx, b.id.String()+postfix, b.Bytes())
}

func (b *ContiguousBlock) each(fn func(norm, tick, val uint64)) {
	for i := range b.tubes {
		norm := uint64(i)
		b.tubes[i].Each(func(tick, val uint64) {
			fn(norm, tick, val)
		})
	}
}

// SparseBlock allocates nothing upfront and pays a map lookup per access:
// the right trade deep in the tree where population is expected to be low.
// The tube map itself is mutable, so lookups and inserts share the block
// lock; cell updates then proceed on the cell atomics.
type SparseBlock struct {
	id   tree.Id
	span uint64 // 0 disables span checks

	// mu is only ever held for a map operation, never across I/O.
	mu    sync.Mutex
	tubes map[uint64]*Tube
}

// NewSparseBlock creates an empty sparse block rooted at root. A span of 0
// leaves the block unbounded.
func NewSparseBlock(root tree.Id, span uint64) *SparseBlock {
	return &SparseBlock{
		id:    root,
		span:  span,
		tubes: make(map[uint64]*Tube),
	}
}

// LoadSparseBlock reconstructs a sparse block from its serialized form.
func LoadSparseBlock(root tree.Id, span uint64, data []byte) (*SparseBlock, error) {
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d",
			ErrMalformedBlock, len(data), recordSize)
	}

	b := NewSparseBlock(root, span)
	for pos := 0; pos < len(data); pos += recordSize {
		tube := binary.LittleEndian.Uint64(data[pos:])
		tick := binary.LittleEndian.Uint64(data[pos+8:])
		cell := binary.LittleEndian.Uint64(data[pos+16:])

		if span > 0 && tube >= span {
			return nil, fmt.Errorf("%w: tube %d outside block %s span %d",
				ErrMalformedBlock, tube, root, span)
		}
		b.tube(tube).Count(tick, int64(cell))
	}
	return b, nil
}

func (b *SparseBlock) tube(norm uint64) *Tube {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tubes[norm]
	if !ok {
		t = &Tube{}
		b.tubes[norm] = t
	}
	return t
}

// ID returns the block root id.
func (b *SparseBlock) ID() tree.Id { return b.id }

// Count atomically adjusts the count at (id, tick) by delta.
func (b *SparseBlock) Count(id tree.Id, tick uint64, delta int64) {
	b.tube(normalize(b.id, b.span, id)).Count(tick, delta)
}

// Get reads the count at (id, tick).
func (b *SparseBlock) Get(id tree.Id, tick uint64) uint64 {
	norm := normalize(b.id, b.span, id)

	b.mu.Lock()
	t, ok := b.tubes[norm]
	b.mu.Unlock()

	if !ok {
		return 0
	}
	return t.Get(tick)
}

// Sum totals the counts at id across ticks in [tickBegin, tickEnd).
func (b *SparseBlock) Sum(id tree.Id, tickBegin, tickEnd uint64) uint64 {
	norm := normalize(b.id, b.span, id)

	b.mu.Lock()
	t, ok := b.tubes[norm]
	b.mu.Unlock()

	if !ok {
		return 0
	}
	return t.Sum(tickBegin, tickEnd)
}

// Bytes serializes the block.
func (b *SparseBlock) Bytes() []byte {
	var data []byte
	b.each(func(norm, tick, val uint64) {
		data = appendRecord(data, norm, tick, val)
	})
	return data
}

// Save writes the block under "<root><postfix>".
func (b *SparseBlock) Save(ctx context.Context, ep blobstore.Endpoint, postfix string) error {
	return ep.Put(ctx, b.id.String()+postfix, b.Bytes())
}

func (b *SparseBlock) each(fn func(norm, tick, val uint64)) {
	b.mu.Lock()
	norms := make([]uint64, 0, len(b.tubes))
	for n := range b.tubes {
		norms = append(norms, n)
	}
	b.mu.Unlock()

	sort.Slice(norms, func(i, j int) bool { return norms[i] < norms[j] })
	for _, n := range norms {
		b.mu.Lock()
		t := b.tubes[n]
		b.mu.Unlock()
		t.Each(func(tick, val uint64) {
			fn(n, tick, val)
		})
	}
}

// allTicks spans every possible tick for full-tube sums.
const allTicks = math.MaxUint64
