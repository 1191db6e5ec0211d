package cloudtree

import (
	"github.com/hupe1980/cloudtree/cache"
	"github.com/hupe1980/cloudtree/chunk"
	"github.com/hupe1980/cloudtree/hierarchy"
	"github.com/hupe1980/cloudtree/tree"
)

// Sentinel errors, re-exported from the packages that raise them so callers
// can match with errors.Is against a single surface.
var (
	// ErrInvalidConfig reports an unusable structure or query range.
	ErrInvalidConfig = tree.ErrInvalidConfig

	// ErrInvariantViolated reports a programming error, e.g. a directional
	// climb past the sparse boundary. Do not retry.
	ErrInvariantViolated = tree.ErrInvariantViolated

	// ErrMalformedBlock reports a corrupt persisted hierarchy block.
	ErrMalformedBlock = hierarchy.ErrMalformedBlock

	// ErrMalformedChunk reports corrupt persisted chunk bytes.
	ErrMalformedChunk = chunk.ErrMalformedChunk

	// ErrCacheExhausted reports a chunk working set too large for the
	// cache budget.
	ErrCacheExhausted = cache.ErrExhausted
)
