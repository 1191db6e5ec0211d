package hierarchy

import "github.com/hupe1980/cloudtree/tree"

// StartDepth is the tree depth at which the count index begins: points
// shallower than this are too few to matter for skip decisions, so the
// hierarchy root corresponds to tree depth 6.
const StartDepth = 6

// minBaseDepth keeps the hierarchy's contiguous zone deep enough that the
// common query depths never touch cold blocks.
const minBaseDepth = 12

// DeriveStructure computes the hierarchy's structure from the tree's: a
// contiguous zone of at least minBaseDepth, an unbounded cold zone, and the
// sparse threshold offset by StartDepth into the hierarchy's domain.
func DeriveStructure(t *tree.Structure) (tree.Structure, error) {
	baseDepth := t.BaseDepth()
	if baseDepth < minBaseDepth {
		baseDepth = minBaseDepth
	}

	var sparse uint64
	if s := t.SparseDepthBegin(); s > StartDepth {
		sparse = s - StartDepth
	}

	return tree.NewStructure(tree.StructureConfig{
		NullDepth:      0,
		BaseDepth:      baseDepth,
		ColdDepth:      0,
		PointsPerChunk: t.BasePointsPerChunk(),
		Dimensions:     t.Dimensions(),
		NumPointsHint:  t.NumPointsHint(),
		Tubular:        t.Tubular(),
		DynamicChunks:  true,
		PrefixIds:      false,
		SparseDepth:    sparse,
	})
}
