package tree

import (
	"math"
	"math/big"
)

// Id is an arbitrary-precision node identifier. Ids grow as
// (parent << dimensions) + 1 + childIndex, which overflows a machine word
// within a few dozen octree levels, so the full-width form is authoritative.
// Ids within the base depth zone are guaranteed to fit a uint64; use Simple
// for those.
//
// Id values are immutable; every operation returns a new Id. The zero value
// is the root id.
type Id struct {
	i *big.Int
}

// NewId creates an Id from a machine word.
func NewId(v uint64) Id {
	return Id{i: new(big.Int).SetUint64(v)}
}

// ParseId parses a base-10 id string, e.g. a block key.
func ParseId(s string) (Id, bool) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok || i.Sign() < 0 {
		return Id{}, false
	}
	return Id{i: i}, true
}

func (id Id) v() *big.Int {
	if id.i == nil {
		return new(big.Int)
	}
	return id.i
}

// Shl returns id << bits.
func (id Id) Shl(bits uint64) Id {
	return Id{i: new(big.Int).Lsh(id.v(), uint(bits))}
}

// Add returns id + n.
func (id Id) Add(n uint64) Id {
	return Id{i: new(big.Int).Add(id.v(), new(big.Int).SetUint64(n))}
}

// AddId returns id + other.
func (id Id) AddId(other Id) Id {
	return Id{i: new(big.Int).Add(id.v(), other.v())}
}

// Sub returns id - other. The result must be non-negative.
func (id Id) Sub(other Id) Id {
	return Id{i: new(big.Int).Sub(id.v(), other.v())}
}

// Inc returns id + 1.
func (id Id) Inc() Id { return id.Add(1) }

// Mul returns id * n.
func (id Id) Mul(n uint64) Id {
	return Id{i: new(big.Int).Mul(id.v(), new(big.Int).SetUint64(n))}
}

// MulId returns id * other.
func (id Id) MulId(other Id) Id {
	return Id{i: new(big.Int).Mul(id.v(), other.v())}
}

// Div returns id / other, truncated.
func (id Id) Div(other Id) Id {
	return Id{i: new(big.Int).Quo(id.v(), other.v())}
}

// Cmp compares two ids, returning -1, 0 or 1.
func (id Id) Cmp(other Id) int { return id.v().Cmp(other.v()) }

// IsZero reports whether the id is the root id.
func (id Id) IsZero() bool { return id.v().Sign() == 0 }

// IsSimple reports whether the id fits a machine word.
func (id Id) IsSimple() bool { return id.v().IsUint64() }

// Simple downcasts the id to a machine word. The downcast is guaranteed for
// ids within the base depth zone; out of that zone callers must check
// IsSimple first. Oversized ids saturate.
func (id Id) Simple() uint64 {
	if !id.v().IsUint64() {
		return math.MaxUint64
	}
	return id.v().Uint64()
}

// String returns the base-10 form used for block and chunk keys.
func (id Id) String() string { return id.v().String() }
