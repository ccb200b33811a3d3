package engine

import (
	"fmt"
	"math/bits"
)

// BoundKind distinguishes why a bound is or is not available.
type BoundKind uint8

const (
	// NoBound: the filter does not reference the column at all.
	NoBound BoundKind = iota
	// Unbounded: the filter references the column but implies no limit.
	Unbounded
	// Bounded: Value holds a limit every accepted row satisfies.
	Bounded
)

// Bound is the result of bound extraction. Only Bounded results may be
// used for pruning; the other two both mean "scan everything".
type Bound[T any] struct {
	Kind  BoundKind
	Value T
}

func boundOf[T any](v T) Bound[T] { return Bound[T]{Kind: Bounded, Value: v} }
func noBound[T any]() Bound[T] { return Bound[T]{Kind: NoBound} }
func unbounded[T any]() Bound[T] { return Bound[T]{Kind: Unbounded} }

// Get returns the value and whether it can be used for pruning.
func (b Bound[T]) Get() (T, bool) {
	return b.Value, b.Kind == Bounded
}

func (b Bound[T]) String() string {
	switch b.Kind {
	case Bounded:
		return fmt.Sprint(b.Value)
	case Unbounded:
		return "unbounded"
	}
	return "none"
}

// ValueSet is a bit set over the small integer domain [0,32), used for
// enumerated columns such as the log class.
type ValueSet uint32

// AllValues contains every representable value.
const AllValues ValueSet = ^ValueSet(0)

// ValueSetOf builds a set from values; values outside [0,32) are ignored.
func ValueSetOf(values ...int64) ValueSet {
	var s ValueSet
	for _, v := range values {
		if v >= 0 && v < 32 {
			s |= 1 << uint(v)
		}
	}
	return s
}

// Contains reports whether v is in the set. Values outside the domain
// are never contained.
func (s ValueSet) Contains(v int64) bool {
	return v >= 0 && v < 32 && s&(1<<uint(v)) != 0
}

func (s ValueSet) Len() int { return bits.OnesCount32(uint32(s)) }

// combineAnd merges child bounds of a conjunction: any bounded child
// constrains the result, the tightest one wins.
func combineAnd[T any](bounds []Bound[T], tighter func(a, b T) T) Bound[T] {
	result := noBound[T]()
	for _, b := range bounds {
		switch b.Kind {
		case Bounded:
			if result.Kind == Bounded {
				result.Value = tighter(result.Value, b.Value)
			} else {
				result = b
			}
		case Unbounded:
			if result.Kind == NoBound {
				result = b
			}
		}
	}
	return result
}

// combineOr merges child bounds of a disjunction: the result is bounded
// only if every child is, and then the widest bound wins.
func combineOr[T any](bounds []Bound[T], wider func(a, b T) T) Bound[T] {
	if len(bounds) == 0 {
		return noBound[T]()
	}
	referenced := false
	allBounded := true
	for _, b := range bounds {
		if b.Kind != NoBound {
			referenced = true
		}
		if b.Kind != Bounded {
			allBounded = false
		}
	}
	if !referenced {
		return noBound[T]()
	}
	if !allBounded {
		return unbounded[T]()
	}
	result := bounds[0]
	for _, b := range bounds[1:] {
		result.Value = wider(result.Value, b.Value)
	}
	return result
}
