package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/coffersTech/livequery/internal/model"
)

// Filter is an immutable predicate tree over table columns.
//
// Besides evaluating rows, a filter can report bounds on a named column
// that every accepted row satisfies, without looking at any row. Bounds
// are sound but may be wider than necessary; scans use them to skip
// whole log segments and fall back to Accepts for the exact answer.
type Filter interface {
	Accepts(row Row, viewer *model.Contact, tz time.Duration) bool

	// GreatestLowerBoundFor returns an inclusive lower bound on column.
	GreatestLowerBoundFor(column string, tz time.Duration) Bound[int64]
	// LeastUpperBoundFor returns an inclusive upper bound on column.
	LeastUpperBoundFor(column string, tz time.Duration) Bound[int64]
	// ValueSetLeastUpperBoundFor returns a superset of the values of an
	// enumerated column that accepted rows can have.
	ValueSetLeastUpperBoundFor(column string, tz time.Duration) Bound[ValueSet]

	// Columns lists the names of all columns the tree references.
	Columns() []string
	Copy() Filter
	Negate() Filter
	String() string
}

// ColumnFilter is a leaf comparing one column against an operand.
type ColumnFilter interface {
	Filter
	Column() Column
	Operator() RelationalOperator
	Operand() string
}

func references(f Filter, column string) bool {
	return slices.Contains(f.Columns(), column)
}

// AndFilter accepts a row when every child does. With no children it
// accepts everything.
type AndFilter struct {
	children []Filter
}

// And combines filters conjunctively.
func And(children ...Filter) Filter {
	return &AndFilter{children: children}
}

func (f *AndFilter) Children() []Filter { return f.children }

func (f *AndFilter) Accepts(row Row, viewer *model.Contact, tz time.Duration) bool {
	for _, c := range f.children {
		if !c.Accepts(row, viewer, tz) {
			return false
		}
	}
	return true
}

func (f *AndFilter) GreatestLowerBoundFor(column string, tz time.Duration) Bound[int64] {
	bounds := make([]Bound[int64], len(f.children))
	for i, c := range f.children {
		bounds[i] = c.GreatestLowerBoundFor(column, tz)
	}
	return combineAnd(bounds, maxInt64)
}

func (f *AndFilter) LeastUpperBoundFor(column string, tz time.Duration) Bound[int64] {
	bounds := make([]Bound[int64], len(f.children))
	for i, c := range f.children {
		bounds[i] = c.LeastUpperBoundFor(column, tz)
	}
	return combineAnd(bounds, minInt64)
}

func (f *AndFilter) ValueSetLeastUpperBoundFor(column string, tz time.Duration) Bound[ValueSet] {
	bounds := make([]Bound[ValueSet], len(f.children))
	for i, c := range f.children {
		bounds[i] = c.ValueSetLeastUpperBoundFor(column, tz)
	}
	return combineAnd(bounds, func(a, b ValueSet) ValueSet { return a & b })
}

func (f *AndFilter) Columns() []string { return childColumns(f.children) }

func (f *AndFilter) Copy() Filter {
	return &AndFilter{children: copyAll(f.children)}
}

// Negate applies De Morgan: not(a and b) = not a or not b.
func (f *AndFilter) Negate() Filter {
	return &OrFilter{children: negateAll(f.children)}
}

func (f *AndFilter) String() string { return joinChildren("AND", f.children) }

// OrFilter accepts a row when any child does. With no children it
// rejects everything.
type OrFilter struct {
	children []Filter
}

// Or combines filters disjunctively.
func Or(children ...Filter) Filter {
	return &OrFilter{children: children}
}

func (f *OrFilter) Children() []Filter { return f.children }

func (f *OrFilter) Accepts(row Row, viewer *model.Contact, tz time.Duration) bool {
	for _, c := range f.children {
		if c.Accepts(row, viewer, tz) {
			return true
		}
	}
	return false
}

func (f *OrFilter) GreatestLowerBoundFor(column string, tz time.Duration) Bound[int64] {
	bounds := make([]Bound[int64], len(f.children))
	for i, c := range f.children {
		bounds[i] = c.GreatestLowerBoundFor(column, tz)
	}
	return combineOr(bounds, minInt64)
}

func (f *OrFilter) LeastUpperBoundFor(column string, tz time.Duration) Bound[int64] {
	bounds := make([]Bound[int64], len(f.children))
	for i, c := range f.children {
		bounds[i] = c.LeastUpperBoundFor(column, tz)
	}
	return combineOr(bounds, maxInt64)
}

func (f *OrFilter) ValueSetLeastUpperBoundFor(column string, tz time.Duration) Bound[ValueSet] {
	bounds := make([]Bound[ValueSet], len(f.children))
	for i, c := range f.children {
		bounds[i] = c.ValueSetLeastUpperBoundFor(column, tz)
	}
	return combineOr(bounds, func(a, b ValueSet) ValueSet { return a | b })
}

func (f *OrFilter) Columns() []string { return childColumns(f.children) }

func (f *OrFilter) Copy() Filter {
	return &OrFilter{children: copyAll(f.children)}
}

// Negate applies De Morgan: not(a or b) = not a and not b.
func (f *OrFilter) Negate() Filter {
	return &AndFilter{children: negateAll(f.children)}
}

func (f *OrFilter) String() string { return joinChildren("OR", f.children) }

// NotFilter inverts its child.
type NotFilter struct {
	child Filter
}

// Not negates a filter without rewriting it.
func Not(child Filter) Filter {
	return &NotFilter{child: child}
}

func (f *NotFilter) Child() Filter { return f.child }

func (f *NotFilter) Accepts(row Row, viewer *model.Contact, tz time.Duration) bool {
	return !f.child.Accepts(row, viewer, tz)
}

// Bounds through a negation are only derived for a leaf child, whose
// operator has an exact complement. Everything else reports no usable
// bound.
func (f *NotFilter) GreatestLowerBoundFor(column string, tz time.Duration) Bound[int64] {
	if leaf, ok := f.child.(ColumnFilter); ok {
		return leaf.Negate().GreatestLowerBoundFor(column, tz)
	}
	return f.opaque(column).withInt()
}

func (f *NotFilter) LeastUpperBoundFor(column string, tz time.Duration) Bound[int64] {
	if leaf, ok := f.child.(ColumnFilter); ok {
		return leaf.Negate().LeastUpperBoundFor(column, tz)
	}
	return f.opaque(column).withInt()
}

func (f *NotFilter) ValueSetLeastUpperBoundFor(column string, tz time.Duration) Bound[ValueSet] {
	if leaf, ok := f.child.(ColumnFilter); ok {
		return leaf.Negate().ValueSetLeastUpperBoundFor(column, tz)
	}
	return f.opaque(column).withSet()
}

func (f *NotFilter) opaque(column string) BoundKind {
	if references(f.child, column) {
		return Unbounded
	}
	return NoBound
}

func (k BoundKind) withInt() Bound[int64] { return Bound[int64]{Kind: k} }
func (k BoundKind) withSet() Bound[ValueSet] { return Bound[ValueSet]{Kind: k} }

func (f *NotFilter) Columns() []string { return f.child.Columns() }

func (f *NotFilter) Copy() Filter { return &NotFilter{child: f.child.Copy()} }

// Negate drops the negation.
func (f *NotFilter) Negate() Filter { return f.child.Copy() }

func (f *NotFilter) String() string { return "NOT " + f.child.String() }

func maxInt64(a, b int64) int64 { return max(a, b) }
func minInt64(a, b int64) int64 { return min(a, b) }

func childColumns(children []Filter) []string {
	var out []string
	for _, c := range children {
		for _, name := range c.Columns() {
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

func copyAll(children []Filter) []Filter {
	out := make([]Filter, len(children))
	for i, c := range children {
		out[i] = c.Copy()
	}
	return out
}

func negateAll(children []Filter) []Filter {
	out := make([]Filter, len(children))
	for i, c := range children {
		out[i] = c.Negate()
	}
	return out
}

func joinChildren(op string, children []Filter) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}
