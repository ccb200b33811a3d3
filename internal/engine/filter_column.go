package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/livequery/internal/model"
)

// NewColumnFilter builds the leaf filter matching col's kind. The operand
// is converted once here; a conversion failure or an operator the kind
// does not support is reported as an error instead of failing per row.
func NewColumnFilter(col Column, op RelationalOperator, operand string, tz time.Duration) (ColumnFilter, error) {
	base := columnFilter{column: col, op: op, operand: operand}

	switch col.Kind() {
	case KindInt, KindTime:
		if !isOrdering(op) {
			return nil, unsupported(col, op)
		}
		ref, err := strconv.ParseInt(strings.TrimSpace(operand), 10, 64)
		if err != nil {
			return nil, mismatch(col, operand)
		}
		if col.Kind() == KindTime {
			return &TimeFilter{columnFilter: base, refValue: ref - int64(tz/time.Second)}, nil
		}
		return &IntFilter{columnFilter: base, ref: ref}, nil

	case KindDouble:
		if !isOrdering(op) {
			return nil, unsupported(col, op)
		}
		ref, err := strconv.ParseFloat(strings.TrimSpace(operand), 64)
		if err != nil {
			return nil, mismatch(col, operand)
		}
		return &DoubleFilter{columnFilter: base, ref: ref}, nil

	case KindText:
		m, err := newStringMatcher(op, operand)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name(), err)
		}
		return &StringFilter{columnFilter: base, match: m}, nil

	case KindList:
		switch op {
		case OpEqual, OpNotEqual:
			if operand != "" {
				return nil, fmt.Errorf("%w: list column %s can only be compared with an empty value", ErrTypeMismatch, col.Name())
			}
		case OpGreaterOrEqual, OpLess, OpMatches, OpDoesntMatch, OpMatchesICase, OpDoesntMatchICase:
		default:
			return nil, unsupported(col, op)
		}
		m, err := newStringMatcher(elementOp(op), operand)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name(), err)
		}
		return &ListFilter{columnFilter: base, element: m}, nil

	case KindPairs:
		key, value, _ := strings.Cut(strings.TrimLeft(operand, " "), " ")
		if key == "" {
			return nil, fmt.Errorf("%w: dict column %s needs a key", ErrTypeMismatch, col.Name())
		}
		m, err := newStringMatcher(op, strings.TrimLeft(value, " "))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name(), err)
		}
		return &PairsFilter{columnFilter: base, key: key, match: m}, nil
	}
	return nil, unsupported(col, op)
}

func unsupported(col Column, op RelationalOperator) error {
	return fmt.Errorf("%w: %s on %s column %s", ErrUnsupportedOperator, op, col.Kind(), col.Name())
}

func mismatch(col Column, operand string) error {
	return fmt.Errorf("%w: %q for %s column %s", ErrTypeMismatch, operand, col.Kind(), col.Name())
}

// columnFilter holds what every leaf shares.
type columnFilter struct {
	column  Column
	op      RelationalOperator
	operand string
}

func (f *columnFilter) Column() Column { return f.column }
func (f *columnFilter) Operator() RelationalOperator { return f.op }
func (f *columnFilter) Operand() string { return f.operand }
func (f *columnFilter) Columns() []string { return []string{f.column.Name()} }
func (f *columnFilter) String() string {
	return fmt.Sprintf("%s %s %s", f.column.Name(), f.op, f.operand)
}

// negated returns the shared part with the complementary operator.
func (f *columnFilter) negated() columnFilter {
	c := *f
	c.op = c.op.Negate()
	return c
}

// referenced is the bound of a leaf that cannot compute one.
func (f *columnFilter) referenced(column string) BoundKind {
	if column == f.column.Name() {
		return Unbounded
	}
	return NoBound
}

// IntFilter compares an integer column.
type IntFilter struct {
	columnFilter
	ref int64
}

func (f *IntFilter) Accepts(row Row, viewer *model.Contact, _ time.Duration) bool {
	return compareOrdered(f.op, f.column.Value(row, viewer).Int(), f.ref)
}

func (f *IntFilter) GreatestLowerBoundFor(column string, _ time.Duration) Bound[int64] {
	if column != f.column.Name() {
		return noBound[int64]()
	}
	return lowerBound(f.op, f.ref)
}

func (f *IntFilter) LeastUpperBoundFor(column string, _ time.Duration) Bound[int64] {
	if column != f.column.Name() {
		return noBound[int64]()
	}
	return upperBound(f.op, f.ref)
}

// enumerated marks columns built by EnumField.
type enumerated interface{ enumerated() }

// ValueSetLeastUpperBoundFor enumerates the accepted values in [0,32).
// On columns not declared with EnumField only equality with an operand in
// that domain is bounded; any other operator may accept values outside it.
func (f *IntFilter) ValueSetLeastUpperBoundFor(column string, _ time.Duration) Bound[ValueSet] {
	if column != f.column.Name() {
		return noBound[ValueSet]()
	}
	if _, ok := f.column.(enumerated); !ok {
		if f.op == OpEqual && f.ref >= 0 && f.ref < 32 {
			return boundOf(ValueSetOf(f.ref))
		}
		return unbounded[ValueSet]()
	}
	var set ValueSet
	for v := int64(0); v < 32; v++ {
		if compareOrdered(f.op, v, f.ref) {
			set |= 1 << uint(v)
		}
	}
	return boundOf(set)
}

func (f *IntFilter) Copy() Filter {
	c := *f
	return &c
}

func (f *IntFilter) Negate() Filter {
	return &IntFilter{columnFilter: f.negated(), ref: f.ref}
}

// TimeFilter compares a time column. The operand is taken in the client's
// local time and shifted to UTC once, at construction, by the timezone
// offset in effect then; the per-call offset is not applied again.
type TimeFilter struct {
	columnFilter
	refValue int64
}

// RefValue returns the UTC epoch the column is compared against.
func (f *TimeFilter) RefValue() int64 { return f.refValue }

func (f *TimeFilter) Accepts(row Row, viewer *model.Contact, _ time.Duration) bool {
	return compareOrdered(f.op, f.column.Value(row, viewer).Int(), f.refValue)
}

func (f *TimeFilter) GreatestLowerBoundFor(column string, _ time.Duration) Bound[int64] {
	if column != f.column.Name() {
		return noBound[int64]()
	}
	return lowerBound(f.op, f.refValue)
}

func (f *TimeFilter) LeastUpperBoundFor(column string, _ time.Duration) Bound[int64] {
	if column != f.column.Name() {
		return noBound[int64]()
	}
	return upperBound(f.op, f.refValue)
}

func (f *TimeFilter) ValueSetLeastUpperBoundFor(column string, _ time.Duration) Bound[ValueSet] {
	return f.referenced(column).withSet()
}

func (f *TimeFilter) Copy() Filter {
	c := *f
	return &c
}

func (f *TimeFilter) Negate() Filter {
	return &TimeFilter{columnFilter: f.negated(), refValue: f.refValue}
}

func lowerBound(op RelationalOperator, ref int64) Bound[int64] {
	switch op {
	case OpEqual, OpGreaterOrEqual:
		return boundOf(ref)
	case OpGreater:
		return boundOf(ref + 1)
	}
	return unbounded[int64]()
}

func upperBound(op RelationalOperator, ref int64) Bound[int64] {
	switch op {
	case OpEqual, OpLessOrEqual:
		return boundOf(ref)
	case OpLess:
		return boundOf(ref - 1)
	}
	return unbounded[int64]()
}

// DoubleFilter compares a floating point column.
type DoubleFilter struct {
	columnFilter
	ref float64
}

func (f *DoubleFilter) Accepts(row Row, viewer *model.Contact, _ time.Duration) bool {
	return compareOrdered(f.op, f.column.Value(row, viewer).Double(), f.ref)
}

func (f *DoubleFilter) GreatestLowerBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *DoubleFilter) LeastUpperBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *DoubleFilter) ValueSetLeastUpperBoundFor(column string, _ time.Duration) Bound[ValueSet] {
	return f.referenced(column).withSet()
}

func (f *DoubleFilter) Copy() Filter {
	c := *f
	return &c
}

func (f *DoubleFilter) Negate() Filter {
	return &DoubleFilter{columnFilter: f.negated(), ref: f.ref}
}

// StringFilter compares a text column.
type StringFilter struct {
	columnFilter
	match stringMatcher
}

func (f *StringFilter) Accepts(row Row, viewer *model.Contact, _ time.Duration) bool {
	return f.match.matches(f.column.Value(row, viewer).Text())
}

func (f *StringFilter) GreatestLowerBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *StringFilter) LeastUpperBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *StringFilter) ValueSetLeastUpperBoundFor(column string, _ time.Duration) Bound[ValueSet] {
	return f.referenced(column).withSet()
}

func (f *StringFilter) Copy() Filter {
	c := *f
	return &c
}

func (f *StringFilter) Negate() Filter {
	return &StringFilter{columnFilter: f.negated(), match: f.match.negated()}
}

// ListFilter tests membership in a list column: >= means "contains",
// < "does not contain", = and != with an empty operand test emptiness,
// and the regex operators match any element.
type ListFilter struct {
	columnFilter
	element stringMatcher
}

func (f *ListFilter) Accepts(row Row, viewer *model.Contact, _ time.Duration) bool {
	list := f.column.Value(row, viewer).List()
	switch f.op {
	case OpEqual:
		return len(list) == 0
	case OpNotEqual:
		return len(list) != 0
	case OpGreaterOrEqual, OpMatches, OpMatchesICase:
		return f.anyMatches(list)
	case OpLess, OpDoesntMatch, OpDoesntMatchICase:
		return !f.anyMatches(list)
	}
	return false
}

func (f *ListFilter) anyMatches(list []string) bool {
	for _, s := range list {
		if f.element.matches(s) {
			return true
		}
	}
	return false
}

func (f *ListFilter) GreatestLowerBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *ListFilter) LeastUpperBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *ListFilter) ValueSetLeastUpperBoundFor(column string, _ time.Duration) Bound[ValueSet] {
	return f.referenced(column).withSet()
}

func (f *ListFilter) Copy() Filter {
	c := *f
	return &c
}

func (f *ListFilter) Negate() Filter {
	return &ListFilter{columnFilter: f.negated(), element: f.element}
}

// elementOp maps a list operator to the comparison applied per element.
func elementOp(op RelationalOperator) RelationalOperator {
	switch op {
	case OpGreaterOrEqual, OpLess:
		return OpEqual
	case OpMatches, OpDoesntMatch:
		return OpMatches
	case OpMatchesICase, OpDoesntMatchICase:
		return OpMatchesICase
	}
	return OpEqual
}

// PairsFilter compares the value stored under one key of a dict column.
// A missing key compares as the empty string.
type PairsFilter struct {
	columnFilter
	key   string
	match stringMatcher
}

func (f *PairsFilter) Accepts(row Row, viewer *model.Contact, _ time.Duration) bool {
	v, _ := f.column.Value(row, viewer).Lookup(f.key)
	return f.match.matches(v)
}

func (f *PairsFilter) GreatestLowerBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *PairsFilter) LeastUpperBoundFor(column string, _ time.Duration) Bound[int64] {
	return f.referenced(column).withInt()
}

func (f *PairsFilter) ValueSetLeastUpperBoundFor(column string, _ time.Duration) Bound[ValueSet] {
	return f.referenced(column).withSet()
}

func (f *PairsFilter) Copy() Filter {
	c := *f
	return &c
}

func (f *PairsFilter) Negate() Filter {
	return &PairsFilter{columnFilter: f.negated(), key: f.key, match: f.match.negated()}
}

// stringMatcher applies a relational operator to strings. The compiled
// regex is shared between a matcher and its negation.
type stringMatcher struct {
	op  RelationalOperator
	ref string
	re  *regexp.Regexp
}

func newStringMatcher(op RelationalOperator, ref string) (stringMatcher, error) {
	m := stringMatcher{op: op, ref: ref}
	switch op {
	case OpMatches, OpDoesntMatch:
		re, err := regexp.Compile(ref)
		if err != nil {
			return m, fmt.Errorf("%w: invalid regex %q: %v", ErrTypeMismatch, ref, err)
		}
		m.re = re
	case OpMatchesICase, OpDoesntMatchICase:
		re, err := regexp.Compile("(?i)" + ref)
		if err != nil {
			return m, fmt.Errorf("%w: invalid regex %q: %v", ErrTypeMismatch, ref, err)
		}
		m.re = re
	}
	return m, nil
}

func (m stringMatcher) negated() stringMatcher {
	m.op = m.op.Negate()
	return m
}

func (m stringMatcher) matches(s string) bool {
	switch m.op {
	case OpMatches, OpMatchesICase:
		return m.re.MatchString(s)
	case OpDoesntMatch, OpDoesntMatchICase:
		return !m.re.MatchString(s)
	case OpEqualICase:
		return strings.EqualFold(s, m.ref)
	case OpNotEqualICase:
		return !strings.EqualFold(s, m.ref)
	}
	return compareOrdered(m.op, s, m.ref)
}
