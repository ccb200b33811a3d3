package engine

import (
	"github.com/coffersTech/livequery/internal/model"
)

// Row is a borrowed reference to one native record: *model.Host,
// *model.Service, *model.Contact or *LogEntry. Columns and filters read
// through it and never keep it past the call.
type Row any

// Column is the uniform accessor every table exposes.
// Value must always return a value of Kind(), even for rows it cannot read.
type Column interface {
	Name() string
	Description() string
	Kind() Kind
	Value(row Row, viewer *model.Contact) Value
}

type columnInfo struct {
	name        string
	description string
	kind        Kind
}

func (c *columnInfo) Name() string        { return c.name }
func (c *columnInfo) Description() string { return c.description }
func (c *columnInfo) Kind() Kind          { return c.kind }

// offsetColumn reads one field of a *T record.
type offsetColumn[T any] struct {
	columnInfo
	get func(*T) Value
}

func (c *offsetColumn[T]) Value(row Row, _ *model.Contact) Value {
	rec, ok := row.(*T)
	if !ok || rec == nil {
		return Zero(c.kind)
	}
	return c.get(rec)
}

// IntField creates a column reading an integer field of *T.
func IntField[T any](name, description string, get func(*T) int64) Column {
	return &offsetColumn[T]{
		columnInfo: columnInfo{name: name, description: description, kind: KindInt},
		get:        func(r *T) Value { return IntValue(get(r)) },
	}
}

// enumColumn is an integer column whose values all lie in [0,32).
type enumColumn[T any] struct {
	offsetColumn[T]
}

func (*enumColumn[T]) enumerated() {}

// EnumField creates an integer column for a small enumeration. Every value
// get returns must lie in [0,32); filters on the column then bound it by
// a value set.
func EnumField[T any](name, description string, get func(*T) int64) Column {
	return &enumColumn[T]{offsetColumn[T]{
		columnInfo: columnInfo{name: name, description: description, kind: KindInt},
		get:        func(r *T) Value { return IntValue(get(r)) },
	}}
}

// BoolField creates an integer column (0/1) reading a boolean field of *T.
func BoolField[T any](name, description string, get func(*T) bool) Column {
	return IntField(name, description, func(r *T) int64 {
		if get(r) {
			return 1
		}
		return 0
	})
}

// DoubleField creates a column reading a floating point field of *T.
func DoubleField[T any](name, description string, get func(*T) float64) Column {
	return &offsetColumn[T]{
		columnInfo: columnInfo{name: name, description: description, kind: KindDouble},
		get:        func(r *T) Value { return DoubleValue(get(r)) },
	}
}

// StringField creates a column reading a string field of *T.
func StringField[T any](name, description string, get func(*T) string) Column {
	return &offsetColumn[T]{
		columnInfo: columnInfo{name: name, description: description, kind: KindText},
		get:        func(r *T) Value { return TextValue(get(r)) },
	}
}

// TimeField creates a column reading an epoch-seconds field of *T.
func TimeField[T any](name, description string, get func(*T) int64) Column {
	return &offsetColumn[T]{
		columnInfo: columnInfo{name: name, description: description, kind: KindTime},
		get:        func(r *T) Value { return TimeValue(get(r)) },
	}
}

// ListField creates a column reading a string slice field of *T.
func ListField[T any](name, description string, get func(*T) []string) Column {
	return &offsetColumn[T]{
		columnInfo: columnInfo{name: name, description: description, kind: KindList},
		get:        func(r *T) Value { return ListValue(get(r)) },
	}
}

// PairsField creates a column reading custom variables of *T.
func PairsField[T any](name, description string, get func(*T) []model.Variable) Column {
	return &offsetColumn[T]{
		columnInfo: columnInfo{name: name, description: description, kind: KindPairs},
		get: func(r *T) Value {
			vars := get(r)
			if len(vars) == 0 {
				return Zero(KindPairs)
			}
			pairs := make([]Pair, len(vars))
			for i, v := range vars {
				pairs[i] = Pair{Key: v.Name, Value: v.Value}
			}
			return PairsValue(pairs)
		},
	}
}

// derivedColumn computes its value from several fields of a row.
type derivedColumn struct {
	columnInfo
	compute func(Row) Value
}

// Derived creates a computed column. A computation returning a value of
// the wrong kind yields the zero value of the declared kind.
func Derived(name, description string, kind Kind, compute func(Row) Value) Column {
	return &derivedColumn{
		columnInfo: columnInfo{name: name, description: description, kind: kind},
		compute:    compute,
	}
}

func (c *derivedColumn) Value(row Row, _ *model.Contact) Value {
	if row == nil {
		return Zero(c.kind)
	}
	v := c.compute(row)
	if v.Kind() != c.kind {
		return Zero(c.kind)
	}
	return v
}

// relationColumn follows a reference to a related record before reading.
type relationColumn struct {
	columnInfo
	follow func(Row) Row
	inner  Column
}

// Relation exposes inner under prefix+inner.Name() on a table whose rows
// reference inner's subject through follow. follow returns nil when the
// relation is unset.
func Relation(prefix, descPrefix string, follow func(Row) Row, inner Column) Column {
	return &relationColumn{
		columnInfo: columnInfo{
			name:        prefix + inner.Name(),
			description: descPrefix + inner.Description(),
			kind:        inner.Kind(),
		},
		follow: follow,
		inner:  inner,
	}
}

func (c *relationColumn) Value(row Row, viewer *model.Contact) Value {
	target := c.follow(row)
	if isNilRow(target) {
		return Zero(c.kind)
	}
	return c.inner.Value(target, viewer)
}

// authColumn hides the inner value from viewers not allowed to see the row.
type authColumn struct {
	Column
	allow func(row Row, viewer *model.Contact) bool
}

// Authorized wraps inner so that a non-nil viewer failing allow gets the
// zero value of inner's kind. A nil viewer is unrestricted.
func Authorized(inner Column, allow func(row Row, viewer *model.Contact) bool) Column {
	return &authColumn{Column: inner, allow: allow}
}

func (c *authColumn) Value(row Row, viewer *model.Contact) Value {
	if viewer != nil && !c.allow(row, viewer) {
		return Zero(c.Kind())
	}
	return c.Column.Value(row, viewer)
}

// isNilRow catches both untyped nil and typed nil pointers stored in a Row.
func isNilRow(r Row) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *model.Host:
		return v == nil
	case *model.Service:
		return v == nil
	case *model.Contact:
		return v == nil
	case *LogEntry:
		return v == nil
	}
	return false
}
