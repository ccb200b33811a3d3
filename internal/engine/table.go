package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RowSource iterates the rows of a table. The filter and timezone offset
// are passed along so that sources able to prune (the log) can use the
// filter's bounds; visit returning false stops the scan.
type RowSource interface {
	Scan(ctx context.Context, f Filter, tz time.Duration, visit func(Row) bool) error
}

// RowSourceFunc adapts a plain function to RowSource.
type RowSourceFunc func(ctx context.Context, f Filter, tz time.Duration, visit func(Row) bool) error

func (fn RowSourceFunc) Scan(ctx context.Context, f Filter, tz time.Duration, visit func(Row) bool) error {
	return fn(ctx, f, tz, visit)
}

// SliceSource builds a RowSource over a snapshot function such as
// (*model.Store).Hosts. The snapshot is taken once per scan.
func SliceSource[T any](snapshot func() []*T) RowSource {
	return RowSourceFunc(func(ctx context.Context, _ Filter, _ time.Duration, visit func(Row) bool) error {
		for _, rec := range snapshot() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !visit(rec) {
				return nil
			}
		}
		return nil
	})
}

// Table is the column registry for one subject type. Columns are added
// during setup only; afterwards the table is read-only and may be shared
// by concurrent queries.
type Table struct {
	name    string
	log     *zap.Logger
	columns map[string]Column
	order   []Column
	source  RowSource
}

// NewTable creates an empty table. A nil logger disables diagnostics.
func NewTable(name string, source RowSource, log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{
		name:    name,
		log:     log,
		columns: make(map[string]Column),
		source:  source,
	}
}

func (t *Table) Name() string { return t.name }

// AddColumn registers col under its name. If the name is already taken
// the earlier column wins and col is dropped.
func (t *Table) AddColumn(col Column) {
	if _, exists := t.columns[col.Name()]; exists {
		t.log.Info("duplicate column discarded",
			zap.String("table", t.name),
			zap.String("column", col.Name()))
		return
	}
	t.columns[col.Name()] = col
	t.order = append(t.order, col)
}

// HasColumn reports whether this exact column instance is registered.
// Linear in the number of columns; not used on the scan path.
func (t *Table) HasColumn(col Column) bool {
	for _, c := range t.order {
		if c == col {
			return true
		}
	}
	return false
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.columns[name]
	return c, ok
}

// ForEachColumn visits all columns in registration order.
func (t *Table) ForEachColumn(visit func(Column)) {
	for _, c := range t.order {
		visit(c)
	}
}

// Columns returns the columns in registration order.
func (t *Table) Columns() []Column {
	return append([]Column(nil), t.order...)
}

// Len returns the number of registered columns.
func (t *Table) Len() int { return len(t.order) }

// Scan iterates the table's rows.
func (t *Table) Scan(ctx context.Context, f Filter, tz time.Duration, visit func(Row) bool) error {
	if t.source == nil {
		return nil
	}
	return t.source.Scan(ctx, f, tz, visit)
}
