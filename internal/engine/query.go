package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/coffersTech/livequery/internal/model"
	"github.com/coffersTech/livequery/internal/pkg/lql"
	"go.uber.org/zap"
)

// Request describes one query against a catalog table.
type Request struct {
	Table   string
	Columns []string // empty selects all columns in registration order
	// Filter is used as is when set; otherwise Expr is bound to the table.
	Filter   Filter
	Expr     lql.Node
	AuthUser string
	Timezone time.Duration
	Limit    int // 0 means unlimited
}

// RequestFromLQL converts a parsed LQL request.
func RequestFromLQL(r *lql.Request) Request {
	return Request{
		Table:    r.Table,
		Columns:  r.Columns,
		Expr:     r.Filter,
		AuthUser: r.AuthUser,
		Timezone: r.Timezone,
		Limit:    r.Limit,
	}
}

// Result holds the projected rows of a query.
type Result struct {
	Columns []string           `json:"columns"`
	Rows    []map[string]Value `json:"rows"`
}

// Query is a request bound to a table. It is safe to execute more than
// once; every execution scans afresh.
type Query struct {
	table   *Table
	columns []Column
	filter  Filter
	viewer  *model.Contact
	tz      time.Duration
	limit   int
	log     *zap.Logger
}

// NewQuery resolves the table, projection, filter and viewer of req.
func (c *Catalog) NewQuery(req Request) (*Query, error) {
	table, err := c.Table(req.Table)
	if err != nil {
		return nil, err
	}
	viewer, err := c.Viewer(req.AuthUser)
	if err != nil {
		return nil, err
	}

	var columns []Column
	if len(req.Columns) == 0 {
		columns = table.Columns()
	} else {
		columns = make([]Column, 0, len(req.Columns))
		for _, name := range req.Columns {
			col, ok := table.Column(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Name(), name)
			}
			columns = append(columns, col)
		}
	}

	filter := req.Filter
	if filter == nil {
		if filter, err = BuildFilter(table, req.Expr, req.Timezone); err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
	}

	limit := req.Limit
	if limit < 0 {
		limit = 0
	}
	return &Query{
		table:   table,
		columns: columns,
		filter:  filter,
		viewer:  viewer,
		tz:      req.Timezone,
		limit:   limit,
		log:     c.log.With(zap.String("table", table.Name())),
	}, nil
}

func (q *Query) Table() *Table { return q.table }
func (q *Query) Filter() Filter { return q.filter }
func (q *Query) Columns() []Column {
	return append([]Column(nil), q.columns...)
}

// Execute scans the table, newest rows first for the log, and returns
// the projection of every accepted row up to the limit.
func (q *Query) Execute(ctx context.Context) (*Result, error) {
	start := time.Now()
	name := q.table.Name()
	QueriesTotal.WithLabelValues(name).Inc()
	defer func() {
		QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	res := &Result{
		Columns: make([]string, len(q.columns)),
		Rows:    []map[string]Value{},
	}
	for i, col := range q.columns {
		res.Columns[i] = col.Name()
	}

	var scanned, matched int
	err := q.table.Scan(ctx, q.filter, q.tz, func(row Row) bool {
		scanned++
		if !q.filter.Accepts(row, q.viewer, q.tz) {
			return true
		}
		matched++
		res.Rows = append(res.Rows, q.project(row))
		return q.limit == 0 || len(res.Rows) < q.limit
	})
	RowsScanned.WithLabelValues(name).Add(float64(scanned))
	RowsMatched.WithLabelValues(name).Add(float64(matched))
	if err != nil {
		return nil, err
	}

	q.log.Debug("query executed",
		zap.Stringer("filter", q.filter),
		zap.Int("scanned", scanned),
		zap.Int("matched", matched),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (q *Query) project(row Row) map[string]Value {
	out := make(map[string]Value, len(q.columns))
	for _, col := range q.columns {
		out[col.Name()] = col.Value(row, q.viewer)
	}
	return out
}
