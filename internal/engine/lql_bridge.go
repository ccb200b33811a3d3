package engine

import (
	"fmt"
	"time"

	"github.com/coffersTech/livequery/internal/pkg/lql"
)

// BuildFilter binds a parsed LQL expression to the columns of table.
// A nil node accepts every row.
func BuildFilter(table *Table, node lql.Node, tz time.Duration) (Filter, error) {
	if node == nil {
		return And(), nil
	}

	switch n := node.(type) {
	case lql.CompareExpr:
		col, ok := table.Column(n.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Name(), n.Column)
		}
		op, err := ParseOperator(n.Op)
		if err != nil {
			return nil, err
		}
		return NewColumnFilter(col, op, n.Operand, tz)

	case lql.NotExpr:
		child, err := BuildFilter(table, n.Expr, tz)
		if err != nil {
			return nil, err
		}
		return Not(child), nil

	case lql.LogicalExpr:
		children := make([]Filter, len(n.Exprs))
		for i, x := range n.Exprs {
			child, err := BuildFilter(table, x, tz)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		switch n.Op {
		case "AND":
			return And(children...), nil
		case "OR":
			return Or(children...), nil
		}
		return nil, fmt.Errorf("%w: logical operator %q", ErrUnsupportedOperator, n.Op)
	}
	return nil, fmt.Errorf("%w: node %T", ErrUnsupportedOperator, node)
}
