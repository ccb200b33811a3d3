package lql

import "strings"

// Node is the interface implemented by all AST nodes.
type Node interface {
	node() // marker method
	String() string
}

// LogicalExpr combines its children with "AND" or "OR". An AND without
// children is true, an OR without children is false.
type LogicalExpr struct {
	Op    string // "AND" or "OR"
	Exprs []Node
}

func (LogicalExpr) node() {}

func (e LogicalExpr) String() string {
	parts := make([]string, len(e.Exprs))
	for i, x := range e.Exprs {
		parts[i] = x.String()
	}
	return "(" + strings.Join(parts, " "+e.Op+" ") + ")"
}

// CompareExpr compares one column against an operand.
type CompareExpr struct {
	Column  string
	Op      string // one of Operators
	Operand string
}

func (CompareExpr) node() {}

func (e CompareExpr) String() string {
	return e.Column + " " + e.Op + " " + quote(e.Operand)
}

// NotExpr negates its inner expression.
type NotExpr struct {
	Expr Node
}

func (NotExpr) node() {}

func (e NotExpr) String() string { return "NOT " + e.Expr.String() }

func quote(s string) string {
	if isBareWord(s) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
