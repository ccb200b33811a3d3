package lql

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Request is a parsed query request.
type Request struct {
	Table    string
	Columns  []string // empty means all columns
	Filter   Node     // nil means no filter
	Limit    int      // 0 means no limit
	AuthUser string
	// Timezone is the client clock offset derived from Localtime,
	// rounded to half hours.
	Timezone time.Duration
}

// headers that are accepted for compatibility and otherwise ignored.
var ignoredHeaders = map[string]bool{
	"OutputFormat":   true,
	"ColumnHeaders":  true,
	"ResponseHeader": true,
	"KeepAlive":      true,
}

// ParseRequest parses a request of the form
//
//	GET services
//	Columns: host_name description state
//	Filter: state >= 2
//	Filter: host_name ~ ^web
//	Or: 2
//	Limit: 10
//
// Filter and Where lines push onto a stack; And: n and Or: n replace the
// top n entries by their conjunction or disjunction, Negate: replaces
// the top entry by its negation. Whatever remains is ANDed.
func ParseRequest(text string) (*Request, error) {
	return ParseRequestAt(text, time.Now())
}

// ParseRequestAt is ParseRequest with an explicit current time, used to
// derive the timezone offset from a Localtime header.
func ParseRequestAt(text string, now time.Time) (*Request, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return nil, fmt.Errorf("%w: empty request", ErrSyntax)
	}
	method, table, _ := strings.Cut(strings.TrimSpace(lines[i]), " ")
	table = strings.TrimSpace(table)
	if method != "GET" || table == "" {
		return nil, fmt.Errorf("%w: line %d: expected 'GET <table>'", ErrSyntax, i+1)
	}

	req := &Request{Table: table}
	var stack []Node
	for n, line := range lines[i+1:] {
		lineno := i + n + 2
		if strings.TrimSpace(line) == "" {
			break // an empty line ends the request
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: missing ':' in header", ErrSyntax, lineno)
		}
		value = strings.TrimPrefix(value, " ")

		var err error
		switch name {
		case "Columns":
			req.Columns = strings.Fields(value)
		case "Filter":
			var node Node
			if node, err = parseFilterLine(value); err == nil {
				stack = append(stack, node)
			}
		case "Where":
			var node Node
			if node, err = ParseExpr(value); err == nil && node != nil {
				stack = append(stack, node)
			}
		case "And", "Or":
			stack, err = combine(stack, name, value)
		case "Negate":
			if len(stack) == 0 {
				err = fmt.Errorf("%w: nothing to negate", ErrSyntax)
			} else {
				stack[len(stack)-1] = NotExpr{Expr: stack[len(stack)-1]}
			}
		case "Limit":
			req.Limit, err = parseCount(value)
		case "AuthUser":
			req.AuthUser = strings.TrimSpace(value)
		case "Localtime":
			req.Timezone, err = parseLocaltime(value, now)
		default:
			if !ignoredHeaders[name] {
				err = fmt.Errorf("%w: unknown header %q", ErrSyntax, name)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
	}

	switch len(stack) {
	case 0:
	case 1:
		req.Filter = stack[0]
	default:
		req.Filter = LogicalExpr{Op: "AND", Exprs: stack}
	}
	return req, nil
}

// parseFilterLine splits "<column> <op> <operand>". The operand is the
// rest of the line and may be empty or contain spaces.
func parseFilterLine(value string) (Node, error) {
	column, rest, _ := strings.Cut(strings.TrimLeft(value, " "), " ")
	op, operand, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	if column == "" || op == "" {
		return nil, fmt.Errorf("%w: filter needs column and operator", ErrSyntax)
	}
	if !isOperator(op) {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrSyntax, op)
	}
	return CompareExpr{Column: column, Op: op, Operand: operand}, nil
}

func combine(stack []Node, header, value string) ([]Node, error) {
	n, err := parseCount(value)
	if err != nil {
		return stack, err
	}
	if n > len(stack) {
		return stack, fmt.Errorf("%w: %s: %d but only %d filters on the stack", ErrSyntax, header, n, len(stack))
	}
	if n == 1 {
		return stack, nil
	}
	top := len(stack) - n
	exprs := append([]Node(nil), stack[top:]...)
	return append(stack[:top], LogicalExpr{Op: strings.ToUpper(header), Exprs: exprs}), nil
}

func parseCount(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: expected a non-negative integer, got %q", ErrSyntax, value)
	}
	return n, nil
}

// parseLocaltime turns the client's clock reading into an offset from
// now, rounded to the nearest half hour.
func parseLocaltime(value string, now time.Time) (time.Duration, error) {
	local, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid Localtime %q", ErrSyntax, value)
	}
	const halfHour = 1800
	diff := float64(local - now.Unix())
	rounded := int64(math.Round(diff/halfHour)) * halfHour
	return time.Duration(rounded) * time.Second, nil
}
