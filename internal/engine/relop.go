package engine

import "fmt"

// RelationalOperator is the comparison a leaf filter applies.
type RelationalOperator int

const (
	OpEqual RelationalOperator = iota
	OpNotEqual
	OpMatches          // ~   regex
	OpDoesntMatch      // !~
	OpEqualICase       // =~
	OpNotEqualICase    // !=~
	OpMatchesICase     // ~~
	OpDoesntMatchICase // !~~
	OpLess
	OpGreaterOrEqual
	OpGreater
	OpLessOrEqual
)

var opNames = [...]string{
	OpEqual:            "=",
	OpNotEqual:         "!=",
	OpMatches:          "~",
	OpDoesntMatch:      "!~",
	OpEqualICase:       "=~",
	OpNotEqualICase:    "!=~",
	OpMatchesICase:     "~~",
	OpDoesntMatchICase: "!~~",
	OpLess:             "<",
	OpGreaterOrEqual:   ">=",
	OpGreater:          ">",
	OpLessOrEqual:      "<=",
}

func (op RelationalOperator) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(op))
	}
	return opNames[op]
}

// Negate returns the complementary operator.
func (op RelationalOperator) Negate() RelationalOperator {
	switch op {
	case OpEqual:
		return OpNotEqual
	case OpNotEqual:
		return OpEqual
	case OpMatches:
		return OpDoesntMatch
	case OpDoesntMatch:
		return OpMatches
	case OpEqualICase:
		return OpNotEqualICase
	case OpNotEqualICase:
		return OpEqualICase
	case OpMatchesICase:
		return OpDoesntMatchICase
	case OpDoesntMatchICase:
		return OpMatchesICase
	case OpLess:
		return OpGreaterOrEqual
	case OpGreaterOrEqual:
		return OpLess
	case OpGreater:
		return OpLessOrEqual
	case OpLessOrEqual:
		return OpGreater
	}
	return op
}

// ParseOperator converts the textual form of an operator.
func ParseOperator(s string) (RelationalOperator, error) {
	for op, name := range opNames {
		if name == s {
			return RelationalOperator(op), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedOperator, s)
}

// compareOrdered applies an equality or ordering operator to two values.
func compareOrdered[T int64 | float64 | string](op RelationalOperator, a, b T) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpLess:
		return a < b
	case OpGreaterOrEqual:
		return a >= b
	case OpGreater:
		return a > b
	case OpLessOrEqual:
		return a <= b
	}
	return false
}

func isOrdering(op RelationalOperator) bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpGreaterOrEqual, OpGreater, OpLessOrEqual:
		return true
	}
	return false
}
