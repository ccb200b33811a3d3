package lql

import (
	"errors"
	"fmt"
)

var ErrSyntax = errors.New("lql: syntax error")

// Parser parses infix filter expressions such as
//
//	state >= 2 AND (host_name ~ "^web" OR NOT contacts >= admin)
//
// into an AST. NOT binds tighter than AND, which binds tighter than OR.
type Parser struct {
	lexer   *Lexer
	current Token
}

// ParseExpr parses the input string and returns the AST root node.
// Empty input yields a nil node.
func ParseExpr(input string) (Node, error) {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	if p.current.Type == TokenEOF {
		return nil, nil
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected %q", p.current.Value)
	}
	return node, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.current.Pos, fmt.Sprintf(format, args...))
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenOr {
		return left, nil
	}

	exprs := []Node{left}
	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, right)
	}
	return LogicalExpr{Op: "OR", Exprs: exprs}, nil
}

// parseAnd handles AND expressions.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenAnd {
		return left, nil
	}

	exprs := []Node{left}
	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, right)
	}
	return LogicalExpr{Op: "AND", Exprs: exprs}, nil
}

// parseNot handles NOT expressions.
func (p *Parser) parseNot() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		expr, err := p.parseNot() // NOT is right-associative
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles (expr) and column op value.
func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, p.errorf("expected ')' but got %q", p.current.Value)
		}
		p.advance()
		return expr, nil

	case TokenIdent:
		column := p.current.Value
		p.advance()
		if p.current.Type != TokenOp {
			return nil, p.errorf("expected operator after %q", column)
		}
		op := p.current.Value
		p.advance()
		return p.parseValue(column, op)

	case TokenEOF:
		return nil, p.errorf("unexpected end of expression")

	default:
		return nil, p.errorf("unexpected %q", p.current.Value)
	}
}

// parseValue parses the operand after column and operator.
func (p *Parser) parseValue(column, op string) (Node, error) {
	switch p.current.Type {
	case TokenString, TokenIdent:
		value := p.current.Value
		p.advance()
		return CompareExpr{Column: column, Op: op, Operand: value}, nil
	default:
		return nil, p.errorf("expected value after '%s %s'", column, op)
	}
}
