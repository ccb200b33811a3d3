package lql

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenOp
	TokenLParen
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
	TokenIllegal
)

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Operators lists the relational operators, longest first so that the
// lexer can match greedily.
var Operators = []string{"!=~", "!~~", "!=", "!~", "=~", "~~", "<=", ">=", "=", "~", "<", ">"}

func isOperator(s string) bool {
	for _, op := range Operators {
		if op == s {
			return true
		}
	}
	return false
}

var keywords = map[string]TokenType{
	"AND": TokenAnd,
	"OR":  TokenOr,
	"NOT": TokenNot,
}

// Lexer tokenizes filter expressions.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, pos: 0}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: start}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: start}
	case '"':
		return l.readString()
	}

	for _, op := range Operators {
		if strings.HasPrefix(l.input[l.pos:], op) {
			l.pos += len(op)
			return Token{Type: TokenOp, Value: op, Pos: start}
		}
	}

	if isIdentChar(ch) {
		return l.readIdent()
	}

	l.pos++
	return Token{Type: TokenIllegal, Value: string(ch), Pos: start}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

// readString reads a double-quoted string; \" and \\ are unescaped.
// An unterminated string is illegal.
func (l *Lexer) readString() Token {
	start := l.pos
	l.pos++ // skip opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.input):
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case ch == '"':
			l.pos++
			return Token{Type: TokenString, Value: b.String(), Pos: start}
		default:
			b.WriteByte(ch)
			l.pos++
		}
	}
	return Token{Type: TokenIllegal, Value: l.input[start:], Pos: start}
}

func (l *Lexer) readIdent() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	value := l.input[start:l.pos]

	if typ, ok := keywords[strings.ToUpper(value)]; ok {
		return Token{Type: typ, Value: strings.ToUpper(value), Pos: start}
	}
	return Token{Type: TokenIdent, Value: value, Pos: start}
}

func isIdentChar(ch byte) bool {
	r := rune(ch)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.IndexByte("_-.:/@+*^$[]{}|?,", ch) >= 0
}

// isBareWord reports whether s lexes back as a single identifier.
func isBareWord(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	_, kw := keywords[strings.ToUpper(s)]
	return !kw
}
