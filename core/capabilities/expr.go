package capabilities

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyExpression is returned by Compile when nothing survives sanitizing.
var ErrEmptyExpression = errors.New("empty capability expression")

// Sanitize drops every character outside [a-z0-9_:\-./&|!()] (any case).
// Whitespace is kept as a term separator.
func Sanitize(expr string) string {
	var b strings.Builder
	b.Grow(len(expr))
	for _, r := range expr {
		switch {
		case isIdentRune(r):
			b.WriteRune(r)
		case r == '&' || r == '|' || r == '!' || r == '(' || r == ')':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == ':' || r == '-' || r == '.' || r == '/':
		return true
	}
	return false
}

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
)

func (t tokenType) String() string {
	switch t {
	case tokenEOF:
		return "end of expression"
	case tokenIdent:
		return "identifier"
	case tokenAnd:
		return "&&"
	case tokenOr:
		return "||"
	case tokenNot:
		return "!"
	case tokenLParen:
		return "("
	case tokenRParen:
		return ")"
	}
	return "unknown"
}

type token struct {
	typ     tokenType
	literal string
	pos     int
}

type lexer struct {
	input  string
	offset int
}

func (l *lexer) next() token {
	for l.offset < len(l.input) && l.input[l.offset] == ' ' {
		l.offset++
	}
	if l.offset >= len(l.input) {
		return token{typ: tokenEOF, pos: l.offset}
	}
	start := l.offset
	ch := l.input[l.offset]
	switch ch {
	case '&', '|':
		l.offset++
		// "&" and "|" are accepted as aliases; on booleans they agree with "&&"/"||".
		if l.offset < len(l.input) && l.input[l.offset] == ch {
			l.offset++
		}
		if ch == '&' {
			return token{typ: tokenAnd, literal: "&&", pos: start}
		}
		return token{typ: tokenOr, literal: "||", pos: start}
	case '!':
		l.offset++
		return token{typ: tokenNot, literal: "!", pos: start}
	case '(':
		l.offset++
		return token{typ: tokenLParen, literal: "(", pos: start}
	case ')':
		l.offset++
		return token{typ: tokenRParen, literal: ")", pos: start}
	}
	for l.offset < len(l.input) && isIdentRune(rune(l.input[l.offset])) {
		l.offset++
	}
	if l.offset == start {
		l.offset++
		return l.next()
	}
	return token{typ: tokenIdent, literal: strings.ToLower(l.input[start:l.offset]), pos: start}
}

// node is a compiled expression tree. Only identifiers, !, && and || exist,
// so evaluation cannot reach anything but the lookup function.
type node interface {
	eval(lookup func(string) bool) bool
	String() string
}

type identNode struct{ name string }

func (n identNode) eval(lookup func(string) bool) bool { return lookup(n.name) }
func (n identNode) String() string                     { return n.name }

type notNode struct{ operand node }

func (n notNode) eval(lookup func(string) bool) bool { return !n.operand.eval(lookup) }
func (n notNode) String() string                     { return "!" + n.operand.String() }

type binaryNode struct {
	op          tokenType
	left, right node
}

func (n binaryNode) eval(lookup func(string) bool) bool {
	if n.op == tokenAnd {
		return n.left.eval(lookup) && n.right.eval(lookup)
	}
	return n.left.eval(lookup) || n.right.eval(lookup)
}

func (n binaryNode) String() string {
	return "(" + n.left.String() + " " + n.op.String() + " " + n.right.String() + ")"
}

const (
	precLowest = iota
	precOr
	precAnd
	precPrefix
)

type parser struct {
	lex  *lexer
	cur  token
	peek token
}

func newParser(input string) *parser {
	p := &parser{lex: &lexer{input: input}}
	p.advance()
	p.advance()
	return p
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.next()
}

// infixPrecedence treats a term that directly follows another term as an
// implicit &&.
func infixPrecedence(t tokenType) int {
	switch t {
	case tokenOr:
		return precOr
	case tokenAnd, tokenIdent, tokenNot, tokenLParen:
		return precAnd
	}
	return precLowest
}

func (p *parser) parseExpression(prec int) (node, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for p.peek.typ != tokenEOF && prec < infixPrecedence(p.peek.typ) {
		op := p.peek.typ
		next := infixPrecedence(op)
		if op == tokenAnd || op == tokenOr {
			p.advance()
		} else {
			op = tokenAnd
		}
		p.advance()
		right, err := p.parseExpression(next)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrefix() (node, error) {
	switch p.cur.typ {
	case tokenIdent:
		return identNode{name: p.cur.literal}, nil
	case tokenNot:
		p.advance()
		operand, err := p.parseExpression(precPrefix)
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	case tokenLParen:
		p.advance()
		inner, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		if p.peek.typ != tokenRParen {
			return nil, fmt.Errorf("expected ) at %d, got %s", p.peek.pos, p.peek.typ)
		}
		p.advance()
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected %s at %d", p.cur.typ, p.cur.pos)
}

// Expr is a compiled capability expression.
type Expr struct {
	source string
	root   node
	idents []string
}

// Compile sanitizes expr and parses it into an Expr.
func Compile(expr string) (*Expr, error) {
	clean := Sanitize(expr)
	if clean == "" {
		return nil, ErrEmptyExpression
	}
	p := newParser(clean)
	root, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", clean, err)
	}
	if p.peek.typ != tokenEOF {
		return nil, fmt.Errorf("compile %q: unexpected %s at %d", clean, p.peek.typ, p.peek.pos)
	}
	return &Expr{source: clean, root: root, idents: collectIdents(root, nil)}, nil
}

// Eval evaluates the expression; lookup receives lower-cased identifiers.
func (e *Expr) Eval(lookup func(id string) bool) bool {
	if e == nil || e.root == nil {
		return true
	}
	return e.root.eval(lookup)
}

// Source returns the sanitized input the expression was compiled from.
func (e *Expr) Source() string { return e.source }

// Identifiers lists the distinct identifiers referenced by the expression.
func (e *Expr) Identifiers() []string {
	return append([]string(nil), e.idents...)
}

// String renders the fully parenthesized tree.
func (e *Expr) String() string {
	if e == nil || e.root == nil {
		return ""
	}
	return e.root.String()
}

func collectIdents(n node, acc []string) []string {
	switch v := n.(type) {
	case identNode:
		for _, seen := range acc {
			if seen == v.name {
				return acc
			}
		}
		return append(acc, v.name)
	case notNode:
		return collectIdents(v.operand, acc)
	case binaryNode:
		acc = collectIdents(v.left, acc)
		return collectIdents(v.right, acc)
	}
	return acc
}
