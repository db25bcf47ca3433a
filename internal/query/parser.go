// Package query implements a small filter language for catalog entities.
//
// Examples:
//
//	db-1                       identifier contains "db-1"
//	blueprint:service          entity was retrieved under a blueprint containing "service"
//	prop:'language=go'         some property key=value pair contains "language=go"
//	team~'^platform' !title:x  regex match on a team, and title does not contain "x"
//	(a OR b) AND rel:cluster   grouping, explicit operators
package query

import (
	"fmt"
	"strings"
	"unicode"
)

// Expression is a node of the parsed filter.
type Expression interface {
	String() string
}

// Term matches against the entity identifier.
type Term struct {
	Value string
}

func (t *Term) String() string {
	return quoteIfNeeded(t.Value)
}

// AttributeTerm is an attr:value (substring) or attr~value (regex) test.
type AttributeTerm struct {
	Attribute string
	Operator  string
	Value     string
}

func (a *AttributeTerm) String() string {
	return a.Attribute + a.Operator + quoteIfNeeded(a.Value)
}

type NotExpression struct {
	Expression Expression
}

func (n *NotExpression) String() string {
	return "!" + n.Expression.String()
}

// BinaryExpression joins two expressions with "AND" or "OR".
type BinaryExpression struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (b *BinaryExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Operator, b.Right)
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, isSpecial) {
		return "'" + s + "'"
	}
	return s
}

func isSpecial(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune("()!:~'\"", r)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokColon
	tokTilde
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokWord:
		return "word"
	case tokString:
		return "quoted string"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "'!'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokColon:
		return "':'"
	case tokTilde:
		return "'~'"
	}
	return "unknown"
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// tokenize splits the input into tokens. Unterminated quotes are an error.
func tokenize(input string) ([]token, error) {
	rs := []rune(input)
	var toks []token
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '!':
			toks = append(toks, token{tokNot, "!", i})
			i++
		case r == ':':
			toks = append(toks, token{tokColon, ":", i})
			i++
		case r == '~':
			toks = append(toks, token{tokTilde, "~", i})
			i++
		case r == '\'' || r == '"':
			end := i + 1
			for end < len(rs) && rs[end] != r {
				end++
			}
			if end == len(rs) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			toks = append(toks, token{tokString, string(rs[i+1 : end]), i})
			i = end + 1
		default:
			start := i
			for i < len(rs) && !isSpecial(rs[i]) {
				i++
			}
			word := string(rs[start:i])
			switch word {
			case "AND":
				toks = append(toks, token{tokAnd, word, start})
			case "OR":
				toks = append(toks, token{tokOr, word, start})
			default:
				toks = append(toks, token{tokWord, word, start})
			}
		}
	}
	return append(toks, token{tokEOF, "", len(rs)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// Parse parses a filter expression. OR binds weakest, then AND (explicit or
// implied by juxtaposition), then '!'.
func Parse(input string) (Expression, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at position %d", t.kind, t.pos)
	}
	return expr, nil
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Left: left, Operator: "OR", Right: right}
	}
	return left, nil
}

func startsTerm(k tokenKind) bool {
	return k == tokWord || k == tokString || k == tokNot || k == tokLParen
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		if k == tokAnd {
			p.next()
		} else if !startsTerm(k) {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Left: left, Operator: "AND", Right: right}
	}
}

func (p *parser) parseUnary() (Expression, error) {
	t := p.next()
	switch t.kind {
	case tokNot:
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpression{Expression: inner}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at position %d, got %s", c.pos, c.kind)
		}
		return inner, nil
	case tokString:
		return &Term{Value: t.text}, nil
	case tokWord:
		if op := p.peek(); op.kind == tokColon || op.kind == tokTilde {
			p.next()
			v := p.next()
			if v.kind != tokWord && v.kind != tokString {
				return nil, fmt.Errorf("expected value after %s%s at position %d, got %s", t.text, op.text, v.pos, v.kind)
			}
			return &AttributeTerm{Attribute: t.text, Operator: op.text, Value: v.text}, nil
		}
		return &Term{Value: t.text}, nil
	}
	return nil, fmt.Errorf("unexpected %s at position %d", t.kind, t.pos)
}
