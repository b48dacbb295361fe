// Package calc evaluates arithmetic expressions over numeric literals.
//
// The accepted grammar is
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/" | "%") unary }
//	unary   = ("+" | "-") unary | power
//	power   = primary [ "**" unary ]
//	primary = number | "(" expr ")"
//
// There are no identifiers, calls or attribute access. The lexer rejects any
// character outside digits, '.', 'e'/'E' inside a number, operators,
// parentheses and whitespace before parsing starts.
package calc

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	maxLength = 1024
	maxDepth  = 64
)

var (
	// ErrDisallowed is returned for input containing anything other than
	// numbers, operators and parentheses.
	ErrDisallowed = errors.New("disallowed token")

	ErrSyntax         = errors.New("syntax error")
	ErrDivisionByZero = errors.New("division by zero")
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// Eval evaluates expr and returns its value.
func Eval(expr string) (float64, error) {
	if len(expr) > maxLength {
		return 0, fmt.Errorf("%w: expression longer than %d characters", ErrSyntax, maxLength)
	}
	toks, err := lex(expr)
	if err != nil {
		return 0, err
	}

	p := &parser{toks: toks}
	v, err := p.expr(0)
	if err != nil {
		return 0, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: result is not a finite number", ErrSyntax)
	}
	return v, nil
}

// Format renders v the way a person would write it: integral values below
// 1e21 in full without a fractional part, everything else in the shortest
// exact form.
func Format(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e21 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || c == '.':
			n, err := scanNumber(s, i)
			if err != nil {
				return nil, err
			}
			v, err := strconv.ParseFloat(s[i:i+n], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, s[i:i+n])
			}
			toks = append(toks, token{kind: tokNumber, text: s[i : i+n], num: v, pos: i})
			i += n
		case c == '*' && i+1 < len(s) && s[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "**", pos: i})
			i += 2
		case strings.IndexByte("+-*/%", c) >= 0:
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			return nil, fmt.Errorf("%w: %q at position %d", ErrDisallowed, rune(s[i]), i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

// scanNumber returns the length of the numeric literal starting at s[i].
// A letter directly after a number (e.g. "1e", "2abc", "0x1") is rejected
// as a disallowed token rather than split.
func scanNumber(s string, i int) (int, error) {
	j := i
	digits := 0
	for j < len(s) && isDigit(s[j]) {
		j++
		digits++
	}
	if j < len(s) && s[j] == '.' {
		j++
		for j < len(s) && isDigit(s[j]) {
			j++
			digits++
		}
	}
	if digits == 0 {
		return 0, fmt.Errorf("%w: '.' at position %d", ErrDisallowed, i)
	}
	if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
		k := j + 1
		if k < len(s) && (s[k] == '+' || s[k] == '-') {
			k++
		}
		if k < len(s) && isDigit(s[k]) {
			for k < len(s) && isDigit(s[k]) {
				k++
			}
			j = k
		}
	}
	if j < len(s) && (isLetter(s[j]) || s[j] == '.') {
		return 0, fmt.Errorf("%w: %q at position %d", ErrDisallowed, rune(s[j]), j)
	}
	return j - i, nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) expr(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("%w: expression nested too deeply", ErrSyntax)
	}
	v, err := p.term(depth)
	if err != nil {
		return 0, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return v, nil
		}
		p.next()
		rhs, err := p.term(depth)
		if err != nil {
			return 0, err
		}
		if t.text == "+" {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

func (p *parser) term(depth int) (float64, error) {
	v, err := p.unary(depth)
	if err != nil {
		return 0, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "%") {
			return v, nil
		}
		p.next()
		rhs, err := p.unary(depth)
		if err != nil {
			return 0, err
		}
		switch t.text {
		case "*":
			v *= rhs
		case "/":
			if rhs == 0 {
				return 0, ErrDivisionByZero
			}
			v /= rhs
		case "%":
			if rhs == 0 {
				return 0, ErrDivisionByZero
			}
			// Floored modulo, the sign follows the divisor.
			v = v - rhs*math.Floor(v/rhs)
		}
	}
}

func (p *parser) unary(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("%w: expression nested too deeply", ErrSyntax)
	}
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		v, err := p.unary(depth + 1)
		if err != nil {
			return 0, err
		}
		if t.text == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.power(depth)
}

func (p *parser) power(depth int) (float64, error) {
	base, err := p.primary(depth)
	if err != nil {
		return 0, err
	}
	t := p.peek()
	if t.kind != tokOp || t.text != "**" {
		return base, nil
	}
	p.next()
	exp, err := p.unary(depth + 1)
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *parser) primary(depth int) (float64, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return t.num, nil
	case tokLParen:
		v, err := p.expr(depth + 1)
		if err != nil {
			return 0, err
		}
		if r := p.next(); r.kind != tokRParen {
			return 0, fmt.Errorf("%w: expected ')' at %d", ErrSyntax, r.pos)
		}
		return v, nil
	case tokEOF:
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	default:
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
}
