package expr

import (
	"fmt"

	"github.com/ksp-kos/kasm/internal/lexer"
)

// DefLookup resolves a zero-arity single-line definition by name to its
// replacement token stream, so the evaluator can recursively fold it.
// internal/preprocess implements this; kept as an interface here to avoid
// a package cycle (the preprocessor also needs the evaluator, for .if
// conditions and .rep counts).
type DefLookup interface {
	LookupZeroArityDef(name string) ([]lexer.Token, bool)
}

// Evaluator evaluates constant expressions over a token slice.
type Evaluator struct {
	defs    DefLookup
	visited map[string]bool // guards against definition reference cycles
	depth   int
}

// NewEvaluator creates an Evaluator that resolves bare identifiers
// through defs (may be nil if the expression cannot reference
// definitions; every identifier other than true/false is then an
// error). A definition's replacement list is evaluated recursively on
// the same Evaluator, sharing its visited-set.
func NewEvaluator(defs DefLookup) *Evaluator {
	return &Evaluator{defs: defs, visited: make(map[string]bool)}
}

type parser struct {
	toks []lexer.Token
	pos  int
	eval *Evaluator
}

// Eval parses and folds the expression spanning toks (no trailing
// newline/EOF required; the caller slices exactly the expression
// tokens).
func (e *Evaluator) Eval(toks []lexer.Token) (Value, error) {
	p := &parser{toks: toks, eval: e}
	v, err := p.parseOr()
	if err != nil {
		return Value{}, err
	}
	if p.pos != len(p.toks) {
		return Value{}, fmt.Errorf("%s: unexpected token %q", p.cur().Span, p.cur().Text)
	}
	return v, nil
}

func (p *parser) cur() lexer.Token {
	if p.pos >= len(p.toks) {
		return lexer.Token{Kind: lexer.EndOfFile, Text: "<eof>"}
	}
	return p.toks[p.pos]
}

func (p *parser) advance() lexer.Token {
	t := p.cur()
	p.pos++
	return t
}

func (p *parser) isPunct(s string) bool {
	t := p.cur()
	return t.Kind == lexer.Punctuator && t.Text == s
}

// parseOr / parseAnd / parseEquality / parseRelational / parseAdditive /
// parseMultiplicative / parseUnary / parsePrimary implement the
// precedence table, lowest to highest.

func (p *parser) parseOr() (Value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return Value{}, err
	}
	for p.isPunct("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return Value{}, err
		}
		left, err = logicalOp(left, right, "||")
		if err != nil {
			return Value{}, err
		}
	}
	return left, nil
}

func (p *parser) parseAnd() (Value, error) {
	left, err := p.parseEquality()
	if err != nil {
		return Value{}, err
	}
	for p.isPunct("&&") {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return Value{}, err
		}
		left, err = logicalOp(left, right, "&&")
		if err != nil {
			return Value{}, err
		}
	}
	return left, nil
}

func (p *parser) parseEquality() (Value, error) {
	left, err := p.parseRelational()
	if err != nil {
		return Value{}, err
	}
	for p.isPunct("==") || p.isPunct("!=") {
		op := p.advance().Text
		right, err := p.parseRelational()
		if err != nil {
			return Value{}, err
		}
		left, err = equalityOp(left, right, op)
		if err != nil {
			return Value{}, err
		}
	}
	return left, nil
}

func (p *parser) parseRelational() (Value, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return Value{}, err
	}
	for p.isPunct("<") || p.isPunct("<=") || p.isPunct(">") || p.isPunct(">=") {
		op := p.advance().Text
		right, err := p.parseAdditive()
		if err != nil {
			return Value{}, err
		}
		left, err = relationalOp(left, right, op)
		if err != nil {
			return Value{}, err
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Value, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return Value{}, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.advance().Text
		right, err := p.parseMultiplicative()
		if err != nil {
			return Value{}, err
		}
		left, err = arithOp(left, right, op)
		if err != nil {
			return Value{}, err
		}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return Value{}, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.advance().Text
		right, err := p.parseUnary()
		if err != nil {
			return Value{}, err
		}
		left, err = arithOp(left, right, op)
		if err != nil {
			return Value{}, err
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (Value, error) {
	if p.isPunct("-") || p.isPunct("~") || p.isPunct("!") {
		op := p.advance().Text
		v, err := p.parseUnary()
		if err != nil {
			return Value{}, err
		}
		return unaryOp(v, op)
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Value, error) {
	t := p.cur()
	switch {
	case t.Kind == lexer.Integer:
		p.advance()
		return Int(t.Int()), nil
	case t.Kind == lexer.Double:
		p.advance()
		return Dbl(t.Float()), nil
	case t.Kind == lexer.String:
		p.advance()
		return Str(t.Str()), nil
	case t.Kind == lexer.Punctuator && t.Text == "#":
		p.advance()
		return NullV(), nil
	case t.Kind == lexer.Punctuator && t.Text == "@":
		p.advance()
		return ArgMarkerV(), nil
	case t.Kind == lexer.Punctuator && t.Text == "(":
		p.advance()
		v, err := p.parseOr()
		if err != nil {
			return Value{}, err
		}
		if !p.isPunct(")") {
			return Value{}, fmt.Errorf("%s: expected ')'", p.cur().Span)
		}
		p.advance()
		return v, nil
	case t.Kind == lexer.Identifier:
		p.advance()
		return p.eval.resolveIdentifier(t)
	default:
		return Value{}, fmt.Errorf("%s: unexpected token %q in expression", t.Span, t.Text)
	}
}

func (e *Evaluator) resolveIdentifier(t lexer.Token) (Value, error) {
	name := t.Str()
	if name == "true" {
		return Bln(true), nil
	}
	if name == "false" {
		return Bln(false), nil
	}
	if e.defs == nil {
		return Value{}, fmt.Errorf("%s: undefined identifier %q", t.Span, name)
	}
	if e.visited[name] {
		return Value{}, fmt.Errorf("%s: cyclic definition reference: %s", t.Span, name)
	}
	body, ok := e.defs.LookupZeroArityDef(name)
	if !ok {
		return Value{}, fmt.Errorf("%s: undefined identifier %q", t.Span, name)
	}
	e.visited[name] = true
	defer delete(e.visited, name)
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > 256 {
		return Value{}, fmt.Errorf("%s: expression recursion too deep resolving %q", t.Span, name)
	}
	return e.Eval(body)
}

func logicalOp(a, b Value, op string) (Value, error) {
	if a.Kind != Bool || b.Kind != Bool {
		return Value{}, fmt.Errorf("operator %q requires boolean operands, got %s and %s", op, a.Kind, b.Kind)
	}
	switch op {
	case "||":
		return Bln(a.B || b.B), nil
	case "&&":
		return Bln(a.B && b.B), nil
	}
	return Value{}, fmt.Errorf("unknown operator %q", op)
}

func equalityOp(a, b Value, op string) (Value, error) {
	var eq bool
	switch {
	case a.Kind == Bool && b.Kind == Bool:
		eq = a.B == b.B
	case a.Kind == String && b.Kind == String:
		eq = a.S == b.S
	case (a.Kind == Integer || a.Kind == Double) && (b.Kind == Integer || b.Kind == Double):
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		eq = af == bf
	default:
		return Value{}, fmt.Errorf("operator %q: type mismatch between %s and %s", op, a.Kind, b.Kind)
	}
	if op == "!=" {
		eq = !eq
	}
	return Bln(eq), nil
}

func relationalOp(a, b Value, op string) (Value, error) {
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok || !bok {
		return Value{}, fmt.Errorf("operator %q requires numeric operands, got %s and %s", op, a.Kind, b.Kind)
	}
	var r bool
	switch op {
	case "<":
		r = af < bf
	case "<=":
		r = af <= bf
	case ">":
		r = af > bf
	case ">=":
		r = af >= bf
	}
	return Bln(r), nil
}

func arithOp(a, b Value, op string) (Value, error) {
	if a.Kind == Bool || b.Kind == Bool {
		return Value{}, fmt.Errorf("operator %q: booleans are not numeric", op)
	}
	if a.Kind != Integer && a.Kind != Double {
		return Value{}, fmt.Errorf("operator %q: non-numeric operand %s", op, a.Kind)
	}
	if b.Kind != Integer && b.Kind != Double {
		return Value{}, fmt.Errorf("operator %q: non-numeric operand %s", op, b.Kind)
	}

	if op == "%" {
		if a.Kind != Integer || b.Kind != Integer {
			return Value{}, fmt.Errorf("operator %% requires integer operands")
		}
		if b.I == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		return Int(a.I % b.I), nil
	}

	if a.Kind == Integer && b.Kind == Integer {
		switch op {
		case "+":
			return Int(a.I + b.I), nil
		case "-":
			return Int(a.I - b.I), nil
		case "*":
			return Int(a.I * b.I), nil
		case "/":
			if b.I == 0 {
				return Value{}, fmt.Errorf("division by zero")
			}
			return Int(a.I / b.I), nil
		}
	}

	af, _ := a.AsFloat()
	bf, _ := b.AsFloat()
	switch op {
	case "+":
		return Dbl(af + bf), nil
	case "-":
		return Dbl(af - bf), nil
	case "*":
		return Dbl(af * bf), nil
	case "/":
		if bf == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		return Dbl(af / bf), nil
	}
	return Value{}, fmt.Errorf("unknown operator %q", op)
}

func unaryOp(v Value, op string) (Value, error) {
	switch op {
	case "-":
		switch v.Kind {
		case Integer:
			return Int(-v.I), nil
		case Double:
			return Dbl(-v.F), nil
		}
		return Value{}, fmt.Errorf("unary '-' requires a numeric operand, got %s", v.Kind)
	case "~":
		if v.Kind != Integer {
			return Value{}, fmt.Errorf("unary '~' requires an integer operand, got %s", v.Kind)
		}
		return Int(^v.I), nil
	case "!":
		if v.Kind != Bool {
			return Value{}, fmt.Errorf("unary '!' requires a boolean operand, got %s", v.Kind)
		}
		return Bln(!v.B), nil
	}
	return Value{}, fmt.Errorf("unknown unary operator %q", op)
}
