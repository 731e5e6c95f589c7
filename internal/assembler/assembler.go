// Package assembler implements the Parser (Instruction & Directive) and
// First Pass: it walks the preprocessed token stream,
// producing a logical sequence of instructions and data entries while
// interning symbols and advancing the location counter.
package assembler

import (
	"github.com/ksp-kos/kasm/internal/diag"
	"github.com/ksp-kos/kasm/internal/isa"
	"github.com/ksp-kos/kasm/internal/lexer"
	"github.com/ksp-kos/kasm/internal/symtab"
)

// Operand is one unresolved operand: the raw expression tokens, left
// for the Second Pass to evaluate and/or resolve as a symbol reference.
type Operand struct {
	Tokens []lexer.Token
	Span   diag.Span
}

// Instruction is one `.text` statement with its address (location
// counter: a 1-based instruction ordinal, not a byte offset).
type Instruction struct {
	Mnemonic string
	Operands []Operand
	Address  uint64
	Span     diag.Span
}

// DataEntry is one `.data` statement: `NAME .typekind literal`.
type DataEntry struct {
	Name     string
	TypeKind string // i8/i16/i32/i64/f32/f64/b/s/sv/bv/null/argmarker
	Literal  Operand
	Offset   uint64 // ordinal slot within .data
	Span     diag.Span
}

// Program is the Parser/First Pass's output.
type Program struct {
	TextInstrs  []*Instruction
	DataEntries []*DataEntry
	Symbols     *symtab.Table
}

type parser struct {
	toks    []lexer.Token
	bag     *diag.Bag
	prog    *Program
	section string
}

// Assemble parses a fully preprocessed token stream and performs the
// First Pass over it in the same walk. Errors are collected in the
// returned Bag rather than aborting at the first one, so a single run
// reports every independent mistake in the unit.
func Assemble(tokens []lexer.Token) (*Program, *diag.Bag) {
	p := &parser{
		toks:    tokens,
		bag:     &diag.Bag{},
		prog:    &Program{Symbols: symtab.New()},
		section: ".text",
	}
	p.run()
	return p.prog, p.bag
}

func findLineEnd(tokens []lexer.Token, i int) int {
	for i < len(tokens) && tokens[i].Kind != lexer.Newline {
		i++
	}
	return i
}

// isMnemonic reports whether tok names a known instruction. Mnemonics
// take priority over the bare (colon-less) label spelling, so `add` or
// `nop` alone on a line is always an instruction.
func isMnemonic(tok lexer.Token) bool {
	_, ok := isa.Lookup(tok.Str())
	return ok
}

func (p *parser) run() {
	i := 0
	for i < len(p.toks) {
		tok := p.toks[i]
		switch tok.Kind {
		case lexer.EndOfFile:
			return
		case lexer.Newline:
			i++
		case lexer.Directive:
			i = p.parseDirective(i)
		case lexer.Identifier:
			switch {
			case p.section == ".data":
				i = p.parseDataEntry(i)
			case i+1 < len(p.toks) && p.toks[i+1].Kind == lexer.Punctuator && p.toks[i+1].Text == ":":
				i = p.parseLabel(i)
			case isMnemonic(tok):
				i = p.parseInstruction(i)
			case i+1 >= len(p.toks) || p.toks[i+1].Kind == lexer.Newline:
				// A bare identifier alone on a line is a label.
				i = p.parseLabel(i)
			default:
				i = p.parseInstruction(i)
			}
		default:
			p.bag.Addf(tok.Span, diag.Parse, "unexpected token %q at start of statement", tok.Text)
			i = findLineEnd(p.toks, i)
			if i < len(p.toks) {
				i++
			}
		}
	}
}

// parseLabel handles both label spellings, `name:` and a bare `name`
// alone on its line. The label's offset is the location counter of the
// next emitted instruction (the LC is 1-based). A statement may
// follow a colon label on the same line.
func (p *parser) parseLabel(i int) int {
	tok := p.toks[i]
	next := i + 1
	if next < len(p.toks) && p.toks[next].Kind == lexer.Punctuator && p.toks[next].Text == ":" {
		next++
	}
	qname, err := p.prog.Symbols.QualifyLabel(tok.Str(), tok.Span)
	if err != nil {
		p.bag.Addf(tok.Span, diag.Symbol, "%s", err)
	} else {
		offset := uint64(len(p.prog.TextInstrs)) + 1
		if err := p.prog.Symbols.Define(qname, ".text", offset, tok.Span); err != nil {
			p.bag.Addf(tok.Span, diag.Symbol, "%s", err)
		}
	}
	if next < len(p.toks) && p.toks[next].Kind == lexer.Newline {
		next++
	}
	return next
}

func (p *parser) parseInstruction(i int) int {
	tok := p.toks[i]
	le := findLineEnd(p.toks, i+1)
	operands := splitOperands(p.toks[i+1:le])

	in, ok := isa.Lookup(tok.Str())
	if !ok {
		p.bag.Addf(tok.Span, diag.Parse, "unknown mnemonic %q", tok.Str())
	} else if len(operands) != len(in.Operands) {
		p.bag.Addf(tok.Span, diag.Parse, "%s: expected %d operand(s), got %d", tok.Str(), len(in.Operands), len(operands))
	}

	p.prog.TextInstrs = append(p.prog.TextInstrs, &Instruction{
		Mnemonic: tok.Str(),
		Operands: operands,
		Address:  uint64(len(p.prog.TextInstrs)) + 1,
		Span:     tok.Span,
	})

	if le < len(p.toks) {
		return le + 1
	}
	return le
}

var dataTypeKinds = map[string]string{
	".i8": "i8", ".i16": "i16", ".i32": "i32", ".i64": "i64",
	".f32": "f32", ".f64": "f64", ".b": "b", ".s": "s",
	".sv": "sv", ".bv": "bv",
}

func (p *parser) parseDataEntry(i int) int {
	nameTok := p.toks[i]
	le := findLineEnd(p.toks, i+1)
	qname, err := p.prog.Symbols.QualifyLabel(nameTok.Str(), nameTok.Span)
	if err != nil {
		p.bag.Addf(nameTok.Span, diag.Symbol, "%s", err)
		if le < len(p.toks) {
			return le + 1
		}
		return le
	}

	if i+1 >= le {
		p.bag.Addf(nameTok.Span, diag.Parse, "malformed data entry: expected a type after %q", nameTok.Str())
		if le < len(p.toks) {
			return le + 1
		}
		return le
	}

	typeTok := p.toks[i+1]
	var typeKind string
	var litStart int
	switch {
	case typeTok.Kind == lexer.Punctuator && typeTok.Text == "#":
		typeKind = "null"
		litStart = i + 2
	case typeTok.Kind == lexer.Punctuator && typeTok.Text == "@":
		typeKind = "argmarker"
		litStart = i + 2
	case typeTok.Kind == lexer.Directive:
		kind, ok := dataTypeKinds[typeTok.Text]
		if !ok {
			p.bag.Addf(typeTok.Span, diag.Parse, "malformed data entry: %q is not a data type", typeTok.Text)
			if le < len(p.toks) {
				return le + 1
			}
			return le
		}
		typeKind = kind
		litStart = i + 2
	default:
		p.bag.Addf(typeTok.Span, diag.Parse, "malformed data entry: expected a type directive, got %q", typeTok.Text)
		if le < len(p.toks) {
			return le + 1
		}
		return le
	}

	offset := uint64(len(p.prog.DataEntries))
	if err := p.prog.Symbols.Define(qname, ".data", offset, nameTok.Span); err != nil {
		p.bag.Addf(nameTok.Span, diag.Symbol, "%s", err)
	}
	p.prog.DataEntries = append(p.prog.DataEntries, &DataEntry{
		Name:     qname,
		TypeKind: typeKind,
		Literal:  Operand{Tokens: p.toks[litStart:le], Span: nameTok.Span},
		Offset:   offset,
		Span:     nameTok.Span,
	})

	if le < len(p.toks) {
		return le + 1
	}
	return le
}

var bindingDirectives = map[string]symtab.Binding{
	".extern": symtab.BindExtern,
	".global": symtab.BindGlobal,
	".local":  symtab.BindLocal,
}

var typeKindNames = map[string]symtab.Type{
	"func":  symtab.TypeFunc,
	"value": symtab.TypeValue,
}

func (p *parser) parseDirective(i int) int {
	d := p.toks[i]
	le := findLineEnd(p.toks, i+1)
	args := p.toks[i+1 : le]
	next := le
	if le < len(p.toks) {
		next = le + 1
	}

	switch d.Text {
	case ".extern", ".global", ".local":
		if len(args) != 1 || args[0].Kind != lexer.Identifier {
			p.bag.Addf(d.Span, diag.Parse, "%s expects a single symbol name", d.Text)
			return next
		}
		if err := p.prog.Symbols.SetBinding(args[0].Str(), bindingDirectives[d.Text], d.Span); err != nil {
			p.bag.Addf(d.Span, diag.Symbol, "%s", err)
		}
		return next

	case ".type":
		if len(args) != 2 || args[0].Kind != lexer.Identifier || args[1].Kind != lexer.Identifier {
			p.bag.Addf(d.Span, diag.Parse, ".type expects a kind and a symbol name")
			return next
		}
		kindName := args[0].Str()
		ty, ok := typeKindNames[kindName]
		typeKind := ""
		if !ok {
			switch kindName {
			case "i8", "i16", "i32", "i64", "f32", "f64", "s", "b", "sv", "bv":
				ty = symtab.TypeTypedData
				typeKind = kindName
			default:
				p.bag.Addf(args[0].Span, diag.Parse, "unknown .type kind %q", kindName)
				return next
			}
		}
		if err := p.prog.Symbols.SetType(args[1].Str(), ty, typeKind, d.Span); err != nil {
			p.bag.Addf(d.Span, diag.Symbol, "%s", err)
		}
		return next

	case ".func":
		p.prog.Symbols.EnterFunc()
		return next

	case ".section":
		if len(args) != 1 || args[0].Kind != lexer.Directive || (args[0].Text != ".text" && args[0].Text != ".data") {
			p.bag.Addf(d.Span, diag.Parse, ".section expects .text or .data")
			return next
		}
		p.section = args[0].Text
		return next

	default:
		p.bag.Addf(d.Span, diag.Parse, "unexpected directive %q in this context", d.Text)
		return next
	}
}

// splitOperands splits a comma-separated operand list at top level
// (respecting nested parentheses within an operand expression).
func splitOperands(tokens []lexer.Token) []Operand {
	if len(tokens) == 0 {
		return nil
	}
	var out []Operand
	depth := 0
	start := 0
	for idx, t := range tokens {
		switch {
		case t.Kind == lexer.Punctuator && t.Text == "(":
			depth++
		case t.Kind == lexer.Punctuator && t.Text == ")":
			depth--
		case t.Kind == lexer.Punctuator && t.Text == "," && depth == 0:
			out = append(out, Operand{Tokens: tokens[start:idx], Span: tokens[start].Span})
			start = idx + 1
		}
	}
	if start < len(tokens) {
		out = append(out, Operand{Tokens: tokens[start:], Span: tokens[start].Span})
	} else {
		// Trailing comma: record an empty operand so Pass 2 reports it.
		out = append(out, Operand{Span: tokens[len(tokens)-1].Span})
	}
	return out
}
