// Package lexer turns a Source Unit's text into a token stream with
// source spans.
package lexer

import (
	"fmt"

	"github.com/ksp-kos/kasm/internal/diag"
)

// Kind enumerates the token kinds.
type Kind int

const (
	Identifier Kind = iota
	Integer
	Double
	String
	Punctuator
	Directive
	Newline
	EndOfFile
	MacroArgRef
)

func (k Kind) String() string {
	switch k {
	case Identifier:
		return "identifier"
	case Integer:
		return "integer"
	case Double:
		return "double"
	case String:
		return "string"
	case Punctuator:
		return "punctuator"
	case Directive:
		return "directive"
	case Newline:
		return "newline"
	case EndOfFile:
		return "eof"
	case MacroArgRef:
		return "macro-arg-ref"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Token is (kind, span, payload). Payload holds the decoded value:
// int64 for Integer, float64 for Double, string for String/Identifier/
// Directive/Punctuator, int for MacroArgRef (1-based argument index).
type Token struct {
	Kind    Kind
	Span    diag.Span
	Text    string // original/normalized spelling, always populated
	Payload any
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%s", t.Kind, t.Text, t.Span)
}

// Int returns the Integer payload.
func (t Token) Int() int64 { v, _ := t.Payload.(int64); return v }

// Float returns the Double payload.
func (t Token) Float() float64 { v, _ := t.Payload.(float64); return v }

// Str returns the String/Identifier/Directive/Punctuator payload.
func (t Token) Str() string { v, _ := t.Payload.(string); return v }

// ArgIndex returns the 1-based MacroArgRef payload.
func (t Token) ArgIndex() int { v, _ := t.Payload.(int); return v }

// directiveNames are the reserved directive spellings; an identifier
// starting with '.' that isn't in this set lexes as an inner-label
// Identifier instead of a Directive.
var directiveNames = map[string]bool{
	".define": true, ".undef": true,
	".macro": true, ".endmacro": true, ".unmacro": true,
	".rep": true, ".endrep": true,
	".include": true,
	".if": true, ".ifn": true, ".ifdef": true, ".ifndef": true,
	".elif": true, ".elifn": true, ".elifdef": true, ".elifndef": true,
	".else": true, ".endif": true,
	".line": true,
	".extern": true, ".global": true, ".local": true,
	".type": true, ".func": true, ".section": true,
	".text": true, ".data": true,
	".i8": true, ".i16": true, ".i32": true, ".i64": true,
	".f32": true, ".f64": true, ".b": true, ".s": true,
	".sv": true, ".bv": true,
}

// IsDirectiveName reports whether name (including its leading '.') is a
// reserved directive spelling.
func IsDirectiveName(name string) bool { return directiveNames[name] }
