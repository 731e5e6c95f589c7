// Package symtab implements the First Pass symbol table:
// binding- and type-tagged symbols, keyed by their fully qualified name,
// with inner-label qualification scoped to `.func` regions.
package symtab

import (
	"fmt"
	"strings"

	"github.com/ksp-kos/kasm/internal/diag"
)

// Binding classifies how a symbol is visible outside its unit.
type Binding int

const (
	BindLocal Binding = iota
	BindGlobal
	BindExtern
)

func (b Binding) String() string {
	switch b {
	case BindLocal:
		return "local"
	case BindGlobal:
		return "global"
	case BindExtern:
		return "extern"
	default:
		return "invalid"
	}
}

// Type classifies what kind of thing a symbol names.
type Type int

const (
	TypeUnknown Type = iota
	TypeFunc
	TypeValue
	TypeTypedData
)

func (t Type) String() string {
	switch t {
	case TypeFunc:
		return "func"
	case TypeValue:
		return "value"
	case TypeTypedData:
		return "typed-data"
	default:
		return "unknown"
	}
}

// Symbol is one entry in the table.
type Symbol struct {
	Name     string
	Binding  Binding
	Type     Type
	TypeKind string // populated when Type == TypeTypedData: one of i8/i16/i32/i64/f32/f64/b/s/sv/bv
	Section  string // ".text" or ".data"; "" until defined
	Offset   uint64
	Defined  bool

	bindingSet bool
	typeSet    bool
}

// Table owns every symbol interned during the First Pass, plus the
// current-outer-label tracking needed to qualify inner labels.
type Table struct {
	syms         map[string]*Symbol
	order        []string
	currentOuter string
}

// New creates an empty Table.
func New() *Table {
	return &Table{syms: make(map[string]*Symbol)}
}

func (t *Table) getOrCreate(name string) *Symbol {
	if s, ok := t.syms[name]; ok {
		return s
	}
	s := &Symbol{Name: name}
	t.syms[name] = s
	t.order = append(t.order, name)
	return s
}

// EnterFunc resets the current-outer tracking variable; called on every
// `.func` directive: labels following it belong to a new function
// region.
func (t *Table) EnterFunc() {
	t.currentOuter = ""
}

// QualifyLabel computes a label's fully qualified name: inner labels
// (spelled with a leading '.') join the nearest preceding outer label
// within the current function region as "<outer><inner>"; any other
// label becomes the new current outer.
func (t *Table) QualifyLabel(name string, span diag.Span) (string, error) {
	if strings.HasPrefix(name, ".") {
		if t.currentOuter == "" {
			return "", fmt.Errorf("%s: inner label %q has no preceding outer label in this function region", span, name)
		}
		return t.currentOuter + name, nil
	}
	t.currentOuter = name
	return name, nil
}

// Define records qualifiedName as defined at (section, offset). It is an
// error to define the same symbol twice.
func (t *Table) Define(qualifiedName, section string, offset uint64, span diag.Span) error {
	s := t.getOrCreate(qualifiedName)
	if s.Defined {
		return fmt.Errorf("%s: duplicate definition of symbol %q", span, qualifiedName)
	}
	if s.bindingSet && s.Binding == BindExtern {
		return fmt.Errorf("%s: symbol %q is declared .extern and cannot be defined in this unit", span, qualifiedName)
	}
	s.Defined = true
	s.Section = section
	s.Offset = offset
	return nil
}

// SetBinding merges a `.extern`/`.global`/`.local` attribute into name's
// entry, creating a placeholder if one doesn't exist yet. A second,
// different binding for the same symbol is a conflict.
func (t *Table) SetBinding(name string, b Binding, span diag.Span) error {
	s := t.getOrCreate(name)
	if s.bindingSet && s.Binding != b {
		return fmt.Errorf("%s: symbol %q already bound as %s, cannot rebind as %s", span, name, s.Binding, b)
	}
	if b == BindExtern && s.Defined {
		return fmt.Errorf("%s: symbol %q is defined in this unit and cannot be declared .extern", span, name)
	}
	s.Binding = b
	s.bindingSet = true
	return nil
}

// SetType merges a `.type` attribute into name's entry. A second,
// different type for the same symbol is a conflict.
func (t *Table) SetType(name string, ty Type, typeKind string, span diag.Span) error {
	s := t.getOrCreate(name)
	if s.typeSet && (s.Type != ty || s.TypeKind != typeKind) {
		return fmt.Errorf("%s: symbol %q already typed as %s, cannot retype", span, name, s.Type)
	}
	s.Type = ty
	s.TypeKind = typeKind
	s.typeSet = true
	return nil
}

// Reference returns name's entry, creating an undefined placeholder if
// this is the first time the name is mentioned (a forward reference).
func (t *Table) Reference(name string) *Symbol {
	return t.getOrCreate(name)
}

// Lookup returns name's entry without creating one.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	s, ok := t.syms[name]
	return s, ok
}

// Undefined returns every referenced-but-never-defined, non-extern
// symbol, in insertion order.
func (t *Table) Undefined() []*Symbol {
	var out []*Symbol
	for _, name := range t.order {
		s := t.syms[name]
		if !s.Defined && s.Binding != BindExtern {
			out = append(out, s)
		}
	}
	return out
}

// All returns every symbol in insertion order, for deterministic KO
// symbol-table emission.
func (t *Table) All() []*Symbol {
	out := make([]*Symbol, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.syms[name])
	}
	return out
}
