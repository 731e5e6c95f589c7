// Package codegen implements the Second Pass: it resolves every
// operand to a concrete, kind-tagged value (or a relocation against an
// external symbol) and narrows integer literals to the smallest KO
// kind tag that holds them.
package codegen

import (
	"fmt"
	"math"

	"github.com/ksp-kos/kasm/internal/assembler"
	"github.com/ksp-kos/kasm/internal/diag"
	"github.com/ksp-kos/kasm/internal/expr"
	"github.com/ksp-kos/kasm/internal/isa"
	"github.com/ksp-kos/kasm/internal/lexer"
	"github.com/ksp-kos/kasm/internal/symtab"
)

// KO operand kind tags, as written into the object container.
const (
	TagNull = iota
	TagBool
	TagByte
	TagInt16
	TagInt32
	TagFloat
	TagDouble
	TagString
	TagArgMarker
	TagScalarInt
	TagScalarDouble
	TagBoolValue
	TagStringValue
)

// EncodedOperand is a fully resolved operand: either a concrete
// kind-tagged value, or (Relocation == true) a placeholder awaiting the
// linker's patch of SymbolName's final address.
type EncodedOperand struct {
	KindTag    uint8
	Int        int64
	Float      float64
	Bool       bool
	Str        string
	Relocation bool
	SymbolName string
}

// EncodedInstruction is one fully resolved `.text` instruction.
type EncodedInstruction struct {
	Opcode   byte
	Operands []EncodedOperand
}

// EncodedDataEntry is one fully resolved `.data` entry.
type EncodedDataEntry struct {
	Name string
	EncodedOperand
}

// Relocation instructs the linker to patch an operand with a named
// external symbol's final address.
type Relocation struct {
	Section         string // ".text" or ".data"
	OffsetInSection uint64
	OperandSlot     int
	SymbolName      string
}

// Output is the Second Pass's result, ready for the KO emitter.
type Output struct {
	TextInstrs  []EncodedInstruction
	DataEntries []EncodedDataEntry
	Relocations []Relocation
	Symbols     *symtab.Table
}

// Generate runs the Second Pass over prog, resolving operands against
// prog.Symbols.
func Generate(prog *assembler.Program) (*Output, *diag.Bag) {
	bag := &diag.Bag{}
	out := &Output{Symbols: prog.Symbols}

	for _, instr := range prog.TextInstrs {
		in, ok := isa.Lookup(instr.Mnemonic)
		if !ok {
			continue // already reported by the Parser stage
		}
		encOperands := make([]EncodedOperand, 0, len(instr.Operands))
		kinds := make([]isa.OperandKind, 0, len(instr.Operands))
		ok2 := true
		for slot, operand := range instr.Operands {
			enc, kind, err := resolveOperand(prog.Symbols, operand)
			if err != nil {
				bag.Addf(operand.Span, diag.Expression, "%s", err)
				ok2 = false
				continue
			}
			if isa.IsPushValue(instr.Mnemonic) {
				enc = valueWrap(enc)
			}
			if enc.Relocation {
				if sym, found := prog.Symbols.Lookup(enc.SymbolName); found && sym.Binding != symtab.BindExtern {
					bag.Warnf(operand.Span, diag.Symbol, "symbol %q is not defined in this unit and not declared .extern; treating it as external", enc.SymbolName)
				}
				out.Relocations = append(out.Relocations, Relocation{
					Section:         ".text",
					OffsetInSection: instr.Address,
					OperandSlot:     slot,
					SymbolName:      enc.SymbolName,
				})
			}
			encOperands = append(encOperands, enc)
			kinds = append(kinds, kind)
		}
		if ok2 && len(kinds) == len(instr.Operands) {
			if err := in.CheckOperands(kinds); err != nil {
				bag.Addf(instr.Span, diag.Parse, "%s", err)
			}
		}
		out.TextInstrs = append(out.TextInstrs, EncodedInstruction{Opcode: in.Opcode, Operands: encOperands})
	}

	for _, entry := range prog.DataEntries {
		enc, err := resolveDataLiteral(entry.TypeKind, entry.Literal)
		if err != nil {
			bag.Addf(entry.Span, diag.Parse, "malformed data entry %q: %s", entry.Name, err)
			continue
		}
		out.DataEntries = append(out.DataEntries, EncodedDataEntry{Name: entry.Name, EncodedOperand: enc})
	}

	return out, bag
}

func isBareIdentifier(op assembler.Operand) (string, bool) {
	if len(op.Tokens) != 1 || op.Tokens[0].Kind != lexer.Identifier {
		return "", false
	}
	name := op.Tokens[0].Str()
	if name == "true" || name == "false" {
		return "", false
	}
	return name, true
}

// resolveOperand resolves one operand: a bare identifier is a label
// reference (resolved to a section-relative data
// offset or the absolute, 1-based LC of a `.text` label); anything else
// is a constant expression. An integer literal written in the source is
// emitted as-is and the VM interprets it as a displacement relative to
// the location counter, so only label spellings resolve here.
func resolveOperand(syms *symtab.Table, op assembler.Operand) (EncodedOperand, isa.OperandKind, error) {
	if name, ok := isBareIdentifier(op); ok {
		sym := syms.Reference(name)
		if !sym.Defined {
			return EncodedOperand{KindTag: TagInt32, Relocation: true, SymbolName: name}, isa.KLabel, nil
		}
		enc, err := narrowInt(int64(sym.Offset))
		return enc, isa.KLabel, err
	}

	ev := expr.NewEvaluator(nil)
	v, err := ev.Eval(op.Tokens)
	if err != nil {
		return EncodedOperand{}, 0, err
	}
	switch v.Kind {
	case expr.Integer:
		enc, err := narrowInt(v.I)
		return enc, isa.KInt, err
	case expr.Double:
		return EncodedOperand{KindTag: TagDouble, Float: v.F}, isa.KDouble, nil
	case expr.Bool:
		return EncodedOperand{KindTag: TagBool, Bool: v.B}, isa.KBool, nil
	case expr.String:
		return EncodedOperand{KindTag: TagString, Str: v.S}, isa.KString, nil
	case expr.Null:
		return EncodedOperand{KindTag: TagNull}, isa.KNull, nil
	case expr.ArgMarker:
		return EncodedOperand{KindTag: TagArgMarker}, isa.KArgMarker, nil
	}
	return EncodedOperand{}, 0, fmt.Errorf("unresolvable operand")
}

// narrowInt picks the smallest of {Byte: ±127, Int16, Int32} that holds
// n, so no operand uses a wider tag than its value needs.
func narrowInt(n int64) (EncodedOperand, error) {
	switch {
	case n >= -127 && n <= 127:
		return EncodedOperand{KindTag: TagByte, Int: n}, nil
	case n >= math.MinInt16 && n <= math.MaxInt16:
		return EncodedOperand{KindTag: TagInt16, Int: n}, nil
	case n >= math.MinInt32 && n <= math.MaxInt32:
		return EncodedOperand{KindTag: TagInt32, Int: n}, nil
	default:
		return EncodedOperand{}, fmt.Errorf("value %d out of representable range", n)
	}
}

// valueWrap remaps a resolved operand to `pushv`'s *Value-tagged kind.
func valueWrap(enc EncodedOperand) EncodedOperand {
	switch enc.KindTag {
	case TagByte, TagInt16, TagInt32:
		enc.KindTag = TagScalarInt
	case TagDouble, TagFloat:
		enc.KindTag = TagScalarDouble
	case TagBool:
		enc.KindTag = TagBoolValue
	case TagString:
		enc.KindTag = TagStringValue
	}
	return enc
}

// resolveDataLiteral evaluates a `.data` entry's literal and checks it
// against its declared type kind.
func resolveDataLiteral(typeKind string, lit assembler.Operand) (EncodedOperand, error) {
	switch typeKind {
	case "null":
		return EncodedOperand{KindTag: TagNull}, nil
	case "argmarker":
		return EncodedOperand{KindTag: TagArgMarker}, nil
	}

	ev := expr.NewEvaluator(nil)
	v, err := ev.Eval(lit.Tokens)
	if err != nil {
		return EncodedOperand{}, err
	}

	switch typeKind {
	case "i8", "i16", "i32", "i64":
		n, ok := asInt(v)
		if !ok {
			return EncodedOperand{}, fmt.Errorf("expected an integer literal for .%s", typeKind)
		}
		tag := map[string]uint8{"i8": TagByte, "i16": TagInt16, "i32": TagInt32, "i64": TagInt32}[typeKind]
		if (typeKind == "i8" && (n < -127 || n > 127)) ||
			(typeKind == "i16" && (n < math.MinInt16 || n > math.MaxInt16)) ||
			((typeKind == "i32" || typeKind == "i64") && (n < math.MinInt32 || n > math.MaxInt32)) {
			return EncodedOperand{}, fmt.Errorf("value %d out of range for .%s", n, typeKind)
		}
		return EncodedOperand{KindTag: tag, Int: n}, nil
	case "f32":
		f, ok := asFloat(v)
		if !ok {
			return EncodedOperand{}, fmt.Errorf("expected a numeric literal for .f32")
		}
		return EncodedOperand{KindTag: TagFloat, Float: f}, nil
	case "f64":
		f, ok := asFloat(v)
		if !ok {
			return EncodedOperand{}, fmt.Errorf("expected a numeric literal for .f64")
		}
		return EncodedOperand{KindTag: TagDouble, Float: f}, nil
	case "b":
		if v.Kind != expr.Bool {
			return EncodedOperand{}, fmt.Errorf("expected a boolean literal for .b")
		}
		return EncodedOperand{KindTag: TagBool, Bool: v.B}, nil
	case "bv":
		if v.Kind != expr.Bool {
			return EncodedOperand{}, fmt.Errorf("expected a boolean literal for .bv")
		}
		return EncodedOperand{KindTag: TagBoolValue, Bool: v.B}, nil
	case "s":
		if v.Kind != expr.String {
			return EncodedOperand{}, fmt.Errorf("expected a string literal for .s")
		}
		return EncodedOperand{KindTag: TagString, Str: v.S}, nil
	case "sv":
		if v.Kind != expr.String {
			return EncodedOperand{}, fmt.Errorf("expected a string literal for .sv")
		}
		return EncodedOperand{KindTag: TagStringValue, Str: v.S}, nil
	}
	return EncodedOperand{}, fmt.Errorf("unknown data type kind %q", typeKind)
}

func asInt(v expr.Value) (int64, bool) {
	if v.Kind != expr.Integer {
		return 0, false
	}
	return v.I, true
}

func asFloat(v expr.Value) (float64, bool) {
	f, ok := v.AsFloat()
	return f, ok
}
