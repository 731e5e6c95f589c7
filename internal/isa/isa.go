// Package isa holds the kOS mnemonic table: each mnemonic's opcode byte
// and its operand signature, used by the parser to validate operand
// arity/kind and by the code generator to emit instructions.
package isa

import "fmt"

// OperandKind is one accepted value kind for an operand slot. A slot may
// accept a set of kinds (e.g. `jmp`'s branch target accepts a literal
// integer delta, a label identifier, or a string).
type OperandKind int

const (
	KInt OperandKind = iota
	KDouble
	KBool
	KString
	KLabel
	KNull
	KArgMarker
)

func (k OperandKind) String() string {
	switch k {
	case KInt:
		return "int"
	case KDouble:
		return "double"
	case KBool:
		return "bool"
	case KString:
		return "string"
	case KLabel:
		return "label"
	case KNull:
		return "null"
	case KArgMarker:
		return "argmarker"
	default:
		return "invalid"
	}
}

// Slot is one operand position's accepted kind set.
type Slot []OperandKind

func (s Slot) accepts(k OperandKind) bool {
	for _, want := range s {
		if want == k {
			return true
		}
	}
	return false
}

// Instruction describes one mnemonic: its opcode byte and ordered
// operand signature.
type Instruction struct {
	Mnemonic string
	Opcode   byte
	Operands []Slot
}

func any3() []OperandKind { return []OperandKind{KInt, KDouble, KBool, KString, KNull, KArgMarker} }

// branchTarget accepts a relative-delta integer literal, a label
// identifier resolved in Pass 2, or a string operand emitted as written.
func branchTarget() Slot { return Slot{KInt, KLabel, KString} }

var table = buildTable()

func buildTable() map[string]*Instruction {
	defs := []struct {
		name   string
		op     byte
		slots  []Slot
	}{
		{"push", 0x01, []Slot{any3()}},
		{"pushv", 0x01, []Slot{any3()}}, // pseudo-instruction: same opcode, value-wrapped kind selection
		{"pop", 0x02, nil},
		{"add", 0x03, nil},
		{"sub", 0x04, nil},
		{"mul", 0x05, nil},
		{"div", 0x06, nil},
		{"mod", 0x07, nil},
		{"pow", 0x08, nil},
		{"neg", 0x09, nil},
		{"not", 0x0A, nil},
		{"and", 0x0B, nil},
		{"or", 0x0C, nil},
		{"sto", 0x0D, []Slot{{KString}}},
		{"uns", 0x0E, []Slot{{KString}}},
		{"gmb", 0x0F, []Slot{{KString}}},
		{"smb", 0x10, []Slot{{KString}}},
		{"gidx", 0x11, nil},
		{"sidx", 0x12, nil},
		{"bscp", 0x13, []Slot{{KInt}, {KInt}}},
		{"escp", 0x14, []Slot{{KInt}}},
		{"jmp", 0x15, []Slot{branchTarget()}},
		{"brfalse", 0x16, []Slot{branchTarget()}},
		{"brtrue", 0x17, []Slot{branchTarget()}},
		{"call", 0x18, []Slot{{KString}, {KString}}},
		{"ret", 0x19, []Slot{{KInt}}},
		{"call!", 0x1A, []Slot{{KString}, {KString}}},
		{"calld", 0x1A, []Slot{{KString}, {KString}}}, // delegate call, same opcode as call!
		{"pdrl", 0x1B, []Slot{{KLabel}}},
		{"phdl", 0x1C, []Slot{{KLabel}}},
		{"tcan", 0x1D, []Slot{branchTarget()}},
		{"exst", 0x1E, []Slot{{KString}}},
		{"argb", 0x1F, nil},
		{"targ", 0x20, nil},
		{"testn", 0x21, []Slot{branchTarget()}},
		{"jnf", 0x22, []Slot{branchTarget()}},
		{"lbrt", 0x23, []Slot{branchTarget()}},
		{"nop", 0x24, nil},
		{"prl", 0x25, nil},
		{"wait", 0x26, []Slot{{KInt, KDouble}}},
		{"eof", 0x27, nil},
		{"cae", 0x28, nil},
	}
	m := make(map[string]*Instruction, len(defs))
	for _, d := range defs {
		m[d.name] = &Instruction{Mnemonic: d.name, Opcode: d.op, Operands: d.slots}
	}
	return m
}

// Lookup returns the Instruction entry for mnemonic, or false if the
// mnemonic is unknown.
func Lookup(mnemonic string) (*Instruction, bool) {
	in, ok := table[mnemonic]
	return in, ok
}

// IsPushValue reports whether mnemonic is the `pushv` pseudo-instruction,
// which selects the *Value-tagged encoding for its operand.
func IsPushValue(mnemonic string) bool { return mnemonic == "pushv" }

// CheckOperands validates that kinds (the actual operand kinds the
// parser resolved) matches in's operand signature in arity and per-slot
// kind.
func (in *Instruction) CheckOperands(kinds []OperandKind) error {
	if len(kinds) != len(in.Operands) {
		return fmt.Errorf("%s: expected %d operand(s), got %d", in.Mnemonic, len(in.Operands), len(kinds))
	}
	for i, slot := range in.Operands {
		if !slot.accepts(kinds[i]) {
			return fmt.Errorf("%s: operand %d has kind %s, not accepted by this mnemonic", in.Mnemonic, i+1, kinds[i])
		}
	}
	return nil
}
