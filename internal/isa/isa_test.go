package isa_test

import "testing"

import "github.com/ksp-kos/kasm/internal/isa"

func TestLookupKnownMnemonic(t *testing.T) {
	in, ok := isa.Lookup("push")
	if !ok {
		t.Fatal("expected push to be known")
	}
	if len(in.Operands) != 1 {
		t.Fatalf("expected 1 operand slot, got %d", len(in.Operands))
	}
}

func TestLookupUnknownMnemonic(t *testing.T) {
	if _, ok := isa.Lookup("frobnicate"); ok {
		t.Fatal("expected frobnicate to be unknown")
	}
}

func TestPushvIsPseudoInstruction(t *testing.T) {
	if !isa.IsPushValue("pushv") {
		t.Fatal("expected pushv to be recognized as the value-wrapped push pseudo-instruction")
	}
	pushIn, _ := isa.Lookup("push")
	pushvIn, _ := isa.Lookup("pushv")
	if pushIn.Opcode != pushvIn.Opcode {
		t.Fatalf("push and pushv must share an opcode, got %d and %d", pushIn.Opcode, pushvIn.Opcode)
	}
}

func TestCheckOperandsArityMismatch(t *testing.T) {
	in, _ := isa.Lookup("bscp")
	if err := in.CheckOperands([]isa.OperandKind{isa.KInt}); err == nil {
		t.Fatal("expected arity mismatch error")
	}
}

func TestCheckOperandsKindMismatch(t *testing.T) {
	in, _ := isa.Lookup("sto")
	if err := in.CheckOperands([]isa.OperandKind{isa.KInt}); err == nil {
		t.Fatal("expected kind mismatch error")
	}
	if err := in.CheckOperands([]isa.OperandKind{isa.KString}); err != nil {
		t.Fatalf("expected string operand to be accepted: %v", err)
	}
}

func TestZeroOperandMnemonic(t *testing.T) {
	in, _ := isa.Lookup("add")
	if err := in.CheckOperands(nil); err != nil {
		t.Fatalf("expected no-operand add to validate: %v", err)
	}
}

func TestBranchTargetAcceptsIntLabelOrString(t *testing.T) {
	in, _ := isa.Lookup("jmp")
	if err := in.CheckOperands([]isa.OperandKind{isa.KInt}); err != nil {
		t.Fatalf("expected integer delta accepted: %v", err)
	}
	if err := in.CheckOperands([]isa.OperandKind{isa.KLabel}); err != nil {
		t.Fatalf("expected label accepted: %v", err)
	}
	if err := in.CheckOperands([]isa.OperandKind{isa.KString}); err != nil {
		t.Fatalf("expected string operand accepted: %v", err)
	}
}
