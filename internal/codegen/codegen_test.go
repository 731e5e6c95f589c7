package codegen_test

import (
	"testing"

	"github.com/ksp-kos/kasm/internal/assembler"
	"github.com/ksp-kos/kasm/internal/codegen"
	"github.com/ksp-kos/kasm/internal/lexer"
)

func toks(t *testing.T, src string) []lexer.Token {
	t.Helper()
	all := lexer.New(src, "t").TokenizeAll()
	return all[:len(all)-1]
}

func build(t *testing.T, src string) (*codegen.Output, error) {
	t.Helper()
	prog, bag := assembler.Assemble(toks(t, src))
	if bag.HasErrors() {
		t.Fatalf("assembler errors: %s", bag.Render(false))
	}
	out, genBag := codegen.Generate(prog)
	if genBag.HasErrors() {
		return out, assembleErr(genBag)
	}
	return out, nil
}

func assembleErr(bag interface{ Render(bool) string }) error {
	return errString(bag.Render(false))
}

type errString string

func (e errString) Error() string { return string(e) }

func TestLiteralIntegerNarrowsToByte(t *testing.T) {
	out, err := build(t, "push 10\n")
	if err != nil {
		t.Fatal(err)
	}
	op := out.TextInstrs[0].Operands[0]
	if op.KindTag != codegen.TagByte || op.Int != 10 {
		t.Fatalf("got %+v", op)
	}
}

func TestLiteralIntegerNarrowsToInt16(t *testing.T) {
	out, err := build(t, "push 5000\n")
	if err != nil {
		t.Fatal(err)
	}
	op := out.TextInstrs[0].Operands[0]
	if op.KindTag != codegen.TagInt16 || op.Int != 5000 {
		t.Fatalf("got %+v", op)
	}
}

func TestLiteralIntegerNarrowsToInt32(t *testing.T) {
	out, err := build(t, "push 100000\n")
	if err != nil {
		t.Fatal(err)
	}
	op := out.TextInstrs[0].Operands[0]
	if op.KindTag != codegen.TagInt32 || op.Int != 100000 {
		t.Fatalf("got %+v", op)
	}
}

func TestPushvWrapsIntegerAsScalarInt(t *testing.T) {
	out, err := build(t, "pushv 1\n")
	if err != nil {
		t.Fatal(err)
	}
	op := out.TextInstrs[0].Operands[0]
	if op.KindTag != codegen.TagScalarInt {
		t.Fatalf("got %+v", op)
	}
}

func TestPushvWrapsStringAsStringValue(t *testing.T) {
	out, err := build(t, "pushv \"hi\"\n")
	if err != nil {
		t.Fatal(err)
	}
	op := out.TextInstrs[0].Operands[0]
	if op.KindTag != codegen.TagStringValue || op.Str != "hi" {
		t.Fatalf("got %+v", op)
	}
}

func TestJmpToKnownTextLabelResolvesToAbsoluteLC(t *testing.T) {
	out, err := build(t, "top:\nnop\njmp top\n")
	if err != nil {
		t.Fatal(err)
	}
	jmp := out.TextInstrs[1]
	if jmp.Operands[0].Relocation {
		t.Fatal("expected a resolved address, not a relocation")
	}
	if jmp.Operands[0].Int != 1 {
		t.Fatalf("got %d, want the label's absolute location counter 1", jmp.Operands[0].Int)
	}
}

func TestJmpIntegerOperandIsEmittedAsWritten(t *testing.T) {
	out, err := build(t, "nop\njmp -1\n")
	if err != nil {
		t.Fatal(err)
	}
	jmp := out.TextInstrs[1]
	if jmp.Operands[0].KindTag != codegen.TagByte || jmp.Operands[0].Int != -1 {
		t.Fatalf("got %+v, want the relative displacement -1 as a Byte", jmp.Operands[0])
	}
}

func TestDataLabelReferenceResolvesToSectionOffset(t *testing.T) {
	out, err := build(t, ".section .data\nfirst .i32 1\ncount .i32 7\n.section .text\npdrl count\n")
	if err != nil {
		t.Fatal(err)
	}
	op := out.TextInstrs[0].Operands[0]
	if op.Relocation {
		t.Fatal("expected a resolved data offset, not a relocation")
	}
	if op.Int != 1 {
		t.Fatalf("got offset %d, want 1 (count is the second .data slot)", op.Int)
	}
}

func TestUnresolvedForwardReferenceBecomesRelocation(t *testing.T) {
	out, err := build(t, "call \"later\", \"x\"\njmp missing_label\n")
	if err != nil {
		t.Fatal(err)
	}
	jmp := out.TextInstrs[1]
	if !jmp.Operands[0].Relocation || jmp.Operands[0].SymbolName != "missing_label" {
		t.Fatalf("got %+v", jmp.Operands[0])
	}
	if len(out.Relocations) != 1 || out.Relocations[0].SymbolName != "missing_label" {
		t.Fatalf("got %+v", out.Relocations)
	}
}

func TestImplicitExternalReferenceWarns(t *testing.T) {
	prog, bag := assembler.Assemble(toks(t, "jmp missing_label\n"))
	if bag.HasErrors() {
		t.Fatalf("assembler errors: %s", bag.Render(false))
	}
	_, genBag := codegen.Generate(prog)
	if genBag.HasErrors() {
		t.Fatalf("unexpected errors: %s", genBag.Render(false))
	}
	if len(genBag.Warnings()) != 1 {
		t.Fatalf("expected one implicit-external warning, got %d", len(genBag.Warnings()))
	}
}

func TestDeclaredExternReferenceDoesNotWarn(t *testing.T) {
	prog, bag := assembler.Assemble(toks(t, ".extern add_two\npdrl add_two\n"))
	if bag.HasErrors() {
		t.Fatalf("assembler errors: %s", bag.Render(false))
	}
	_, genBag := codegen.Generate(prog)
	if len(genBag.All()) != 0 {
		t.Fatalf("expected no diagnostics, got: %s", genBag.Render(false))
	}
}

func TestDataEntryEncodesDeclaredKind(t *testing.T) {
	out, err := build(t, ".section .data\nflag .b true\n")
	if err != nil {
		t.Fatal(err)
	}
	if out.DataEntries[0].KindTag != codegen.TagBool || !out.DataEntries[0].Bool {
		t.Fatalf("got %+v", out.DataEntries[0])
	}
}

func TestDataEntryKindMismatchIsError(t *testing.T) {
	_, err := build(t, ".section .data\nflag .b \"nope\"\n")
	if err == nil {
		t.Fatal("expected a type-mismatch error for .b with a string literal")
	}
}

func TestDataEntryOutOfRangeIsError(t *testing.T) {
	_, err := build(t, ".section .data\ntiny .i8 200\n")
	if err == nil {
		t.Fatal("expected an out-of-range error for .i8 200")
	}
}

func TestOperandKindMismatchIsError(t *testing.T) {
	_, err := build(t, "sto 42\n")
	if err == nil {
		t.Fatal("expected a kind mismatch error: sto wants a string")
	}
}
