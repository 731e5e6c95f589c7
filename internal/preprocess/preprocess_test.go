package preprocess_test

import (
	"strings"
	"testing"

	"github.com/ksp-kos/kasm/internal/diag"
	"github.com/ksp-kos/kasm/internal/lexer"
	"github.com/ksp-kos/kasm/internal/preprocess"
	"github.com/ksp-kos/kasm/internal/source"
)

func run(t *testing.T, text string) []lexer.Token {
	t.Helper()
	set := source.NewSet(nil)
	unit := set.Synthetic("t", text)
	p := preprocess.New(set)
	toks, err := p.Process(unit)
	if err != nil {
		t.Fatalf("Process(%q): %v", text, err)
	}
	if p.Diagnostics().HasErrors() {
		t.Fatalf("Process(%q) diagnostics: %s", text, p.Diagnostics().Render(false))
	}
	return toks
}

// runErr exercises the immediate-abort paths (include cycles,
// expansion recursion, malformed conditional stacks).
func runErr(t *testing.T, text string) error {
	t.Helper()
	set := source.NewSet(nil)
	unit := set.Synthetic("t", text)
	p := preprocess.New(set)
	_, err := p.Process(unit)
	return err
}

// runDiags exercises the ordinary error paths, which are recorded in
// the diagnostic bag while the phase runs to completion.
func runDiags(t *testing.T, text string) *diag.Bag {
	t.Helper()
	set := source.NewSet(nil)
	unit := set.Synthetic("t", text)
	p := preprocess.New(set)
	if _, err := p.Process(unit); err != nil {
		t.Fatalf("Process(%q) aborted: %v", text, err)
	}
	return p.Diagnostics()
}

func texts(toks []lexer.Token) []string {
	var out []string
	for _, t := range toks {
		if t.Kind == lexer.Newline {
			out = append(out, "\\n")
			continue
		}
		out = append(out, t.Text)
	}
	return out
}

func join(toks []lexer.Token) string { return strings.Join(texts(toks), " ") }

// Input containing no preprocessor directives passes through unchanged.
func TestNoDirectivesIsIdentity(t *testing.T) {
	src := "push 2\npush 4\nadd\nsto \"$x\"\n"
	toks := run(t, src)
	lx := lexer.New(src, "t")
	want := lx.TokenizeAll()
	want = want[:len(want)-1]
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i := range want {
		if toks[i].Kind != want[i].Kind || toks[i].Text != want[i].Text {
			t.Fatalf("token %d: got %v %q, want %v %q", i, toks[i].Kind, toks[i].Text, want[i].Kind, want[i].Text)
		}
	}
}

func TestSimpleDefineExpandsInline(t *testing.T) {
	toks := run(t, ".define NUM 25\npush NUM\n")
	got := join(toks)
	want := "push 25 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDefineOverloadedByArity(t *testing.T) {
	toks := run(t, ".define NUM 25\n.define NUM(x) x+1\npush NUM\npush NUM(4)\n")
	got := join(toks)
	want := "push 25 \\n push 4 + 1 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDefineRecursiveReference(t *testing.T) {
	toks := run(t, ".define NUM 25\n.define OTHERNUM NUM+5\npush OTHERNUM\n")
	got := join(toks)
	want := "push 25 + 5 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// An overload whose body calls a different-arity overload of the same
// name is chaining, not recursion: the guard is keyed by (name, arity).
func TestArityOverloadChainingTerminates(t *testing.T) {
	toks := run(t, ".define a(x) a(x, 1)\n.define a(x,y) x+y\npush a(5)\n")
	got := join(toks)
	want := "push 5 + 1 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestUndef(t *testing.T) {
	toks := run(t, ".define NUM 25\n.undef NUM\npush NUM\n")
	got := join(toks)
	want := "push NUM \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestIfDefTakesTrueBranch(t *testing.T) {
	toks := run(t, ".define FOO 1\n.ifdef FOO\npush 1\n.else\npush 2\n.endif\n")
	got := join(toks)
	want := "push 1 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestIfNdefTakesElseBranch(t *testing.T) {
	toks := run(t, ".ifndef FOO\npush 2\n.else\npush 1\n.endif\n")
	got := join(toks)
	want := "push 2 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestElifChain(t *testing.T) {
	toks := run(t, ".define N 2\n.if N == 1\npush 1\n.elif N == 2\npush 2\n.else\npush 3\n.endif\n")
	got := join(toks)
	want := "push 2 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNestedConditionals(t *testing.T) {
	toks := run(t, ".if 1 == 1\n.if 0 == 1\npush 1\n.else\npush 2\n.endif\n.endif\n")
	got := join(toks)
	want := "push 2 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestUnclosedConditionalIsError(t *testing.T) {
	if err := runErr(t, ".if 1 == 1\npush 1\n"); err == nil {
		t.Fatal("expected unclosed-conditional error")
	}
}

func TestEndifWithoutIfIsError(t *testing.T) {
	if err := runErr(t, "push 1\n.endif\n"); err == nil {
		t.Fatal("expected mismatched .endif error")
	}
}

func TestMacroExpansionFixedArity(t *testing.T) {
	toks := run(t, ".macro DOUBLE 1\npush &1\npush &1\n.endmacro\nDOUBLE(5)\n")
	got := join(toks)
	want := "push 5 \\n push 5 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMacroArityRangeWithDefault(t *testing.T) {
	toks := run(t, ".macro RET 0-1 1\npush &1\nret\n.endmacro\nRET\nRET(9)\n")
	got := join(toks)
	want := "push 1 \\n ret \\n push 9 \\n ret \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMacroRecursionIsError(t *testing.T) {
	if err := runErr(t, ".macro LOOP 0\nLOOP\n.endmacro\nLOOP\n"); err == nil {
		t.Fatal("expected recursion error")
	}
}

func TestDefineRecursionIsError(t *testing.T) {
	if err := runErr(t, ".define A(x) A(x)\npush A(1)\n"); err == nil {
		t.Fatal("expected recursion error")
	}
}

func TestRepExpandsBodyNTimes(t *testing.T) {
	toks := run(t, ".rep 3\npush 1\n.endrep\n")
	got := join(toks)
	want := "push 1 \\n push 1 \\n push 1 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNestedRep(t *testing.T) {
	toks := run(t, ".rep 2\n.rep 2\npush 1\n.endrep\n.endrep\n")
	got := join(toks)
	want := "push 1 \\n push 1 \\n push 1 \\n push 1 \\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPassthroughAssemblerDirective(t *testing.T) {
	toks := run(t, ".func main\npush 1\n.endfunc\n")
	if len(toks) == 0 || toks[0].Kind != lexer.Directive || toks[0].Text != ".func" {
		t.Fatalf("expected passthrough .func directive, got %v", toks)
	}
}

func TestLineDirectiveIsRejected(t *testing.T) {
	bag := runDiags(t, ".line 5\n")
	if !bag.HasErrors() {
		t.Fatal("expected .line unsupported diagnostic")
	}
}

func TestMacroOverlappingRangeIsError(t *testing.T) {
	bag := runDiags(t, ".macro M 0-1 1\n.endmacro\n.macro M 1-2 1 2\n.endmacro\n")
	if !bag.HasErrors() {
		t.Fatal("expected overlapping-range diagnostic")
	}
}

func TestMacroArityMismatchIsError(t *testing.T) {
	bag := runDiags(t, ".macro M 1\npush &1\n.endmacro\nM(1,2)\n")
	if !bag.HasErrors() {
		t.Fatal("expected arity-mismatch diagnostic")
	}
}

// Independent mistakes in one unit are all reported; the phase doesn't
// stop at the first.
func TestIndependentErrorsReportedTogether(t *testing.T) {
	bag := runDiags(t, ".line 1\n.define\npush 1\n")
	if got := len(bag.Errors()); got != 2 {
		t.Fatalf("expected 2 errors, got %d: %s", got, bag.Render(false))
	}
}

// .unmacro of an arity that no registered overload covers is a silent
// no-op.
func TestUnmacroNonMatchingArityIsNoOp(t *testing.T) {
	toks := run(t, ".macro M 0\npush 1\n.endmacro\n.unmacro M 1\nM\n")
	got := join(toks)
	want := "push 1 \\n"
	if got != want {
		t.Fatalf("got %q want %q (unmacro of a non-overlapping arity should leave the overload registered)", got, want)
	}
}

// An include target not found on any search directory is an error.
func TestIncludeNotFoundIsError(t *testing.T) {
	bag := runDiags(t, ".include \"does-not-exist.kasm\"\n")
	if !bag.HasErrors() {
		t.Fatal("expected include-not-found diagnostic")
	}
}
