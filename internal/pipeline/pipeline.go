// Package pipeline wires the Preprocessor, Parser/First Pass, Second
// Pass, and KO Emitter stages into the two entry points the CLI and
// the test suite actually need: a full preprocess-then-assemble run,
// and a preprocess-only run for `-p`.
package pipeline

import (
	"io"

	"github.com/ksp-kos/kasm/internal/assembler"
	"github.com/ksp-kos/kasm/internal/codegen"
	"github.com/ksp-kos/kasm/internal/diag"
	"github.com/ksp-kos/kasm/internal/ko"
	"github.com/ksp-kos/kasm/internal/lexer"
	"github.com/ksp-kos/kasm/internal/preprocess"
	"github.com/ksp-kos/kasm/internal/source"
)

// Options carries the run-level choices the CLI exposes as flags.
type Options struct {
	SkipPreprocess bool // -a
	SourceName     string
	Comment        string
}

// Result bundles everything a caller might want to inspect after a
// run: the merged diagnostics and, for each phase that ran without a
// prior phase erroring, that phase's output. Output is nil when an
// earlier phase raised errors, since a phase's errors halt the
// pipeline once the phase completes.
type Result struct {
	Tokens []lexer.Token
	Prog   *assembler.Program
	Output *codegen.Output
	Bag    *diag.Bag
}

// Preprocess runs just the Source Loader + Lexer + Preprocessor stages,
// returning a flat, directive-free token stream plus the phase's
// diagnostics. Used by `-p`. The error return is the preprocessor's
// immediate-abort case (include cycle, expansion recursion, malformed
// conditional stack); everything else lands in the bag.
func Preprocess(sources *source.Set, unit *source.Unit, opts Options) ([]lexer.Token, *diag.Bag, error) {
	if opts.SkipPreprocess {
		lx := lexer.New(unit.Text, unit.Name)
		toks := lx.TokenizeAll()
		if n := len(toks); n > 0 && toks[n-1].Kind == lexer.EndOfFile {
			toks = toks[:n-1]
		}
		return toks, lx.Diagnostics(), nil
	}
	p := preprocess.New(sources)
	toks, err := p.Process(unit)
	return toks, p.Diagnostics(), err
}

// Assemble runs the full pipeline: Preprocess, then the Parser/First
// Pass, then the Second Pass. Each phase runs to completion and its
// diagnostics merge into one Bag, so independent errors in one file
// are reported together; a phase that raised errors stops the phases
// after it from running.
func Assemble(sources *source.Set, unit *source.Unit, opts Options) (*Result, error) {
	toks, preBag, err := Preprocess(sources, unit, opts)
	if err != nil {
		return nil, err
	}

	merged := &diag.Bag{}
	for _, d := range preBag.All() {
		merged.Add(d)
	}
	if merged.HasErrors() {
		return &Result{Tokens: toks, Bag: merged}, nil
	}

	prog, bag := assembler.Assemble(toks)
	for _, d := range bag.All() {
		merged.Add(d)
	}
	if merged.HasErrors() {
		return &Result{Tokens: toks, Prog: prog, Bag: merged}, nil
	}

	out, genBag := codegen.Generate(prog)
	for _, d := range genBag.All() {
		merged.Add(d)
	}
	return &Result{Tokens: toks, Prog: prog, Output: out, Bag: merged}, nil
}

// WriteKO serializes r.Output as a KO container. Callers should check
// r.Bag.HasErrors() before calling this.
func WriteKO(w io.Writer, r *Result, sourceName, comment string) error {
	return ko.Write(w, r.Output, ko.Options{SourceName: sourceName, Comment: comment})
}
