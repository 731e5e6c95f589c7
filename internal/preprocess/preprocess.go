// Package preprocess implements the token-stream preprocessor:
// conditional assembly, overloaded single-line and multi-line macros,
// repetition blocks, and file inclusion, all operating on the token
// stream produced by internal/lexer rather than on raw source lines.
package preprocess

import (
	"fmt"
	"path/filepath"

	"github.com/ksp-kos/kasm/internal/diag"
	"github.com/ksp-kos/kasm/internal/expr"
	"github.com/ksp-kos/kasm/internal/lexer"
	"github.com/ksp-kos/kasm/internal/source"
)

// Preprocessor owns the definition and macro tables and the include
// stack; it is shared across an entire assembly run, including every
// file reached through `.include`.
//
// Ordinary problems (unknown overloads, malformed directives, missing
// includes) are recorded in the diagnostic bag and the offending
// construct is skipped, so one run reports every independent mistake.
// Only include cycles, expansion-recursion overflow, and malformed
// conditional stacks abort the phase immediately, surfaced as the
// returned error.
type Preprocessor struct {
	sources      *source.Set
	defs         map[defKey]*Definition
	macros       map[string][]*Macro
	includeStack []string
	curDir       string
	maxDepth     int
	bag          *diag.Bag
}

// New creates a Preprocessor that resolves `.include` targets through
// sources.
func New(sources *source.Set) *Preprocessor {
	return &Preprocessor{
		sources:  sources,
		defs:     make(map[defKey]*Definition),
		macros:   make(map[string][]*Macro),
		maxDepth: 256,
		bag:      &diag.Bag{},
	}
}

// Diagnostics returns the Lex and Preprocess diagnostics collected
// across every Process call on this Preprocessor, in source order.
func (p *Preprocessor) Diagnostics() *diag.Bag { return p.bag }

// LookupZeroArityDef implements expr.DefLookup so `.if`/`.rep` expressions
// (and the downstream expression evaluator generally) can resolve
// zero-arity `.define` names.
func (p *Preprocessor) LookupZeroArityDef(name string) ([]lexer.Token, bool) {
	d, ok := p.defs[defKey{name, 0}]
	if !ok {
		return nil, false
	}
	return d.Body, true
}

func (p *Preprocessor) newEvaluator() *expr.Evaluator { return expr.NewEvaluator(p) }

// Process preprocesses unit's full text into a flat, directive-free
// token stream (plus any pass-through assembler directives such as
// `.extern`/`.func`/`.i32`, which this package does not interpret).
func (p *Preprocessor) Process(unit *source.Unit) ([]lexer.Token, error) {
	lx := lexer.New(unit.Text, unit.Name)
	toks := lx.TokenizeAll()
	for _, d := range lx.Diagnostics().All() {
		p.bag.Add(d)
	}
	if n := len(toks); n > 0 && toks[n-1].Kind == lexer.EndOfFile {
		toks = toks[:n-1]
	}
	prevDir := p.curDir
	if unit.Path != "" {
		p.curDir = filepath.Dir(unit.Path)
	}
	defer func() { p.curDir = prevDir }()
	return p.run(toks, nil)
}

// expansionFrame is one level of the active expansion chain. Frames
// carry the call-site arity because overload identity is (name, arity):
// an arity-1 overload whose body calls the arity-2 overload of the same
// name is legitimate chaining, not recursion.
type expansionFrame struct {
	name  string
	arity int
}

func inStack(stack []expansionFrame, name string, arity int) bool {
	for _, f := range stack {
		if f.name == name && f.arity == arity {
			return true
		}
	}
	return false
}

// run expands one flat token region (a whole source unit, a macro
// body, a `.rep` body, or a `.define` replacement list) into its fully
// preprocessed form. callStack names the overloads currently being
// expanded, for recursion detection.
func (p *Preprocessor) run(tokens []lexer.Token, callStack []expansionFrame) ([]lexer.Token, error) {
	var out []lexer.Token
	var cond []condFrame
	i := 0
	for i < len(tokens) {
		tok := tokens[i]

		if tok.Kind == lexer.Directive {
			nextIdx, emit, err := p.handleDirective(tokens, i, &cond, callStack)
			if err != nil {
				return nil, err
			}
			out = append(out, emit...)
			i = nextIdx
			continue
		}

		if !p.active(cond) {
			i++
			continue
		}

		if tok.Kind == lexer.Identifier {
			def, mac, args, endIdx, matched, err := p.tryCall(tokens, i)
			if err != nil {
				p.bag.Addf(tok.Span, diag.Preprocess, "%s", err)
				i = findLineEnd(tokens, i)
				continue
			}
			if matched {
				expanded, err := p.expandCall(def, mac, tok.Str(), args, callStack, tok.Span)
				if err != nil {
					return nil, err
				}
				out = append(out, expanded...)
				i = endIdx
				// A multi-line macro body ends with its own newline, so the
				// invocation line's newline is not emitted a second time.
				if mac != nil && len(expanded) > 0 && expanded[len(expanded)-1].Kind == lexer.Newline &&
					i < len(tokens) && tokens[i].Kind == lexer.Newline {
					i++
				}
				continue
			}
		}

		out = append(out, tok)
		i++
	}
	if len(cond) != 0 {
		return nil, fmt.Errorf("unclosed conditional directive (.if/.ifdef/...) at end of input")
	}
	return out, nil
}

func findLineEnd(tokens []lexer.Token, i int) int {
	for i < len(tokens) && tokens[i].Kind != lexer.Newline {
		i++
	}
	return i
}

func kindForElif(name string) string {
	switch name {
	case ".elif":
		return ".if"
	case ".elifn":
		return ".ifn"
	case ".elifdef":
		return ".ifdef"
	case ".elifndef":
		return ".ifndef"
	}
	return ".if"
}

func truthy(v expr.Value) (bool, error) {
	switch v.Kind {
	case expr.Bool:
		return v.B, nil
	case expr.Integer:
		return v.I != 0, nil
	default:
		return false, fmt.Errorf("condition must evaluate to a boolean or integer, got %s", v.Kind)
	}
}

func (p *Preprocessor) isDefinedAnyArity(args []lexer.Token) bool {
	if len(args) == 0 {
		return false
	}
	name := args[0].Str()
	for k := range p.defs {
		if k.name == name {
			return true
		}
	}
	return len(p.macros[name]) > 0
}

func (p *Preprocessor) evalCondition(kind string, args []lexer.Token) (bool, error) {
	switch kind {
	case ".if":
		v, err := p.newEvaluator().Eval(args)
		if err != nil {
			return false, err
		}
		return truthy(v)
	case ".ifn":
		v, err := p.newEvaluator().Eval(args)
		if err != nil {
			return false, err
		}
		b, err := truthy(v)
		if err != nil {
			return false, err
		}
		return !b, nil
	case ".ifdef":
		return p.isDefinedAnyArity(args), nil
	case ".ifndef":
		return !p.isDefinedAnyArity(args), nil
	}
	return false, fmt.Errorf("unknown condition kind %q", kind)
}

// handleDirective processes the directive token at tokens[i] and
// returns the index to resume from and any tokens it produced (for
// `.include`/`.rep` expansions and for assembler-owned directives,
// which pass through unchanged). The error return is reserved for the
// immediate-abort cases; everything else is recorded in the bag and
// the directive is skipped.
func (p *Preprocessor) handleDirective(tokens []lexer.Token, i int, cond *[]condFrame, callStack []expansionFrame) (int, []lexer.Token, error) {
	d := tokens[i]
	le := findLineEnd(tokens, i+1)
	args := tokens[i+1 : le]
	nextLineStart := le
	if le < len(tokens) {
		nextLineStart = le + 1
	}

	switch d.Text {
	case ".if", ".ifn", ".ifdef", ".ifndef":
		outer := p.active(*cond)
		var val bool
		if outer {
			v, err := p.evalCondition(d.Text, args)
			if err != nil {
				p.bag.Addf(d.Span, diag.Expression, "%s condition: %s", d.Text, err)
			}
			val = v && err == nil
		}
		*cond = append(*cond, condFrame{active: outer && val, satisfied: val})
		return nextLineStart, nil, nil

	case ".elif", ".elifn", ".elifdef", ".elifndef":
		if len(*cond) == 0 {
			return 0, nil, fmt.Errorf("%s: %s without a matching .if", d.Span, d.Text)
		}
		top := &(*cond)[len(*cond)-1]
		if top.inElse {
			return 0, nil, fmt.Errorf("%s: %s after .else", d.Span, d.Text)
		}
		outerAct := p.outerActive(*cond)
		if top.satisfied || !outerAct {
			top.active = false
			return nextLineStart, nil, nil
		}
		val, err := p.evalCondition(kindForElif(d.Text), args)
		if err != nil {
			p.bag.Addf(d.Span, diag.Expression, "%s condition: %s", d.Text, err)
			val = false
		}
		top.active = outerAct && val
		top.satisfied = val
		return nextLineStart, nil, nil

	case ".else":
		if len(*cond) == 0 {
			return 0, nil, fmt.Errorf("%s: .else without a matching .if", d.Span)
		}
		top := &(*cond)[len(*cond)-1]
		if top.inElse {
			return 0, nil, fmt.Errorf("%s: multiple .else branches for one .if", d.Span)
		}
		top.inElse = true
		if top.satisfied {
			top.active = false
		} else {
			top.active = p.outerActive(*cond)
			top.satisfied = true
		}
		return nextLineStart, nil, nil

	case ".endif":
		if len(*cond) == 0 {
			return 0, nil, fmt.Errorf("%s: .endif without a matching .if", d.Span)
		}
		*cond = (*cond)[:len(*cond)-1]
		return nextLineStart, nil, nil
	}

	active := p.active(*cond)

	switch d.Text {
	case ".define":
		if active {
			if err := p.doDefine(args); err != nil {
				p.bag.Addf(d.Span, diag.Preprocess, "%s", err)
			}
		}
		return nextLineStart, nil, nil

	case ".undef":
		if active {
			p.doUndef(args)
		}
		return nextLineStart, nil, nil

	case ".macro":
		bodyEnd, endDirIdx, wellFormed := p.findMacroEnd(tokens, nextLineStart, d.Span)
		afterIdx := len(tokens)
		if endDirIdx < len(tokens) {
			afterIdx = findLineEnd(tokens, endDirIdx+1)
			if afterIdx < len(tokens) {
				afterIdx++
			}
		}
		if active && wellFormed {
			if err := p.doMacro(args, tokens[nextLineStart:bodyEnd]); err != nil {
				p.bag.Addf(d.Span, diag.Preprocess, "%s", err)
			}
		}
		return afterIdx, nil, nil

	case ".endmacro":
		p.bag.Addf(d.Span, diag.Preprocess, ".endmacro without a matching .macro")
		return nextLineStart, nil, nil

	case ".unmacro":
		if active {
			p.doUnmacro(args)
		}
		return nextLineStart, nil, nil

	case ".rep":
		bodyEnd, endDirIdx, wellFormed := p.findRepEnd(tokens, nextLineStart, d.Span)
		afterIdx := len(tokens)
		if endDirIdx < len(tokens) {
			afterIdx = findLineEnd(tokens, endDirIdx+1)
			if afterIdx < len(tokens) {
				afterIdx++
			}
		}
		if !active || !wellFormed {
			return afterIdx, nil, nil
		}
		cnt, err := p.newEvaluator().Eval(args)
		if err != nil {
			p.bag.Addf(d.Span, diag.Expression, ".rep count: %s", err)
			return afterIdx, nil, nil
		}
		if cnt.Kind != expr.Integer {
			p.bag.Addf(d.Span, diag.Preprocess, ".rep count must be an integer")
			return afterIdx, nil, nil
		}
		if cnt.I < 0 {
			p.bag.Addf(d.Span, diag.Preprocess, ".rep count must be non-negative")
			return afterIdx, nil, nil
		}
		body := tokens[nextLineStart:bodyEnd]
		repeated := make([]lexer.Token, 0, len(body)*int(cnt.I))
		for n := int64(0); n < cnt.I; n++ {
			repeated = append(repeated, body...)
		}
		expanded, err := p.run(repeated, callStack)
		if err != nil {
			return 0, nil, err
		}
		return afterIdx, expanded, nil

	case ".endrep":
		p.bag.Addf(d.Span, diag.Preprocess, ".endrep without a matching .rep")
		return nextLineStart, nil, nil

	case ".include":
		if !active {
			return nextLineStart, nil, nil
		}
		expanded, err := p.doInclude(args, d.Span)
		if err != nil {
			return 0, nil, err
		}
		return nextLineStart, expanded, nil

	case ".line":
		if active {
			p.bag.Addf(d.Span, diag.Preprocess, ".line is not supported")
		}
		return nextLineStart, nil, nil

	default:
		// Not a preprocessor directive (.extern, .func, .i32, ...): pass
		// through untouched for the assembler's parser stage.
		if !active {
			return nextLineStart, nil, nil
		}
		passthrough := append([]lexer.Token{}, tokens[i:le]...)
		if le < len(tokens) {
			passthrough = append(passthrough, tokens[le])
		}
		return nextLineStart, passthrough, nil
	}
}

func (p *Preprocessor) doDefine(args []lexer.Token) error {
	if len(args) == 0 {
		return fmt.Errorf(".define requires a name")
	}
	nameTok := args[0]
	if nameTok.Kind != lexer.Identifier {
		return fmt.Errorf(".define name must be an identifier")
	}
	rest := args[1:]
	var params []string
	if len(rest) > 0 && rest[0].Kind == lexer.Punctuator && rest[0].Text == "(" {
		j := 1
		for j < len(rest) && !(rest[j].Kind == lexer.Punctuator && rest[j].Text == ")") {
			if rest[j].Kind == lexer.Identifier {
				params = append(params, rest[j].Str())
			}
			j++
		}
		if j >= len(rest) {
			return fmt.Errorf("unterminated parameter list")
		}
		rest = rest[j+1:]
	}
	p.defs[defKey{nameTok.Str(), len(params)}] = &Definition{Name: nameTok.Str(), Params: params, Body: rest}
	return nil
}

func (p *Preprocessor) doUndef(args []lexer.Token) {
	if len(args) == 0 {
		return
	}
	name := args[0].Str()
	arity := 0
	if len(args) > 1 && args[1].Kind == lexer.Integer {
		arity = int(args[1].Int())
	}
	delete(p.defs, defKey{name, arity})
}

// findMacroEnd locates the `.endmacro` matching the `.macro` whose body
// begins at start. Nested `.macro` and a missing `.endmacro` are
// recorded as diagnostics; wellFormed is false in both cases so the
// caller skips the block without registering it.
func (p *Preprocessor) findMacroEnd(tokens []lexer.Token, start int, open diag.Span) (bodyEnd, endDirIdx int, wellFormed bool) {
	wellFormed = true
	for i := start; i < len(tokens); i++ {
		if tokens[i].Kind == lexer.Directive {
			switch tokens[i].Text {
			case ".macro":
				p.bag.Addf(tokens[i].Span, diag.Preprocess, "nested .macro is not allowed")
				wellFormed = false
			case ".endmacro":
				return i, i, wellFormed
			}
		}
	}
	p.bag.Addf(open, diag.Preprocess, "unterminated .macro block (missing .endmacro)")
	return len(tokens), len(tokens), false
}

func parseArityRange(rest []lexer.Token) (min, max int, defaults []lexer.Token, err error) {
	if len(rest) == 0 {
		return 0, 0, nil, fmt.Errorf(".macro requires an arity or arity range")
	}
	if rest[0].Kind != lexer.Integer {
		return 0, 0, nil, fmt.Errorf(".macro arity must be an integer")
	}
	if len(rest) >= 3 && rest[1].Kind == lexer.Punctuator && rest[1].Text == "-" && rest[2].Kind == lexer.Integer {
		lo := int(rest[0].Int())
		hi := int(rest[2].Int())
		if hi < lo {
			return 0, 0, nil, fmt.Errorf("macro arity range %d-%d is invalid", lo, hi)
		}
		tail := rest[3:]
		if len(tail) != hi-lo {
			return 0, 0, nil, fmt.Errorf("expected %d default value(s) for the optional parameters, got %d", hi-lo, len(tail))
		}
		return lo, hi, tail, nil
	}
	n := int(rest[0].Int())
	if len(rest) > 1 {
		return 0, 0, nil, fmt.Errorf("unexpected tokens after macro arity")
	}
	return n, n, nil, nil
}

func (p *Preprocessor) doMacro(header []lexer.Token, body []lexer.Token) error {
	if len(header) == 0 {
		return fmt.Errorf(".macro requires a name")
	}
	nameTok := header[0]
	if nameTok.Kind != lexer.Identifier {
		return fmt.Errorf(".macro name must be an identifier")
	}
	lo, hi, defaults, err := parseArityRange(header[1:])
	if err != nil {
		return err
	}
	m := &Macro{Name: nameTok.Str(), Min: lo, Max: hi, Defaults: defaults, Body: body}
	for _, existing := range p.macros[nameTok.Str()] {
		if existing.overlaps(m) {
			return fmt.Errorf("macro %q arity range %d-%d overlaps existing range %d-%d", nameTok.Str(), lo, hi, existing.Min, existing.Max)
		}
	}
	p.macros[nameTok.Str()] = append(p.macros[nameTok.Str()], m)
	return nil
}

func (p *Preprocessor) doUnmacro(args []lexer.Token) {
	if len(args) == 0 {
		return
	}
	name := args[0].Str()
	lo, hi := 0, 0
	if len(args) >= 2 && args[1].Kind == lexer.Integer {
		if len(args) >= 4 && args[2].Kind == lexer.Punctuator && args[2].Text == "-" && args[3].Kind == lexer.Integer {
			lo = int(args[1].Int())
			hi = int(args[3].Int())
		} else {
			lo = int(args[1].Int())
			hi = lo
		}
	}
	var kept []*Macro
	for _, m := range p.macros[name] {
		if m.Min <= hi && lo <= m.Max {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(p.macros, name)
	} else {
		p.macros[name] = kept
	}
}

// findRepEnd locates the `.endrep` matching the `.rep` whose body
// begins at start, tracking nesting depth. A missing `.endrep` is
// recorded as a diagnostic and the block is skipped.
func (p *Preprocessor) findRepEnd(tokens []lexer.Token, start int, open diag.Span) (bodyEnd, endDirIdx int, wellFormed bool) {
	depth := 1
	for i := start; i < len(tokens); i++ {
		if tokens[i].Kind == lexer.Directive {
			switch tokens[i].Text {
			case ".rep":
				depth++
			case ".endrep":
				depth--
				if depth == 0 {
					return i, i, true
				}
			}
		}
	}
	p.bag.Addf(open, diag.Preprocess, "unterminated .rep block (missing .endrep)")
	return len(tokens), len(tokens), false
}

// doInclude expands an `.include` directive. A missing or unreadable
// target is an ordinary diagnostic; re-entering a path already on the
// include stack aborts the phase.
func (p *Preprocessor) doInclude(args []lexer.Token, span diag.Span) ([]lexer.Token, error) {
	if len(args) != 1 || args[0].Kind != lexer.String {
		p.bag.Addf(span, diag.Preprocess, ".include expects a single string literal path")
		return nil, nil
	}
	target := args[0].Str()
	resolved, err := p.sources.ResolveInclude(p.curDir, target)
	if err != nil {
		p.bag.Addf(span, diag.Preprocess, "%s", err)
		return nil, nil
	}
	for _, seen := range p.includeStack {
		if seen == resolved {
			return nil, fmt.Errorf("%s: include cycle detected: %s", span, resolved)
		}
	}
	unit, err := p.sources.LoadFile(resolved)
	if err != nil {
		p.bag.Addf(span, diag.IO, "%s", err)
		return nil, nil
	}
	p.includeStack = append(p.includeStack, resolved)
	expanded, err := p.Process(unit)
	p.includeStack = p.includeStack[:len(p.includeStack)-1]
	if err != nil {
		return nil, err
	}
	return expanded, nil
}

// parseArgList parses a balanced, comma-separated `(...)` argument list
// starting at tokens[openIdx] == "(". It returns the per-argument token
// slices and the index just past the matching ")".
func parseArgList(tokens []lexer.Token, openIdx int) ([][]lexer.Token, int, error) {
	depth := 1
	i := openIdx + 1
	var args [][]lexer.Token
	var cur []lexer.Token
	for i < len(tokens) {
		t := tokens[i]
		switch {
		case t.Kind == lexer.Punctuator && t.Text == "(":
			depth++
			cur = append(cur, t)
			i++
		case t.Kind == lexer.Punctuator && t.Text == ")":
			depth--
			i++
			if depth == 0 {
				args = append(args, cur)
				if len(args) == 1 && len(args[0]) == 0 {
					args = nil
				}
				return args, i, nil
			}
			cur = append(cur, t)
		case t.Kind == lexer.Punctuator && t.Text == "," && depth == 1:
			args = append(args, cur)
			cur = nil
			i++
		case t.Kind == lexer.Newline || t.Kind == lexer.EndOfFile:
			return nil, 0, fmt.Errorf("unterminated argument list")
		default:
			cur = append(cur, t)
			i++
		}
	}
	return nil, 0, fmt.Errorf("unterminated argument list")
}

func (p *Preprocessor) anyDefRegistered(name string) bool {
	for k := range p.defs {
		if k.name == name {
			return true
		}
	}
	return false
}

// tryCall recognizes a definition/macro invocation starting at
// tokens[i]. matched is false (with a nil error) when the identifier is
// simply not a registered name, so the caller treats it as an ordinary
// token; err reports a malformed call to a registered name.
func (p *Preprocessor) tryCall(tokens []lexer.Token, i int) (def *Definition, mac *Macro, args [][]lexer.Token, endIdx int, matched bool, err error) {
	name := tokens[i].Str()
	hasParen := i+1 < len(tokens) && tokens[i+1].Kind == lexer.Punctuator && tokens[i+1].Text == "("

	if hasParen {
		parsed, end, perr := parseArgList(tokens, i+1)
		if perr != nil {
			return nil, nil, nil, 0, false, perr
		}
		args, endIdx = parsed, end
	} else if _, isMacro := p.macros[name]; isMacro && i+1 < len(tokens) && tokens[i+1].Kind != lexer.Newline {
		// A multi-line macro also takes its arguments unparenthesized, as
		// a comma-separated list running to the end of the line.
		le := findLineEnd(tokens, i+1)
		wrapped := append([]lexer.Token{{Kind: lexer.Punctuator, Text: "("}}, tokens[i+1:le]...)
		wrapped = append(wrapped, lexer.Token{Kind: lexer.Punctuator, Text: ")"})
		parsed, _, perr := parseArgList(wrapped, 0)
		if perr != nil {
			return nil, nil, nil, 0, false, perr
		}
		args, endIdx = parsed, le
	} else {
		endIdx = i + 1
	}
	arity := len(args)

	if d, ok := p.defs[defKey{name, arity}]; ok {
		return d, nil, args, endIdx, true, nil
	}
	if list, ok := p.macros[name]; ok {
		for _, m := range list {
			if m.contains(arity) {
				return nil, m, args, endIdx, true, nil
			}
		}
		return nil, nil, nil, 0, false, fmt.Errorf("no overload of macro %q accepts %d argument(s)", name, arity)
	}
	if p.anyDefRegistered(name) {
		return nil, nil, nil, 0, false, fmt.Errorf("no overload of %q accepts %d argument(s)", name, arity)
	}
	return nil, nil, nil, 0, false, nil
}

func substituteParams(body []lexer.Token, params []string, args [][]lexer.Token) []lexer.Token {
	idx := make(map[string]int, len(params))
	for i, pn := range params {
		idx[pn] = i
	}
	var out []lexer.Token
	for _, t := range body {
		if t.Kind == lexer.Identifier {
			if ai, ok := idx[t.Str()]; ok {
				out = append(out, args[ai]...)
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func substituteArgRefs(body []lexer.Token, actual [][]lexer.Token) []lexer.Token {
	var out []lexer.Token
	for _, t := range body {
		if t.Kind == lexer.MacroArgRef {
			k := t.ArgIndex()
			if k >= 1 && k <= len(actual) {
				out = append(out, actual[k-1]...)
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// expandCall substitutes def/mac's parameters with args and recursively
// re-scans the result for further calls. True recursion (the same
// (name, arity) overload already on the stack) and depth overflow abort
// the phase.
func (p *Preprocessor) expandCall(def *Definition, mac *Macro, name string, args [][]lexer.Token, callStack []expansionFrame, span diag.Span) ([]lexer.Token, error) {
	arity := len(args)
	if inStack(callStack, name, arity) {
		return nil, fmt.Errorf("%s: recursive expansion of %q", span, name)
	}
	if len(callStack) >= p.maxDepth {
		return nil, fmt.Errorf("%s: macro/definition expansion nested too deeply (> %d) while expanding %q", span, p.maxDepth, name)
	}
	newStack := append(append([]expansionFrame{}, callStack...), expansionFrame{name: name, arity: arity})

	var body []lexer.Token
	if def != nil {
		body = substituteParams(def.Body, def.Params, args)
	} else {
		actual := make([][]lexer.Token, mac.Max)
		for k := 0; k < mac.Max; k++ {
			if k < len(args) {
				actual[k] = args[k]
				continue
			}
			defTok, ok := mac.argDefault(k + 1)
			if !ok {
				p.bag.Addf(span, diag.Preprocess, "macro %q: missing argument %d and no default", name, k+1)
				continue
			}
			actual[k] = []lexer.Token{defTok}
		}
		body = substituteArgRefs(mac.Body, actual)
	}
	return p.run(body, newStack)
}
