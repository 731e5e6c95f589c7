package preprocess

import "github.com/ksp-kos/kasm/internal/lexer"

// Definition is a single-line macro (`.define`), keyed by (name, arity).
// Replacement tokens are stored verbatim and re-evaluated at each call
// site.
type Definition struct {
	Name   string
	Params []string
	Body   []lexer.Token
}

type defKey struct {
	name  string
	arity int
}

// Macro is a multi-line macro (`.macro` / `.endmacro`), overloadable by
// a min/max arity range rather than a single arity.
type Macro struct {
	Name     string
	Min      int
	Max      int
	Defaults []lexer.Token // one replacement token each, for tail params Min+1..Max
	Body     []lexer.Token
}

func (m *Macro) contains(arity int) bool { return arity >= m.Min && arity <= m.Max }

func (m *Macro) overlaps(other *Macro) bool {
	return m.Min <= other.Max && other.Min <= m.Max
}

// argDefault returns the replacement token for the 1-based parameter
// index k when an actual argument is missing, filled from the default
// tail (k must be in (Min, Max]).
func (m *Macro) argDefault(k int) (lexer.Token, bool) {
	idx := k - m.Min - 1
	if idx < 0 || idx >= len(m.Defaults) {
		return lexer.Token{}, false
	}
	return m.Defaults[idx], true
}
