// Package diag implements the assembler's source-span-tagged diagnostics:
// errors and suppressible warnings raised from any pipeline stage and
// collected for the host to render.
package diag

import (
	"fmt"
	"strings"
)

// Span identifies a location in a Source Unit.
type Span struct {
	Unit string
	Line int
	Col  int
}

func (s Span) String() string {
	return fmt.Sprintf("%s:%d:%d", s.Unit, s.Line, s.Col)
}

// Severity distinguishes errors (halt assembly) from warnings (collected
// but non-fatal).
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Kind categorizes a diagnostic by the phase that raised it.
type Kind int

const (
	Lex Kind = iota
	Preprocess
	Expression
	Parse
	Symbol
	Emit
	IO
)

func (k Kind) String() string {
	switch k {
	case Lex:
		return "lex"
	case Preprocess:
		return "preprocess"
	case Expression:
		return "expression"
	case Parse:
		return "parse"
	case Symbol:
		return "symbol"
	case Emit:
		return "emit"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Diagnostic is a single error or warning tied to a source span.
type Diagnostic struct {
	Span     Span
	Severity Severity
	Kind     Kind
	Message  string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Span, d.Severity, d.Message)
}

// New builds a Diagnostic at the given severity.
func New(span Span, kind Kind, sev Severity, message string) *Diagnostic {
	return &Diagnostic{Span: span, Severity: sev, Kind: kind, Message: message}
}

// Errorf builds an error-severity Diagnostic.
func Errorf(span Span, kind Kind, format string, args ...any) *Diagnostic {
	return New(span, kind, Error, fmt.Sprintf(format, args...))
}

// Warnf builds a warning-severity Diagnostic.
func Warnf(span Span, kind Kind, format string, args ...any) *Diagnostic {
	return New(span, kind, Warning, fmt.Sprintf(format, args...))
}

// Bag collects diagnostics across the whole pipeline run. Errors halt
// assembly only after the current phase completes, so independent errors
// within one phase are reported together; the bag itself never
// halts anything — callers check HasErrors between phases.
type Bag struct {
	items []*Diagnostic
}

// Add appends a diagnostic.
func (b *Bag) Add(d *Diagnostic) {
	b.items = append(b.items, d)
}

// Addf is a convenience for Add(Errorf(...)).
func (b *Bag) Addf(span Span, kind Kind, format string, args ...any) {
	b.Add(Errorf(span, kind, format, args...))
}

// Warnf is a convenience for Add(Warnf(...)).
func (b *Bag) Warnf(span Span, kind Kind, format string, args ...any) {
	b.Add(Warnf(span, kind, format, args...))
}

// All returns every collected diagnostic, errors and warnings, in
// insertion order.
func (b *Bag) All() []*Diagnostic {
	return b.items
}

// Errors returns only error-severity diagnostics.
func (b *Bag) Errors() []*Diagnostic {
	var out []*Diagnostic
	for _, d := range b.items {
		if d.Severity == Error {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns only warning-severity diagnostics.
func (b *Bag) Warnings() []*Diagnostic {
	var out []*Diagnostic
	for _, d := range b.items {
		if d.Severity == Warning {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (b *Bag) HasErrors() bool {
	for _, d := range b.items {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Render formats all diagnostics for display. When suppressWarnings is
// set, warning-severity entries are dropped from the rendered text but
// were still counted by HasErrors/Warnings before this call (-w filters
// presentation only).
func (b *Bag) Render(suppressWarnings bool) string {
	var sb strings.Builder
	for _, d := range b.items {
		if suppressWarnings && d.Severity == Warning {
			continue
		}
		sb.WriteString(d.Error())
		sb.WriteByte('\n')
	}
	return sb.String()
}
