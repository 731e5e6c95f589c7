package lexer

import "strings"

// Render reconstructs a readable source form of a token stream, used by
// the CLI's `-p` (preprocess-only) mode to write the fully expanded
// source back out. It does not attempt to reproduce the original
// spacing exactly; re-lexing its output yields an equivalent token
// stream, which is all `-a` (skip preprocessing) requires of it.
func Render(tokens []Token) string {
	var sb strings.Builder
	needSpace := false
	for _, t := range tokens {
		switch t.Kind {
		case Newline:
			sb.WriteByte('\n')
			needSpace = false
			continue
		case EndOfFile:
			continue
		}
		if needSpace {
			sb.WriteByte(' ')
		}
		switch t.Kind {
		case String:
			writeQuoted(&sb, t.Str())
		default:
			sb.WriteString(t.Text)
		}
		needSpace = true
	}
	sb.WriteByte('\n')
	return sb.String()
}

func writeQuoted(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}
