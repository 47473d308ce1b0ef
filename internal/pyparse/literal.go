package pyparse

import (
	"strconv"
	"strings"
)

// SplitArgs splits the text inside a call's parentheses into its top-level
// comma-separated argument expressions, respecting nested parentheses,
// brackets, braces and both quote styles. It never executes Python; it is a
// pure lexical split.
func SplitArgs(text string) []string {
	var args []string
	var depth int
	var quote byte
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(text[start:i]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		args = append(args, rest)
	}
	return args
}

// ParseLiteral parses a single Python literal expression (string, int,
// float, bool, None, list, or tuple of literals) into a Go value suitable
// for JSON encoding. Unrecognized expressions (arbitrary Python expressions,
// f-strings, function calls, names) are returned as the raw trimmed text
// with ok=false, so callers can decide whether to preserve the source form.
func ParseLiteral(expr string) (value any, ok bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, false
	}

	switch expr {
	case "True":
		return true, true
	case "False":
		return false, true
	case "None":
		return nil, true
	}

	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0] {
		return unquotePy(expr), true
	}
	// triple-quoted strings
	if len(expr) >= 6 {
		for _, q := range []string{`"""`, "'''"} {
			if strings.HasPrefix(expr, q) && strings.HasSuffix(expr, q) {
				return expr[3 : len(expr)-3], true
			}
		}
	}

	if n, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return f, true
	}

	if (strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]")) ||
		(strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")")) {
		inner := expr[1 : len(expr)-1]
		parts := SplitArgs(inner)
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			v, _ := ParseLiteral(p)
			out = append(out, v)
		}
		return out, true
	}

	return expr, false
}

func unquotePy(s string) string {
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteByte(inner[i])
			default:
				b.WriteByte('\\')
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}
