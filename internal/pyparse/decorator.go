package pyparse

import "strings"

// DecoratorCall is the lexical breakdown of a decorator's textual form,
// e.g. "pytest.mark.parametrize('x', [1,2,3])" ->
// Name="parametrize", Args=["'x'", "[1,2,3]"].
type DecoratorCall struct {
	Name   string
	Args   []string          // raw positional argument text
	Kwargs map[string]string // raw keyword argument text, keyed by name
}

// stripMarkPrefix removes a pytest.mark./fastest.mark./mark. prefix if present.
func stripMarkPrefix(s string) string {
	for _, prefix := range []string{"pytest.mark.", "fastest.mark.", "mark."} {
		if rest, ok := cutPrefix(s, prefix); ok {
			return rest
		}
	}
	return s
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// ParseDecoratorCall parses one (already joined, multi-line-balanced)
// decorator string, with or without its leading "@", into its name and
// argument lists. Arguments are left as raw text; use ParseLiteral to
// resolve individual ones.
func ParseDecoratorCall(decorator string) DecoratorCall {
	text := strings.TrimSpace(decorator)
	text = strings.TrimPrefix(text, "@")
	text = strings.TrimSpace(text)
	text = stripMarkPrefix(text)

	open := strings.IndexByte(text, '(')
	if open == -1 {
		return DecoratorCall{Name: text, Kwargs: map[string]string{}}
	}
	name := text[:open]
	// text is expected to end with the matching ')', possibly with trailing
	// whitespace from multi-line joining.
	end := strings.LastIndexByte(text, ')')
	if end == -1 || end < open {
		return DecoratorCall{Name: name, Kwargs: map[string]string{}}
	}

	call := DecoratorCall{Name: name, Kwargs: map[string]string{}}
	for _, arg := range SplitArgs(text[open+1 : end]) {
		if key, val, ok := splitKwarg(arg); ok {
			call.Kwargs[key] = val
		} else if arg != "" {
			call.Args = append(call.Args, arg)
		}
	}
	return call
}

// splitKwarg splits "name=value" at the top-level '=' (not "==", not inside
// nested brackets/quotes, which SplitArgs already protects against since it
// operates per top-level argument).
func splitKwarg(arg string) (key, val string, ok bool) {
	var depth int
	var quote byte
	for i := 0; i < len(arg); i++ {
		c := arg[i]
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
		case c == '=' && depth == 0:
			if i+1 < len(arg) && arg[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && (arg[i-1] == '=' || arg[i-1] == '!' || arg[i-1] == '<' || arg[i-1] == '>') {
				continue
			}
			key = strings.TrimSpace(arg[:i])
			val = strings.TrimSpace(arg[i+1:])
			return key, val, isIdentifier(key)
		}
	}
	return "", "", false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

// ContainsFixtureMarker reports whether a decorator's textual form marks its
// function as a fixture definition, per §4.2: "Any function carrying a
// decorator whose textual form contains 'fixture'".
func ContainsFixtureMarker(decorator string) bool {
	return strings.Contains(decorator, "fixture")
}

// IsMarkDecorator reports whether a decorator is a pytest/fastest mark
// decorator (as opposed to e.g. @fixture or a user decorator).
func IsMarkDecorator(decorator string) bool {
	return strings.Contains(decorator, "mark.") || strings.Contains(decorator, "@mark")
}
