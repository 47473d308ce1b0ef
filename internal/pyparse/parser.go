// Package pyparse implements the Test Parser (C2): extracting test
// functions, classes, fixtures, decorators and parameters from Python
// source without executing it.
//
// The approach is a hand-written, indentation- and bracket-aware scanner
// rather than a full CST. §4.2 of the spec explicitly sanctions this as a
// fallback "so long as it matches the CST on the test corpus"; embedding a
// real Python grammar (e.g. via cgo tree-sitter bindings) would require a
// grammar fetch at build time and break hermetic builds, so the scanner
// approach is used throughout, matching the spirit of the teacher's own
// hand-rolled parsers (gavel's fixtures/parser.go, testrunner/parsers/
// gotest_json.go).
package pyparse

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/fastest-run/fastest/internal/item"
)

var (
	defRe      = regexp.MustCompile(`^(async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	classRe    = regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)\s*(\([^)]*\))?\s*:`)
	decoratorR = regexp.MustCompile(`^@`)
)

// ParseError describes a file that could not be parsed. Per §4.2, a parse
// failure is logged and contributes no items; it does not abort discovery.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pyparse: %s: %s", e.Path, e.Reason)
}

// ParseFile reads the Python source at path and extracts fixture
// definitions and test items, without executing any of it. module is the
// dotted module path to embed in item ids (callers derive this from the
// file's position under the configured roots).
func ParseFile(path, module string) ([]item.FixtureDef, []item.TestItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ParseError{Path: path, Reason: err.Error()}
	}
	defer f.Close()
	return Parse(f, path, module)
}

// Parse extracts fixture definitions and test items from r, which must
// contain Python source. path is recorded on every produced item/fixture
// for scope resolution; module is the dotted module path used to build
// item ids.
func Parse(r io.Reader, path, module string) ([]item.FixtureDef, []item.TestItem, error) {
	lines, err := logicalLines(r)
	if err != nil {
		return nil, nil, &ParseError{Path: path, Reason: err.Error()}
	}

	var fixtures []item.FixtureDef
	var items []item.TestItem

	type block struct {
		indent  int
		kind    string // "class" or "def"
		name    string
		isClass bool
	}
	var stack []block
	var pending []string // pending decorator texts for the next def

	enclosingClass := func() (string, bool) {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].kind == "def" {
				return "", false // nested inside a function; not a top-level item
			}
			if stack[i].kind == "class" {
				return stack[i].name, true
			}
		}
		return "", false
	}

	directlyNestedInFunc := func() bool {
		return len(stack) > 0 && stack[len(stack)-1].kind == "def"
	}

	for _, ln := range lines {
		for len(stack) > 0 && ln.indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}

		text := ln.text

		if decoratorR.MatchString(text) {
			pending = append(pending, text)
			continue
		}

		if m := classRe.FindStringSubmatch(text); m != nil {
			stack = append(stack, block{indent: ln.indent, kind: "class", name: m[1]})
			pending = nil
			continue
		}

		if m := defRe.FindStringSubmatch(text); m != nil {
			isAsync := strings.TrimSpace(m[1]) == "async"
			funcName := m[2]
			decorators := pending
			pending = nil

			nestedInFunc := directlyNestedInFunc()
			className, inClass := enclosingClass()

			stack = append(stack, block{indent: ln.indent, kind: "def", name: funcName})

			if nestedInFunc {
				continue // closures are not discoverable test items or fixtures
			}

			isFixtureDef := false
			for _, d := range decorators {
				if ContainsFixtureMarker(d) {
					isFixtureDef = true
					break
				}
			}

			if isFixtureDef {
				fd := buildFixtureDef(funcName, path, decorators)
				fd.Dependencies = signatureParamNames(text)
				fixtures = append(fixtures, fd)
				continue
			}

			isTestFunc := strings.HasPrefix(funcName, "test_")
			if inClass {
				if !strings.HasPrefix(className, "Test") || !isTestFunc {
					continue
				}
			} else if !isTestFunc {
				continue
			}

			base := item.TestItem{
				Path:       path,
				Line:       ln.lineNo,
				Module:     module,
				Func:       funcName,
				Class:      classNameIf(inClass, className),
				Async:      isAsync,
				Decorators: decorators,
				Fixtures:   fixtureDepsFromDecorators(decorators),
			}

			expanded, err := expandParametrize(base, decorators, signatureParamNames(text))
			if err != nil {
				return nil, nil, &ParseError{Path: path, Reason: err.Error()}
			}
			items = append(items, expanded...)
			continue
		}

		// Any other statement at this indentation clears pending decorators
		// that did not attach to a class/def (syntactically invalid in real
		// Python, but defensive against partial/garbled input).
		if strings.TrimSpace(text) != "" {
			pending = nil
		}
	}

	return fixtures, items, nil
}

func classNameIf(inClass bool, name string) string {
	if inClass {
		return name
	}
	return ""
}

func buildFixtureDef(name, path string, decorators []string) item.FixtureDef {
	fd := item.FixtureDef{
		Name:  name,
		Path:  path,
		Scope: item.ScopeFunction,
	}
	for _, d := range decorators {
		if !ContainsFixtureMarker(d) {
			continue
		}
		fd.Decorator = d
		call := ParseDecoratorCall(d)
		if raw, ok := call.Kwargs["scope"]; ok {
			if v, ok := ParseLiteral(raw); ok {
				if s, ok := v.(string); ok && item.Scope(s).Valid() {
					fd.Scope = item.Scope(s)
				}
			}
		}
		if raw, ok := call.Kwargs["autouse"]; ok {
			if v, ok := ParseLiteral(raw); ok {
				if b, ok := v.(bool); ok {
					fd.Autouse = b
				}
			}
		}
		if raw, ok := call.Kwargs["params"]; ok {
			if v, ok := ParseLiteral(raw); ok {
				if list, ok := v.([]any); ok {
					fd.Params = list
				}
			}
		} else if len(call.Args) > 0 {
			if v, ok := ParseLiteral(call.Args[0]); ok {
				if list, ok := v.([]any); ok {
					fd.Params = list
				}
			}
		}
	}
	return fd
}

// fixtureDepsFromDecorators surfaces only the names explicitly requested via
// a "usefixtures(...)" marker; the other (and far more common) way a test
// requests a fixture, by naming it as a parameter, is handled separately by
// signatureParamNames and merged into Fixtures in expandParametrize.
func fixtureDepsFromDecorators(decorators []string) []string {
	var deps []string
	for _, d := range decorators {
		call := ParseDecoratorCall(d)
		if call.Name != "usefixtures" {
			continue
		}
		for _, a := range call.Args {
			if v, ok := ParseLiteral(a); ok {
				if s, ok := v.(string); ok {
					deps = append(deps, s)
				}
			}
		}
	}
	return deps
}

func expandParametrize(base item.TestItem, decorators []string, sigParams []string) ([]item.TestItem, error) {
	type layer struct {
		names  []string
		values []any
	}
	var layers []layer

	for _, d := range decorators {
		call := ParseDecoratorCall(d)
		if call.Name != "parametrize" || len(call.Args) < 2 {
			continue
		}
		rawNames, ok := ParseLiteral(call.Args[0])
		if !ok {
			continue
		}
		namesStr, _ := rawNames.(string)
		var names []string
		for _, n := range strings.Split(namesStr, ",") {
			names = append(names, strings.TrimSpace(n))
		}

		values, ok := ParseLiteral(call.Args[1])
		if !ok {
			continue
		}
		valueList, _ := values.([]any)
		layers = append(layers, layer{names: names, values: valueList})
	}

	// A parametrize layer's names bind plain values, not fixtures, so they
	// are excluded from the signature-derived fixture list even though they
	// also appear as parameters.
	consumed := map[string]bool{}
	for _, l := range layers {
		for _, n := range l.names {
			consumed[n] = true
		}
	}
	base.Fixtures = mergeFixtureNames(base.Fixtures, sigParams, consumed)

	if len(layers) == 0 {
		base.ID = item.BuildID(base.Module, base.Class, base.Func, "")
		return []item.TestItem{base}, nil
	}

	type pending struct {
		it        item.TestItem
		idParts   []string
	}
	items := []pending{{it: base}}
	for _, l := range layers {
		var next []pending
		for _, p := range items {
			for _, v := range l.values {
				clone := p.it
				clone.Params = cloneParams(p.it.Params)
				idParts := append([]string{}, p.idParts...)

				if len(l.names) == 1 {
					clone.Params[l.names[0]] = v
					idParts = append(idParts, idFromValue(v))
				} else if tuple, ok := v.([]any); ok {
					var parts []string
					for i, name := range l.names {
						var val any
						if i < len(tuple) {
							val = tuple[i]
						}
						clone.Params[name] = val
						parts = append(parts, idFromValue(val))
					}
					idParts = append(idParts, strings.Join(parts, "-"))
				}
				next = append(next, pending{it: clone, idParts: idParts})
			}
		}
		items = next
	}

	out := make([]item.TestItem, 0, len(items))
	for _, p := range items {
		it := p.it
		it.ID = item.BuildID(it.Module, it.Class, it.Func, strings.Join(p.idParts, "-"))
		out = append(out, it)
	}
	return out, nil
}

func cloneParams(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func idFromValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case nil:
		return "None"
	default:
		return fmt.Sprint(t)
	}
}

// mergeFixtureNames appends sigParams to existing (the usefixtures-derived
// list), skipping any name already present and any name in consumed (bound
// by a parametrize layer rather than requested as a fixture), preserving
// first-seen order.
func mergeFixtureNames(existing []string, sigParams []string, consumed map[string]bool) []string {
	have := make(map[string]bool, len(existing))
	out := append([]string{}, existing...)
	for _, f := range existing {
		have[f] = true
	}
	for _, n := range sigParams {
		if consumed[n] || have[n] {
			continue
		}
		have[n] = true
		out = append(out, n)
	}
	return out
}

// signatureParamNames extracts a test function's own parameter names from
// its raw def text, in declaration order: per §3, naming a fixture as a
// parameter is the standard way a pytest test requests it, every bit as
// much as an explicit usefixtures(...) marker. defText is the full
// (possibly multi-line, already joined by logicalLines) "def name(...):"
// text. "self"/"cls" are excluded since they are not fixture requests, and
// a star-prefixed *args/**kwargs is skipped since it never binds a single
// fixture by name.
func signatureParamNames(defText string) []string {
	open := strings.IndexByte(defText, '(')
	if open < 0 {
		return nil
	}

	depth := 0
	closeIdx := -1
	var quote byte
	for i := open; i < len(defText); i++ {
		c := defText[i]
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
			if depth == 0 {
				closeIdx = i
			}
		}
		if closeIdx >= 0 {
			break
		}
	}
	if closeIdx < 0 {
		return nil
	}

	inner := strings.TrimSpace(defText[open+1 : closeIdx])
	if inner == "" {
		return nil
	}

	var names []string
	for _, part := range splitTopLevel(inner, ',') {
		p := strings.TrimSpace(part)
		if p == "" || strings.HasPrefix(p, "*") {
			continue
		}
		if idx := strings.IndexAny(p, ":="); idx >= 0 {
			p = p[:idx]
		}
		name := strings.TrimSpace(p)
		if name == "" || name == "self" || name == "cls" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// splitTopLevel splits s on sep, ignoring any occurrence nested inside
// brackets or a string literal, e.g. the "," inside a default value like
// "items: list = [1, 2]".
func splitTopLevel(s string, sep byte) []string {
	var out []string
	var depth int
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// FuncEntry is a module-level function definition found by ModuleFunctions.
type FuncEntry struct {
	Name string
	Line int
}

// ModuleFunctions returns every module-level function definition in r
// (neither a class method nor a nested closure), regardless of its name.
// Conftest hook discovery uses this to recognize hook functions by a fixed
// name set rather than pytest's test_ naming convention.
func ModuleFunctions(r io.Reader) ([]FuncEntry, error) {
	lines, err := logicalLines(r)
	if err != nil {
		return nil, err
	}

	type block struct {
		indent int
		kind   string
	}
	var stack []block
	var out []FuncEntry

	for _, ln := range lines {
		for len(stack) > 0 && ln.indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}

		text := ln.text
		if decoratorR.MatchString(text) {
			continue
		}
		if m := classRe.FindStringSubmatch(text); m != nil {
			stack = append(stack, block{indent: ln.indent, kind: "class"})
			continue
		}
		if m := defRe.FindStringSubmatch(text); m != nil {
			topLevel := len(stack) == 0
			stack = append(stack, block{indent: ln.indent, kind: "def"})
			if topLevel {
				out = append(out, FuncEntry{Name: m[2], Line: ln.lineNo})
			}
		}
	}
	return out, nil
}

type logicalLine struct {
	indent int
	text   string
	lineNo int
}

func logicalLines(f io.Reader) ([]logicalLine, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var out []logicalLine
	var buf strings.Builder
	var depth int
	var startLine int
	var startIndent int
	lineNo := 0
	inBuf := false

	flush := func() {
		if inBuf {
			out = append(out, logicalLine{indent: startIndent, text: strings.TrimSpace(buf.String()), lineNo: startLine})
			buf.Reset()
			inBuf = false
			depth = 0
		}
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		if !inBuf {
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			startIndent = indentOf(raw)
			startLine = lineNo
			inBuf = true
		} else {
			buf.WriteByte(' ')
		}

		stripped := stripInlineComment(trimmed)
		buf.WriteString(stripped)
		depth += bracketDelta(stripped)

		if depth <= 0 {
			flush()
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func indentOf(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8
		default:
			return n
		}
	}
	return n
}

// stripInlineComment removes a trailing "# ..." comment that is not inside
// a string literal. This is a best-effort lexical pass, not a full
// tokenizer, consistent with §4.2's sanctioned fallback-scanner approach.
func stripInlineComment(s string) string {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			return strings.TrimRight(s[:i], " \t")
		}
	}
	return s
}

func bracketDelta(s string) int {
	var depth int
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		}
	}
	return depth
}
