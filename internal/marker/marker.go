// Package marker implements the Marker Engine (C5): extracting pytest-style
// markers from parsed decorator text, evaluating skip/xfail semantics, and
// evaluating filter expressions ("-m" style) over a test's marker set.
package marker

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/fastest-run/fastest/internal/pyparse"
)

// Marker is a parsed decorator annotation, e.g. @pytest.mark.skip(reason="x")
// becomes Marker{Name: "skip", Kwargs: {"reason": "x"}}.
type Marker struct {
	Name   string
	Args   []any
	Kwargs map[string]any
}

// Extract parses every mark decorator in decorators into a Marker. Decorators
// that are not marks (fixtures, user decorators) are ignored.
func Extract(decorators []string) []Marker {
	var out []Marker
	for _, d := range decorators {
		if !pyparse.IsMarkDecorator(d) {
			continue
		}
		call := pyparse.ParseDecoratorCall(d)
		m := Marker{Name: call.Name, Kwargs: map[string]any{}}
		for _, a := range call.Args {
			v, _ := pyparse.ParseLiteral(a)
			m.Args = append(m.Args, v)
		}
		for k, raw := range call.Kwargs {
			v, _ := pyparse.ParseLiteral(raw)
			m.Kwargs[k] = v
		}
		out = append(out, m)
	}
	return out
}

// Has reports whether markers contains one named name.
func Has(markers []Marker, name string) bool {
	for _, m := range markers {
		if m.Name == name {
			return true
		}
	}
	return false
}

func stringArg(m Marker, index int) (string, bool) {
	if index >= len(m.Args) {
		return "", false
	}
	s, ok := m.Args[index].(string)
	return s, ok
}

func reason(m Marker, fallbackArgIndex int, defaultReason string) string {
	if r, ok := m.Kwargs["reason"].(string); ok {
		return r
	}
	if r, ok := stringArg(m, fallbackArgIndex); ok {
		return r
	}
	return defaultReason
}

// SkipOutcome is the result of evaluating a test's skip markers.
type SkipOutcome struct {
	Skip   bool
	Reason string
}

// EvaluateSkip implements §4.4: a "skip" marker always skips; a "skipif"
// marker skips only when its condition evaluates true under
// EvaluateSkipif's restricted predicate set.
func EvaluateSkip(markers []Marker) SkipOutcome {
	for _, m := range markers {
		switch m.Name {
		case "skip":
			return SkipOutcome{Skip: true, Reason: reason(m, 0, "Skipped")}
		case "skipif":
			cond, ok := stringArg(m, 0)
			if !ok {
				continue
			}
			if EvaluateSkipif(cond) {
				return SkipOutcome{Skip: true, Reason: reason(m, 1, "Conditional skip")}
			}
		}
	}
	return SkipOutcome{}
}

// XfailOutcome is the result of evaluating a test's xfail markers.
type XfailOutcome struct {
	Xfail  bool
	Reason string
	Strict bool
}

// EvaluateXfail reports whether a test is marked as an expected failure.
func EvaluateXfail(markers []Marker) XfailOutcome {
	for _, m := range markers {
		if m.Name != "xfail" {
			continue
		}
		out := XfailOutcome{Xfail: true, Reason: reason(m, 0, "Expected to fail")}
		if strict, ok := m.Kwargs["strict"].(bool); ok {
			out.Strict = strict
		}
		return out
	}
	return XfailOutcome{}
}

// currentVersionInfo is the Python version tuple skipif conditions are
// evaluated against. It is a build-time constant rather than a probe of any
// real interpreter, per §9's restriction to static, non-executing discovery.
var currentVersionInfo = [3]int{3, 11, 0}

// platformNames maps Go's GOOS to the sys.platform string a skipif condition
// would compare against.
var platformNames = map[string]string{
	"linux":   "linux",
	"darwin":  "darwin",
	"windows": "win32",
}

var (
	platformCmpRe = regexp.MustCompile(`sys\.platform\s*(==|!=)\s*['"]([A-Za-z0-9_]+)['"]`)
	versionCmpRe  = regexp.MustCompile(`sys\.version_info\s*(<=|>=|==|!=|<|>)\s*\(([^)]*)\)`)
)

// EvaluateSkipif evaluates a skipif condition against the enumerated
// predicate set documented in §4.4/§9: literal truthy/falsy tokens,
// sys.platform comparisons against known OS names, and sys.version_info
// tuple comparisons against a build-time version constant. Any condition
// outside that set conservatively evaluates to false (do not skip).
func EvaluateSkipif(condition string) bool {
	cond := strings.TrimSpace(condition)

	switch cond {
	case "True", "true", "1":
		return true
	case "False", "false", "0", "":
		return false
	}

	if m := platformCmpRe.FindStringSubmatch(cond); m != nil {
		op, want := m[1], m[2]
		current := platformNames[runtime.GOOS]
		switch op {
		case "==":
			return current == want
		case "!=":
			return current != want
		}
	}

	if m := versionCmpRe.FindStringSubmatch(cond); m != nil {
		op := m[1]
		tuple := parseIntTuple(m[2])
		cmp := compareVersionTuple(currentVersionInfo, tuple)
		switch op {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		case ">=":
			return cmp >= 0
		case "==":
			return cmp == 0
		case "!=":
			return cmp != 0
		}
	}

	return false
}

func parseIntTuple(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return out
		}
		out = append(out, n)
	}
	return out
}

func compareVersionTuple(current [3]int, want []int) int {
	for i := 0; i < len(want); i++ {
		var c int
		if i < len(current) {
			c = current[i]
		}
		if c != want[i] {
			if c < want[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Filter compiles a pytest "-m" style expression (identifiers combined with
// and/or/not and parenthesized grouping) and reports whether markers
// satisfies it. §4.4's grammar uses the word connectives and/or/not, but CEL
// itself has no such keyword-operator support — only &&/||/! — so the
// expression is translated to CEL's symbolic operators by toCELExpression
// before being handed to a per-call CEL environment declaring one boolean
// variable per identifier referenced, bound to whether markers carries a
// mark of that name. A fresh cel.NewEnv is built for each expression.
func Filter(expression string, markers []Marker) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}

	names := identifiers(expression)
	if len(names) == 0 {
		return false, fmt.Errorf("marker: expression %q has no identifiers", expression)
	}

	opts := make([]cel.EnvOption, 0, len(names))
	vars := make(map[string]any, len(names))
	for _, n := range names {
		opts = append(opts, cel.Variable(n, cel.BoolType))
		vars[n] = Has(markers, n)
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return false, fmt.Errorf("marker: building environment for %q: %w", expression, err)
	}

	ast, issues := env.Compile(toCELExpression(expression))
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("marker: compiling %q: %w", expression, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("marker: preparing program for %q: %w", expression, err)
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("marker: evaluating %q: %w", expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("marker: expression %q did not evaluate to a boolean", expression)
	}

	if len(markers) == 0 && strings.HasPrefix(expression, "not ") {
		return true, nil
	}
	return result, nil
}

var (
	andRe = regexp.MustCompile(`\band\b`)
	orRe  = regexp.MustCompile(`\bor\b`)
	notRe = regexp.MustCompile(`\bnot\b`)
)

// toCELExpression rewrites §4.4's and/or/not connectives into CEL's
// &&/||/! operators. Word-boundary matching means identifiers that merely
// contain these words (e.g. "android") are left untouched.
func toCELExpression(expression string) string {
	out := andRe.ReplaceAllString(expression, "&&")
	out = orRe.ReplaceAllString(out, "||")
	out = notRe.ReplaceAllString(out, "!")
	return out
}

var identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
var keywords = map[string]bool{"and": true, "or": true, "not": true, "true": true, "false": true}

// identifiers returns the distinct non-keyword identifiers referenced in a
// filter expression, in first-seen order.
func identifiers(expression string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range identifierRe.FindAllString(expression, -1) {
		if keywords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
