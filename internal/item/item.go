// Package item defines the typed in-memory representation of discovered test
// items and fixture definitions (component C4 of the core: the Item Model).
package item

import (
	"fmt"
	"strings"
)

// Scope is the lifetime over which a fixture value is reused.
type Scope string

const (
	ScopeFunction Scope = "function"
	ScopeClass    Scope = "class"
	ScopeModule   Scope = "module"
	ScopeSession  Scope = "session"
)

// Valid reports whether s is one of the four recognized scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeFunction, ScopeClass, ScopeModule, ScopeSession:
		return true
	}
	return false
}

// TestItem is the unit of execution produced by discovery.
//
// ID is stable and unique within one discovery run, of the form
// "module_dotted_path::ClassName::function_name[param_id]", with "ClassName::"
// omitted when the test is not a method and "[param_id]" present only for
// parametrized instances.
type TestItem struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Line       int            `json:"line"`
	Module     string         `json:"module"`
	Func       string         `json:"func"`
	Class      string         `json:"class,omitempty"`
	Async      bool           `json:"async,omitempty"`
	Decorators []string       `json:"decorators,omitempty"`
	Fixtures   []string       `json:"fixtures,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// HasClass reports whether the item is a method on a test class.
func (t TestItem) HasClass() bool {
	return t.Class != ""
}

// BuildID computes the canonical node id for a test item from its module
// path, optional class, function name and optional parametrization suffix.
func BuildID(module, class, fn, paramID string) string {
	var b strings.Builder
	b.WriteString(module)
	b.WriteString("::")
	if class != "" {
		b.WriteString(class)
		b.WriteString("::")
	}
	b.WriteString(fn)
	if paramID != "" {
		b.WriteString("[")
		b.WriteString(paramID)
		b.WriteString("]")
	}
	return b.String()
}

// FixtureDef is a fixture declaration extracted from source.
type FixtureDef struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Scope        Scope    `json:"scope"`
	Autouse      bool     `json:"autouse,omitempty"`
	Params       []any    `json:"params,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Decorator    string   `json:"decorator,omitempty"`
}

// Parametrized reports whether the fixture declares its own parameter values.
func (f FixtureDef) Parametrized() bool {
	return len(f.Params) > 0
}

func (f FixtureDef) String() string {
	return fmt.Sprintf("fixture(%s, scope=%s, autouse=%v)@%s", f.Name, f.Scope, f.Autouse, f.Path)
}

// FixtureInstance is a resolved fixture value at runtime. The value/teardown
// handles are opaque references into the Python worker that produced them;
// the coordinator never interprets their contents, only their identity.
type FixtureInstance struct {
	Name           string
	ScopeKey       string
	ValueHandle    string
	TeardownHandle string
	CreatedAt      int64
	AccessCount    int
}

// ScopeKey computes the scope key for a fixture given its scope and the
// test item that is requesting it, per §3 of the spec:
//
//	function -> test id
//	class    -> module_path + "::" + class_name
//	module   -> module_path
//	session  -> constant
func ScopeKey(scope Scope, it TestItem) string {
	switch scope {
	case ScopeFunction:
		return it.ID
	case ScopeClass:
		if it.Class == "" {
			return it.Module
		}
		return it.Module + "::" + it.Class
	case ScopeModule:
		return it.Module
	case ScopeSession:
		return "<session>"
	default:
		return it.ID
	}
}

// BuiltinFixtures is the set of fixture names recognized without a
// corresponding FixtureDef anywhere in the conftest hierarchy.
var BuiltinFixtures = map[string]Scope{
	"tmp_path":    ScopeFunction,
	"capsys":      ScopeFunction,
	"capfd":       ScopeFunction,
	"monkeypatch": ScopeFunction,
	"request":     ScopeFunction,
}

// IsBuiltin reports whether name is a recognized built-in fixture.
func IsBuiltin(name string) bool {
	_, ok := BuiltinFixtures[name]
	return ok
}
