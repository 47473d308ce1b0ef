package item

import "testing"

func TestBuildID(t *testing.T) {
	cases := []struct {
		module, class, fn, paramID, want string
	}{
		{"test_one", "", "test_ok", "", "test_one::test_ok"},
		{"test_cls", "TestThing", "test_it", "", "test_cls::TestThing::test_it"},
		{"test_p", "", "test_p", "1", "test_p::test_p[1]"},
		{"test_p", "TestThing", "test_p", "1", "test_p::TestThing::test_p[1]"},
	}
	for _, c := range cases {
		got := BuildID(c.module, c.class, c.fn, c.paramID)
		if got != c.want {
			t.Errorf("BuildID(%q,%q,%q,%q) = %q, want %q", c.module, c.class, c.fn, c.paramID, got, c.want)
		}
	}
}

func TestScopeKey(t *testing.T) {
	it := TestItem{ID: "m::test_a", Module: "m", Class: "TestC"}

	if got := ScopeKey(ScopeFunction, it); got != it.ID {
		t.Errorf("function scope key = %q, want %q", got, it.ID)
	}
	if got := ScopeKey(ScopeClass, it); got != "m::TestC" {
		t.Errorf("class scope key = %q, want m::TestC", got)
	}
	if got := ScopeKey(ScopeModule, it); got != "m" {
		t.Errorf("module scope key = %q, want m", got)
	}
	if got := ScopeKey(ScopeSession, it); got != "<session>" {
		t.Errorf("session scope key = %q, want <session>", got)
	}

	noClass := TestItem{ID: "m::test_a", Module: "m"}
	if got := ScopeKey(ScopeClass, noClass); got != "m" {
		t.Errorf("class scope key with no class = %q, want m", got)
	}
}

func TestScopeValid(t *testing.T) {
	for _, s := range []Scope{ScopeFunction, ScopeClass, ScopeModule, ScopeSession} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Scope("bogus").Valid() {
		t.Error("bogus scope should not be valid")
	}
}

func TestIsBuiltin(t *testing.T) {
	for name := range BuiltinFixtures {
		if !IsBuiltin(name) {
			t.Errorf("%q should be a recognized builtin", name)
		}
	}
	if IsBuiltin("not_a_fixture") {
		t.Error("unexpected builtin")
	}
}
