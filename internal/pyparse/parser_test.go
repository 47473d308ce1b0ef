package pyparse

import (
	"strings"
	"testing"
)

func TestParseSimpleFunctions(t *testing.T) {
	src := `
def test_ok():
    assert True

def test_bad():
    assert False

def helper():
    pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %#v", len(items), items)
	}
	if items[0].ID != "t::test_ok" || items[1].ID != "t::test_bad" {
		t.Errorf("got ids %q, %q", items[0].ID, items[1].ID)
	}
}

func TestParseMarkers(t *testing.T) {
	src := `
import pytest

@pytest.mark.skip(reason="later")
def test_skipped():
    pass

@pytest.mark.xfail
def test_known_broken():
    assert False
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
	if len(items[0].Decorators) != 1 || !strings.Contains(items[0].Decorators[0], "skip") {
		t.Errorf("got decorators %#v", items[0].Decorators)
	}
	if len(items[1].Decorators) != 1 || !strings.Contains(items[1].Decorators[0], "xfail") {
		t.Errorf("got decorators %#v", items[1].Decorators)
	}
}

func TestParseParametrize(t *testing.T) {
	src := `
import pytest

@pytest.mark.parametrize("x", [1, 2, 3])
def test_square(x):
    assert x * x >= 0
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
	want := []string{"t::test_square[1]", "t::test_square[2]", "t::test_square[3]"}
	for i, w := range want {
		if items[i].ID != w {
			t.Errorf("item %d: got %q, want %q", i, items[i].ID, w)
		}
	}
}

func TestParseParametrizeMultiLayer(t *testing.T) {
	src := `
import pytest

@pytest.mark.parametrize("x", [1, 2])
@pytest.mark.parametrize("y", ["a", "b"])
def test_pair(x, y):
    pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 4 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
}

func TestParseSignatureParamsBecomeFixtureDeps(t *testing.T) {
	src := `
def test_writes_file(tmp_path, db_session):
    pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
	if got := items[0].Fixtures; len(got) != 2 || got[0] != "tmp_path" || got[1] != "db_session" {
		t.Fatalf("got fixtures %#v", got)
	}
}

func TestParseSignatureParamsExcludeSelfAndParametrized(t *testing.T) {
	src := `
import pytest

class TestThing:
    @pytest.mark.parametrize("x", [1, 2])
    def test_with_fixture(self, x, db_session):
        pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
	for _, it := range items {
		if len(it.Fixtures) != 1 || it.Fixtures[0] != "db_session" {
			t.Fatalf("got fixtures %#v", it.Fixtures)
		}
	}
}

func TestParseSignatureParamsMergeWithUsefixtures(t *testing.T) {
	src := `
import pytest

@pytest.mark.usefixtures("cleanup")
def test_combo(tmp_path):
    pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
	if got := items[0].Fixtures; len(got) != 2 || got[0] != "cleanup" || got[1] != "tmp_path" {
		t.Fatalf("got fixtures %#v", got)
	}
}

func TestParseClassScopedTests(t *testing.T) {
	src := `
class TestThing:
    def test_one(self):
        pass

    def test_two(self):
        pass

class HelperNotATestClass:
    def test_ignored(self):
        pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
	if items[0].ID != "t::TestThing::test_one" || items[1].ID != "t::TestThing::test_two" {
		t.Errorf("got ids %q, %q", items[0].ID, items[1].ID)
	}
	if items[0].Class != "TestThing" {
		t.Errorf("got class %q", items[0].Class)
	}
}

func TestParseFixtureDefs(t *testing.T) {
	src := `
import pytest

@pytest.fixture(scope="module", autouse=True)
def db_conn():
    yield None

@pytest.fixture
def tmp_value():
    return 1
`
	fixtures, _, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(fixtures) != 2 {
		t.Fatalf("got %d fixtures: %#v", len(fixtures), fixtures)
	}
	if fixtures[0].Name != "db_conn" || fixtures[0].Scope != "module" || !fixtures[0].Autouse {
		t.Errorf("got %#v", fixtures[0])
	}
	if fixtures[1].Name != "tmp_value" || fixtures[1].Scope != "function" || fixtures[1].Autouse {
		t.Errorf("got %#v", fixtures[1])
	}
}

func TestParseSkipsNestedClosures(t *testing.T) {
	src := `
def test_outer():
    def test_inner_not_collected():
        pass
    assert True
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Func != "test_outer" {
		t.Fatalf("got %#v", items)
	}
}

func TestParseAsyncTest(t *testing.T) {
	src := `
async def test_async_ok():
    pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || !items[0].Async {
		t.Fatalf("got %#v", items)
	}
}

func TestParseMultiLineDecorator(t *testing.T) {
	src := `
import pytest

@pytest.mark.parametrize(
    "x",
    [1, 2],
)
def test_wrapped(x):
    pass
`
	_, items, err := Parse(strings.NewReader(src), "t.py", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items: %#v", len(items), items)
	}
}
