package marker

import "testing"

func TestExtractIgnoresNonMarkDecorators(t *testing.T) {
	markers := Extract([]string{`@pytest.fixture(scope="module")`, `@pytest.mark.slow`})
	if len(markers) != 1 || markers[0].Name != "slow" {
		t.Fatalf("got %#v", markers)
	}
}

func TestEvaluateSkip(t *testing.T) {
	markers := Extract([]string{`@pytest.mark.skip(reason="later")`})
	out := EvaluateSkip(markers)
	if !out.Skip || out.Reason != "later" {
		t.Errorf("got %#v", out)
	}
}

func TestEvaluateSkipDefaultReason(t *testing.T) {
	markers := Extract([]string{`@pytest.mark.skip`})
	out := EvaluateSkip(markers)
	if !out.Skip || out.Reason != "Skipped" {
		t.Errorf("got %#v", out)
	}
}

func TestEvaluateSkipifLiteral(t *testing.T) {
	markers := Extract([]string{`@pytest.mark.skipif("True", reason="always")`})
	out := EvaluateSkip(markers)
	if !out.Skip || out.Reason != "always" {
		t.Errorf("got %#v", out)
	}

	markers = Extract([]string{`@pytest.mark.skipif("False")`})
	out = EvaluateSkip(markers)
	if out.Skip {
		t.Errorf("got %#v", out)
	}
}

func TestEvaluateSkipifVersion(t *testing.T) {
	if !EvaluateSkipif("sys.version_info < (3, 99)") {
		t.Error("expected skip for version below current")
	}
	if EvaluateSkipif("sys.version_info >= (3, 99)") {
		t.Error("expected no skip for version above current")
	}
}

func TestEvaluateSkipifUnknownConditionIsConservative(t *testing.T) {
	if EvaluateSkipif("os.environ.get('CI') == 'true'") {
		t.Error("unrecognized condition should not skip")
	}
}

func TestEvaluateXfail(t *testing.T) {
	markers := Extract([]string{`@pytest.mark.xfail(reason="known bug", strict=True)`})
	out := EvaluateXfail(markers)
	if !out.Xfail || out.Reason != "known bug" || !out.Strict {
		t.Errorf("got %#v", out)
	}
}

func TestFilterSimple(t *testing.T) {
	markers := Extract([]string{"@pytest.mark.slow"})

	ok, err := Filter("slow", markers)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}

	ok, err = Filter("not slow", markers)
	if err != nil || ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestFilterAndOrNot(t *testing.T) {
	markers := Extract([]string{"@pytest.mark.slow", "@pytest.mark.integration"})

	ok, err := Filter("slow and integration", markers)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}

	ok, err = Filter("slow and not integration", markers)
	if err != nil || ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}

	ok, err = Filter("(unit or slow) and not smoke", markers)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestFilterNoMarkersMatchesNot(t *testing.T) {
	ok, err := Filter("not slow", nil)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestFilterEmptyExpressionMatchesAll(t *testing.T) {
	ok, err := Filter("", nil)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestFilterIdentifierContainingKeywordIsNotMangled(t *testing.T) {
	markers := Extract([]string{"@pytest.mark.android"})

	ok, err := Filter("android", markers)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}
