package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanDefaultsAndIgnore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "test_a.py"), "def test_a(): pass")
	writeFile(t, filepath.Join(root, "b_test.py"), "def test_b(): pass")
	writeFile(t, filepath.Join(root, "helper.py"), "x = 1")
	writeFile(t, filepath.Join(root, "sub", "test_c.py"), "def test_c(): pass")
	writeFile(t, filepath.Join(root, "ignored", "test_d.py"), "def test_d(): pass")
	writeFile(t, filepath.Join(root, ".gitignore"), "ignored/\n")

	got, err := Scan([]string{root}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	var rels []string
	for _, g := range got {
		rel, _ := filepath.Rel(root, g)
		rels = append(rels, filepath.ToSlash(rel))
	}
	sort.Strings(rels)

	want := []string{"b_test.py", "sub/test_c.py", "test_a.py"}
	if len(rels) != len(want) {
		t.Fatalf("got %v, want %v", rels, want)
	}
	for i := range want {
		if rels[i] != want[i] {
			t.Errorf("got %v, want %v", rels, want)
			break
		}
	}
}

func TestScanMissingRootFails(t *testing.T) {
	_, err := Scan([]string{"/nonexistent/path/xyz"}, Options{})
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestScanExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "test_a.py"), "")
	writeFile(t, filepath.Join(root, "test_skip.py"), "")

	got, err := Scan([]string{root}, Options{Exclude: []string{"test_skip.py"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "test_a.py" {
		t.Fatalf("got %v", got)
	}
}
