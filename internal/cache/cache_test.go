package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fastest-run/fastest/internal/item"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCacheGetMissThenHit(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test_a.py")
	writeFile(t, file, "def test_a(): pass")

	c := New()
	if _, _, ok := c.Get(file); ok {
		t.Fatal("expected miss before Update")
	}

	items := []item.TestItem{{ID: "m::test_a"}}
	if err := c.Update(file, nil, items); err != nil {
		t.Fatal(err)
	}

	_, got, ok := c.Get(file)
	if !ok {
		t.Fatal("expected hit after Update")
	}
	if len(got) != 1 || got[0].ID != "m::test_a" {
		t.Errorf("got %#v", got)
	}
}

func TestCacheInvalidatesOnContentChange(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test_a.py")
	writeFile(t, file, "def test_a(): pass")

	c := New()
	if err := c.Update(file, nil, []item.TestItem{{ID: "m::test_a"}}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, file, "def test_a(): assert False  # changed, different length")

	if _, _, ok := c.Get(file); ok {
		t.Fatal("expected miss after content changed")
	}
}

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test_a.py")
	writeFile(t, file, "def test_a(): pass")

	c := New()
	if err := c.Update(file, nil, []item.TestItem{{ID: "m::test_a"}}); err != nil {
		t.Fatal(err)
	}

	cachePath := filepath.Join(dir, "cache.json")
	if err := c.Save(cachePath); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	_, got, ok := loaded.Get(file)
	if !ok || len(got) != 1 {
		t.Fatalf("got %#v, ok=%v", got, ok)
	}
}

func TestCacheVersionMismatchDiscards(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	writeFile(t, cachePath, `{"version":1,"entries":{}}`)

	loaded, err := Load(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Stats().TotalEntries != 0 {
		t.Fatal("expected empty cache after version mismatch")
	}
}

func TestCacheLoadMissingFileReturnsEmpty(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Stats().TotalEntries != 0 {
		t.Fatal("expected empty cache")
	}
}

func TestCacheExpiry(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test_a.py")
	writeFile(t, file, "def test_a(): pass")

	c := New()
	c.SetMaxAge(1 * time.Millisecond)
	if err := c.Update(file, nil, []item.TestItem{{ID: "m::test_a"}}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, _, ok := c.Get(file); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestCacheRemoveAndClear(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test_a.py")
	writeFile(t, file, "def test_a(): pass")

	c := New()
	if err := c.Update(file, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !c.Remove(file) {
		t.Fatal("expected Remove to report true")
	}
	if c.Remove(file) {
		t.Fatal("expected second Remove to report false")
	}

	if err := c.Update(file, nil, nil); err != nil {
		t.Fatal(err)
	}
	c.Clear()
	if c.Stats().TotalEntries != 0 {
		t.Fatal("expected Clear to empty the cache")
	}
}
