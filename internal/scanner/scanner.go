// Package scanner implements the Source Scanner (C1): enumerating candidate
// Python source files under a set of root paths.
package scanner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"
)

// DefaultIncludePatterns are the default file-name glob patterns used to
// recognize test files, matching pytest's own defaults.
var DefaultIncludePatterns = []string{"test_*.py", "*_test.py"}

// ignoreFileNames are the source-control ignore files the scanner honors,
// the same set a pytest-compatible tool is expected to respect.
var ignoreFileNames = []string{".gitignore", ".ignore"}

// Options configures a scan.
type Options struct {
	Include []string // base-name glob patterns; DefaultIncludePatterns if empty
	Exclude []string // base-name glob patterns to always skip
}

// Scan walks roots and returns every file path that matches Options.Include,
// does not match Options.Exclude, and is not excluded by a discovered
// ignore file. Unreadable directories are logged and skipped; a root that
// does not exist is a hard error (per §4.1: "a path that does not exist
// fails the run").
func Scan(roots []string, opts Options) ([]string, error) {
	include := opts.Include
	if len(include) == 0 {
		include = DefaultIncludePatterns
	}

	var out []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("scanner: root %q does not exist: %w", root, err)
		}
		if !info.IsDir() {
			if matchesAny(filepath.Base(root), include) {
				out = append(out, root)
			}
			continue
		}

		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("scanner: resolving root %q: %w", root, err)
		}

		matcher := newIgnoreMatcher(absRoot)
		if err := walk(absRoot, absRoot, include, opts.Exclude, matcher, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func walk(root, dir string, include, exclude []string, matcher *ignoreMatcher, out *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warnf("scanner: skipping unreadable directory %s: %v", dir, err)
		return nil
	}

	matcher.loadDir(dir)

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		rel, _ := filepath.Rel(root, full)

		if matcher.ignored(rel, entry.IsDir()) {
			continue
		}

		if entry.Type()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(full)
			if err != nil {
				logger.Warnf("scanner: skipping broken symlink %s: %v", full, err)
				continue
			}
			if !withinRoot(root, target) {
				continue
			}
			info, err := os.Stat(target)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := walk(root, full, include, exclude, matcher, out); err != nil {
					return err
				}
				continue
			}
			full = target
		} else if entry.IsDir() {
			if err := walk(root, full, include, exclude, matcher, out); err != nil {
				return err
			}
			continue
		}

		name := entry.Name()
		if matchesAny(name, exclude) {
			continue
		}
		if matchesAny(name, include) {
			*out = append(*out, full)
		}
	}
	return nil
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// ignoreMatcher applies the nearest-directory-wins set of glob rules found
// in .gitignore/.ignore files along the walked path.
type ignoreMatcher struct {
	root  string
	rules map[string][]string // directory (relative to root) -> patterns
}

func newIgnoreMatcher(root string) *ignoreMatcher {
	return &ignoreMatcher{root: root, rules: map[string][]string{}}
}

func (m *ignoreMatcher) loadDir(dir string) {
	rel, _ := filepath.Rel(m.root, dir)
	if _, ok := m.rules[rel]; ok {
		return
	}
	var patterns []string
	for _, name := range ignoreFileNames {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		scan := bufio.NewScanner(f)
		for scan.Scan() {
			line := strings.TrimSpace(scan.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
		f.Close()
	}
	m.rules[rel] = patterns
}

func (m *ignoreMatcher) ignored(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	dir := filepath.ToSlash(filepath.Dir(relPath))
	for d, patterns := range m.rules {
		d = filepath.ToSlash(d)
		if d != "." && !strings.HasPrefix(dir, d) {
			continue
		}
		for _, p := range patterns {
			p = strings.TrimSuffix(p, "/")
			base := filepath.Base(relPath)
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
			if ok, _ := doublestar.Match(p, relPath); ok {
				return true
			}
		}
	}
	return false
}
