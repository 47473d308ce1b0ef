// Package config loads a project's fastest.yaml into the shape the
// coordinator consumes, the ambient config-file layer the distilled spec is
// silent on. It mirrors the teacher's ArchConf loading in repomap and the
// goccy/go-yaml front-matter parsing used across fixtures and todos: a
// plain struct tagged with yaml keys, read from disk and unmarshalled
// directly, with CLI flags layered on top of (and overriding) whatever the
// file sets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// FileName is the conventional config file name looked for in a project
// root, analogous to pytest's pytest.ini/pyproject.toml.
const FileName = "fastest.yaml"

// Thresholds mirrors strategy.Thresholds without importing internal/strategy,
// so this package stays leaf-level; the coordinator copies fields across.
type Thresholds struct {
	InProcessMax int `yaml:"in_process_max,omitempty"`
	BatchedMax   int `yaml:"batched_max,omitempty"`
}

// Config is the on-disk shape of fastest.yaml. Every field is optional;
// zero values mean "use the built-in default".
type Config struct {
	Paths         []string   `yaml:"paths,omitempty"`
	MarkExpr      string     `yaml:"mark_expr,omitempty"`
	FailFast      bool       `yaml:"fail_fast,omitempty"`
	NoCache       bool       `yaml:"no_cache,omitempty"`
	CachePath     string     `yaml:"cache_path,omitempty"`
	WorkerCommand []string   `yaml:"worker_command,omitempty"`
	Workers       int        `yaml:"workers,omitempty"`
	Thresholds    Thresholds `yaml:"thresholds,omitempty"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Discover walks up from dir looking for FileName, the way conftest.py
// discovery walks up from a test file, returning nil (not an error) if no
// config file exists anywhere above dir.
func Discover(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(abs, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return Load(candidate)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, nil
		}
		abs = parent
	}
}

// Merge layers override on top of base: any non-zero field in override
// wins, matching the CLI-flags-over-config-file precedence the coordinator
// expects. base may be nil.
func Merge(base *Config, override Config) Config {
	out := override
	if base == nil {
		return out
	}
	if len(out.Paths) == 0 {
		out.Paths = base.Paths
	}
	if out.MarkExpr == "" {
		out.MarkExpr = base.MarkExpr
	}
	if !out.FailFast {
		out.FailFast = base.FailFast
	}
	if !out.NoCache {
		out.NoCache = base.NoCache
	}
	if out.CachePath == "" {
		out.CachePath = base.CachePath
	}
	if len(out.WorkerCommand) == 0 {
		out.WorkerCommand = base.WorkerCommand
	}
	if out.Workers == 0 {
		out.Workers = base.Workers
	}
	if out.Thresholds == (Thresholds{}) {
		out.Thresholds = base.Thresholds
	}
	return out
}
