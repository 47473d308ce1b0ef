// Package fastest wires together the core pipeline described across the
// internal/ packages: scan -> parse (cached) -> filter -> fixture graph ->
// strategy -> batch dispatch -> result. It mirrors the shape of gavel's
// testrunner.TestOrchestrator: a single entry point taking a RunOptions and
// returning a typed outcome, with no terminal/file formatting opinions of
// its own.
package fastest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/flanksource/clicky/task"
	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/flanksource/commons/logger"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/fastest-run/fastest/internal/batch"
	"github.com/fastest-run/fastest/internal/cache"
	"github.com/fastest-run/fastest/internal/conftest"
	"github.com/fastest-run/fastest/internal/fixture"
	"github.com/fastest-run/fastest/internal/hooks"
	"github.com/fastest-run/fastest/internal/item"
	"github.com/fastest-run/fastest/internal/marker"
	"github.com/fastest-run/fastest/internal/pyparse"
	"github.com/fastest-run/fastest/internal/report"
	"github.com/fastest-run/fastest/internal/result"
	"github.com/fastest-run/fastest/internal/scanner"
	"github.com/fastest-run/fastest/internal/strategy"
	"github.com/fastest-run/fastest/internal/worker"
	"github.com/fastest-run/fastest/shutdown"
)

// RunOptions configures one discovery+execution run.
type RunOptions struct {
	Paths         []string `json:"paths,omitempty" args:"true"`                      // roots to scan for tests
	MarkExpr      string   `json:"mark_expr,omitempty" flag:"mark-expr"`             // "-m" style filter expression
	FailFast      bool     `json:"fail_fast,omitempty" flag:"fail-fast"`             // stop dispatching new batches after the first failure
	NoCache       bool     `json:"no_cache,omitempty" flag:"no-cache"`               // bypass the discovery cache entirely
	CachePath     string   `json:"cache_path,omitempty" flag:"cache-path"`           // override the discovery cache location
	WorkerCommand []string `json:"worker_command,omitempty" flag:"worker-command"`   // argv used to launch each worker subprocess
	Workers       int      `json:"workers,omitempty" flag:"workers"`                 // worker pool size; 0 selects worker.DefaultSize()
	Thresholds    strategy.Thresholds `json:"-"`                                     // strategy size thresholds; zero value selects strategy.DefaultThresholds
}

// Coordinator runs discovery and execution end to end.
type Coordinator struct {
	opts     RunOptions
	conftest *conftest.Loader
	fixtures *fixture.Resolver
	hooks    *hooks.Registry
	reporter report.Sink
	disc     *cache.Cache

	// localFixtures holds, per source file, the fixtures declared directly
	// in that file (as opposed to a conftest.py above it) -- the "local"
	// argument fixture.Resolver.Resolve/ScopeOf expect.
	localFixtures map[string][]item.FixtureDef
}

// New builds a Coordinator. reporter may be nil, in which case events are
// discarded; hookRegistry may be nil, in which case no conftest hooks fire.
func New(opts RunOptions, reporter report.Sink, hookRegistry *hooks.Registry) *Coordinator {
	loader := conftest.NewLoader(opts.Paths)
	if reporter == nil {
		reporter = report.NewCollector()
	}
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}
	return &Coordinator{
		opts:          opts,
		conftest:      loader,
		fixtures:      fixture.NewResolver(loader),
		hooks:         hookRegistry,
		reporter:      reporter,
		localFixtures: map[string][]item.FixtureDef{},
	}
}

// Run executes one full discovery+execution cycle and returns the exit-code
// contract of §7/§8:
//
//	0 - every item passed, skipped, or xfailed as expected.
//	1 - at least one item failed, xpassed, timed out, or errored.
//	2 - a ConfigError aborted the run before execution started.
//
// A run that encounters only DiscoveryErrors (unreadable or unparseable
// source files) is not itself a ConfigError: those files are logged and
// skipped, per §7 class 1.
func (c *Coordinator) Run(ctx context.Context) (result.RunOutcome, int, error) {
	start := time.Now()
	runID := uuid.New().String()
	logger.Infof("fastest: starting run %s", runID)

	if _, err := marker.Filter(c.opts.MarkExpr, nil); err != nil {
		return result.RunOutcome{}, 2, &result.ConfigError{Reason: err.Error()}
	}

	items, err := c.discover()
	if err != nil {
		return result.RunOutcome{}, 2, err
	}

	filtered, err := c.filter(items)
	if err != nil {
		return result.RunOutcome{}, 2, err
	}

	if _, err := c.hooks.Dispatch(context.Background(), "collection_modifyitems", hooks.Args{"items": filtered}); err != nil {
		return result.RunOutcome{}, 2, &result.ConfigError{Reason: err.Error()}
	}

	scopeOf := func(it item.TestItem, name string) item.Scope {
		s, err := c.fixtures.ScopeOf(it, c.localFixtures[it.Path], name)
		if err != nil {
			return item.ScopeModule // unresolved; conservatively disqualify InProcess
		}
		return s
	}
	thresholds := c.opts.Thresholds
	if thresholds.InProcessMax == 0 {
		thresholds.InProcessMax = strategy.DefaultThresholds.InProcessMax
	}
	if thresholds.BatchedMax == 0 {
		thresholds.BatchedMax = strategy.DefaultThresholds.BatchedMax
	}
	strat := strategy.Select(filtered, thresholds, c.opts.FailFast, scopeOf)
	logger.Infof("fastest: %d items, strategy %s", len(filtered), strat)

	batches := batch.Group(filtered, strat)

	pool, err := worker.NewPool(worker.PoolConfig{
		Size:   c.opts.Workers,
		Worker: worker.Config{Command: c.opts.WorkerCommand},
	})
	if err != nil {
		return result.RunOutcome{}, 2, &result.ConfigError{Reason: fmt.Sprintf("starting worker pool: %v", err)}
	}
	shutdown.AddHookWithPriority("fastest worker pool", shutdown.PriorityWorkers, pool.Shutdown)
	defer pool.Shutdown()

	for _, it := range filtered {
		c.reporter.OnTestStart(it.ID)
	}

	results, err := batch.Run(ctx, batches, pool, c.fixtureValuesFor, c.opts.FailFast)
	if err != nil {
		return result.RunOutcome{}, 1, fmt.Errorf("dispatching batches: %w", err)
	}

	for _, tr := range results {
		c.reporter.OnTestComplete(tr)
	}

	outcome := result.RunOutcome{RunID: runID, Results: results, TotalDuration: time.Since(start)}
	c.reporter.OnRunComplete(results, outcome.TotalDuration)
	return outcome, outcome.ExitCode(), nil
}

// discover scans c.opts.Paths and parses every matched file, consulting the
// discovery cache unless disabled. A per-file parse failure is a
// DiscoveryError: logged, and that file contributes no items, but the run
// continues.
func (c *Coordinator) discover() ([]item.TestItem, error) {
	files, err := scanner.Scan(c.opts.Paths, scanner.Options{})
	if err != nil {
		return nil, &result.ConfigError{Reason: err.Error()}
	}
	files = lo.Uniq(files)

	c.disc = cache.New()
	cachePath := c.opts.CachePath
	if cachePath == "" {
		cachePath = cache.DefaultPath()
	}
	if !c.opts.NoCache {
		if loaded, err := cache.Load(cachePath); err == nil {
			c.disc = loaded
		}
	}

	var allItems []item.TestItem
	for _, path := range files {
		module := moduleNameFor(path, c.opts.Paths)

		if !c.opts.NoCache {
			if fixtures, cachedItems, ok := c.disc.Get(path); ok {
				c.localFixtures[path] = fixtures
				allItems = append(allItems, cachedItems...)
				continue
			}
		}

		fixtures, items, err := pyparse.ParseFile(path, module)
		if err != nil {
			logger.Warnf("%v", &result.DiscoveryError{Path: path, Reason: err.Error()})
			continue
		}
		c.localFixtures[path] = fixtures
		allItems = append(allItems, items...)

		if !c.opts.NoCache {
			if err := c.disc.Update(path, fixtures, items); err != nil {
				logger.Debugf("fastest: skipping cache update for %s: %v", path, err)
			}
		}
	}

	if !c.opts.NoCache {
		if err := c.disc.Save(cachePath); err != nil {
			logger.Warnf("fastest: failed to persist discovery cache: %v", err)
		}
	}

	return allItems, nil
}

// filter drops items per §4.4 skip semantics and the configured mark
// expression, leaving xfail items in place (they still execute, just with a
// different expected-outcome interpretation of their result).
func (c *Coordinator) filter(items []item.TestItem) ([]item.TestItem, error) {
	out := make([]item.TestItem, 0, len(items))
	for _, it := range items {
		markers := marker.Extract(it.Decorators)

		if skip := marker.EvaluateSkip(markers); skip.Skip {
			c.reporter.OnTestComplete(result.TestResult{ID: it.ID, Outcome: result.Skipped, Reason: skip.Reason})
			continue
		}

		if c.opts.MarkExpr != "" {
			match, err := marker.Filter(c.opts.MarkExpr, markers)
			if err != nil {
				return nil, &result.ConfigError{Reason: err.Error()}
			}
			if !match {
				continue
			}
		}

		out = append(out, it)
	}
	return out, nil
}

// fixtureValuesFor resolves it's fixture dependency order. The coordinator
// does not itself hold live fixture values (those are produced by a worker
// executing fixture_setup); it hands the resolved name order down so the
// worker can run fixtures in the right sequence. No fixture handles come back
// in the worker's results.
func (c *Coordinator) fixtureValuesFor(it item.TestItem) ([]worker.WireFixtureValue, error) {
	order, err := c.fixtures.Resolve(it, c.localFixtures[it.Path])
	if err != nil {
		return nil, err
	}
	out := make([]worker.WireFixtureValue, 0, len(order))
	for _, name := range order {
		out = append(out, worker.WireFixtureValue{Name: name})
	}
	return out, nil
}

// moduleNameFor derives the dotted module path embedded in an item id from
// path, relative to whichever of roots contains it, mirroring
// original_source's create_test_item (full path, not just the file's own
// name, with slashes replaced by dots and the extension dropped). Using the
// whole relative path rather than the bare basename keeps ids unique across
// same-named test files in different directories, e.g. tests/api/
// test_helpers.py and tests/db/test_helpers.py. Roots are resolved to
// absolute before comparing; scanner.Scan returns a directory root's files
// as absolute paths, but a file given directly as a root comes back as given,
// so a relative one of those is not under any root here. If
// path isn't under any configured root, the full path is used as-is, which
// is still unique even though it reads less like a Python module name.
func moduleNameFor(path string, roots []string) string {
	rel := path
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		r, err := filepath.Rel(absRoot, path)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			continue
		}
		rel = r
		break
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	rel = filepath.ToSlash(rel)
	return strings.ReplaceAll(rel, "/", ".")
}

// TaskGroupRun is an alternative entry point that drives Run as one
// flanksource/clicky typed task, for callers that already operate within a
// larger clicky task tree (e.g. a CI orchestrator running fastest alongside
// other suites).
func (c *Coordinator) TaskGroupRun() (result.RunOutcome, error) {
	group := task.StartGroup[result.RunOutcome]("fastest run")
	group.Add("run", func(taskCtx flanksourceContext.Context, tk *task.Task) (result.RunOutcome, error) {
		outcome, _, err := c.Run(taskCtx)
		return outcome, err
	})

	groupResult := group.WaitFor()
	if groupResult.Error != nil {
		logger.Warnf("fastest: task group reported error: %v", groupResult.Error)
	}

	results, err := group.GetResults()
	if err != nil {
		return result.RunOutcome{}, fmt.Errorf("collecting run result: %w", err)
	}
	for _, outcome := range results {
		return outcome, nil
	}
	return result.RunOutcome{}, fmt.Errorf("fastest: task group produced no result")
}
