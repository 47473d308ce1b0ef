// Package fixture implements the Fixture Graph (C6): per-test fixture
// dependency resolution (including autouse fixtures and conftest
// inheritance), topological ordering with cycle detection, and scope-keyed
// instance caching with strict-reverse teardown ordering.
package fixture

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fastest-run/fastest/internal/conftest"
	"github.com/fastest-run/fastest/internal/item"
	"github.com/fastest-run/fastest/internal/result"
)

// Resolver computes, for one TestItem, the ordered closure of fixtures it
// depends on (dependency-first), per §4.5.
type Resolver struct {
	conftest *conftest.Loader
}

// NewResolver returns a Resolver that consults loader for conftest-level
// fixture definitions.
func NewResolver(loader *conftest.Loader) *Resolver {
	return &Resolver{conftest: loader}
}

// visible returns every fixture name resolvable from path: the conftest
// chain merged with fixtures declared in the test's own file (nearest of
// all, since the file is "closer" than any conftest.py above it).
func (r *Resolver) visible(path string, local []item.FixtureDef) (map[string]item.FixtureDef, error) {
	chain, err := r.conftest.ForDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	merged := make(map[string]item.FixtureDef, len(chain.Fixtures)+len(local))
	for name, fd := range chain.Fixtures {
		merged[name] = fd
	}
	for _, fd := range local {
		merged[fd.Name] = fd
	}
	return merged, nil
}

// Resolve computes the dependency-ordered closure of fixtures item it
// needs: its own declared fixture dependencies, plus every autouse fixture
// visible from it.Path, transitively expanded through each fixture's own
// dependencies. The result is ordered dependency-first (a fixture always
// appears after everything it depends on), so teardown is simply its
// reverse. local is the set of FixtureDef parsed from it.Path's own source
// file (the nearest possible definitions).
func (r *Resolver) Resolve(it item.TestItem, local []item.FixtureDef) ([]string, error) {
	visible, err := r.visible(it.Path, local)
	if err != nil {
		return nil, err
	}

	start := map[string]bool{}
	for _, name := range it.Fixtures {
		start[name] = true
	}
	for name, fd := range visible {
		if fd.Autouse {
			start[name] = true
		}
	}

	names := make([]string, 0, len(start))
	for n := range start {
		names = append(names, n)
	}
	sort.Strings(names)

	state := map[string]int{} // 0 unvisited, 1 visiting, 2 done
	var order []string

	var visit func(name string, chain []string) error
	visit = func(name string, chain []string) error {
		switch state[name] {
		case 2:
			return nil
		case 1:
			return &result.FixtureError{
				Name:   name,
				Reason: fmt.Sprintf("cycle: %s", strings.Join(append(append([]string{}, chain...), name), " -> ")),
			}
		}

		if item.IsBuiltin(name) {
			state[name] = 2
			order = append(order, name)
			return nil
		}

		fd, ok := visible[name]
		if !ok {
			return &result.FixtureError{Name: name, Reason: "unresolved dependency"}
		}

		state[name] = 1
		deps := append([]string{}, fd.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, append(chain, name)); err != nil {
				return err
			}
		}
		state[name] = 2
		order = append(order, name)
		return nil
	}

	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ScopeOf resolves the lifetime scope for a fixture name: a built-in is
// always function-scoped; others come from their visible FixtureDef
// (function-scoped if not declared anywhere, conservatively).
func (r *Resolver) ScopeOf(it item.TestItem, local []item.FixtureDef, name string) (item.Scope, error) {
	if item.IsBuiltin(name) {
		return item.ScopeFunction, nil
	}
	visible, err := r.visible(it.Path, local)
	if err != nil {
		return "", err
	}
	if fd, ok := visible[name]; ok {
		return fd.Scope, nil
	}
	return item.ScopeFunction, nil
}

// InstanceCache tracks live FixtureInstances keyed by (name, scope key),
// and the order in which they were created, so teardown can proceed in
// strict reverse.
type InstanceCache struct {
	instances map[string]item.FixtureInstance
	order     []string
}

// NewInstanceCache returns an empty instance cache.
func NewInstanceCache() *InstanceCache {
	return &InstanceCache{instances: map[string]item.FixtureInstance{}}
}

func instanceKey(name, scopeKey string) string {
	return name + "\x00" + scopeKey
}

// Get returns the cached instance for (name, scopeKey), if one exists.
func (c *InstanceCache) Get(name, scopeKey string) (item.FixtureInstance, bool) {
	inst, ok := c.instances[instanceKey(name, scopeKey)]
	return inst, ok
}

// Put records a newly created instance, appending it to the creation
// order used by TeardownOrder.
func (c *InstanceCache) Put(inst item.FixtureInstance) {
	key := instanceKey(inst.Name, inst.ScopeKey)
	if _, exists := c.instances[key]; !exists {
		c.order = append(c.order, key)
	}
	c.instances[key] = inst
}

// Remove drops a cached instance once its teardown has run.
func (c *InstanceCache) Remove(name, scopeKey string) {
	key := instanceKey(name, scopeKey)
	delete(c.instances, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Live returns every currently cached instance, in creation order.
func (c *InstanceCache) Live() []item.FixtureInstance {
	out := make([]item.FixtureInstance, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.instances[k])
	}
	return out
}

// Closing determines which live instances must be torn down because the
// item stream is advancing away from a scope key they depend on: for each
// live instance, if its scope key differs between prev (the item that just
// finished) and next (the item about to run, nil at end of run), it is
// closing. The result is in strict teardown order (reverse of creation).
func Closing(cache *InstanceCache, prev, next *item.TestItem) []item.FixtureInstance {
	live := cache.Live()
	var closing []item.FixtureInstance
	for i := len(live) - 1; i >= 0; i-- {
		inst := live[i]
		if next == nil || !scopeKeyStillInView(inst, prev, next) {
			closing = append(closing, inst)
		}
	}
	return closing
}

// scopeKeyStillInView reports whether an instance's scope key remains
// reachable from next the way it was from prev. Function-scoped instances
// (scope key equal to the test id) never carry over between items; wider
// scopes carry over as long as next shares the same scope key value.
func scopeKeyStillInView(inst item.FixtureInstance, prev, next *item.TestItem) bool {
	if prev != nil && inst.ScopeKey == prev.ID {
		return false // function scope closes at the end of every item
	}
	if next == nil {
		return false
	}
	return inst.ScopeKey == next.Module || inst.ScopeKey == next.Module+"::"+next.Class || inst.ScopeKey == "<session>"
}
